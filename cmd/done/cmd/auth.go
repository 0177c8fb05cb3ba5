package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spf13/cobra"

	"done/internal/auth"
	"done/internal/config"
	"done/internal/credentials"
	"done/internal/utils"
)

// loginTimeout bounds how long login waits for the browser redirect.
const loginTimeout = 5 * time.Minute

func newLoginCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [provider]",
		Short: "Authorize a remote provider",
		Long: `Authorize a remote provider with OAuth.

Without flags the authorization URL is printed and the URL the browser was
redirected to is read from stdin. --listen captures the redirect on a loopback
address instead, and --code exchanges an authorization code directly.`,
		Args:          cobra.ExactArgs(1),
		RunE:          run(cfg, stdout, stderr, doLogin),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().String("code", "", "Authorization code to exchange")
	cmd.Flags().String("listen", "", "Loopback address receiving the redirect (e.g. 127.0.0.1:8400)")
	return cmd
}

func doLogin(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
	ident, err := a.identity(args[0])
	if err != nil {
		return err
	}
	oauthCfg, err := a.conf.OAuth(ident.ID)
	if err != nil {
		return err
	}
	code, _ := cmd.Flags().GetString("code")
	listen, _ := cmd.Flags().GetString("listen")

	var lis net.Listener
	if listen != "" && code == "" {
		lis, err = net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("failed to listen for the redirect: %w", err)
		}
		defer func() { _ = lis.Close() }()
		oauthCfg.RedirectURL = "http://" + lis.Addr().String() + "/callback"
	}
	m := auth.New(oauthCfg, a.keyring, auth.WithLogger(a.logger))

	if code != "" {
		if _, err := m.Exchange(ctx, code); err != nil {
			return err
		}
		return a.loggedIn(ident.Name)
	}

	state, err := auth.NewState()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "Open this URL in your browser to authorize %s:\n\n  %s\n\n", ident.Name, m.AuthCodeURL(state))

	if lis != nil {
		ctx, cancel := context.WithTimeout(ctx, loginTimeout)
		defer cancel()
		_, _ = fmt.Fprintf(a.stdout, "Waiting for the redirect on %s ...\n", lis.Addr())
		if _, err := m.ListenForRedirect(ctx, lis, state); err != nil {
			return err
		}
		return a.loggedIn(ident.Name)
	}

	line, err := a.prompt.Ask("Paste the URL you were redirected to: ")
	if err == nil && line == "" {
		err = utils.ErrNoInput
	}
	if err != nil {
		return fmt.Errorf("no redirect URL entered: %w", err)
	}
	if _, err := m.HandleRedirect(ctx, line, state); err != nil {
		return err
	}
	return a.loggedIn(ident.Name)
}

func (a *app) loggedIn(name string) error {
	_, _ = fmt.Fprintf(a.stdout, "Logged in to %s\n", name)
	a.done(ResultActionCompleted)
	return nil
}

func newLogoutCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout [provider]",
		Short: "Forget the stored token of a remote provider",
		Args:  cobra.ExactArgs(1),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			ident, err := a.identity(args[0])
			if err != nil {
				return err
			}
			m, err := a.authManager(ident.ID)
			if err != nil {
				return err
			}
			if err := m.Logout(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "Logged out of %s\n", ident.Name)
			a.done(ResultActionCompleted)
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

// =============================================================================
// Credentials
// =============================================================================

func (a *app) credentialsHandler() *credentials.CLIHandler {
	manager := credentials.NewManager(credentials.WithKeyring(a.keyring), credentials.WithAppID(a.conf.AppID))
	return credentials.NewCLIHandler(manager, a.cfg.Stdin, a.stdout)
}

// newCredentialsCmd creates the 'credentials' subcommand for credential management
func newCredentialsCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	credentialsCmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage provider passwords",
		Long:  "Store, inspect and remove provider passwords in the system keyring.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	set := &cobra.Command{
		Use:   "set [provider] [username]",
		Short: "Store a password in the system keyring",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			if err := a.credentialsHandler().Set(ctx, args[0], args[1]); err != nil {
				return err
			}
			a.done(ResultActionCompleted)
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	get := &cobra.Command{
		Use:   "get [provider] [username]",
		Short: "Show where a password comes from",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return a.credentialsHandler().Get(ctx, args[0], args[1], jsonOutput)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	del := &cobra.Command{
		Use:   "delete [provider] [username]",
		Short: "Remove a password from the system keyring",
		Args:  cobra.ExactArgs(2),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			if err := a.credentialsHandler().Delete(ctx, args[0], args[1]); err != nil {
				return err
			}
			a.done(ResultActionCompleted)
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show configured accounts with their credential status",
		Args:  cobra.NoArgs,
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			var accounts []credentials.Account
			if nc, ok := a.conf.Provider(config.ProviderNextcloud); ok && nc.Username != "" {
				accounts = append(accounts, credentials.Account{Provider: config.ProviderNextcloud, Username: nc.Username})
			}
			return a.credentialsHandler().List(ctx, accounts, jsonOutput)
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	credentialsCmd.AddCommand(set, get, del, list)
	return credentialsCmd
}
