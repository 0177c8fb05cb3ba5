// Package cmd implements the done command line: provider lifecycle,
// authorization, and list and task operations against any provider.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"done/backend"
	"done/internal/auth"
	"done/internal/cache"
	"done/internal/config"
	"done/internal/credentials"
	"done/internal/notification"
	"done/internal/registry"
	"done/internal/utils"
)

// Version is set at build time
var Version = "dev"

// Result codes for CLI output (used in no-prompt mode)
const (
	ResultActionCompleted = "ACTION_COMPLETED"
	ResultInfoOnly        = "INFO_ONLY"
	ResultError           = "ERROR"
)

// Config holds the injectable parts of the CLI
type Config struct {
	NoPrompt   bool
	Verbose    bool
	ConfigPath string                // Path to config file; empty uses the XDG default
	Keyring    credentials.Keyring   // nil uses the OS keyring with a file fallback
	Launcher   registry.Launcher     // nil spawns real processes
	InProcess  []backend.Provider    // providers served from this process (for testing)
	Notifier   notification.Notifier // nil uses desktop notifications
	Stdin      io.Reader
}

// Execute runs the CLI with the given arguments and IO writers
func Execute(args []string, stdout, stderr io.Writer, cfg *Config) int {
	rootCmd := NewDone(stdout, stderr, cfg)

	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		if containsJSONFlag(args) {
			outputErrorJSON(err, stdout)
		} else {
			_, _ = fmt.Fprintln(stderr, "Error:", err)
			if cfg != nil && cfg.NoPrompt {
				_, _ = fmt.Fprintln(stdout, ResultError)
			}
		}
		return 1
	}
	return 0
}

// containsJSONFlag checks if args contain --json flag
func containsJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

// app is the wiring shared by every command of one invocation.
type app struct {
	cfg      *Config
	conf     *config.Config
	keyring  credentials.Keyring
	registry *registry.Registry
	cache    *cache.Store
	prompt   *utils.Prompter
	logger   *zap.Logger
	stdout   io.Writer
	stderr   io.Writer
}

func newApp(cmd *cobra.Command, cfg *Config, stdout, stderr io.Writer) (*app, error) {
	if noPrompt, _ := cmd.Flags().GetBool("no-prompt"); noPrompt {
		cfg.NoPrompt = true
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}

	conf, err := config.Load(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	utils.SetVerboseMode(cfg.Verbose || conf.Logging.Verbose)

	a := &app{
		cfg:     cfg,
		conf:    conf,
		keyring: cfg.Keyring,
		cache:   cache.New(conf.CacheDir, conf.GetCacheTTL()),
		prompt:  utils.NewPrompter(cfg.Stdin, stdout),
		logger:  utils.GetLogger().Zap(),
		stdout:  stdout,
		stderr:  stderr,
	}
	if a.keyring == nil {
		a.keyring = credentials.NewDefaultKeyring(conf.KeyringPath())
	}

	opts := []registry.Option{
		registry.WithRuntimeDir(conf.RuntimeDir),
		registry.WithStartTimeout(conf.GetStartTimeout()),
		registry.WithLogger(a.logger),
		registry.WithAuthChecker(a.tokenPresent),
	}
	if cfg.Launcher != nil {
		opts = append(opts, registry.WithLauncher(cfg.Launcher))
	}
	a.registry = registry.New(conf.Identities(), opts...)
	for _, p := range cfg.InProcess {
		a.registry.RegisterInProcess(p)
	}
	return a, nil
}

// authManager returns the token manager of an OAuth provider.
func (a *app) authManager(id string) (*auth.Manager, error) {
	oauthCfg, err := a.conf.OAuth(id)
	if err != nil {
		return nil, err
	}
	return auth.New(oauthCfg, a.keyring, auth.WithLogger(a.logger)), nil
}

func (a *app) tokenPresent(id string) bool {
	m, err := a.authManager(id)
	if err != nil {
		return false
	}
	return m.IsTokenPresent()
}

// identity resolves id or explains which ids are valid.
func (a *app) identity(id string) (registry.Identity, error) {
	ident, err := a.registry.Identity(id)
	if errors.Is(err, registry.ErrUnknownProvider) {
		var known []string
		for _, i := range a.registry.Identities() {
			known = append(known, i.ID)
		}
		return registry.Identity{}, utils.ErrUnknownProvider(id, known)
	}
	return ident, err
}

// connect opens a connection to a running provider.
func (a *app) connect(ctx context.Context, id string) (backend.Provider, error) {
	ident, err := a.identity(id)
	if err != nil {
		return nil, err
	}
	if ident.RequiresAuth && !a.registry.Available(id) {
		return nil, utils.ErrAuthRequired(id)
	}
	p, err := a.registry.Connect(ctx, id)
	if err != nil {
		return nil, utils.Explain(id, err)
	}
	return p, nil
}

func (a *app) done(code string) {
	if a.cfg.NoPrompt {
		_, _ = fmt.Fprintln(a.stdout, code)
	}
}

// run builds the app and calls fn with it.
func run(cfg *Config, stdout, stderr io.Writer, fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, cfg, stdout, stderr)
		if err != nil {
			return err
		}
		return fn(cmd.Context(), cmd, a, args)
	}
}

// NewDone creates the root command with injectable IO
func NewDone(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}

	cmd := &cobra.Command{
		Use:     "done",
		Short:   "Manage tasks across local and remote providers",
		Long:    "done starts task providers and reads and edits their lists and tasks.",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("no-prompt", "y", false, "Disable interactive prompts")
	cmd.PersistentFlags().BoolP("verbose", "V", false, "Enable verbose/debug output")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	cmd.AddCommand(newProvidersCmd(stdout, stderr, cfg))
	cmd.AddCommand(newStartCmd(stdout, stderr, cfg))
	cmd.AddCommand(newStopCmd(stdout, stderr, cfg))
	cmd.AddCommand(newStatusCmd(stdout, stderr, cfg))
	cmd.AddCommand(newListsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newListCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTasksCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTaskCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLoginCmd(stdout, stderr, cfg))
	cmd.AddCommand(newLogoutCmd(stdout, stderr, cfg))
	cmd.AddCommand(newCredentialsCmd(stdout, stderr, cfg))
	cmd.AddCommand(newRemindersCmd(stdout, stderr, cfg))
	cmd.AddCommand(newTUICmd(stdout, stderr, cfg))

	return cmd
}

// =============================================================================
// Provider lifecycle
// =============================================================================

func newProvidersCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:           "providers",
		Short:         "List configured providers with their state",
		Args:          cobra.NoArgs,
		RunE:          run(cfg, stdout, stderr, doProviders),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func doProviders(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	var out []providerJSON
	for _, ident := range a.registry.Identities() {
		state, err := a.registry.State(ctx, ident.ID)
		if err != nil {
			return err
		}
		out = append(out, providerJSON{
			ID:          ident.ID,
			Name:        ident.Name,
			Description: ident.Description,
			Icon:        ident.Icon,
			Address:     ident.Address,
			State:       state.String(),
			Available:   a.registry.Available(ident.ID),
		})
	}

	if jsonOutput {
		if out == nil {
			out = []providerJSON{}
		}
		return writeJSON(a.stdout, out)
	}

	_, _ = fmt.Fprintf(a.stdout, "%-12s %-18s %-14s %s\n", "ID", "NAME", "STATE", "AVAILABLE")
	for _, p := range out {
		available := "yes"
		if !p.Available {
			available = "login required"
		}
		_, _ = fmt.Fprintf(a.stdout, "%-12s %-18s %-14s %s\n", p.ID, p.Name, p.State, available)
	}
	a.done(ResultInfoOnly)
	return nil
}

func newStartCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "start [provider]",
		Short: "Start a provider process",
		Long:  "Spawn the provider's executable and wait until it answers its health check.",
		Args:  cobra.ExactArgs(1),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			ident, err := a.identity(args[0])
			if err != nil {
				return err
			}
			if err := a.registry.Start(ctx, ident.ID); err != nil {
				if errors.Is(err, registry.ErrNotInstalled) {
					return utils.ErrProviderNotInstalled(ident.ID, ident.Executable)
				}
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "Provider %s running at %s\n", ident.ID, ident.Address)
			a.done(ResultActionCompleted)
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newStopCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stop [provider]",
		Short: "Stop a provider process",
		Args:  cobra.ExactArgs(1),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			ident, err := a.identity(args[0])
			if err != nil {
				return err
			}
			if err := a.registry.Stop(ctx, ident.ID); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "Provider %s stopped\n", ident.ID)
			a.done(ResultActionCompleted)
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func newStatusCmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status [provider]",
		Short: "Show the lifecycle state of a provider",
		Args:  cobra.ExactArgs(1),
		RunE: run(cfg, stdout, stderr, func(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
			ident, err := a.identity(args[0])
			if err != nil {
				return err
			}
			state, err := a.registry.State(ctx, ident.ID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "%s: %s\n", ident.ID, state)
			a.done(ResultInfoOnly)
			return nil
		}),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}
