package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"done/backend"
	"done/internal/tui"
)

func newTUICmd(stdout, stderr io.Writer, cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:           "tui [provider]",
		Short:         "Browse and edit the lists and tasks of a provider interactively",
		Args:          cobra.ExactArgs(1),
		RunE:          run(cfg, stdout, stderr, doTUI),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}

func doTUI(ctx context.Context, _ *cobra.Command, a *app, args []string) error {
	ident, err := a.identity(args[0])
	if err != nil {
		return err
	}
	return withProvider(ctx, a, ident.ID, func(p backend.Provider) error {
		return tui.Run(ctx, p, tui.WithTitle(ident.Name))
	})
}
