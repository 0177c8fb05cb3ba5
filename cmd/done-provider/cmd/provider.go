// Package cmd implements done-provider, the process serving one task
// provider over the Provider RPC service.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"done/backend"
	"done/backend/google"
	"done/backend/mstodo"
	"done/backend/nextcloud"
	"done/backend/sqlite"
	"done/internal/auth"
	"done/internal/config"
	"done/internal/credentials"
	"done/internal/metrics"
	"done/internal/ratelimit"
	"done/internal/server"
	"done/internal/shutdown"
	"done/internal/utils"
)

// shutdownTimeout bounds the drain of in-flight RPCs and the cleanups.
const shutdownTimeout = 10 * time.Second

// httpTimeout bounds one CalDAV request.
const httpTimeout = 30 * time.Second

// Execute runs done-provider with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := newProviderCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newProviderCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done-provider [provider]",
		Short: "Serve one task provider on its loopback address",
		Long: `done-provider serves the local, microsoft, google or nextcloud provider
until it receives SIGINT or SIGTERM. It is normally started by done.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			address, _ := cmd.Flags().GetString("address")
			metricsAddr, _ := cmd.Flags().GetString("metrics-address")
			return serve(args[0], configPath, address, metricsAddr)
		},
	}
	cmd.Flags().String("config", "", "Path to the configuration file")
	cmd.Flags().String("address", "", "Override the configured listen address")
	cmd.Flags().String("metrics-address", "", "Serve Prometheus metrics on this address")
	return cmd
}

func serve(id, configPath, address, metricsAddr string) error {
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	pc, ok := conf.Provider(id)
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	if address == "" {
		address = pc.Address
	}
	if metricsAddr == "" {
		metricsAddr = conf.MetricsAddr
	}

	bl, _ := utils.NewBackgroundLoggerWithEnabled(id, false)
	if conf.IsBackgroundLoggingEnabled() {
		if err := os.MkdirAll(conf.RuntimeDir, 0700); err == nil {
			// Degrades to a no-op logger when the file cannot be opened.
			bl, _ = utils.NewBackgroundLoggerWithPath(filepath.Join(conf.RuntimeDir, id+".json.log"))
		}
	}
	defer bl.Close()
	logger := bl.Logger().With(zap.String("provider", id))

	sm := shutdown.NewManager(shutdown.WithLogger(logger))
	sm.NotifySignals()
	ctx := sm.Context()

	m := metrics.New()
	store := credentials.NewDefaultKeyring(conf.KeyringPath())
	p, err := newProvider(ctx, conf, id, store, m, logger)
	if err != nil {
		return err
	}
	sm.RegisterCleanup("provider", func(context.Context) error { return p.Close() })

	if metricsAddr != "" {
		lis, err := net.Listen("tcp", metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for metrics: %w", err)
		}
		ms := metrics.NewServer(metricsAddr, m, logger)
		go func() {
			if err := ms.Serve(lis); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		sm.RegisterCleanup("metrics", ms.Shutdown)
	}

	srv := server.New(p,
		server.WithLogger(logger),
		server.WithMetrics(m),
		server.WithPIDFile(filepath.Join(conf.RuntimeDir, id+".pid")),
	)
	serveErr := srv.ListenAndServe(ctx, address)
	sm.Shutdown()

	waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, sm.Wait(waitCtx))
}

// newProvider builds the backend of provider id from its configuration.
// ctx bounds the lifetime of remote HTTP clients.
func newProvider(ctx context.Context, conf *config.Config, id string, store credentials.Keyring, m *metrics.Metrics, logger *zap.Logger) (backend.Provider, error) {
	pc, ok := conf.Provider(id)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", id)
	}

	switch id {
	case config.ProviderLocal:
		if err := os.MkdirAll(filepath.Dir(pc.DBPath), 0700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		return sqlite.New(pc.DBPath)

	case config.ProviderMicrosoft, config.ProviderGoogle:
		oauthCfg, err := conf.OAuth(id)
		if err != nil {
			return nil, err
		}
		am := auth.New(oauthCfg, store, auth.WithLogger(logger), auth.WithMetrics(m))
		client := ratelimit.Wrap(am.HTTPClient(ctx), limits(id, m, logger))
		if id == config.ProviderMicrosoft {
			return mstodo.New(mstodo.Config{HTTPClient: client, Logger: logger})
		}
		return google.New(ctx, google.Config{HTTPClient: client, Logger: logger})

	case config.ProviderNextcloud:
		manager := credentials.NewManager(credentials.WithKeyring(store), credentials.WithAppID(conf.AppID))
		info, err := manager.Get(ctx, id, pc.Username)
		if err != nil {
			return nil, err
		}
		return nextcloud.New(nextcloud.Config{
			URL:        pc.URL,
			Username:   pc.Username,
			Password:   info.Password,
			HTTPClient: ratelimit.Wrap(&http.Client{Timeout: httpTimeout}, limits(id, m, logger)),
			Logger:     logger,
		})
	}
	return nil, fmt.Errorf("provider %q has no backend", id)
}

// limits retries requests a remote service rate-limits and counts them.
func limits(id string, m *metrics.Metrics, logger *zap.Logger) ratelimit.Config {
	return ratelimit.Config{
		Jitter:    true,
		Provider:  id,
		OnLimited: m.ObserveRateLimited,
		Logger:    logger,
	}
}
