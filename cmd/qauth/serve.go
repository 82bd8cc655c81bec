package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-auth/pkg/backend"
	"github.com/pzverkov/quantum-auth/pkg/metrics"
)

func serveCmd(obs *observability) *cobra.Command {
	var (
		configPath    string
		listen        string
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a simulator backend for remote nodes",
		Long: `Serve a simulated quantum network over post-quantum secured links.
Settings come from --config (YAML) with flags taking precedence.`,
		Example: `  qauth serve --listen 127.0.0.1:7420
  qauth serve --config backend.yaml --metrics-listen 127.0.0.1:9420`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := backend.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = backend.LoadConfig(configPath); err != nil {
					return errors.Wrap(err, "loading config")
				}
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("metrics-listen") {
				cfg.MetricsListen = metricsListen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The config file's log section wins over the global flags.
			logger := obs.logger
			if configPath != "" {
				logger = cfg.Logger()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, obs, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&listen, "listen", backend.DefaultConfig().Listen, "backend listen address")
	cmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "metrics and health listen address (empty disables)")
	return cmd
}

func runServe(ctx context.Context, cfg *backend.Config, obs *observability, logger *metrics.Logger) error {
	srv, err := backend.NewServer(cfg,
		backend.WithLogger(logger),
		backend.WithObserver(metrics.NewLinkObserver(metrics.ObserverConfig{
			Collector: obs.collector,
			Logger:    logger,
		})),
	)
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- errors.Wrap(srv.ListenAndServe(ctx), "backend") }()

	if cfg.MetricsListen != "" {
		ms := metrics.NewServer(metrics.ServerConfig{
			Collector:        obs.collector,
			Logger:           logger,
			Version:          getVersion(),
			EnablePrometheus: true,
			EnableHealth:     true,
		})
		ms.AddHealthCheck("backend", metrics.ListenerCheck(srv.Addr))
		go func() { errc <- errors.Wrap(ms.ListenAndServe(ctx, cfg.MetricsListen), "metrics") }()
		fmt.Fprintf(os.Stderr, "metrics on %s (/metrics, /health)\n", cfg.MetricsListen)
	}
	fmt.Fprintf(os.Stderr, "backend on %s (Ctrl+C to stop)\n", cfg.Listen)

	// Either server failing ends the process; a clean shutdown returns nil
	// from both.
	if err := <-errc; err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
