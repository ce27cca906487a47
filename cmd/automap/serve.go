package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/automap/internal/frontend/hub"
	"github.com/cory-johannsen/automap/internal/game/session"
	"github.com/cory-johannsen/automap/internal/observability"
	"github.com/cory-johannsen/automap/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the story API, scene websocket and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			buffer, _ := cmd.Flags().GetInt("viewer-buffer")
			healthInterval, _ := cmd.Flags().GetDuration("health-interval")

			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeStore()

			filter, exempt, err := openFilter(cfg.Map, logger)
			if err != nil {
				return err
			}
			if filter != nil {
				defer filter.Close()
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := observability.NewMetrics(reg)

			hubs := hub.NewRegistry(buffer, logger)
			sessions := session.NewManager(store, session.Config{
				MapOptions:   session.MapOptions(cfg.Map, exempt),
				SaveDebounce: cfg.Map.SaveDebounce,
				StoreTimeout: cfg.Storage.Timeout,
			}, logger, metrics, hubs.Scene)

			api := server.NewAPI(sessions, hubs, store, reg, metrics, logger)

			lifecycle := server.NewLifecycle(logger, cfg.HTTP.ShutdownTimeout)
			stopped := make(chan struct{})
			lifecycle.Add("sessions", &server.FuncService{
				StartFn: func() error {
					<-stopped
					return nil
				},
				StopFn: func(ctx context.Context) error {
					close(stopped)
					return sessions.Close(ctx)
				},
			})
			lifecycle.Add("http", server.NewHTTPService(
				cfg.HTTP.Addr(), api.Handler(), cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, logger,
			))
			if cfg.GRPC.Enabled {
				lifecycle.Add("grpc-health", server.NewHealthServer(store, logger).Service(cfg.GRPC.Addr(), healthInterval))
			}

			logger.Info("automap initialized",
				zap.Duration("startup", time.Since(start)),
				zap.String("backend", cfg.Storage.Backend),
				zap.String("http_addr", cfg.HTTP.Addr()),
			)
			return lifecycle.Run(ctx)
		},
	}
	cmd.Flags().Int("viewer-buffer", 256, "queued scene ops per viewer before it is dropped")
	cmd.Flags().Duration("health-interval", 30*time.Second, "interval between store health checks")
	return cmd
}
