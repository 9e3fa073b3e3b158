package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"novapharm/m/internal/console"
	"novapharm/m/internal/events"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Start the browser console",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := console.NewRegistry(console.RegistryOptions{
			APIURL:      cfg.APIURL,
			Logger:      logger,
			IdleTimeout: cfg.ContextIdleTimeout,
			MaxContexts: cfg.MaxContexts,
		})
		defer registry.Close()
		registry.StartCleanupWorker(time.Minute)

		if cfg.NATSURL != "" {
			sub, err := events.NewNATSSubscriber(cfg.NATSURL)
			if err != nil {
				logger.Error("failed to create revocation subscriber", zap.Error(err))
			} else {
				defer sub.Close()
				stop, err := registry.WatchRevocations(sub)
				if err != nil {
					logger.Error("failed to watch revocations", zap.Error(err))
				} else {
					defer stop()
					logger.Info("watching session revocations", zap.String("nats_url", cfg.NATSURL))
				}
			}
		}

		srv, err := console.NewServer(console.Options{
			Registry:      registry,
			Logger:        logger,
			ResolveWait:   cfg.ResolveWait,
			RefreshWithin: cfg.RefreshWindow,
			SecureCookies: cfg.IsProduction(),
		})
		if err != nil {
			return err
		}
		logger.Info("console using data service", zap.String("api_url", cfg.APIURL))
		return serve("console", &http.Server{
			Addr:              ":" + cfg.ConsolePort,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	},
}
