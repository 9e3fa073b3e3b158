package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"novapharm/m/internal/api"
	"novapharm/m/internal/database"
	"novapharm/m/internal/events"
	"novapharm/m/internal/migrations"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the data service",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrations.Run(db); err != nil {
			return err
		}

		var sessions api.SessionRegistry
		switch cfg.SessionBackend {
		case "", "sql":
			sessions = api.NewSQLSessions(db)
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer client.Close()
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			err := client.Ping(ctx).Err()
			cancel()
			if err != nil {
				return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
			}
			sessions = api.NewRedisSessions(client)
		default:
			return fmt.Errorf("unknown SESSION_BACKEND %q (must be sql or redis)", cfg.SessionBackend)
		}
		logger.Info("session registry ready", zap.String("backend", cfg.SessionBackend))

		var publisher events.Publisher = &events.NoopPublisher{}
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				return err
			}
			publisher = pub
			logger.Info("events enabled", zap.String("nats_url", cfg.NATSURL))
		} else {
			logger.Info("events disabled (NATS_URL not set)")
		}
		defer publisher.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		handler := api.New(db, api.Options{
			Secret:          cfg.Secret,
			TokenTTL:        cfg.TokenTTL,
			Sessions:        sessions,
			Events:          publisher,
			Logger:          logger,
			Registerer:      reg,
			CORSOrigins:     cfg.CORSOrigins,
			LoginRatePerMin: cfg.LoginRatePerMin,
		})
		if cfg.IsProduction() && cfg.Secret == "dev_secret" {
			logger.Warn("SECRET is the development default")
		}

		return serve("data service", &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           handler.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		})
	},
}
