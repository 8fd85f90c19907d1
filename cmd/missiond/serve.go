package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetops/missionctl/internal/api"
	"github.com/fleetops/missionctl/internal/config"
	"github.com/fleetops/missionctl/internal/logging"
	"github.com/fleetops/missionctl/internal/mission"
	"github.com/fleetops/missionctl/internal/scheduler"
	"github.com/fleetops/missionctl/internal/store"
	"github.com/fleetops/missionctl/internal/triggers"
)

func serveCmd() *cobra.Command {
	var (
		httpAddr string
		logLevel string
	)

	var logFormat string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mission server daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if configFile != "" {
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				config.LoadFromEnv(cfg)
			} else {
				cfg, err = config.Load()
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}

			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.Daemon.LogFormat = logFormat
			}
			logging.InitStructured(cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

			return runDaemon(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP control-plane address (overrides EXEC_PORT)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	return cmd
}

func runDaemon(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect to backing store: %w", err)
	}
	defer db.Close()

	sched := scheduler.NewWithWorkers(cfg.Scheduler.WorkerPoolSize)
	sched.Start()
	defer sched.Stop()

	router := triggers.NewRouter()
	go router.Run(ctx)

	if cfg.EventBus.AMQPURL != "" {
		consumer := triggers.NewAMQPConsumer(triggers.AMQPConfig{
			URL:        cfg.EventBus.AMQPURL,
			Exchange:   cfg.EventBus.Exchange,
			RoutingKey: cfg.EventBus.RoutingKey,
		}, router)
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logging.Op().Error("trigger consumer stopped", "error", err)
			}
		}()
	} else {
		logging.Op().Warn("no OMS_SERVER configured, event-triggered missions are disabled")
	}

	missions := mission.New(db, cfg.Instrument, sched, router)
	if err := missions.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap missions: %w", err)
	}

	httpServer := api.NewServer(missions).StartHTTPServer(cfg.Daemon.HTTPAddr)
	logging.Op().Info("missiond started", "http_addr", cfg.Daemon.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Op().Error("http server shutdown error", "error", err)
	}
	return nil
}
