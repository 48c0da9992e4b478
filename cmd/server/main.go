// Command server runs the emissions hotspot orchestrator.
//
// It loads configuration (file, CARBON_* environment, defaults), then serves
// the REST API, the WebSocket topics and the gRPC health endpoint while the
// scheduler scans for hotspots and refreshes baselines. Edits to the config
// file hot-reload the severity thresholds. SIGINT or SIGTERM shuts down
// gracefully.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/config"
	"github.com/carbonnexus/orchestrator/internal/logger"
	"github.com/carbonnexus/orchestrator/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/carbonnexus/orchestrator.yaml", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	cfg := mgr.Get(ctx)

	log, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		FilePath:   cfg.Logging.AppLogPath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Error("failed to create server", zap.Error(err))
		return err
	}
	defer srv.Close()

	log.Info("orchestrator starting",
		zap.Int("port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
		zap.Bool("scheduler", cfg.Scheduler.Enabled),
	)
	if err := srv.Run(ctx, mgr.Watch(ctx)); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
