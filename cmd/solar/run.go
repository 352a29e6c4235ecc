package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"Solar/internal/analytics"
	"Solar/internal/api"
	"Solar/internal/blackboard"
	"Solar/internal/config"
	"Solar/internal/controller"
	"Solar/internal/instancelock"
	"Solar/internal/metrics"
	"Solar/internal/runner"
	"Solar/internal/sensors"
	"Solar/internal/store"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting Solar",
		"version", version,
		"mode", modeString(cfg.Application.Production),
		"runners", len(cfg.Runners),
	)
	for id, problem := range cfg.RunnerProblems() {
		logger.Warn("runner configuration will be skipped", "runner", id, "error", problem)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.NewMetrics(registry)
	met.SupervisorInfo.WithLabelValues(version, modeString(cfg.Application.Production)).Set(1)

	if cfg.InstanceLock.Enabled {
		lock := instancelock.New(cfg.InstanceLock.LockFilePath, logger, func(held bool) {
			if held {
				met.InstanceLock.Set(1)
			} else {
				met.InstanceLock.Set(0)
			}
		})
		if err := lock.Wait(ctx, 5*time.Second); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to acquire instance lock: %w", err)
		}
		defer lock.Release()
	}

	board, closeBoard, err := openBlackboard(ctx, cfg.Blackboard)
	if err != nil {
		return err
	}
	defer closeBoard()

	st, err := store.New(store.StoreConfig{
		Enabled:   cfg.Store.Enabled,
		Type:      cfg.Store.Type,
		Path:      cfg.Store.Path,
		MaxEvents: cfg.Store.MaxEvents,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	mgr := runner.NewManager(runner.ManagerConfig{
		Board:           board,
		Observers:       []runner.Observer{met, st},
		ShutdownTimeout: cfg.Application.ShutdownTimeout,
	}, logger)

	if err := sensors.RegisterAll(mgr, sensors.Deps{
		Logger:     logger,
		Production: cfg.Application.Production,
	}); err != nil {
		return err
	}

	if err := mgr.Start(ctx, cfg.Runners); err != nil {
		// Failed runners stay in the error state for the controller to retry
		logger.Warn("started with failures", "error", err)
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error("runner shutdown incomplete", "error", err)
		}
	}()

	tracker := analytics.NewTracker()
	ctrl, err := controller.New(cfg.Application, mgr, tracker, met, logger)
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	if cfg.Server.Enabled {
		apiServer := api.New(cfg, mgr, st, tracker, met, registry, logger)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("API server error", "error", err)
			}
		}()
	}

	if err := ctrl.Run(ctx); err != nil {
		return err
	}

	logger.Info("received shutdown signal")
	return nil
}

func openBlackboard(ctx context.Context, cfg config.BlackboardConfig) (blackboard.Reader, func(), error) {
	switch cfg.Type {
	case "redis":
		b := newRedisBoard(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := b.Ping(pingCtx); err != nil {
			_ = b.Close()
			return nil, nil, fmt.Errorf("failed to connect to blackboard: %w", err)
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return blackboard.New(), func() {}, nil
	}
}

func newRedisBoard(cfg config.BlackboardConfig) *blackboard.RedisBoard {
	var opts []blackboard.RedisOption
	if cfg.Prefix != "" {
		opts = append(opts, blackboard.WithPrefix(cfg.Prefix))
	}
	if cfg.Key != "" {
		opts = append(opts, blackboard.WithKey(cfg.Key))
	}
	return blackboard.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
}
