package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/petrijr/orderflow/internal/config"
	"github.com/petrijr/orderflow/internal/engine"
	"github.com/petrijr/orderflow/internal/gateway"
	"github.com/petrijr/orderflow/internal/logger"
	"github.com/petrijr/orderflow/internal/orders"
	"github.com/petrijr/orderflow/internal/taskqueue"
	"github.com/petrijr/orderflow/pkg/api"
	"github.com/petrijr/orderflow/pkg/worker"
)

const defaultRescheduleInterval = 5 * time.Second

func newServeCommand() *cobra.Command {
	v := viper.New()
	var cfg config.Config

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the order gateway and workers",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(v); err != nil {
				return err
			}
			return setupLogger(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.run(ctx)
		},
	}
	cobra.CheckErr(config.SetupFlags(cmd, v))
	return cmd
}

func setupLogger(cfg config.Config) error {
	l, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.SetLogger(l)
	return nil
}

// app is one wired orderflow process.
type app struct {
	cfg      config.Config
	backends *backends

	engine    api.Engine
	queue     taskqueue.Queue
	worker    *worker.Worker
	server    *gateway.Server
	metrics   *api.BasicMetrics
	inventory *orders.InMemoryInventory

	log *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	b := newBackends(cfg)

	p, err := b.Persistence(ctx)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	q, err := b.Queue(ctx)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	metrics := &api.BasicMetrics{}
	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence:          p,
		Queue:                q,
		Observer:             api.NewCompositeObserver(api.NewLoggingObserver(logger.Named("engine")), metrics),
		DefaultActivityRetry: cfg.ActivityRetry,
		StorageMaxElapsed:    cfg.StorageMaxElapsed,
	})

	svc, inv, _, _ := orders.NewInMemoryServices(cfg.SeedStock)
	if err := orders.Register(eng, svc, nil); err != nil {
		_ = b.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		backends:  b,
		engine:    eng,
		queue:     q,
		worker:    worker.New(eng, q),
		server:    gateway.NewServer(cfg.HTTPPort, eng, metrics),
		metrics:   metrics,
		inventory: inv,
		log:       logger.Named("orderflow"),
	}, nil
}

// recover schedules every instance left Running by a previous process.
func (a *app) recover(ctx context.Context) error {
	if _, err := a.engine.RecoverInstances(ctx); err != nil {
		return fmt.Errorf("recover instances: %w", err)
	}
	return nil
}

// reschedule retries enqueueing stranded orders until ctx is cancelled.
func (a *app) reschedule(ctx context.Context) {
	interval := a.cfg.RescheduleInterval
	if interval <= 0 {
		interval = defaultRescheduleInterval
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		if _, err := a.engine.RescheduleStranded(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn("rescheduling stranded orders failed", zap.Error(err))
		}
	}
}

// run serves until ctx is cancelled or the HTTP server fails.
func (a *app) run(ctx context.Context) error {
	a.log.Info("starting orderflow",
		zap.String("storage", string(a.cfg.Storage)),
		zap.String("queue", string(a.cfg.Queue)),
		zap.Int("workers", a.cfg.Workers),
		zap.String("seed_stock", config.FormatSeedStock(a.cfg.SeedStock)),
	)

	if err := a.recover(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = a.worker.Run(ctx, a.cfg.Workers)
	}()
	go func() {
		defer wg.Done()
		a.reschedule(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- a.server.Start()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-srvErr:
	}

	cancel()
	if stopErr := a.server.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	wg.Wait()
	a.log.Info("orderflow stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) Close() error {
	return a.backends.Close()
}
