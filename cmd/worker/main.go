package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mediagen/internal/bootstrap"
	"mediagen/internal/infra"
	"mediagen/internal/infra/telemetry"
	"mediagen/internal/reconcile"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	if err := infra.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.OTelServiceName + "-worker",
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to init telemetry")
	}

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	svc, err := bootstrap.Build(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to wire services")
	}

	sweeper := reconcile.New(reconcile.Options{
		Tasks:             svc.Tasks,
		Grants:            svc.Grants,
		Compensator:       svc.Compensator,
		Machine:           svc.Machine,
		Auditor:           svc.Ledger,
		Interval:          cfg.ReconcileInterval,
		Lease:             cfg.ClaimLease,
		Batch:             cfg.ReconcileBatch,
		MaxRefundAttempts: cfg.MaxRefundAttempts,
		Logger:            logger,
	})

	if *once {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: sweep failed")
		}
		logger.Info().Interface("report", report).Msg("worker: sweep finished")
	} else if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker: stopped with error")
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Runner.Wait(drainCtx); err != nil {
		logger.Error().Err(err).Msg("worker: background work did not drain")
	}
	if err := shutdownTracing(drainCtx); err != nil {
		logger.Error().Err(err).Msg("worker: failed to flush traces")
	}
	logger.Info().Msg("worker: stopped")
}
