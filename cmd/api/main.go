package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"mediagen/internal/bootstrap"
	"mediagen/internal/http/handlers"
	httpapi "mediagen/internal/http/httpapi"
	"mediagen/internal/infra"
	"mediagen/internal/infra/geoip"
	"mediagen/internal/infra/telemetry"
	"mediagen/internal/middleware"
	"mediagen/internal/webhook"
)

func main() {
	if err := infra.LoadDotEnv(); err != nil {
		panic(err)
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.OTelServiceName,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init telemetry")
	}

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	svc, err := bootstrap.Build(ctx, cfg, dbpool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	}
	defer resolver.Close()
	var lookup middleware.CountryLookup
	if resolver != nil {
		lookup = resolver.CountryCode
	}

	if len(cfg.WebhookSecrets) == 0 {
		logger.Warn().Msg("no WEBHOOK_SECRET_* configured, webhook signatures are not checked")
	}

	app := &handlers.App{
		Logger:     logger,
		DB:         dbpool,
		Tasks:      svc.Tasks,
		Normalizer: webhook.NewNormalizer(cfg.WebhookStrictStatus),
		Verifiers:  webhook.NewVerifiers(cfg.WebhookSecrets),
		Machine:    svc.Machine,
		Daily:      svc.Daily,
	}

	opts := httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		DefaultLocale:   "en",
		CountryLookup:   lookup,
		Logger:          logger,
	}
	if cfg.StorageDriver == "filesystem" {
		opts.StaticDir = cfg.StoragePath
	}
	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, opts), logger)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Completions still in flight finish before the pool closes.
	if err := svc.Runner.Wait(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("background work did not drain")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to flush traces")
	}
	logger.Info().Msg("server stopped")
}
