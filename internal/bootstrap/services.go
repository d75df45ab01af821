// Package bootstrap assembles the repositories and lifecycle components shared
// by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediagen/internal/adapter/repo"
	"mediagen/internal/background"
	"mediagen/internal/fetch"
	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
	"mediagen/internal/lifecycle"
	"mediagen/internal/moderation"
	"mediagen/internal/quota"
	"mediagen/internal/storage"
	"mediagen/internal/watermark"
)

// Services holds the wired components.
type Services struct {
	Tasks       *repo.TaskRepositoryPG
	Grants      *repo.GrantRepositoryPG
	Entries     *repo.LedgerRepositoryPG
	Ledger      *quota.Ledger
	Daily       *quota.DailyIssuer
	Runner      *background.Runner
	Compensator *lifecycle.Compensator
	Machine     *lifecycle.Machine
}

// Build wires Services on top of pool. Provider secrets missing from the
// environment are loaded from the credential store into cfg first.
func Build(ctx context.Context, cfg *infra.Config, pool *pgxpool.Pool, logger infra.Logger) (*Services, error) {
	runner := infra.NewSQLRunner(pool, logger)
	if err := credentials.NewStore(runner).Resolve(ctx, cfg); err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	tasks := repo.NewTaskRepository(runner)
	grants := repo.NewGrantRepository(runner)
	entries := repo.NewLedgerRepository(runner)
	ledger := quota.NewLedger(grants, entries, logger)

	uploader, err := storage.New(cfg)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: 60 * time.Second}
	jobs := background.NewRunner(logger)

	var screen *lifecycle.ContentScreen
	classifier := moderation.NewClient(moderation.Options{
		APIKey:     cfg.WavespeedAPIKey,
		BaseURL:    cfg.WavespeedBaseURL,
		HTTPClient: httpClient,
		Logger:     &logger,
	})
	if classifier.HasCredentials() {
		screen = lifecycle.NewContentScreen(tasks, classifier, 0, logger)
	} else {
		logger.Warn().Msg("bootstrap: WAVESPEED_API_KEY missing, content screening disabled")
	}

	completion := lifecycle.NewCompletionPipeline(lifecycle.CompletionOptions{
		Tasks:       tasks,
		Fetcher:     fetch.NewDownloader(downloadOptions(cfg, httpClient)),
		Store:       uploader,
		Marker:      watermark.New(cfg.WatermarkText, cfg.WatermarkDomain),
		Screen:      screen,
		Runner:      jobs,
		NSFWModels:  cfg.NSFWCheckModels,
		Concurrency: cfg.AssetConcurrency,
		Logger:      logger,
	})
	compensator := lifecycle.NewCompensator(tasks, ledger, logger)

	return &Services{
		Tasks:   tasks,
		Grants:  grants,
		Entries: entries,
		Ledger:  ledger,
		Daily: quota.NewDailyIssuer(grants, quota.DailyPolicy{
			Amount:           cfg.DailyFreeQuota,
			BoostedAmount:    cfg.DailyFreeQuotaBoosted,
			BoostedCountries: cfg.DailyFreeQuotaBoostedCountries,
		}, logger),
		Runner:      jobs,
		Compensator: compensator,
		Machine:     lifecycle.NewMachine(tasks, completion, compensator, jobs, logger),
	}, nil
}

// downloadOptions configures provider asset downloads: one retry after a
// second, bounded by the configured timeout and size.
func downloadOptions(cfg *infra.Config, client *http.Client) fetch.Options {
	return fetch.Options{
		HTTPClient: client,
		Timeout:    cfg.AssetDownloadTimeout,
		Retries:    1,
		RetryDelay: time.Second,
		MaxBytes:   cfg.AssetMaxBytes,
	}
}
