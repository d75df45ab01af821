package lifecycle

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mediagen/internal/background"
	"mediagen/internal/domain"
	"mediagen/internal/fetch"
	"mediagen/internal/infra"
	"mediagen/internal/storage"
)

// Fetcher downloads provider-hosted assets.
type Fetcher interface {
	Download(ctx context.Context, rawURL string) (*fetch.Asset, error)
}

// Marker stamps a visible watermark onto encoded image bytes.
type Marker interface {
	Apply(data []byte) ([]byte, error)
}

// CompletionOptions wires a CompletionPipeline.
type CompletionOptions struct {
	Tasks       domain.TaskRepository
	Fetcher     Fetcher
	Store       storage.Uploader
	Marker      Marker
	Screen      *ContentScreen
	Runner      *background.Runner
	NSFWModels  []string
	Concurrency int
	Logger      infra.Logger
}

// CompletionPipeline persists a completed task's outputs and commits it.
type CompletionPipeline struct {
	tasks       domain.TaskRepository
	fetcher     Fetcher
	store       storage.Uploader
	marker      Marker
	screen      *ContentScreen
	runner      *background.Runner
	nsfwModels  map[string]struct{}
	concurrency int
	logger      infra.Logger
	now         func() time.Time
}

// NewCompletionPipeline constructs a CompletionPipeline.
func NewCompletionPipeline(opts CompletionOptions) *CompletionPipeline {
	models := make(map[string]struct{}, len(opts.NSFWModels))
	for _, m := range opts.NSFWModels {
		models[strings.TrimSpace(m)] = struct{}{}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &CompletionPipeline{
		tasks:       opts.Tasks,
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		marker:      opts.Marker,
		screen:      opts.Screen,
		runner:      opts.Runner,
		nsfwModels:  models,
		concurrency: concurrency,
		logger:      opts.Logger.With().Str("component", "completion").Logger(),
		now:         time.Now,
	}
}

// Run stores every output, commits the task as completed and schedules the
// content screen for screened models. Per-asset failures fall back to the
// provider URL; commit failures are logged and never returned.
func (p *CompletionPipeline) Run(ctx context.Context, task domain.GenerationTask, outputs []string) error {
	results := make([]domain.TaskResult, len(outputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, out := range outputs {
		g.Go(func() error {
			results[i] = p.persist(gctx, task, out)
			return nil
		})
	}
	_ = g.Wait()

	now := p.now()
	committed, err := p.tasks.CommitCompleted(ctx, task.TaskID, results, now, domain.DurationSince(task.StartedAt, now))
	if err != nil {
		p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("commit completed failed, retrying minimal write")
		committed, err = p.tasks.CommitCompletedMinimal(ctx, task.TaskID, p.now())
		if err != nil {
			p.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("minimal completion write failed")
			return nil
		}
	}
	if !committed {
		p.logger.Warn().Str("task_id", task.TaskID).Msg("completion skipped, claim no longer held")
		return nil
	}
	p.logger.Info().
		Str("task_id", task.TaskID).
		Str("model", task.Model).
		Int("results", len(results)).
		Msg("task completed")

	if p.shouldScreen(task.Model) && len(results) > 0 {
		taskID, target := task.TaskID, results[0].URL
		p.runner.Go(ctx, "content-screen "+taskID, func(ctx context.Context) error {
			return p.screen.Run(ctx, taskID, target)
		})
	}
	return nil
}

func (p *CompletionPipeline) shouldScreen(model string) bool {
	if p.screen == nil || p.runner == nil {
		return false
	}
	_, ok := p.nsfwModels[model]
	return ok
}

// persist stores one output and its watermarked derivative. Any failure
// yields the provider URL as the result.
func (p *CompletionPipeline) persist(ctx context.Context, task domain.GenerationTask, source string) domain.TaskResult {
	fallback := domain.TaskResult{URL: source, Type: kindForTask(task.TaskType)}
	log := p.logger.With().Str("task_id", task.TaskID).Str("source", source).Logger()

	asset, err := p.fetcher.Download(ctx, source)
	if err != nil {
		log.Warn().Err(err).Msg("download failed, keeping provider url")
		return fallback
	}
	kind := domain.AssetKindForMIME(asset.ContentType)
	prefix := path.Join("generated", task.Model, task.TaskID)
	name := assetName(source)

	stored, err := p.store.Upload(ctx, asset.Data, name, asset.ContentType, prefix)
	if err != nil {
		log.Warn().Err(err).Msg("upload failed, keeping provider url")
		return domain.TaskResult{URL: source, Type: kind}
	}
	result := domain.TaskResult{URL: stored, Type: kind}
	if kind != domain.AssetKindImage || p.marker == nil {
		return result
	}

	marked, err := p.marker.Apply(asset.Data)
	if err != nil {
		log.Warn().Err(err).Msg("watermark failed, keeping provider url")
		return domain.TaskResult{URL: source, Type: kind}
	}
	markedType := http.DetectContentType(marked)
	markedURL, err := p.store.Upload(ctx, marked, markedName(markedType), markedType, prefix)
	if err != nil {
		log.Warn().Err(err).Msg("watermark upload failed, keeping provider url")
		return domain.TaskResult{URL: source, Type: kind}
	}
	result.WatermarkURL = markedURL
	return result
}

func kindForTask(taskType string) domain.AssetKind {
	if strings.Contains(strings.ToLower(taskType), "video") {
		return domain.AssetKindVideo
	}
	return domain.AssetKindImage
}

func markedName(contentType string) string {
	if contentType == "image/jpeg" {
		return "watermark.jpg"
	}
	return "watermark.png"
}

func assetName(source string) string {
	if u, err := url.Parse(source); err == nil {
		if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "output"
}
