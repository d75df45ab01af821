package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"mediagen/internal/adapter/memstore"
	"mediagen/internal/background"
	"mediagen/internal/domain"
	"mediagen/internal/fetch"
	"mediagen/internal/moderation"
	"mediagen/internal/quota"
)

type fakeFetcher struct {
	mu     sync.Mutex
	fail   map[string]bool
	calls  []string
	asType string
}

func (f *fakeFetcher) Download(_ context.Context, rawURL string) (*fetch.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if f.fail[rawURL] {
		return nil, errors.New("fetch: status 502")
	}
	ct := f.asType
	if ct == "" {
		ct = "image/png"
	}
	return &fetch.Asset{Data: []byte("bytes:" + rawURL), ContentType: ct}, nil
}

type fakeUploader struct {
	mu      sync.Mutex
	fail    bool
	uploads []string
}

func (u *fakeUploader) Upload(_ context.Context, data []byte, name, _ string, prefix string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.fail {
		return "", errors.New("storage: unavailable")
	}
	key := fmt.Sprintf("%s/%d-%s", prefix, len(u.uploads), name)
	u.uploads = append(u.uploads, key)
	return "https://cdn.example.com/" + key, nil
}

type fakeMarker struct{ fail bool }

func (m fakeMarker) Apply(data []byte) ([]byte, error) {
	if m.fail {
		return nil, errors.New("watermark: decode image")
	}
	return append([]byte("wm:"), data...), nil
}

type fakeClassifier struct {
	mu   sync.Mutex
	urls []string
	nsfw bool
}

func (c *fakeClassifier) Classify(_ context.Context, imageURL string) (moderation.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, imageURL)
	return moderation.Classification{IsNSFW: c.nsfw, Details: &domain.NSFWDetails{Sexual: c.nsfw}}, nil
}

func (c *fakeClassifier) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}

type fixture struct {
	store      *memstore.Store
	ledger     *quota.Ledger
	runner     *background.Runner
	fetcher    *fakeFetcher
	uploader   *fakeUploader
	classifier *fakeClassifier
	machine    *Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, fakeMarker{})
}

func newFixtureWith(t *testing.T, tasks domain.TaskRepository, marker Marker) *fixture {
	t.Helper()
	logger := zerolog.Nop()
	store := memstore.New()
	if tasks == nil {
		tasks = store
	}
	f := &fixture{
		store:      store,
		ledger:     quota.NewLedger(store, store, logger),
		runner:     background.NewRunner(logger),
		fetcher:    &fakeFetcher{fail: map[string]bool{}},
		uploader:   &fakeUploader{},
		classifier: &fakeClassifier{},
	}
	screen := NewContentScreen(tasks, f.classifier, time.Second, logger)
	completion := NewCompletionPipeline(CompletionOptions{
		Tasks:       tasks,
		Fetcher:     f.fetcher,
		Store:       f.uploader,
		Marker:      marker,
		Screen:      screen,
		Runner:      f.runner,
		NSFWModels:  []string{"z-image", "z-image-lora"},
		Concurrency: 2,
		Logger:      logger,
	})
	compensator := NewCompensator(tasks, f.ledger, logger)
	f.machine = NewMachine(tasks, completion, compensator, f.runner, logger)
	return f
}

// grant issues a quota pack of amount to user-1.
func (f *fixture) grant(t *testing.T, amount int) string {
	t.Helper()
	g := &domain.QuotaGrant{UserID: "user-1", Type: domain.GrantTypeQuotaPack, Amount: amount}
	require.NoError(t, f.store.Issue(context.Background(), g))
	return g.ID
}

// task creates a pending wavespeed task, charged against grantID when it is
// not empty.
func (f *fixture) task(t *testing.T, model, grantID string, charge int) string {
	t.Helper()
	ctx := context.Background()
	task := &domain.GenerationTask{
		TaskID:    uuid.NewString(),
		UserID:    "user-1",
		TaskType:  "text-to-image",
		Provider:  "wavespeed",
		Model:     model,
		Status:    domain.TaskStatusPending,
		StartedAt: time.Now().Add(-2 * time.Second),
	}
	if grantID != "" {
		entry, err := f.ledger.Consume(ctx, grantID, charge, "task "+task.TaskID)
		require.NoError(t, err)
		task.ConsumeTransactionID = &entry.ID
	}
	require.NoError(t, f.store.Create(ctx, task))
	return task.TaskID
}

func (f *fixture) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.runner.Wait(ctx))
}

func (f *fixture) load(t *testing.T, taskID string) domain.GenerationTask {
	t.Helper()
	task, ok := f.store.Task(taskID)
	require.True(t, ok)
	return task
}

func refunds(entries []domain.LedgerEntry) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range entries {
		if e.Type == domain.EntryTypeRefund {
			out = append(out, e)
		}
	}
	return out
}

func isStored(url string) bool {
	return strings.HasPrefix(url, "https://cdn.example.com/")
}
