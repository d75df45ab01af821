package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagen/internal/adapter/memstore"
	"mediagen/internal/domain"
	"mediagen/internal/webhook"
)

func completed(outputs ...string) webhook.Envelope {
	return webhook.Envelope{Status: domain.TaskStatusCompleted, Outputs: outputs}
}

func failed(msg string) webhook.Envelope {
	return webhook.Envelope{Status: domain.TaskStatusFailed, Error: msg}
}

func TestHandleUnknownTask(t *testing.T) {
	f := newFixture(t)
	_, err := f.machine.Handle(context.Background(), "wavespeed", "9b0f6a8e-3b8f-4a55-9a51-000000000000", completed("https://p/a.png"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleProviderMismatchIsNotFound(t *testing.T) {
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)
	_, err := f.machine.Handle(context.Background(), "fal", taskID, completed("https://p/a.png"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, domain.TaskStatusPending, f.load(t, taskID).Status)
}

func TestHandlePendingIsNoop(t *testing.T) {
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)
	before := f.store.Writes()

	outcome, err := f.machine.Handle(context.Background(), "wavespeed", taskID, webhook.Envelope{Status: domain.TaskStatusPending})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Equal(t, before, f.store.Writes())
}

func TestHandleProcessingThenCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)

	outcome, err := f.machine.Handle(ctx, "wavespeed", taskID, webhook.Envelope{Status: domain.TaskStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProgress, outcome)
	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusProcessing, task.Status)
	assert.Equal(t, domain.ProgressProcessing, task.Progress)
	assert.Nil(t, task.ClaimedAt)

	outcome, err = f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.png"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleting, outcome)
	f.wait(t)

	task = f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, domain.ProgressCompleted, task.Progress)
	require.Len(t, task.Results, 1)
	assert.True(t, isStored(task.Results[0].URL))
	assert.True(t, isStored(task.Results[0].WatermarkURL))
	assert.Equal(t, domain.AssetKindImage, task.Results[0].Type)
	require.NotNil(t, task.CompletedAt)
	require.NotNil(t, task.DurationMs)
	assert.GreaterOrEqual(t, *task.DurationMs, int64(2000))
}

func TestHandleProcessingAfterCompletionIsIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)
	f.fetcher.fail["https://p/slow.png"] = true

	_, err := f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/slow.png"))
	require.NoError(t, err)
	f.wait(t)

	outcome, err := f.machine.Handle(ctx, "wavespeed", taskID, webhook.Envelope{Status: domain.TaskStatusProcessing})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, outcome)
}

func TestConcurrentDuplicateCompletionsConverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)

	const n = 20
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.png", "https://p/b.png"))
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()
	f.wait(t)

	winners := 0
	for _, o := range outcomes {
		if o == OutcomeCompleting {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	f.fetcher.mu.Lock()
	assert.Len(t, f.fetcher.calls, 2)
	f.fetcher.mu.Unlock()

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Len(t, task.Results, 2)
}

func TestConcurrentDuplicateFailuresRefundOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantID := f.grant(t, 100)
	taskID := f.task(t, "flux", grantID, 10)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Handle(ctx, "wavespeed", taskID, failed("timeout"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, refunds(f.store.Entries(grantID)), 1)
	grant, _ := f.store.Grant(grantID)
	assert.Equal(t, 0, grant.Consumed)
	require.NoError(t, f.ledger.Audit(ctx, grantID))
	assert.Equal(t, domain.TaskStatusFailed, f.load(t, taskID).Status)
}

func TestPartialSuccessFallsBackPerAsset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)
	f.fetcher.fail["https://p/b.png"] = true

	_, err := f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.png", "https://p/b.png", "https://p/c.png"))
	require.NoError(t, err)
	f.wait(t)

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	require.Len(t, task.Results, 3)
	assert.True(t, isStored(task.Results[0].URL))
	assert.Equal(t, "https://p/b.png", task.Results[1].URL)
	assert.Empty(t, task.Results[1].WatermarkURL)
	assert.True(t, isStored(task.Results[2].URL))
}

func TestStorageOutageKeepsProviderURLs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.uploader.fail = true
	taskID := f.task(t, "flux", "", 0)

	_, err := f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.png"))
	require.NoError(t, err)
	f.wait(t)

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Equal(t, []domain.TaskResult{{URL: "https://p/a.png", Type: domain.AssetKindImage}}, task.Results)
}

func TestWatermarkFailureKeepsProviderURL(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, nil, fakeMarker{fail: true})
	taskID := f.task(t, "flux", "", 0)

	_, err := f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.png"))
	require.NoError(t, err)
	f.wait(t)

	task := f.load(t, taskID)
	require.Len(t, task.Results, 1)
	assert.Equal(t, "https://p/a.png", task.Results[0].URL)
}

func TestVideoOutputsSkipWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.asType = "video/mp4"
	taskID := f.task(t, "flux", "", 0)

	_, err := f.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.mp4"))
	require.NoError(t, err)
	f.wait(t)

	task := f.load(t, taskID)
	require.Len(t, task.Results, 1)
	assert.Equal(t, domain.AssetKindVideo, task.Results[0].Type)
	assert.Empty(t, task.Results[0].WatermarkURL)
	assert.Len(t, f.uploader.uploads, 1)
}

func TestFailureWithChargeRefunds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantID := f.grant(t, 100)
	taskID := f.task(t, "flux", grantID, 10)

	grant, _ := f.store.Grant(grantID)
	assert.Equal(t, 10, grant.Consumed)

	outcome, err := f.machine.Handle(ctx, "wavespeed", taskID, failed("timeout"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, "timeout", task.Error.Message)
	assert.Equal(t, domain.ErrorCodeGenerationFailed, task.Error.Code)
	assert.Empty(t, task.Error.Errors)
	require.NotNil(t, task.RefundTransactionID)

	grant, _ = f.store.Grant(grantID)
	assert.Equal(t, 0, grant.Consumed)
	rs := refunds(f.store.Entries(grantID))
	require.Len(t, rs, 1)
	assert.Equal(t, 10, rs[0].Amount)
	assert.Equal(t, "Task failed: timeout", rs[0].Note)
	assert.Equal(t, *task.RefundTransactionID, rs[0].ID)
	require.NoError(t, f.ledger.Audit(ctx, grantID))
}

func TestFailureWithoutCharge(t *testing.T) {
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)

	_, err := f.machine.Handle(context.Background(), "wavespeed", taskID, webhook.Envelope{Status: domain.TaskStatusFailed})
	require.NoError(t, err)

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Nil(t, task.RefundTransactionID)
	require.NotNil(t, task.Error)
	assert.Equal(t, webhook.DefaultErrorMessage, task.Error.Message)
}

func TestCompletedWithoutOutputsIsCompensated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantID := f.grant(t, 100)
	taskID := f.task(t, "flux", grantID, 10)

	outcome, err := f.machine.Handle(ctx, "wavespeed", taskID, completed())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, domain.ErrorCodeEmptyOutputs, task.Error.Code)
	assert.NotNil(t, task.RefundTransactionID)
	grant, _ := f.store.Grant(grantID)
	assert.Equal(t, 0, grant.Consumed)
}

func TestReplayAfterTerminalWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantID := f.grant(t, 100)
	taskID := f.task(t, "flux", grantID, 10)

	_, err := f.machine.Handle(ctx, "wavespeed", taskID, failed("timeout"))
	require.NoError(t, err)
	before := f.store.Writes()

	for _, env := range []webhook.Envelope{
		failed("timeout"),
		completed("https://p/a.png"),
		{Status: domain.TaskStatusProcessing},
		{Status: domain.TaskStatusPending},
	} {
		outcome, err := f.machine.Handle(ctx, "wavespeed", taskID, env)
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyDone, outcome)
	}
	f.wait(t)
	assert.Equal(t, before, f.store.Writes())
	assert.Len(t, refunds(f.store.Entries(grantID)), 1)
}

func TestFailureConvergesOnExistingRefund(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantID := f.grant(t, 100)
	taskID := f.task(t, "flux", grantID, 10)
	task := f.load(t, taskID)

	prior, err := f.ledger.Refund(ctx, *task.ConsumeTransactionID, "manual")
	require.NoError(t, err)

	_, err = f.machine.Handle(ctx, "wavespeed", taskID, failed("timeout"))
	require.NoError(t, err)

	task = f.load(t, taskID)
	require.NotNil(t, task.RefundTransactionID)
	assert.Equal(t, prior.ID, *task.RefundTransactionID)
	assert.Empty(t, task.Error.Errors)
	assert.Len(t, refunds(f.store.Entries(grantID)), 1)
	require.NoError(t, f.ledger.Audit(ctx, grantID))
}

func TestContentScreenRunsForListedModels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.classifier.nsfw = true
	screened := f.task(t, "z-image", "", 0)
	plain := f.task(t, "flux", "", 0)

	_, err := f.machine.Handle(ctx, "wavespeed", screened, completed("https://p/a.png", "https://p/b.png"))
	require.NoError(t, err)
	_, err = f.machine.Handle(ctx, "wavespeed", plain, completed("https://p/c.png"))
	require.NoError(t, err)
	f.wait(t)

	task := f.load(t, screened)
	require.Len(t, f.classifier.seen(), 1)
	assert.Equal(t, task.Results[0].URL, f.classifier.seen()[0])
	assert.True(t, task.IsNSFW)
	require.NotNil(t, task.NSFWDetails)
	assert.True(t, task.NSFWDetails.Sexual)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)

	assert.False(t, f.load(t, plain).IsNSFW)
}

type failingCommits struct {
	*memstore.Store
}

func (failingCommits) CommitCompleted(context.Context, string, []domain.TaskResult, time.Time, *int64) (bool, error) {
	return false, errors.New("write conflict")
}

func TestCommitFailureFallsBackToMinimalWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tasks := failingCommits{Store: f.store}
	g := newFixtureWith(t, tasks, fakeMarker{})
	g.store = f.store
	taskID := f.task(t, "flux", "", 0)

	_, err := g.machine.Handle(ctx, "wavespeed", taskID, completed("https://p/a.png"))
	require.NoError(t, err)
	g.wait(t)

	task := f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.Empty(t, task.Results)
	assert.NotNil(t, task.CompletedAt)
}

type failingRefunds struct{}

func (failingRefunds) Refund(context.Context, string, string) (*domain.LedgerEntry, error) {
	return nil, errors.New("connection reset")
}

func (failingRefunds) FindRefund(context.Context, string) (*domain.LedgerEntry, error) {
	return nil, domain.ErrNotFound
}

func TestRefundFailureStillFailsTask(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	grantID := f.grant(t, 100)
	taskID := f.task(t, "flux", grantID, 10)
	task := f.load(t, taskID)

	ok, err := f.store.Claim(ctx, taskID, domain.TaskStatusPending, nil)
	require.NoError(t, err)
	require.True(t, ok)

	c := NewCompensator(f.store, failingRefunds{}, zerolog.Nop())
	require.NoError(t, c.Run(ctx, task, "timeout", domain.ErrorCodeGenerationFailed))

	task = f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Nil(t, task.RefundTransactionID)
	require.Len(t, task.Error.Errors, 1)
	assert.Equal(t, domain.ErrorCodeRefundFailed, task.Error.Errors[0].Code)

	grant, _ := f.store.Grant(grantID)
	assert.Equal(t, 10, grant.Consumed)

	unrefunded, err := f.store.ListUnrefundedFailures(ctx, 10, 20)
	require.NoError(t, err)
	require.Len(t, unrefunded, 1)

	backfill := NewCompensator(f.store, f.ledger, zerolog.Nop())
	require.NoError(t, backfill.Backfill(ctx, unrefunded[0]))
	task = f.load(t, taskID)
	require.NotNil(t, task.RefundTransactionID)
	grant, _ = f.store.Grant(grantID)
	assert.Equal(t, 0, grant.Consumed)

	// A second backfill of the stale snapshot converges on the same entry.
	require.NoError(t, backfill.Backfill(ctx, unrefunded[0]))
	assert.Len(t, refunds(f.store.Entries(grantID)), 1)
}

func TestRedriveStaleClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)
	task := f.load(t, taskID)

	payload := []byte(`{"status":"completed","outputs":["https://p/a.png"]}`)
	ok, err := f.store.Claim(ctx, taskID, task.Status, payload)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.machine.Redrive(ctx, f.load(t, taskID)))
	task = f.load(t, taskID)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	require.Len(t, task.Results, 1)
}

func TestRedriveWithoutPayloadFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	taskID := f.task(t, "flux", "", 0)

	ok, err := f.store.Claim(ctx, taskID, domain.TaskStatusPending, nil)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.machine.Redrive(ctx, f.load(t, taskID)))
	assert.Equal(t, domain.TaskStatusFailed, f.load(t, taskID).Status)
}
