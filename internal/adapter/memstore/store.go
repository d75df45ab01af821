// Package memstore is an in-memory implementation of the task, grant and
// ledger repositories. Each mutation is applied under one lock, giving the
// same single-statement atomicity the Postgres repositories rely on.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
)

// Store holds tasks, grants and ledger entries.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]*domain.GenerationTask
	grants  map[string]*domain.QuotaGrant
	entries []domain.LedgerEntry
	refunds map[string]refundAttempts
	writes  int
	now     func() time.Time
}

type refundAttempts struct {
	count int
	last  time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]*domain.GenerationTask),
		grants:  make(map[string]*domain.QuotaGrant),
		refunds: make(map[string]refundAttempts),
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Writes returns the number of successful mutations so far.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Task returns a copy of the stored task.
func (s *Store) Task(taskID string) (domain.GenerationTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return domain.GenerationTask{}, false
	}
	return cloneTask(t), true
}

// Grant returns a copy of the stored grant.
func (s *Store) Grant(grantID string) (domain.QuotaGrant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return domain.QuotaGrant{}, false
	}
	return *g, true
}

// Entries returns all entries recorded against grantID.
func (s *Store) Entries(grantID string) []domain.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked(grantID)
}

func (s *Store) entriesLocked(grantID string) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	for _, e := range s.entries {
		if e.GrantID == grantID {
			out = append(out, e)
		}
	}
	return out
}

// Task repository

func (s *Store) Create(_ context.Context, task *domain.GenerationTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.TaskID]; exists {
		return domain.ErrDuplicateOperation
	}
	now := s.now()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = domain.TaskStatusPending
	}
	if task.StartedAt.IsZero() {
		task.StartedAt = now
	}
	task.CreatedAt, task.UpdatedAt = now, now
	stored := cloneTask(task)
	s.tasks[task.TaskID] = &stored
	s.writes++
	return nil
}

func (s *Store) GetForWebhook(_ context.Context, taskID, provider string) (*domain.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Provider != provider {
		return nil, domain.ErrNotFound
	}
	out := cloneTask(t)
	return &out, nil
}

func (s *Store) GetPublic(_ context.Context, taskID string) (*domain.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.DeletedAt != nil {
		return nil, domain.ErrNotFound
	}
	out := cloneTask(t)
	if out.HasCharge() {
		for _, e := range s.entries {
			if e.ID == *out.ConsumeTransactionID {
				out.QuotaConsumed = -e.Amount
			}
		}
	}
	return &out, nil
}

// mutate applies fn to the task when cond holds, counting it as one write.
func (s *Store) mutate(taskID string, cond func(*domain.GenerationTask) bool, fn func(*domain.GenerationTask, time.Time)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !cond(t) {
		return false
	}
	now := s.now()
	fn(t, now)
	t.UpdatedAt = now
	s.writes++
	return true
}

func claimed(t *domain.GenerationTask) bool {
	return t.Status == domain.TaskStatusProcessing && t.ClaimedAt != nil
}

func (s *Store) Claim(_ context.Context, taskID string, expected domain.TaskStatus, payload []byte) (bool, error) {
	return s.mutate(taskID,
		func(t *domain.GenerationTask) bool { return t.Status == expected && t.ClaimedAt == nil },
		func(t *domain.GenerationTask, now time.Time) {
			t.Status = domain.TaskStatusProcessing
			t.ClaimedAt = &now
			t.ClaimPayload = append(json.RawMessage(nil), payload...)
		}), nil
}

func (s *Store) MarkProcessing(_ context.Context, taskID string, progress int) (bool, error) {
	return s.mutate(taskID,
		func(t *domain.GenerationTask) bool {
			return (t.Status == domain.TaskStatusPending || t.Status == domain.TaskStatusProcessing) && t.ClaimedAt == nil
		},
		func(t *domain.GenerationTask, _ time.Time) {
			t.Status = domain.TaskStatusProcessing
			if progress > t.Progress {
				t.Progress = progress
			}
		}), nil
}

func (s *Store) CommitCompleted(_ context.Context, taskID string, results []domain.TaskResult, completedAt time.Time, durationMs *int64) (bool, error) {
	return s.mutate(taskID, claimed, func(t *domain.GenerationTask, _ time.Time) {
		t.Status = domain.TaskStatusCompleted
		t.Progress = domain.ProgressCompleted
		t.Results = append([]domain.TaskResult{}, results...)
		t.CompletedAt = &completedAt
		t.DurationMs = durationMs
	}), nil
}

func (s *Store) CommitCompletedMinimal(_ context.Context, taskID string, completedAt time.Time) (bool, error) {
	return s.mutate(taskID, claimed, func(t *domain.GenerationTask, _ time.Time) {
		t.Status = domain.TaskStatusCompleted
		t.CompletedAt = &completedAt
	}), nil
}

func (s *Store) CommitFailed(_ context.Context, taskID string, taskErr domain.TaskError, refundID *string, completedAt time.Time, durationMs *int64) (bool, error) {
	return s.mutate(taskID, claimed, func(t *domain.GenerationTask, _ time.Time) {
		t.Status = domain.TaskStatusFailed
		t.Error = &taskErr
		t.RefundTransactionID = refundID
		t.CompletedAt = &completedAt
		t.DurationMs = durationMs
	}), nil
}

func (s *Store) UpdateNSFW(_ context.Context, taskID string, isNSFW bool, details *domain.NSFWDetails) error {
	s.mutate(taskID,
		func(*domain.GenerationTask) bool { return true },
		func(t *domain.GenerationTask, _ time.Time) {
			t.IsNSFW = isNSFW
			t.NSFWDetails = details
		})
	return nil
}

func (s *Store) AttachRefund(_ context.Context, taskID, refundID string) (bool, error) {
	return s.mutate(taskID,
		func(t *domain.GenerationTask) bool {
			return t.Status == domain.TaskStatusFailed && t.RefundTransactionID == nil
		},
		func(t *domain.GenerationTask, _ time.Time) {
			id := refundID
			t.RefundTransactionID = &id
		}), nil
}

func (s *Store) ListUnrefundedFailures(_ context.Context, limit, maxAttempts int) ([]domain.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GenerationTask
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusFailed && t.HasCharge() && t.RefundTransactionID == nil &&
			s.refunds[t.TaskID].count < maxAttempts {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := s.refunds[out[i].TaskID], s.refunds[out[j].TaskID]
		if (ai.count == 0) != (aj.count == 0) {
			return ai.count == 0
		}
		if !ai.last.Equal(aj.last) {
			return ai.last.Before(aj.last)
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RecordRefundAttempt(_ context.Context, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.Status != domain.TaskStatusFailed || t.RefundTransactionID != nil {
		return false, nil
	}
	a := s.refunds[taskID]
	a.count++
	a.last = s.now()
	s.refunds[taskID] = a
	s.writes++
	return true, nil
}

// RefundAttempts returns how many refund backfills were recorded for taskID.
func (s *Store) RefundAttempts(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refunds[taskID].count
}

func (s *Store) ListStaleClaims(_ context.Context, claimedBefore time.Time, limit int) ([]domain.GenerationTask, error) {
	return s.list(limit, func(t *domain.GenerationTask) bool {
		return claimed(t) && t.ClaimedAt.Before(claimedBefore)
	}), nil
}

func (s *Store) Reclaim(_ context.Context, taskID string, claimedAt time.Time) (bool, error) {
	return s.mutate(taskID,
		func(t *domain.GenerationTask) bool { return claimed(t) && t.ClaimedAt.Equal(claimedAt) },
		func(t *domain.GenerationTask, now time.Time) { t.ClaimedAt = &now }), nil
}

func (s *Store) SoftDelete(_ context.Context, taskID, userID string) (bool, error) {
	return s.mutate(taskID,
		func(t *domain.GenerationTask) bool { return t.UserID == userID && t.DeletedAt == nil },
		func(t *domain.GenerationTask, now time.Time) { t.DeletedAt = &now }), nil
}

func (s *Store) GetByShareID(_ context.Context, shareID string) (*domain.GenerationTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if shareID != "" && t.ShareID == shareID && t.DeletedAt == nil {
			out := cloneTask(t)
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListByUser(_ context.Context, filter domain.TaskFilter) ([]domain.GenerationTask, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.GenerationTask{}
	for _, t := range s.tasks {
		if filter.Matches(*t) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if filter.Offset >= total {
		return []domain.GenerationTask{}, total, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (s *Store) list(limit int, match func(*domain.GenerationTask) bool) []domain.GenerationTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.GenerationTask
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Grant repository

func (s *Store) Get(_ context.Context, grantID string) (*domain.QuotaGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *g
	return &out, nil
}

func (s *Store) Issue(_ context.Context, grant *domain.QuotaGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueLocked(grant)
	return nil
}

func (s *Store) issueLocked(grant *domain.QuotaGrant) {
	now := s.now()
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.IssuedAt.IsZero() {
		grant.IssuedAt = now
	}
	grant.CreatedAt, grant.UpdatedAt = now, now
	stored := *grant
	s.grants[grant.ID] = &stored
	s.writes++
}

func (s *Store) IssueDaily(_ context.Context, userID string, amount int, day time.Time) (*domain.QuotaGrant, bool, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.grants {
		if g.UserID == userID && g.Type == domain.GrantTypeDailyFree && g.IssuedAt.Equal(start) {
			out := *g
			return &out, false, nil
		}
	}
	end := start.Add(24 * time.Hour)
	grant := &domain.QuotaGrant{UserID: userID, Type: domain.GrantTypeDailyFree, Amount: amount, IssuedAt: start, ExpiresAt: &end}
	s.issueLocked(grant)
	return grant, true, nil
}

func (s *Store) ListActive(_ context.Context, userID string, now time.Time) ([]domain.QuotaGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.QuotaGrant
	for _, g := range s.grants {
		if g.UserID == userID && !g.Expired(now) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *Store) ListTouchedSince(_ context.Context, since time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range s.entries {
		if e.CreatedAt.Before(since) {
			continue
		}
		if _, ok := seen[e.GrantID]; ok {
			continue
		}
		seen[e.GrantID] = struct{}{}
		ids = append(ids, e.GrantID)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// Ledger repository

func (s *Store) Consume(_ context.Context, grantID string, amount int, note string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[grantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	before, after, err := g.Consume(amount, now)
	if err != nil {
		return nil, err
	}
	g.UpdatedAt = now
	entry := domain.LedgerEntry{
		ID:            uuid.NewString(),
		UserID:        g.UserID,
		GrantID:       g.ID,
		Type:          domain.EntryTypeConsume,
		Amount:        -amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Note:          note,
		CreatedAt:     now,
	}
	s.entries = append(s.entries, entry)
	s.writes++
	return &entry, nil
}

func (s *Store) Refund(_ context.Context, consumeEntryID, reason string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var src *domain.LedgerEntry
	for i := range s.entries {
		e := &s.entries[i]
		if e.Type == domain.EntryTypeRefund && e.RelatedEntryID != nil && *e.RelatedEntryID == consumeEntryID {
			return nil, domain.ErrAlreadyRefunded
		}
		if e.ID == consumeEntryID && e.Type == domain.EntryTypeConsume {
			src = e
		}
	}
	if src == nil {
		return nil, domain.ErrNotFound
	}
	g, ok := s.grants[src.GrantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	now := s.now()
	before, after := g.Credit(-src.Amount)
	g.UpdatedAt = now
	related := src.ID
	entry := domain.LedgerEntry{
		ID:             uuid.NewString(),
		UserID:         g.UserID,
		GrantID:        g.ID,
		Type:           domain.EntryTypeRefund,
		Amount:         -src.Amount,
		BalanceBefore:  before,
		BalanceAfter:   after,
		RelatedEntryID: &related,
		Note:           reason,
		CreatedAt:      now,
	}
	s.entries = append(s.entries, entry)
	s.writes++
	return &entry, nil
}

func (s *Store) FindRefund(_ context.Context, consumeEntryID string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Type == domain.EntryTypeRefund && e.RelatedEntryID != nil && *e.RelatedEntryID == consumeEntryID {
			out := e
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) GetEntry(_ context.Context, entryID string) (*domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == entryID {
			out := e
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListEntries(_ context.Context, grantID string) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entriesLocked(grantID), nil
}

func cloneTask(t *domain.GenerationTask) domain.GenerationTask {
	out := *t
	out.Results = append([]domain.TaskResult(nil), t.Results...)
	out.Parameters = append(json.RawMessage(nil), t.Parameters...)
	out.ClaimPayload = append(json.RawMessage(nil), t.ClaimPayload...)
	return out
}

var (
	_ domain.TaskRepository   = (*Store)(nil)
	_ domain.GrantRepository  = (*Store)(nil)
	_ domain.LedgerRepository = (*Store)(nil)
)
