package domain

import (
	"context"
	"time"
)

// TaskRepository persists generation tasks. Every mutating method is a single
// conditional statement and reports whether a row was affected.
type TaskRepository interface {
	Create(ctx context.Context, task *GenerationTask) error
	GetForWebhook(ctx context.Context, taskID, provider string) (*GenerationTask, error)
	GetPublic(ctx context.Context, taskID string) (*GenerationTask, error)
	Claim(ctx context.Context, taskID string, expected TaskStatus, payload []byte) (bool, error)
	MarkProcessing(ctx context.Context, taskID string, progress int) (bool, error)
	CommitCompleted(ctx context.Context, taskID string, results []TaskResult, completedAt time.Time, durationMs *int64) (bool, error)
	CommitCompletedMinimal(ctx context.Context, taskID string, completedAt time.Time) (bool, error)
	CommitFailed(ctx context.Context, taskID string, taskErr TaskError, refundID *string, completedAt time.Time, durationMs *int64) (bool, error)
	UpdateNSFW(ctx context.Context, taskID string, isNSFW bool, details *NSFWDetails) error
	AttachRefund(ctx context.Context, taskID, refundID string) (bool, error)
	ListUnrefundedFailures(ctx context.Context, limit, maxAttempts int) ([]GenerationTask, error)
	RecordRefundAttempt(ctx context.Context, taskID string) (bool, error)
	ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]GenerationTask, error)
	Reclaim(ctx context.Context, taskID string, claimedAt time.Time) (bool, error)
	SoftDelete(ctx context.Context, taskID, userID string) (bool, error)
	GetByShareID(ctx context.Context, shareID string) (*GenerationTask, error)
	ListByUser(ctx context.Context, filter TaskFilter) ([]GenerationTask, int, error)
}

// LedgerRepository is the append-only quota ledger.
type LedgerRepository interface {
	Consume(ctx context.Context, grantID string, amount int, note string) (*LedgerEntry, error)
	Refund(ctx context.Context, consumeEntryID, reason string) (*LedgerEntry, error)
	FindRefund(ctx context.Context, consumeEntryID string) (*LedgerEntry, error)
	GetEntry(ctx context.Context, entryID string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, grantID string) ([]LedgerEntry, error)
}

// GrantRepository manages quota grants.
type GrantRepository interface {
	Get(ctx context.Context, grantID string) (*QuotaGrant, error)
	Issue(ctx context.Context, grant *QuotaGrant) error
	IssueDaily(ctx context.Context, userID string, amount int, day time.Time) (*QuotaGrant, bool, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]QuotaGrant, error)
	ListTouchedSince(ctx context.Context, since time.Time, limit int) ([]string, error)
}
