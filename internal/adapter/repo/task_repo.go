package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskRepository backed by PostgreSQL.
type TaskRepositoryPG struct {
	db infra.SQLExecutor
}

// NewTaskRepository creates a new TaskRepositoryPG.
func NewTaskRepository(db infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{db: db}
}

// Create inserts a pending task and fills in the generated columns.
func (r *TaskRepositoryPG) Create(ctx context.Context, task *domain.GenerationTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	row := r.db.QueryRow(ctx, sqlinline.QTaskInsert,
		task.TaskID,
		task.ShareID,
		task.UserID,
		task.TaskType,
		task.Provider,
		task.ProviderRequestID,
		task.Model,
		nullableJSON(task.Parameters),
		task.ConsumeTransactionID,
		task.IsPrivate,
	)
	if err := row.Scan(&task.ID, &task.Status, &task.Progress, &task.StartedAt, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetForWebhook fetches a task by id, scoped to the provider that owns it.
func (r *TaskRepositoryPG) GetForWebhook(ctx context.Context, taskID, provider string) (*domain.GenerationTask, error) {
	if !validUUID(taskID) {
		return nil, domain.ErrNotFound
	}
	return scanTask(r.db.QueryRow(ctx, sqlinline.QTaskGetForWebhook, taskID, provider))
}

// GetPublic fetches a non-deleted task with the quota it consumed.
func (r *TaskRepositoryPG) GetPublic(ctx context.Context, taskID string) (*domain.GenerationTask, error) {
	if !validUUID(taskID) {
		return nil, domain.ErrNotFound
	}
	var consumed int
	task, err := scanTask(r.db.QueryRow(ctx, sqlinline.QTaskGetPublic, taskID), &consumed)
	if err != nil {
		return nil, err
	}
	task.QuotaConsumed = consumed
	return task, nil
}

func (r *TaskRepositoryPG) Claim(ctx context.Context, taskID string, expected domain.TaskStatus, payload []byte) (bool, error) {
	return r.exec(ctx, sqlinline.QTaskClaim, taskID, string(expected), nullableJSON(payload))
}

func (r *TaskRepositoryPG) MarkProcessing(ctx context.Context, taskID string, progress int) (bool, error) {
	return r.exec(ctx, sqlinline.QTaskMarkProcessing, taskID, progress)
}

func (r *TaskRepositoryPG) CommitCompleted(ctx context.Context, taskID string, results []domain.TaskResult, completedAt time.Time, durationMs *int64) (bool, error) {
	if results == nil {
		results = []domain.TaskResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return false, fmt.Errorf("encode results: %w", err)
	}
	return r.exec(ctx, sqlinline.QTaskCommitCompleted, taskID, payload, completedAt, durationMs)
}

func (r *TaskRepositoryPG) CommitCompletedMinimal(ctx context.Context, taskID string, completedAt time.Time) (bool, error) {
	return r.exec(ctx, sqlinline.QTaskCommitCompletedMinimal, taskID, completedAt)
}

func (r *TaskRepositoryPG) CommitFailed(ctx context.Context, taskID string, taskErr domain.TaskError, refundID *string, completedAt time.Time, durationMs *int64) (bool, error) {
	payload, err := json.Marshal(taskErr)
	if err != nil {
		return false, fmt.Errorf("encode task error: %w", err)
	}
	return r.exec(ctx, sqlinline.QTaskCommitFailed, taskID, payload, refundID, completedAt, durationMs)
}

func (r *TaskRepositoryPG) UpdateNSFW(ctx context.Context, taskID string, isNSFW bool, details *domain.NSFWDetails) error {
	var payload []byte
	if details != nil {
		encoded, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode nsfw details: %w", err)
		}
		payload = encoded
	}
	_, err := r.exec(ctx, sqlinline.QTaskUpdateNSFW, taskID, isNSFW, payload)
	return err
}

func (r *TaskRepositoryPG) AttachRefund(ctx context.Context, taskID, refundID string) (bool, error) {
	return r.exec(ctx, sqlinline.QTaskAttachRefund, taskID, refundID)
}

// ListUnrefundedFailures returns charged failures without a refund that have
// been attempted fewer than maxAttempts times. Never-attempted tasks come first,
// then the least recently attempted, so a run of unrefundable rows cannot hold
// the head of the queue.
func (r *TaskRepositoryPG) ListUnrefundedFailures(ctx context.Context, limit, maxAttempts int) ([]domain.GenerationTask, error) {
	return r.list(ctx, sqlinline.QTaskListUnrefundedFailures, limit, maxAttempts)
}

// RecordRefundAttempt bumps the refund attempt counter of an unrefunded failure.
// updated_at is left alone.
func (r *TaskRepositoryPG) RecordRefundAttempt(ctx context.Context, taskID string) (bool, error) {
	return r.exec(ctx, sqlinline.QTaskRecordRefundAttempt, taskID)
}

func (r *TaskRepositoryPG) ListStaleClaims(ctx context.Context, claimedBefore time.Time, limit int) ([]domain.GenerationTask, error) {
	return r.list(ctx, sqlinline.QTaskListStaleClaims, claimedBefore, limit)
}

func (r *TaskRepositoryPG) Reclaim(ctx context.Context, taskID string, claimedAt time.Time) (bool, error) {
	return r.exec(ctx, sqlinline.QTaskReclaim, taskID, claimedAt)
}

func (r *TaskRepositoryPG) SoftDelete(ctx context.Context, taskID, userID string) (bool, error) {
	if !validUUID(taskID) {
		return false, nil
	}
	return r.exec(ctx, sqlinline.QTaskSoftDelete, taskID, userID)
}

// GetByShareID fetches a non-deleted task by its public share id.
func (r *TaskRepositoryPG) GetByShareID(ctx context.Context, shareID string) (*domain.GenerationTask, error) {
	if shareID == "" {
		return nil, domain.ErrNotFound
	}
	return scanTask(r.db.QueryRow(ctx, sqlinline.QTaskGetByShareID, shareID))
}

// ListByUser returns one page of the user's tasks together with the total
// number of tasks matching filter.
func (r *TaskRepositoryPG) ListByUser(ctx context.Context, filter domain.TaskFilter) ([]domain.GenerationTask, int, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	args := []any{filter.UserID, statuses, nonNil(filter.TaskTypes), nonNil(filter.Models), filter.CreatedAfter}

	var total int
	if err := r.db.QueryRow(ctx, sqlinline.QTaskCountByUser, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}
	if total == 0 {
		return []domain.GenerationTask{}, 0, nil
	}
	tasks, err := r.list(ctx, sqlinline.QTaskListByUser, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []domain.GenerationTask{}
	}
	return tasks, total, nil
}

// exec runs a conditional mutation and reports whether exactly one row changed.
func (r *TaskRepositoryPG) exec(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TaskRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.GenerationTask, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.GenerationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

func scanTask(row pgx.Row, extra ...any) (*domain.GenerationTask, error) {
	var (
		task        domain.GenerationTask
		status      string
		parameters  []byte
		results     []byte
		taskErr     []byte
		nsfwDetails []byte
		claim       []byte
	)
	dest := []any{
		&task.ID,
		&task.TaskID,
		&task.ShareID,
		&task.UserID,
		&task.TaskType,
		&task.Provider,
		&task.ProviderRequestID,
		&task.Model,
		&status,
		&task.Progress,
		&parameters,
		&results,
		&task.ConsumeTransactionID,
		&task.RefundTransactionID,
		&taskErr,
		&task.IsNSFW,
		&nsfwDetails,
		&task.StartedAt,
		&task.CompletedAt,
		&task.DurationMs,
		&task.ClaimedAt,
		&claim,
		&task.IsPrivate,
		&task.DeletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	task.Parameters = json.RawMessage(parameters)
	task.ClaimPayload = json.RawMessage(claim)
	if len(results) > 0 {
		if err := json.Unmarshal(results, &task.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	if len(taskErr) > 0 {
		task.Error = &domain.TaskError{}
		if err := json.Unmarshal(taskErr, task.Error); err != nil {
			return nil, fmt.Errorf("decode task error: %w", err)
		}
	}
	if len(nsfwDetails) > 0 {
		task.NSFWDetails = &domain.NSFWDetails{}
		if err := json.Unmarshal(nsfwDetails, task.NSFWDetails); err != nil {
			return nil, fmt.Errorf("decode nsfw details: %w", err)
		}
	}
	return &task, nil
}

func validUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.TaskRepository = (*TaskRepositoryPG)(nil)
