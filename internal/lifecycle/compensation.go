package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/webhook"
)

// Refunder reverses consume entries.
type Refunder interface {
	Refund(ctx context.Context, consumeEntryID, reason string) (*domain.LedgerEntry, error)
	FindRefund(ctx context.Context, consumeEntryID string) (*domain.LedgerEntry, error)
}

// Compensator commits a claimed task as failed, refunding its charge first.
type Compensator struct {
	tasks  domain.TaskRepository
	ledger Refunder
	logger infra.Logger
	now    func() time.Time
}

// NewCompensator constructs a Compensator.
func NewCompensator(tasks domain.TaskRepository, ledger Refunder, logger infra.Logger) *Compensator {
	return &Compensator{
		tasks:  tasks,
		ledger: ledger,
		logger: logger.With().Str("component", "compensation").Logger(),
		now:    time.Now,
	}
}

// RefundReason is the ledger note recorded for a failed task.
func RefundReason(message string) string {
	return "Task failed: " + message
}

// Run refunds the task's consume entry, if any, and commits it as failed.
// A refund error is recorded as a refund_failed sub-error; the task is still
// failed and the reconciliation sweep retries the refund later.
func (c *Compensator) Run(ctx context.Context, task domain.GenerationTask, message, code string) error {
	taskErr := domain.TaskError{Message: message, Code: code}
	var refundID *string

	if task.HasCharge() {
		id, err := c.refund(ctx, *task.ConsumeTransactionID, message)
		if err != nil {
			c.logger.Error().Err(err).
				Str("task_id", task.TaskID).
				Str("consume_entry_id", *task.ConsumeTransactionID).
				Msg("refund failed")
			taskErr.Errors = append(taskErr.Errors, domain.TaskError{
				Message: err.Error(),
				Code:    domain.ErrorCodeRefundFailed,
			})
		} else {
			refundID = &id
		}
	}

	now := c.now()
	ok, err := c.tasks.CommitFailed(ctx, task.TaskID, taskErr, refundID, now, domain.DurationSince(task.StartedAt, now))
	if err != nil {
		return fmt.Errorf("commit failed task %s: %w", task.TaskID, err)
	}
	if !ok {
		c.logger.Warn().Str("task_id", task.TaskID).Msg("failed commit skipped, claim no longer held")
		return nil
	}
	event := c.logger.Info().Str("task_id", task.TaskID).Str("code", code).Str("message", message)
	if refundID != nil {
		event = event.Str("refund_entry_id", *refundID)
	}
	event.Msg("task failed")
	return nil
}

// Backfill refunds a task already committed as failed without a refund and
// links the refund entry.
func (c *Compensator) Backfill(ctx context.Context, task domain.GenerationTask) error {
	if !task.HasCharge() || task.RefundTransactionID != nil {
		return nil
	}
	message := webhook.DefaultErrorMessage
	if task.Error != nil && task.Error.Message != "" {
		message = task.Error.Message
	}
	id, err := c.refund(ctx, *task.ConsumeTransactionID, message)
	if err != nil {
		return err
	}
	ok, err := c.tasks.AttachRefund(ctx, task.TaskID, id)
	if err != nil {
		return fmt.Errorf("attach refund to %s: %w", task.TaskID, err)
	}
	if ok {
		c.logger.Info().Str("task_id", task.TaskID).Str("refund_entry_id", id).Msg("refund backfilled")
	}
	return nil
}

// refund returns the id of the refund entry for consumeID, creating it when
// absent. A replayed refund converges on the existing entry.
func (c *Compensator) refund(ctx context.Context, consumeID, message string) (string, error) {
	entry, err := c.ledger.Refund(ctx, consumeID, RefundReason(message))
	if err == nil {
		return entry.ID, nil
	}
	if !errors.Is(err, domain.ErrAlreadyRefunded) {
		return "", err
	}
	existing, findErr := c.ledger.FindRefund(ctx, consumeID)
	if findErr != nil {
		return "", fmt.Errorf("find existing refund: %w", findErr)
	}
	return existing.ID, nil
}
