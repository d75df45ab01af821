package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// refundOnceConstraint is the unique partial index allowing one refund per consume entry.
const refundOnceConstraint = "quota_transaction_refund_once"

// LedgerRepositoryPG implements domain.LedgerRepository backed by PostgreSQL.
// Consume and Refund each run as one statement, so the grant counters and the
// appended entry commit together.
type LedgerRepositoryPG struct {
	db infra.SQLExecutor
}

// NewLedgerRepository creates a new LedgerRepositoryPG.
func NewLedgerRepository(db infra.SQLExecutor) *LedgerRepositoryPG {
	return &LedgerRepositoryPG{db: db}
}

// Consume debits amount from the grant. It returns domain.ErrInsufficientBalance
// when the grant is short or expired and domain.ErrNotFound when it does not exist.
func (r *LedgerRepositoryPG) Consume(ctx context.Context, grantID string, amount int, note string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: consume amount must be positive", domain.ErrInvalidAmount)
	}
	if !validUUID(grantID) {
		return nil, domain.ErrNotFound
	}
	entry, err := scanEntry(r.db.QueryRow(ctx, sqlinline.QLedgerConsume, grantID, amount, note))
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("consume grant %s: %w", grantID, err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, sqlinline.QGrantExists, grantID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check grant %s: %w", grantID, err)
	}
	if !exists {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrInsufficientBalance
}

// Refund reverses a consume entry. A second refund of the same entry, whether
// sequential or concurrent, yields domain.ErrAlreadyRefunded.
func (r *LedgerRepositoryPG) Refund(ctx context.Context, consumeEntryID, reason string) (*domain.LedgerEntry, error) {
	if !validUUID(consumeEntryID) {
		return nil, domain.ErrNotFound
	}
	entry, err := scanEntry(r.db.QueryRow(ctx, sqlinline.QLedgerRefund, consumeEntryID, reason))
	switch {
	case err == nil:
		return entry, nil
	case infra.IsUniqueViolation(err, refundOnceConstraint):
		return nil, domain.ErrAlreadyRefunded
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("refund entry %s: %w", consumeEntryID, err)
	}

	var consumeExists, refunded bool
	if err := r.db.QueryRow(ctx, sqlinline.QLedgerRefundState, consumeEntryID).Scan(&consumeExists, &refunded); err != nil {
		return nil, fmt.Errorf("check refund state %s: %w", consumeEntryID, err)
	}
	if refunded {
		return nil, domain.ErrAlreadyRefunded
	}
	return nil, domain.ErrNotFound
}

func (r *LedgerRepositoryPG) FindRefund(ctx context.Context, consumeEntryID string) (*domain.LedgerEntry, error) {
	if !validUUID(consumeEntryID) {
		return nil, domain.ErrNotFound
	}
	return scanEntry(r.db.QueryRow(ctx, sqlinline.QLedgerFindRefund, consumeEntryID))
}

func (r *LedgerRepositoryPG) GetEntry(ctx context.Context, entryID string) (*domain.LedgerEntry, error) {
	if !validUUID(entryID) {
		return nil, domain.ErrNotFound
	}
	return scanEntry(r.db.QueryRow(ctx, sqlinline.QLedgerGetEntry, entryID))
}

// ListEntries returns every entry recorded against grantID in insertion order.
func (r *LedgerRepositoryPG) ListEntries(ctx context.Context, grantID string) ([]domain.LedgerEntry, error) {
	if !validUUID(grantID) {
		return nil, domain.ErrNotFound
	}
	rows, err := r.db.Query(ctx, sqlinline.QLedgerListEntries, grantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*domain.LedgerEntry, error) {
	var (
		entry     domain.LedgerEntry
		entryType string
	)
	if err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.GrantID,
		&entryType,
		&entry.Amount,
		&entry.BalanceBefore,
		&entry.BalanceAfter,
		&entry.RelatedEntryID,
		&entry.Note,
		&entry.CreatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	entry.Type = domain.EntryType(entryType)
	return &entry, nil
}

var _ domain.LedgerRepository = (*LedgerRepositoryPG)(nil)
