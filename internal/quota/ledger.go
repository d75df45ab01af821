// Package quota holds the prepaid allowance ledger and daily grant issuance.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// Ledger is the service surface over grants and their append-only entries.
type Ledger struct {
	grants  domain.GrantRepository
	entries domain.LedgerRepository
	logger  infra.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(grants domain.GrantRepository, entries domain.LedgerRepository, logger infra.Logger) *Ledger {
	return &Ledger{
		grants:  grants,
		entries: entries,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// Consume debits amount from grantID.
func (l *Ledger) Consume(ctx context.Context, grantID string, amount int, note string) (*domain.LedgerEntry, error) {
	entry, err := l.entries.Consume(ctx, grantID, amount, strings.TrimSpace(note))
	if err != nil {
		return nil, err
	}
	l.logger.Info().
		Str("grant_id", grantID).
		Str("entry_id", entry.ID).
		Int("amount", amount).
		Int("balance_after", entry.BalanceAfter).
		Msg("quota consumed")
	return entry, nil
}

// Refund reverses the consume entry consumeEntryID. domain.ErrAlreadyRefunded
// is returned unwrapped so callers can converge on the existing refund.
func (l *Ledger) Refund(ctx context.Context, consumeEntryID, reason string) (*domain.LedgerEntry, error) {
	entry, err := l.entries.Refund(ctx, consumeEntryID, strings.TrimSpace(reason))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRefunded) {
			l.logger.Info().Str("consume_entry_id", consumeEntryID).Msg("refund already recorded")
		}
		return nil, err
	}
	l.logger.Info().
		Str("grant_id", entry.GrantID).
		Str("consume_entry_id", consumeEntryID).
		Str("entry_id", entry.ID).
		Int("amount", entry.Amount).
		Int("balance_after", entry.BalanceAfter).
		Msg("quota refunded")
	return entry, nil
}

// FindRefund returns the refund entry linked to consumeEntryID.
func (l *Ledger) FindRefund(ctx context.Context, consumeEntryID string) (*domain.LedgerEntry, error) {
	return l.entries.FindRefund(ctx, consumeEntryID)
}

// Balance returns amount - consumed for grantID.
func (l *Ledger) Balance(ctx context.Context, grantID string) (int, error) {
	grant, err := l.grants.Get(ctx, grantID)
	if err != nil {
		return 0, err
	}
	return grant.Balance(), nil
}

// Audit compares the grant counters with its ledger entries. A mismatch wraps
// domain.ErrLedgerMismatch.
func (l *Ledger) Audit(ctx context.Context, grantID string) error {
	grant, err := l.grants.Get(ctx, grantID)
	if err != nil {
		return fmt.Errorf("load grant %s: %w", grantID, err)
	}
	entries, err := l.entries.ListEntries(ctx, grantID)
	if err != nil {
		return fmt.Errorf("list entries %s: %w", grantID, err)
	}
	return domain.AuditGrant(*grant, entries)
}
