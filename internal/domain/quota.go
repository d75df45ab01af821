package domain

import (
	"fmt"
	"time"
)

// GrantType enumerates quota grant origins.
type GrantType string

const (
	GrantTypeDailyFree GrantType = "daily_free"
	GrantTypeQuotaPack GrantType = "quota_pack"
	GrantTypeMonthly   GrantType = "monthly"
	GrantTypeYearly    GrantType = "yearly"
)

// QuotaGrant is a bucket of prepaid allowance.
type QuotaGrant struct {
	ID        string
	UserID    string
	Type      GrantType
	Amount    int
	Consumed  int
	IssuedAt  time.Time
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance returns the unconsumed allowance.
func (g QuotaGrant) Balance() int {
	return g.Amount - g.Consumed
}

// Expired reports whether the grant can no longer be consumed at now.
func (g QuotaGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Consume debits amount from the grant and returns the balance snapshot.
func (g *QuotaGrant) Consume(amount int, now time.Time) (before, after int, err error) {
	if amount <= 0 {
		return 0, 0, fmt.Errorf("%w: consume amount must be positive", ErrInvalidAmount)
	}
	before = g.Balance()
	if g.Expired(now) || amount > before {
		return before, before, ErrInsufficientBalance
	}
	g.Consumed += amount
	return before, g.Balance(), nil
}

// Credit returns amount to the grant, flooring consumed at zero.
func (g *QuotaGrant) Credit(amount int) (before, after int) {
	before = g.Balance()
	g.Consumed -= amount
	if g.Consumed < 0 {
		g.Consumed = 0
	}
	return before, g.Balance()
}

// EntryType enumerates ledger entry kinds.
type EntryType string

const (
	EntryTypeConsume EntryType = "consume"
	EntryTypeRefund  EntryType = "refund"
)

// LedgerEntry is an immutable consume or refund record against a grant.
// Amount is signed: negative for consume, positive for refund.
type LedgerEntry struct {
	ID             string
	UserID         string
	GrantID        string
	Type           EntryType
	Amount         int
	BalanceBefore  int
	BalanceAfter   int
	RelatedEntryID *string
	Note           string
	CreatedAt      time.Time
}

// AuditGrant checks that the grant counters agree with its ledger entries:
// consumed must equal the negated signed sum of all entries.
func AuditGrant(g QuotaGrant, entries []LedgerEntry) error {
	if g.Consumed < 0 || g.Consumed > g.Amount {
		return fmt.Errorf("%w: grant %s consumed %d outside [0,%d]", ErrLedgerMismatch, g.ID, g.Consumed, g.Amount)
	}
	sum := 0
	refunded := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.GrantID != g.ID {
			continue
		}
		sum += e.Amount
		if e.Type == EntryTypeRefund {
			if e.RelatedEntryID == nil {
				return fmt.Errorf("%w: refund %s has no related entry", ErrLedgerMismatch, e.ID)
			}
			if _, dup := refunded[*e.RelatedEntryID]; dup {
				return fmt.Errorf("%w: consume %s refunded twice", ErrLedgerMismatch, *e.RelatedEntryID)
			}
			refunded[*e.RelatedEntryID] = struct{}{}
		}
	}
	if g.Amount-g.Consumed != g.Amount+sum {
		return fmt.Errorf("%w: grant %s balance %d, ledger implies %d", ErrLedgerMismatch, g.ID, g.Balance(), g.Amount+sum)
	}
	return nil
}
