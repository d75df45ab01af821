package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagen/internal/domain"
	"mediagen/internal/sqlinline"
)

const (
	testGrantID   = "9b2e4c1a-1111-4a2b-8c3d-000000000001"
	testConsumeID = "9b2e4c1a-2222-4a2b-8c3d-000000000002"
)

func entryRow(id, entryType string, amount, before, after int, related *string) simpleRow {
	return valuesRow(id, "user-1", testGrantID, entryType, amount, before, after, related, "", time.Now())
}

func TestLedgerRepositoryConsume(t *testing.T) {
	db := newStubSQL()
	db.rows[sqlinline.QLedgerConsume] = []simpleRow{entryRow(testConsumeID, "consume", -10, 100, 90, nil)}
	r := NewLedgerRepository(db)

	entry, err := r.Consume(context.Background(), testGrantID, 10, "task")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryTypeConsume, entry.Type)
	assert.Equal(t, -10, entry.Amount)
	assert.Equal(t, 90, entry.BalanceAfter)
}

func TestLedgerRepositoryConsumeDistinguishesShortFromMissing(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{name: "short balance", exists: true, want: domain.ErrInsufficientBalance},
		{name: "missing grant", exists: false, want: domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := newStubSQL()
			db.rows[sqlinline.QGrantExists] = []simpleRow{valuesRow(tc.exists)}
			r := NewLedgerRepository(db)

			_, err := r.Consume(context.Background(), testGrantID, 500, "")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLedgerRepositoryConsumeRejectsNonPositive(t *testing.T) {
	r := NewLedgerRepository(newStubSQL())
	_, err := r.Consume(context.Background(), testGrantID, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestLedgerRepositoryRefund(t *testing.T) {
	related := testConsumeID
	db := newStubSQL()
	db.rows[sqlinline.QLedgerRefund] = []simpleRow{entryRow("9b2e4c1a-3333-4a2b-8c3d-000000000003", "refund", 10, 90, 100, &related)}
	r := NewLedgerRepository(db)

	entry, err := r.Refund(context.Background(), testConsumeID, "timeout")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryTypeRefund, entry.Type)
	assert.Equal(t, 10, entry.Amount)
	require.NotNil(t, entry.RelatedEntryID)
	assert.Equal(t, testConsumeID, *entry.RelatedEntryID)
}

func TestLedgerRepositoryRefundMapsUniqueViolation(t *testing.T) {
	db := newStubSQL()
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: refundOnceConstraint}
	db.rows[sqlinline.QLedgerRefund] = []simpleRow{errRow(fmt.Errorf("scan: %w", pgErr))}
	r := NewLedgerRepository(db)

	_, err := r.Refund(context.Background(), testConsumeID, "timeout")
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)
}

func TestLedgerRepositoryRefundNoRow(t *testing.T) {
	tests := []struct {
		name     string
		exists   bool
		refunded bool
		want     error
	}{
		{name: "already refunded", exists: true, refunded: true, want: domain.ErrAlreadyRefunded},
		{name: "unknown consume entry", exists: false, refunded: false, want: domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db := newStubSQL()
			db.rows[sqlinline.QLedgerRefundState] = []simpleRow{valuesRow(tc.exists, tc.refunded)}
			r := NewLedgerRepository(db)

			_, err := r.Refund(context.Background(), testConsumeID, "")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestLedgerRepositoryRefundPropagatesOtherErrors(t *testing.T) {
	db := newStubSQL()
	boom := errors.New("connection reset")
	db.rows[sqlinline.QLedgerRefund] = []simpleRow{errRow(boom)}
	r := NewLedgerRepository(db)

	_, err := r.Refund(context.Background(), testConsumeID, "")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrAlreadyRefunded)
}

func TestLedgerRepositoryListEntries(t *testing.T) {
	related := testConsumeID
	db := newStubSQL()
	db.lists[sqlinline.QLedgerListEntries] = []simpleRow{
		entryRow(testConsumeID, "consume", -10, 100, 90, nil),
		entryRow("9b2e4c1a-3333-4a2b-8c3d-000000000003", "refund", 10, 90, 100, &related),
	}
	r := NewLedgerRepository(db)

	entries, err := r.ListEntries(context.Background(), testGrantID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NoError(t, domain.AuditGrant(domain.QuotaGrant{ID: testGrantID, Amount: 100}, entries))
}
