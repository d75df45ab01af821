package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// GrantRepositoryPG implements domain.GrantRepository backed by PostgreSQL.
type GrantRepositoryPG struct {
	db infra.SQLExecutor
}

// NewGrantRepository creates a new GrantRepositoryPG.
func NewGrantRepository(db infra.SQLExecutor) *GrantRepositoryPG {
	return &GrantRepositoryPG{db: db}
}

func (r *GrantRepositoryPG) Get(ctx context.Context, grantID string) (*domain.QuotaGrant, error) {
	if !validUUID(grantID) {
		return nil, domain.ErrNotFound
	}
	return scanGrant(r.db.QueryRow(ctx, sqlinline.QGrantGet, grantID))
}

// Issue inserts grant and fills in its generated columns.
func (r *GrantRepositoryPG) Issue(ctx context.Context, grant *domain.QuotaGrant) error {
	if grant == nil {
		return fmt.Errorf("grant is required")
	}
	if grant.Amount < 0 {
		return fmt.Errorf("%w: grant amount must not be negative", domain.ErrInvalidAmount)
	}
	if grant.IssuedAt.IsZero() {
		grant.IssuedAt = time.Now().UTC()
	}
	row := r.db.QueryRow(ctx, sqlinline.QGrantInsert, grant.UserID, string(grant.Type), grant.Amount, grant.IssuedAt, grant.ExpiresAt)
	if err := row.Scan(&grant.ID, &grant.Consumed, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// IssueDaily issues the daily free grant for the UTC day containing day. The
// boolean is false when the grant already existed.
func (r *GrantRepositoryPG) IssueDaily(ctx context.Context, userID string, amount int, day time.Time) (*domain.QuotaGrant, bool, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	grant, err := scanGrant(r.db.QueryRow(ctx, sqlinline.QGrantIssueDaily, userID, amount, start, end))
	if err == nil {
		return grant, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("issue daily grant: %w", err)
	}

	grant, err = scanGrant(r.db.QueryRow(ctx, sqlinline.QGrantGetDaily, userID, start))
	if err != nil {
		return nil, false, fmt.Errorf("load daily grant: %w", err)
	}
	return grant, false, nil
}

// ListActive returns grants that are not expired at now, soonest expiry first.
func (r *GrantRepositoryPG) ListActive(ctx context.Context, userID string, now time.Time) ([]domain.QuotaGrant, error) {
	rows, err := r.db.Query(ctx, sqlinline.QGrantListActive, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []domain.QuotaGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, *grant)
	}
	return grants, rows.Err()
}

// ListTouchedSince returns ids of grants with ledger activity at or after since.
func (r *GrantRepositoryPG) ListTouchedSince(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, sqlinline.QGrantListTouchedSince, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanGrant(row pgx.Row) (*domain.QuotaGrant, error) {
	var (
		grant     domain.QuotaGrant
		grantType string
	)
	if err := row.Scan(
		&grant.ID,
		&grant.UserID,
		&grantType,
		&grant.Amount,
		&grant.Consumed,
		&grant.IssuedAt,
		&grant.ExpiresAt,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	grant.Type = domain.GrantType(grantType)
	return &grant, nil
}

var _ domain.GrantRepository = (*GrantRepositoryPG)(nil)
