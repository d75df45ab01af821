package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

type stubExecutor struct {
	secret  string
	err     error
	pairs   [][2]string
	queries []string
	args    []any
}

func (s *stubExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	s.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), s.err
}

func (s *stubExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	s.args = args
	return stubRow{values: []string{s.secret}, err: s.err}
}

func (s *stubExecutor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queries = append(s.queries, query)
	s.args = args
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{pairs: s.pairs}, nil
}

type stubRow struct {
	values []string
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("scan: destination count mismatch")
	}
	for i, d := range dest {
		ptr, ok := d.(*string)
		if !ok {
			return errors.New("scan: invalid destination")
		}
		*ptr = r.values[i]
	}
	return nil
}

type stubRows struct {
	pairs [][2]string
	pos   int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return nil, errors.New("not implemented") }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.pairs) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	p := r.pairs[r.pos-1]
	return stubRow{values: []string{p[0], p[1]}}.Scan(dest...)
}

func TestWavespeedAPIKey(t *testing.T) {
	exec := &stubExecutor{secret: " ws-key "}
	key, err := NewStore(exec).WavespeedAPIKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ws-key", key)
	assert.Equal(t, []any{"wavespeed", "api_key"}, exec.args)
}

func TestGetNoRows(t *testing.T) {
	key, err := NewStore(&stubExecutor{err: pgx.ErrNoRows}).Get(context.Background(), "fal", KindWebhookSecret)
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestSet(t *testing.T) {
	exec := &stubExecutor{}
	require.NoError(t, NewStore(exec).Set(context.Background(), " Fal ", KindWebhookSecret, " s3cret "))
	assert.Equal(t, []string{sqlinline.QCredentialUpsert}, exec.queries)
	assert.Equal(t, []any{"fal", "webhook_secret", "s3cret"}, exec.args)
}

func TestSetRejectsInvalid(t *testing.T) {
	store := NewStore(&stubExecutor{})
	ctx := context.Background()
	assert.Error(t, store.Set(ctx, "fal", KindWebhookSecret, "  "))
	assert.Error(t, store.Set(ctx, "", KindAPIKey, "x"))
	assert.Error(t, store.Set(ctx, "fal", Kind("password"), "x"))
}

func TestResolvePrefersEnvironment(t *testing.T) {
	exec := &stubExecutor{
		secret: "db-key",
		pairs:  [][2]string{{"fal", "db-fal"}, {"wavespeed", "db-ws"}},
	}
	cfg := &infra.Config{
		WavespeedAPIKey: "",
		WebhookSecrets:  map[string]string{"wavespeed": "env-ws"},
	}
	require.NoError(t, NewStore(exec).Resolve(context.Background(), cfg))
	assert.Equal(t, "db-key", cfg.WavespeedAPIKey)
	assert.Equal(t, map[string]string{"wavespeed": "env-ws", "fal": "db-fal"}, cfg.WebhookSecrets)

	cfg = &infra.Config{WavespeedAPIKey: "env-key"}
	require.NoError(t, NewStore(exec).Resolve(context.Background(), cfg))
	assert.Equal(t, "env-key", cfg.WavespeedAPIKey)
	assert.Equal(t, "db-ws", cfg.WebhookSecrets["wavespeed"])
}
