package repo

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type simpleRow struct {
	scan func(dest ...any) error
}

func (r simpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// valuesRow scans vals positionally into dest. A nil value leaves the zero value.
func valuesRow(vals ...any) simpleRow {
	return simpleRow{scan: func(dest ...any) error {
		if len(dest) != len(vals) {
			return fmt.Errorf("scan: got %d destinations, want %d", len(dest), len(vals))
		}
		for i, v := range vals {
			target := reflect.ValueOf(dest[i]).Elem()
			if v == nil {
				target.Set(reflect.Zero(target.Type()))
				continue
			}
			target.Set(reflect.ValueOf(v))
		}
		return nil
	}}
}

func errRow(err error) simpleRow {
	return simpleRow{scan: func(...any) error { return err }}
}

type testRowsBase struct{}

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

type stubRows struct {
	testRowsBase
	rows []simpleRow
	pos  int
}

func (r *stubRows) Close()     {}
func (r *stubRows) Err() error { return nil }

func (r *stubRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	return r.rows[r.pos-1].Scan(dest...)
}

type call struct {
	query string
	args  []any
}

// stubSQL answers queries from per-query queues and records every call.
type stubSQL struct {
	mu    sync.Mutex
	tags  map[string]pgconn.CommandTag
	rows  map[string][]simpleRow
	lists map[string][]simpleRow
	calls []call
}

func newStubSQL() *stubSQL {
	return &stubSQL{
		tags:  make(map[string]pgconn.CommandTag),
		rows:  make(map[string][]simpleRow),
		lists: make(map[string][]simpleRow),
	}
}

func (s *stubSQL) record(query string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{query: query, args: args})
}

func (s *stubSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.record(query, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	if tag, ok := s.tags[query]; ok {
		return tag, nil
	}
	return pgconn.NewCommandTag("UPDATE 0"), nil
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.record(query, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.rows[query]
	if len(queue) == 0 {
		return simpleRow{}
	}
	s.rows[query] = queue[1:]
	return queue[0]
}

func (s *stubSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.record(query, args)
	s.mu.Lock()
	defer s.mu.Unlock()
	return &stubRows{rows: s.lists[query]}, nil
}

func (s *stubSQL) callsFor(query string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.query == query {
			out = append(out, c)
		}
	}
	return out
}
