// Package dbtest provides fakes of db.DBTX for store unit tests.
package dbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Row implements pgx.Row with a custom scan function.
type Row struct {
	ScanFunc func(dest ...any) error
}

func (r *Row) Scan(dest ...any) error {
	if r.ScanFunc == nil {
		return pgx.ErrNoRows
	}
	return r.ScanFunc(dest...)
}

// ErrRow returns a row whose Scan fails with err.
func ErrRow(err error) *Row {
	return &Row{ScanFunc: func(...any) error { return err }}
}

// Call records one statement sent to the fake.
type Call struct {
	SQL  string
	Args []any
}

// DBTX is a programmable fake of db.DBTX. Unset funcs behave like an empty
// database: Exec succeeds, QueryRow returns pgx.ErrNoRows.
type DBTX struct {
	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row

	mu    sync.Mutex
	calls []Call
}

func (d *DBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.record(sql, args)
	if d.ExecFunc != nil {
		return d.ExecFunc(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (d *DBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.record(sql, args)
	if d.QueryFunc != nil {
		return d.QueryFunc(ctx, sql, args...)
	}
	return nil, pgx.ErrNoRows
}

func (d *DBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	d.record(sql, args)
	if d.QueryRowFunc != nil {
		return d.QueryRowFunc(ctx, sql, args...)
	}
	return ErrRow(pgx.ErrNoRows)
}

// Calls returns the recorded statements.
func (d *DBTX) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// CallsContaining returns statements whose SQL contains fragment.
func (d *DBTX) CallsContaining(fragment string) []Call {
	var out []Call
	for _, c := range d.Calls() {
		if strings.Contains(c.SQL, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func (d *DBTX) record(sql string, args []any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{SQL: sql, Args: args})
}

// Rows implements pgx.Rows over a list of scan functions, one per row.
type Rows struct {
	ScanFuncs []func(dest ...any) error
	ErrValue  error

	pos    int
	closed bool
}

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return r.ErrValue }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) Values() ([]any, error)                       { return nil, nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.ScanFuncs) {
		r.closed = true
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 || r.pos > len(r.ScanFuncs) {
		return pgx.ErrNoRows
	}
	return r.ScanFuncs[r.pos-1](dest...)
}

// Closed reports whether Close was called or the rows were drained.
func (r *Rows) Closed() bool {
	return r.closed
}
