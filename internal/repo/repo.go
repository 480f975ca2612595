// Package repo is the SQLite implementation of the store contracts.
package repo

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"modernc.org/sqlite"

	"issueflow/internal/events"
	"issueflow/internal/store"
)

// foldFunc is the SQL name of a Unicode-aware LOWER. SQLite's built-in
// LOWER only folds ASCII.
const foldFunc = "issueflow_fold"

func init() {
	if err := sqlite.RegisterDeterministicScalarFunction(foldFunc, 1, fold); err != nil {
		panic(fmt.Sprintf("register %s: %v", foldFunc, err))
	}
}

func fold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx so that the same Repo
// methods serve reads on the pool and writes inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repo struct {
	DB *sql.DB
	// BusyBackoff builds the policy used to retry transactions that hit
	// SQLITE_BUSY. Nil uses newBusyBackoff.
	BusyBackoff func() backoff.BackOff

	q querier
}

var _ store.Store = (*Repo)(nil)

func New(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const busyMaxElapsed = 5 * time.Second

func newBusyBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = busyMaxElapsed
	return bo
}

func (r *Repo) conn() querier {
	if r.q != nil {
		return r.q
	}
	return r.DB
}

// RunInTx runs fn inside one SQLite transaction. Lock contention is retried
// with exponential backoff; every other error, store.ErrConflict included,
// rolls back and is returned as is.
func (r *Repo) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if r.q != nil {
		return fn(ctx, r)
	}
	bo := newBusyBackoff
	if r.BusyBackoff != nil {
		bo = r.BusyBackoff
	}
	attempt := func() error {
		err := r.runOnce(ctx, fn)
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(attempt, backoff.WithContext(bo(), ctx))
}

func (r *Repo) runOnce(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(ctx, &Repo{DB: r.DB, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Repo) Close() error {
	return r.DB.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKey reports a reference to a row that does not exist.
func isForeignKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func formatTS(t time.Time) string {
	return t.UTC().Format(events.TSLayout)
}

func parseTS(v string) (time.Time, error) {
	t, err := time.Parse(events.TSLayout, v)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, v)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return nullable(*v)
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return formatTS(*v)
}
