package ctxdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNoDB = fmt.Errorf("ctxdb: no db found in context")
)

const (
	busyAttempts = 5
	busyBackoff  = time.Millisecond * 50
)

// context registration

var dbKey int

func WithDB(ctx context.Context, db *sql.DB) context.Context {
	return context.WithValue(ctx, &dbKey, db)
}

func GetDB(ctx context.Context) *sql.DB {
	if v := ctx.Value(&dbKey); v != nil {
		return v.(*sql.DB)
	}

	return nil
}

// IsBusy reports whether err is sqlite refusing a write because another
// connection holds the lock.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}

	return false
}

type TxFunc func(ctx context.Context, tx *sql.Tx) error

// UsingTx runs fn inside a transaction on the context's db, committing if fn
// returns nil and rolling back otherwise. A transaction that fails because
// the database is busy is rolled back and run again from the start, so fn
// must not have effects outside tx.
func UsingTx(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	db := GetDB(ctx)
	if db == nil {
		return ErrNoDB
	}

	var err error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		err = runTx(ctx, db, opts, fn)
		if err == nil || !IsBusy(err) {
			return err
		}

		t := time.NewTimer(busyBackoff*time.Duration(attempt) + time.Duration(rand.Int63n(int64(busyBackoff))))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("ctxdb.UsingTx: %w", ctx.Err())
		case <-t.C:
		}
	}

	return fmt.Errorf("ctxdb.UsingTx: still busy after %d attempts: %w", busyAttempts, err)
}

func runTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("ctxdb.UsingTx: could not begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ctxdb.UsingTx: could not commit: %w", err)
	}

	return nil
}

// middleware

func Register(db *sql.DB) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithDB(r.Context(), db)))
	}
}
