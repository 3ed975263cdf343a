package ctxdb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec("create table channels (id integer primary key, title text not null)")
	require.NoError(t, err)

	return db
}

func count(t *testing.T, db *sql.DB) int {
	var n int
	require.NoError(t, db.QueryRow("select count(*) from channels").Scan(&n))
	return n
}

func TestUsingTx(t *testing.T) {
	a := assert.New(t)

	db := newDB(t)
	ctx := WithDB(context.Background(), db)

	a.NoError(UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "insert into channels (title) values ('kept')")
		return err
	}))
	a.Equal(1, count(t, db))

	broken := fmt.Errorf("broken")
	err := UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "insert into channels (title) values ('dropped')"); err != nil {
			return err
		}
		return broken
	})
	a.ErrorIs(err, broken)
	a.Equal(1, count(t, db))
}

func TestUsingTxRetriesBusy(t *testing.T) {
	a := assert.New(t)

	ctx := WithDB(context.Background(), newDB(t))

	calls := 0
	a.NoError(UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	}))
	a.Equal(3, calls)

	calls = 0
	err := UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		calls++
		return fmt.Errorf("wrapped: %w", sqlite3.Error{Code: sqlite3.ErrLocked})
	})
	a.True(IsBusy(err))
	a.Equal(busyAttempts, calls)
}

func TestUsingTxWithoutDB(t *testing.T) {
	assert.ErrorIs(t, UsingTx(context.Background(), nil, func(ctx context.Context, tx *sql.Tx) error { return nil }), ErrNoDB)
}

func TestIsBusy(t *testing.T) {
	a := assert.New(t)

	a.True(IsBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	a.False(IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	a.False(IsBusy(fmt.Errorf("database is locked")))
	a.False(IsBusy(nil))
}
