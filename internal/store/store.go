package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"
	"github.com/mattn/go-sqlite3"

	"fknsrs.biz/p/feedsync/internal/ctxdb"
)

func init() {
	sorm.SetParameterPrefix("?")
}

const (
	DefaultUpsertChunk      = 500
	DefaultSnapshotInterval = time.Hour
)

var (
	ErrNotFound = fmt.Errorf("store: record not found")
	ErrExists   = fmt.Errorf("store: record already exists")

	ErrInvalidQuery = fmt.Errorf("store: invalid query")
)

// Store is the SQLite-backed channel and video cache.
type Store struct {
	db               *sql.DB
	upsertChunk      int
	snapshotInterval time.Duration
}

type Option func(s *Store)

// WithUpsertChunk sets how many video rows go into one upsert statement.
func WithUpsertChunk(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.upsertChunk = n
		}
	}
}

// WithSnapshotInterval sets the minimum spacing between stored view count
// snapshots of one video.
func WithSnapshotInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.snapshotInterval = d
		}
	}
}

func New(db *sql.DB, options ...Option) *Store {
	s := &Store{
		db:               db,
		upsertChunk:      DefaultUpsertChunk,
		snapshotInterval: DefaultSnapshotInterval,
	}

	for _, fn := range options {
		fn(s)
	}

	return s
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) usingTx(ctx context.Context, fn ctxdb.TxFunc) error {
	return ctxdb.UsingTx(ctxdb.WithDB(ctx, s.db), nil, fn)
}

func isUniqueViolation(err error) bool {
	var e sqlite3.Error
	if errors.As(err, &e) {
		return e.ExtendedCode == sqlite3.ErrConstraintUnique
	}

	return false
}

// intList renders ids as a parenthesised literal list. ids are integers, so
// they are safe to inline.
func intList(ids []int) string {
	a := make([]string, len(ids))
	for i, id := range ids {
		a[i] = strconv.Itoa(id)
	}

	return "(" + strings.Join(a, ",") + ")"
}

func placeholders(n int) string {
	if n == 0 {
		return "()"
	}

	return "(" + strings.Repeat("?,", n-1) + "?)"
}
