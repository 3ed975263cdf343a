package ctxjobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
)

var workerKey int

func WithWorker(ctx context.Context, w *jobqueue.Worker) context.Context {
	return context.WithValue(ctx, &workerKey, w)
}

func GetWorker(ctx context.Context) *jobqueue.Worker {
	if v := ctx.Value(&workerKey); v != nil {
		return v.(*jobqueue.Worker)
	}

	return nil
}

func Register(w *jobqueue.Worker) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithWorker(r.Context(), w)))
	}
}

var (
	ErrNoWorker = errors.New("no worker found in context")
)

// Add inserts job inside tx using the worker carried by ctx.
func Add(ctx context.Context, tx *sql.Tx, job *jobqueue.Job) error {
	w := GetWorker(ctx)
	if w == nil {
		return ErrNoWorker
	}

	if err := w.Add(ctx, tx, job); err != nil {
		return fmt.Errorf("ctxjobqueue.Add: %w", err)
	}

	return nil
}

// AddUnique is Add, except that it does nothing and returns false when an
// unfinished job with the same queue and payload already exists.
func AddUnique(ctx context.Context, tx *sql.Tx, job *jobqueue.Job) (bool, error) {
	pending, err := jobqueue.HasPending(ctx, tx, job.QueueName, job.Payload)
	if err != nil {
		return false, fmt.Errorf("ctxjobqueue.AddUnique: %w", err)
	}
	if pending {
		return false, nil
	}

	if err := Add(ctx, tx, job); err != nil {
		return false, fmt.Errorf("ctxjobqueue.AddUnique: %w", err)
	}

	return true, nil
}

// Enqueue adds job in a transaction of its own.
func Enqueue(ctx context.Context, job *jobqueue.Job) error {
	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		return Add(ctx, tx, job)
	}); err != nil {
		return fmt.Errorf("ctxjobqueue.Enqueue: %w", err)
	}

	return nil
}
