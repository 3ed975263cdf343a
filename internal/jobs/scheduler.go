package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/ctxjobqueue"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
	"fknsrs.biz/p/feedsync/internal/queuenames"
)

const (
	DefaultRefreshOlderThan = time.Minute * 30
	PurgeEvery              = time.Hour * 24
)

// Scheduler enqueues the periodic refresh and purge jobs. It relies on the
// db, clock, and job queue worker found in the context.
type Scheduler struct {
	interval  time.Duration
	olderThan time.Duration
	lastPurge time.Time
}

func NewScheduler(interval, olderThan time.Duration) *Scheduler {
	if olderThan <= 0 {
		olderThan = DefaultRefreshOlderThan
	}

	return &Scheduler{interval: interval, olderThan: olderThan}
}

func (s *Scheduler) due(now time.Time) []*jobqueue.Job {
	jobs := []*jobqueue.Job{
		{QueueName: queuenames.BatchSync, Payload: BatchSyncPayload(batchsync.Request{Hot: true, Mode: channelsync.Recent})},
		{QueueName: queuenames.BatchSync, Payload: BatchSyncPayload(batchsync.Request{OlderThan: s.olderThan, Mode: channelsync.Recent})},
	}

	if s.lastPurge.IsZero() || now.Sub(s.lastPurge) >= PurgeEvery {
		jobs = append(jobs, &jobqueue.Job{QueueName: queuenames.RetentionPurge, AttemptsRemaining: 1})
	}

	return jobs
}

// Tick enqueues every job that is due and not already pending, returning
// how many were added.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now, err := ctxclock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobs.Scheduler.Tick: %w", err)
	}

	added := 0
	purged := false

	if err := ctxdb.UsingTx(ctx, nil, func(ctx context.Context, tx *sql.Tx) error {
		for _, job := range s.due(now) {
			if job.QueueName == queuenames.RetentionPurge {
				purged = true
			}

			ok, err := ctxjobqueue.AddUnique(ctx, tx, job)
			if err != nil {
				return err
			}
			if ok {
				added++
			}
		}

		return nil
	}); err != nil {
		return 0, fmt.Errorf("jobs.Scheduler.Tick: %w", err)
	}

	if purged {
		s.lastPurge = now
	}

	return added, nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		ctxlogger.GetLogger(ctx).Info("scheduler disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"scheduler.interval":   s.interval.String(),
		"scheduler.older_than": s.olderThan.String(),
	})

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		if n, err := s.Tick(ctx); err != nil {
			l.WithError(err).Error("could not enqueue scheduled jobs")
		} else {
			l.WithField("scheduler.added", n).Debug("enqueued scheduled jobs")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
