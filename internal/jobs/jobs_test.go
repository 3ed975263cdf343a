package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/ctxjobqueue"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
	"fknsrs.biz/p/feedsync/internal/queuenames"
	"fknsrs.biz/p/feedsync/internal/schema"
	"fknsrs.biz/p/feedsync/internal/store"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type syncCall struct {
	channelID int
	mode      channelsync.Mode
	force     bool
}

type fakeSyncer struct {
	calls []syncCall
	err   error
}

func (s *fakeSyncer) Sync(ctx context.Context, channelID int, mode channelsync.Mode, force bool) (*channelsync.Result, error) {
	s.calls = append(s.calls, syncCall{channelID, mode, force})
	if s.err != nil {
		return nil, s.err
	}
	return &channelsync.Result{ChannelID: channelID, Mode: mode, Fetched: 3}, nil
}

type fakeBatch struct {
	reqs []batchsync.Request
}

func (b *fakeBatch) Run(ctx context.Context, req batchsync.Request) (*batchsync.Result, error) {
	b.reqs = append(b.reqs, req)
	return &batchsync.Result{ID: "b", Total: len(req.ChannelIDs)}, nil
}

type fakePurger struct {
	now        time.Time
	days, vods int
}

func (p *fakePurger) Purge(ctx context.Context, now time.Time, windowDays, graceDays int) (*store.PurgeResult, error) {
	p.now, p.days, p.vods = now, windowDays, graceDays
	return &store.PurgeResult{Deleted: 4}, nil
}

func newContext(t *testing.T, w *jobqueue.Worker) (context.Context, *sql.DB) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, schema.Migrate(context.Background(), db))

	ctx := ctxdb.WithDB(context.Background(), db)
	ctx = ctxclock.WithClock(ctx, ctxclock.NewStaticClock(t0))
	ctx = ctxjobqueue.WithWorker(ctx, w)

	return ctx, db
}

func TestChannelSyncJob(t *testing.T) {
	for _, tc := range []struct {
		name    string
		payload string
		err     error
		call    *syncCall
		output  string
		failure bool
	}{
		{"recent", ChannelSyncPayload(7, channelsync.Recent, false), nil, &syncCall{7, channelsync.Recent, false}, `"fetched":3`, false},
		{"full forced", ChannelSyncPayload(8, channelsync.Full, true), nil, &syncCall{8, channelsync.Full, true}, `"mode":"full"`, false},
		{"cooldown completes", "9", apperr.NewCooldown("x", t0.Add(time.Minute)), &syncCall{9, channelsync.Recent, false}, "cooldownUntil", false},
		{"sync failure", "9", apperr.Errorf(apperr.SyncFailed, "x", "upstream broke"), &syncCall{9, channelsync.Recent, false}, "", true},
		{"bad id", "abc", nil, nil, "", true},
		{"bad mode", "9?mode=deep", nil, nil, "", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			s := &fakeSyncer{err: tc.err}
			f := &Functions{Syncer: s}

			out, err := f.Map()[queuenames.ChannelSync](context.Background(), nil, &jobqueue.Job{Payload: tc.payload})
			if tc.failure {
				a.Error(err)
			} else {
				a.NoError(err)
				a.Contains(out, tc.output)
			}

			if tc.call != nil {
				a.Equal([]syncCall{*tc.call}, s.calls)
			} else {
				a.Empty(s.calls)
			}
		})
	}
}

func TestChannelSyncPayload(t *testing.T) {
	a := assert.New(t)

	a.Equal("12", ChannelSyncPayload(12, channelsync.Recent, false))
	a.Equal("12?force=1&mode=full", ChannelSyncPayload(12, channelsync.Full, true))
}

func TestBatchSyncJob(t *testing.T) {
	a := assert.New(t)

	b := &fakeBatch{}
	f := &Functions{Batch: b}

	_, err := f.Map()[queuenames.BatchSync](context.Background(), nil, &jobqueue.Job{Payload: "?mode=recent&older_than=30m"})
	require.NoError(t, err)

	_, err = f.Map()[queuenames.BatchSync](context.Background(), nil, &jobqueue.Job{Payload: "?hot=1"})
	require.NoError(t, err)

	_, err = f.Map()[queuenames.BatchSync](context.Background(), nil, &jobqueue.Job{Payload: "?hot=1&all=1"})
	require.NoError(t, err, "selector validation belongs to the coordinator")

	_, err = f.Map()[queuenames.BatchSync](context.Background(), nil, &jobqueue.Job{Payload: "?older_than=later"})
	a.Error(err)

	require.Len(t, b.reqs, 3)
	a.Equal(batchsync.Request{OlderThan: time.Minute * 30, Mode: channelsync.Recent}, b.reqs[0])
	a.Equal(batchsync.Request{Hot: true, Mode: channelsync.Recent}, b.reqs[1])
}

func TestRetentionPurgeJob(t *testing.T) {
	a := assert.New(t)

	p := &fakePurger{}
	f := &Functions{Purger: p, RetentionDays: 3, VODGraceDays: 4}

	ctx := ctxclock.WithClock(context.Background(), ctxclock.NewStaticClock(t0))

	out, err := f.Map()[queuenames.RetentionPurge](ctx, nil, &jobqueue.Job{})
	require.NoError(t, err)
	a.Contains(out, `"deleted":4`)
	a.True(p.now.Equal(t0))
	a.Equal(3, p.days)
	a.Equal(4, p.vods)

	_, err = f.Map()[queuenames.RetentionPurge](context.Background(), nil, &jobqueue.Job{})
	a.Error(err)
}

func TestSchedulerTick(t *testing.T) {
	a := assert.New(t)

	f := &Functions{Syncer: &fakeSyncer{}, Batch: &fakeBatch{}, Purger: &fakePurger{}}
	w := jobqueue.NewWorker(f.Map())
	ctx, db := newContext(t, w)

	s := NewScheduler(time.Minute, time.Minute*30)

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	a.Equal(3, n)

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	a.Equal(0, n, "pending jobs are not enqueued twice")

	pending, err := jobqueue.Pending(ctx, db, 0)
	require.NoError(t, err)

	var payloads []string
	for _, j := range pending {
		payloads = append(payloads, fmt.Sprintf("%s %s", j.QueueName, j.Payload))
	}
	a.ElementsMatch([]string{
		"batch_sync ?hot=true&mode=recent",
		"batch_sync ?mode=recent&older_than=30m0s",
		"retention_purge ",
	}, payloads)
}

func TestSchedulerPurgesDaily(t *testing.T) {
	a := assert.New(t)

	s := NewScheduler(time.Minute, 0)

	a.Len(s.due(t0), 3)

	s.lastPurge = t0
	a.Len(s.due(t0.Add(time.Hour)), 2)
	a.Len(s.due(t0.Add(PurgeEvery)), 3)
}
