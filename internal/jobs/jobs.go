package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
	"fknsrs.biz/p/feedsync/internal/queuenames"
	"fknsrs.biz/p/feedsync/internal/store"
)

type ChannelSyncer interface {
	Sync(ctx context.Context, channelID int, mode channelsync.Mode, force bool) (*channelsync.Result, error)
}

type BatchRunner interface {
	Run(ctx context.Context, req batchsync.Request) (*batchsync.Result, error)
}

type Purger interface {
	Purge(ctx context.Context, now time.Time, windowDays, graceDays int) (*store.PurgeResult, error)
}

type Functions struct {
	Syncer        ChannelSyncer
	Batch         BatchRunner
	Purger        Purger
	RetentionDays int
	VODGraceDays  int
}

// Map returns the worker function for every queue in queuenames.
func (f *Functions) Map() map[string]jobqueue.WorkerFunction {
	return map[string]jobqueue.WorkerFunction{
		queuenames.ChannelSync:    f.channelSync,
		queuenames.BatchSync:      f.batchSync,
		queuenames.RetentionPurge: f.retentionPurge,
	}
}

func ChannelSyncPayload(channelID int, mode channelsync.Mode, force bool) string {
	vs := url.Values{}
	if mode != "" && mode != channelsync.Recent {
		vs.Set("mode", string(mode))
	}
	if force {
		vs.Set("force", "1")
	}

	return jobqueue.FormatPayload(strconv.Itoa(channelID), vs)
}

func BatchSyncPayload(req batchsync.Request) string {
	return jobqueue.FormatPayload("", req.Values())
}

func output(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}

	return string(b)
}

func (f *Functions) channelSync(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	subject, vs, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", fmt.Errorf("jobs.channelSync: could not parse payload: %w", err)
	}

	channelID, err := strconv.Atoi(subject)
	if err != nil {
		return "", fmt.Errorf("jobs.channelSync: could not parse channel id %q: %w", subject, err)
	}

	mode, err := channelsync.ParseMode(vs.Get("mode"))
	if err != nil {
		return "", fmt.Errorf("jobs.channelSync: %w", err)
	}

	force, _ := strconv.ParseBool(vs.Get("force"))

	res, err := f.Syncer.Sync(ctx, channelID, mode, force)
	if err != nil {
		if apperr.Is(err, apperr.Cooldown) {
			ctxlogger.GetLogger(ctx).WithField("sync.channel_id", channelID).Debug("channel sync job skipped during cooldown")
			return output(map[string]interface{}{"cooldownUntil": apperr.RetryAfter(err)}), nil
		}

		return "", fmt.Errorf("jobs.channelSync: %w", err)
	}

	return output(res), nil
}

func (f *Functions) batchSync(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	_, vs, err := jobqueue.ParsePayload(j.Payload)
	if err != nil {
		return "", fmt.Errorf("jobs.batchSync: could not parse payload: %w", err)
	}

	p, err := batchsync.DecodeParams(vs)
	if err != nil {
		return "", fmt.Errorf("jobs.batchSync: %w", err)
	}

	req, err := p.Request()
	if err != nil {
		return "", fmt.Errorf("jobs.batchSync: %w", err)
	}

	res, err := f.Batch.Run(ctx, *req)
	if err != nil {
		return "", fmt.Errorf("jobs.batchSync: %w", err)
	}

	return output(res), nil
}

func (f *Functions) retentionPurge(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) {
	now, err := ctxclock.Now(ctx)
	if err != nil {
		return "", fmt.Errorf("jobs.retentionPurge: %w", err)
	}

	res, err := f.Purger.Purge(ctx, now, f.RetentionDays, f.VODGraceDays)
	if err != nil {
		return "", fmt.Errorf("jobs.retentionPurge: %w", err)
	}

	return output(res), nil
}
