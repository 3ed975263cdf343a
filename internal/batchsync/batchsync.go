package batchsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/catchpanic"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/ctxtimer"
	"fknsrs.biz/p/feedsync/internal/store"
)

const (
	DefaultConcurrency = 3
	MaxConcurrency     = 16
	DefaultPause       = time.Second
	MaxFailureSamples  = 5

	// HotWindow is how recent a cached upload must be for its channel to
	// count as hot.
	HotWindow = time.Hour * 24 * 7
)

type Outcome string

const (
	Succeeded = Outcome("succeeded")
	Cooldown  = Outcome("cooldown")
	Failed    = Outcome("failed")
)

type Syncer interface {
	Sync(ctx context.Context, channelID int, mode channelsync.Mode, force bool) (*channelsync.Result, error)
}

type Store interface {
	ChannelIDs(ctx context.Context, f store.ScopeFilter) ([]int, error)
	StaleChannelIDs(ctx context.Context, olderThan time.Time) ([]int, error)
	HotChannelIDs(ctx context.Context, since time.Time) ([]int, error)
}

// Request picks channels by exactly one of ChannelIDs, OlderThan, Hot, or
// All. A zero Pause uses the coordinator's default and a negative one
// disables it.
type Request struct {
	ChannelIDs  []int
	OlderThan   time.Duration
	Hot         bool
	All         bool
	Mode        channelsync.Mode
	Force       bool
	Concurrency int
	Pause       time.Duration
	Verbose     bool
}

type ChannelResult struct {
	ChannelID     int                 `json:"channelId"`
	Outcome       Outcome             `json:"outcome"`
	Error         string              `json:"error,omitempty"`
	CooldownUntil *time.Time          `json:"cooldownUntil,omitempty"`
	Stats         *channelsync.Result `json:"stats,omitempty"`
}

type Failure struct {
	ChannelID int    `json:"channelId"`
	Reason    string `json:"reason"`
}

type Result struct {
	ID        string          `json:"id"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Cooldown  int             `json:"cooldown"`
	Failed    int             `json:"failed"`
	Failures  []Failure       `json:"failures"`
	Channels  []ChannelResult `json:"channels,omitempty"`
	Duration  string          `json:"duration"`
}

type Coordinator struct {
	syncer      Syncer
	store       Store
	concurrency int
	pause       time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(c *Coordinator)

func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithPause(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pause = d
		}
	}
}

func New(syncer Syncer, st Store, options ...Option) *Coordinator {
	c := &Coordinator{
		syncer:      syncer,
		store:       st,
		concurrency: DefaultConcurrency,
		pause:       DefaultPause,
		sleep:       sleep,
	}

	for _, fn := range options {
		fn(c)
	}

	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) resolve(ctx context.Context, req Request) ([]int, error) {
	const op = "batchsync.Coordinator.resolve"

	selectors := 0
	for _, set := range []bool{len(req.ChannelIDs) > 0, req.OlderThan > 0, req.Hot, req.All} {
		if set {
			selectors++
		}
	}
	if selectors != 1 {
		return nil, apperr.Errorf(apperr.InvalidInput, op, "pick exactly one of channel ids, older than, hot, or all")
	}

	if len(req.ChannelIDs) > 0 {
		seen := make(map[int]bool)
		var ids []int
		for _, id := range req.ChannelIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		return ids, nil
	}

	if req.All {
		ids, err := c.store.ChannelIDs(ctx, store.ScopeFilter{})
		if err != nil {
			return nil, apperr.New(apperr.StorageError, op, err)
		}
		return ids, nil
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return nil, apperr.New(apperr.Unknown, op, err)
	}

	var ids []int
	if req.Hot {
		ids, err = c.store.HotChannelIDs(ctx, now.Add(-HotWindow))
	} else {
		ids, err = c.store.StaleChannelIDs(ctx, now.Add(-req.OlderThan))
	}
	if err != nil {
		return nil, apperr.New(apperr.StorageError, op, err)
	}

	return ids, nil
}

// Run syncs the selected channels in chunks of the configured concurrency,
// settling every chunk before pausing and starting the next. A failing
// channel never stops the batch.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	const op = "batchsync.Coordinator.Run"

	if req.Mode == "" {
		req.Mode = channelsync.Recent
	}
	if req.Mode != channelsync.Recent && req.Mode != channelsync.Full {
		return nil, apperr.Errorf(apperr.InvalidInput, op, "unrecognised sync mode %q", req.Mode)
	}

	concurrency := c.concurrency
	if req.Concurrency > 0 {
		concurrency = req.Concurrency
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	pause := c.pause
	switch {
	case req.Pause < 0:
		pause = 0
	case req.Pause > 0:
		pause = req.Pause
	}

	ids, err := c.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	ctx = ctxtimer.WithTimer(ctx, nil)
	if err := ctxtimer.Start(ctx, ctxtimer.BatchMark); err != nil {
		return nil, apperr.New(apperr.Unknown, op, err)
	}

	res := Result{
		ID:       uuid.NewString(),
		Total:    len(ids),
		Failures: []Failure{},
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"batch.id":          res.ID,
		"batch.mode":        string(req.Mode),
		"batch.force":       req.Force,
		"batch.channels":    len(ids),
		"batch.concurrency": concurrency,
	})
	ctx = ctxlogger.WithLogger(ctx, l)

	l.Info("starting batch sync")

	results := make([]ChannelResult, len(ids))

	for start := 0; start < len(ids); start += concurrency {
		end := start + concurrency
		if end > len(ids) {
			end = len(ids)
		}

		if start > 0 && pause > 0 {
			if err := c.sleep(ctx, pause); err != nil {
				for i := start; i < len(ids); i++ {
					results[i] = ChannelResult{ChannelID: ids[i], Outcome: Failed, Error: fmt.Sprintf("batch stopped: %s", err.Error())}
				}
				l.WithError(err).Warn("batch sync stopped early")
				break
			}
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = c.syncOne(ctx, ids[i], req)
			}(i)
		}
		wg.Wait()
	}

	for _, r := range results {
		switch r.Outcome {
		case Succeeded:
			res.Succeeded++
		case Cooldown:
			res.Cooldown++
		default:
			res.Failed++
			if len(res.Failures) < MaxFailureSamples {
				res.Failures = append(res.Failures, Failure{ChannelID: r.ChannelID, Reason: r.Error})
			}
		}
	}

	if req.Verbose {
		res.Channels = results
	}

	elapsed, err := ctxtimer.Since(ctx, ctxtimer.BatchMark)
	if err != nil {
		l.WithError(err).Warn("could not measure batch")
	} else {
		res.Duration = elapsed.String()
	}

	l.WithFields(logrus.Fields{
		"batch.succeeded": res.Succeeded,
		"batch.cooldown":  res.Cooldown,
		"batch.failed":    res.Failed,
	}).Info("finished batch sync")

	return &res, nil
}

func (c *Coordinator) syncOne(ctx context.Context, channelID int, req Request) ChannelResult {
	out := ChannelResult{ChannelID: channelID}

	stats, err := catchpanic.CatchErr1(func() (*channelsync.Result, error) {
		return c.syncer.Sync(ctx, channelID, req.Mode, req.Force)
	})

	switch {
	case err == nil:
		out.Outcome = Succeeded
		out.Stats = stats
		if stats != nil {
			out.CooldownUntil = stats.CooldownUntil
		}
	case apperr.Is(err, apperr.Cooldown):
		out.Outcome = Cooldown
		out.CooldownUntil = apperr.RetryAfter(err)
	default:
		out.Outcome = Failed
		out.Error = err.Error()
		l := ctxlogger.GetLogger(ctx).WithError(err).WithField("batch.channel_id", channelID)
		if origin := catchpanic.Origin(err); origin != "" {
			l = l.WithField("batch.panic_origin", origin)
		}
		l.Warn("channel sync failed")
	}

	return out
}
