package batchsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/store"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	m        sync.Mutex
	inFlight int
	maxSeen  int
	calls    []int
	modes    []channelsync.Mode
	delay    time.Duration
}

func (s *fakeSyncer) Sync(ctx context.Context, channelID int, mode channelsync.Mode, force bool) (*channelsync.Result, error) {
	s.m.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.calls = append(s.calls, channelID)
	s.modes = append(s.modes, mode)
	s.m.Unlock()

	defer func() {
		s.m.Lock()
		s.inFlight--
		s.m.Unlock()
	}()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	switch {
	case channelID%10 == 1:
		return nil, apperr.NewCooldown("fake", now.Add(time.Minute))
	case channelID%10 == 2:
		return nil, apperr.Errorf(apperr.SyncFailed, "fake", "channel %d broke", channelID)
	case channelID%10 == 3:
		panic(fmt.Sprintf("channel %d exploded", channelID))
	}

	until := now.Add(time.Minute * 5)
	return &channelsync.Result{ChannelID: channelID, Mode: mode, CooldownUntil: &until}, nil
}

type fakeStore struct {
	all   []int
	stale []int
	hot   []int

	staleSince time.Time
	hotSince   time.Time
}

func (s *fakeStore) ChannelIDs(ctx context.Context, f store.ScopeFilter) ([]int, error) {
	return s.all, nil
}

func (s *fakeStore) StaleChannelIDs(ctx context.Context, olderThan time.Time) ([]int, error) {
	s.staleSince = olderThan
	return s.stale, nil
}

func (s *fakeStore) HotChannelIDs(ctx context.Context, since time.Time) ([]int, error) {
	s.hotSince = since
	return s.hot, nil
}

func newCoordinator(s Syncer, st Store, options ...Option) (*Coordinator, *[]time.Duration) {
	var pauses []time.Duration

	c := New(s, st, options...)
	c.sleep = func(ctx context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return ctx.Err()
	}

	return c, &pauses
}

func ctxAt(t time.Time) context.Context {
	return ctxclock.WithClock(context.Background(), ctxclock.NewStaticClock(t))
}

func TestRunOutcomes(t *testing.T) {
	a := assert.New(t)

	s := &fakeSyncer{}
	c, pauses := newCoordinator(s, &fakeStore{})

	res, err := c.Run(ctxAt(now), Request{ChannelIDs: []int{10, 11, 12, 13, 20, 21, 22}})
	require.NoError(t, err)

	a.Equal(7, res.Total)
	a.Equal(2, res.Succeeded)
	a.Equal(2, res.Cooldown)
	a.Equal(3, res.Failed)
	a.Len(res.Failures, 3)
	a.Nil(res.Channels)
	a.NotEmpty(res.ID)

	a.ElementsMatch([]int{10, 11, 12, 13, 20, 21, 22}, s.calls)
	a.Equal([]time.Duration{DefaultPause, DefaultPause}, *pauses)

	var reasons []string
	for _, f := range res.Failures {
		reasons = append(reasons, f.Reason)
	}
	a.Contains(reasons[1], "exploded")
}

func TestRunVerbose(t *testing.T) {
	a := assert.New(t)

	c, _ := newCoordinator(&fakeSyncer{}, &fakeStore{})

	res, err := c.Run(ctxAt(now), Request{ChannelIDs: []int{10, 11, 12}, Verbose: true})
	require.NoError(t, err)

	require.Len(t, res.Channels, 3)
	a.Equal(ChannelResult{
		ChannelID:     10,
		Outcome:       Succeeded,
		CooldownUntil: res.Channels[0].Stats.CooldownUntil,
		Stats:         res.Channels[0].Stats,
	}, res.Channels[0])
	a.Equal(Cooldown, res.Channels[1].Outcome)
	if a.NotNil(res.Channels[1].CooldownUntil) {
		a.True(res.Channels[1].CooldownUntil.Equal(now.Add(time.Minute)))
	}
	a.Equal(Failed, res.Channels[2].Outcome)
	a.Contains(res.Channels[2].Error, "channel 12 broke")
}

func TestRunFailureSampleIsBounded(t *testing.T) {
	a := assert.New(t)

	var ids []int
	for i := 0; i < 9; i++ {
		ids = append(ids, i*10+2)
	}

	c, _ := newCoordinator(&fakeSyncer{}, &fakeStore{})

	res, err := c.Run(ctxAt(now), Request{ChannelIDs: ids, Pause: -1})
	require.NoError(t, err)

	a.Equal(9, res.Failed)
	a.Len(res.Failures, MaxFailureSamples)
	a.Equal(2, res.Failures[0].ChannelID)
}

func TestRunBoundedConcurrency(t *testing.T) {
	a := assert.New(t)

	s := &fakeSyncer{delay: time.Millisecond * 20}
	c, pauses := newCoordinator(s, &fakeStore{}, WithConcurrency(2), WithPause(time.Second*3))

	res, err := c.Run(ctxAt(now), Request{ChannelIDs: []int{10, 20, 30, 40, 50}})
	require.NoError(t, err)

	a.Equal(5, res.Succeeded)
	a.LessOrEqual(s.maxSeen, 2)
	a.Equal([]time.Duration{time.Second * 3, time.Second * 3}, *pauses)

	res, err = c.Run(ctxAt(now), Request{ChannelIDs: []int{10, 20, 30, 40, 50}, Concurrency: 5})
	require.NoError(t, err)
	a.Equal(5, res.Succeeded)
	a.LessOrEqual(s.maxSeen, 5)
}

func TestRunDedupesChannelIDs(t *testing.T) {
	a := assert.New(t)

	s := &fakeSyncer{}
	c, _ := newCoordinator(s, &fakeStore{})

	res, err := c.Run(ctxAt(now), Request{ChannelIDs: []int{10, 10, 20, 10}})
	require.NoError(t, err)

	a.Equal(2, res.Total)
	a.ElementsMatch([]int{10, 20}, s.calls)
}

func TestRunSelectors(t *testing.T) {
	a := assert.New(t)

	st := &fakeStore{all: []int{10, 20, 30}, stale: []int{20}, hot: []int{30, 40}}
	s := &fakeSyncer{}
	c, _ := newCoordinator(s, st)

	res, err := c.Run(ctxAt(now), Request{All: true, Mode: channelsync.Full})
	require.NoError(t, err)
	a.Equal(3, res.Total)
	for _, m := range s.modes {
		a.Equal(channelsync.Full, m)
	}

	res, err = c.Run(ctxAt(now), Request{OlderThan: time.Minute * 30})
	require.NoError(t, err)
	a.Equal(1, res.Total)
	a.True(st.staleSince.Equal(now.Add(-time.Minute * 30)))

	res, err = c.Run(ctxAt(now), Request{Hot: true})
	require.NoError(t, err)
	a.Equal(2, res.Total)
	a.True(st.hotSince.Equal(now.Add(-HotWindow)))

	for _, req := range []Request{
		{},
		{All: true, Hot: true},
		{ChannelIDs: []int{1}, OlderThan: time.Minute},
		{All: true, Mode: "deep"},
	} {
		_, err := c.Run(ctxAt(now), req)
		a.True(apperr.Is(err, apperr.InvalidInput), "%+v", req)
	}
}

func TestRunCancelledDuringPause(t *testing.T) {
	a := assert.New(t)

	s := &fakeSyncer{}
	c := New(s, &fakeStore{}, WithConcurrency(1))

	ctx, cancel := context.WithCancel(ctxAt(now))
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	res, err := c.Run(ctx, Request{ChannelIDs: []int{10, 20, 30}})
	require.NoError(t, err)

	a.Equal([]int{10}, s.calls)
	a.Equal(1, res.Succeeded)
	a.Equal(2, res.Failed)
	a.Contains(res.Failures[0].Reason, "batch stopped")
}

func TestRunDurationUsesContextClock(t *testing.T) {
	a := assert.New(t)

	c, _ := newCoordinator(&fakeSyncer{}, &fakeStore{})

	ctx := ctxclock.WithClock(context.Background(), ctxclock.NewManualClock(now, time.Second*2))

	res, err := c.Run(ctx, Request{ChannelIDs: []int{10, 20, 30}})
	require.NoError(t, err)
	a.Equal("2s", res.Duration)

	_, err = c.Run(context.Background(), Request{ChannelIDs: []int{10}})
	a.True(apperr.Is(err, apperr.Unknown))
}
