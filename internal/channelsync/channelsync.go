package channelsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/retention"
	"fknsrs.biz/p/feedsync/internal/sqltypes"
	"fknsrs.biz/p/feedsync/internal/store"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/models"
)

type Mode string

const (
	Recent = Mode("recent")
	Full   = Mode("full")
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return Recent, nil
	case Recent, Full:
		return m, nil
	default:
		return "", apperr.Errorf(apperr.InvalidInput, "channelsync.ParseMode", "unrecognised sync mode %q", s)
	}
}

const (
	DefaultCooldown  = time.Minute * 5
	DefaultFullPages = 40
	RecentPages      = 1
)

// Store is the slice of the cache a sync writes through.
type Store interface {
	ChannelByID(ctx context.Context, id int) (*models.Channel, error)
	UpdateMetadata(ctx context.Context, channelID int, meta upstream.ChannelMeta, now time.Time) error
	UpsertVideos(ctx context.Context, channelID int, videos []upstream.Video, now time.Time) ([]string, error)
	ReconcileLive(ctx context.Context, channelID int, wasLive, isLive bool, now time.Time) error
	RetireLiveRows(ctx context.Context, channelID int, openVideoID string, now time.Time) error
	StampSync(ctx context.Context, channelID int, now time.Time, cooldownUntil *time.Time) error
}

type Result struct {
	RunID         string     `json:"runId"`
	ChannelID     int        `json:"channelId"`
	Mode          Mode       `json:"mode"`
	Pages         int        `json:"pages"`
	Fetched       int        `json:"fetched"`
	Upserted      int        `json:"upserted"`
	IsLive        *bool      `json:"isLive,omitempty"`
	CooldownUntil *time.Time `json:"cooldownUntil"`
}

type Syncer struct {
	store      Store
	adapters   upstream.Registry
	cooldown   time.Duration
	fullPages  int
	windowDays int
}

type Option func(s *Syncer)

func WithCooldown(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithFullPages caps how many pages a full sync reads.
func WithFullPages(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.fullPages = n
		}
	}
}

func WithWindowDays(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.windowDays = n
		}
	}
}

func New(st Store, adapters upstream.Registry, options ...Option) *Syncer {
	s := &Syncer{
		store:      st,
		adapters:   adapters,
		cooldown:   DefaultCooldown,
		fullPages:  DefaultFullPages,
		windowDays: retention.WindowDays,
	}

	for _, fn := range options {
		fn(s)
	}

	return s
}

// Sync pulls one channel's recent uploads into the cache. Everything up to
// and including live reconciliation fails as SyncFailed without stamping the
// channel; a failed stamp is a StorageError since rows may already be
// written.
func (s *Syncer) Sync(ctx context.Context, channelID int, mode Mode, force bool) (*Result, error) {
	const op = "channelsync.Syncer.Sync"

	if mode != Recent && mode != Full {
		return nil, apperr.Errorf(apperr.InvalidInput, op, "unrecognised sync mode %q", mode)
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return nil, apperr.New(apperr.Unknown, op, err)
	}

	channel, err := s.store.ChannelByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, op, err)
		}
		return nil, apperr.New(apperr.StorageError, op, err)
	}

	if mode == Recent && !force && channel.SyncCooldownUntil != nil && now.Before(*channel.SyncCooldownUntil) {
		return nil, apperr.NewCooldown(op, *channel.SyncCooldownUntil)
	}

	adapter, err := s.adapters.Get(upstream.Platform(channel.Platform))
	if err != nil {
		return nil, apperr.New(apperr.SyncFailed, op, err)
	}

	res := Result{
		RunID:     uuid.NewString(),
		ChannelID: channel.ID,
		Mode:      mode,
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"sync.run_id":      res.RunID,
		"sync.channel_id":  channel.ID,
		"sync.platform":    channel.Platform,
		"sync.external_id": channel.ExternalID,
		"sync.mode":        string(mode),
		"sync.force":       force,
	})
	ctx = ctxlogger.WithLogger(ctx, l)

	l.Debug("starting channel sync")

	ref := channel.Ref()

	s.refreshMetadata(ctx, adapter, channel, now)

	// rows are stored at whole seconds, so filter at the same precision
	cutoff := sqltypes.Time(retention.Cutoff(now, s.windowDays))

	budget := RecentPages
	if mode == Full {
		budget = s.fullPages
	}

	var collected []upstream.Video

	token := ""
	for res.Pages < budget {
		page, err := adapter.FetchPage(ctx, ref, token)
		if err != nil {
			l.WithError(err).WithField("sync.page", res.Pages).Warn("could not fetch page")
			return nil, apperr.New(apperr.SyncFailed, op, err)
		}

		res.Pages++
		res.Fetched += len(page.Videos)

		kept := InWindow(page.Videos, cutoff)
		collected = append(collected, kept...)

		// pages are newest first, so nothing past an empty one is in window
		if mode == Full && len(kept) == 0 {
			l.WithField("sync.page", res.Pages-1).Debug("page had nothing in window, stopping")
			break
		}

		if page.Next == "" {
			break
		}

		token = page.Next
	}

	rows := InWindow(Dedupe(collected), cutoff)

	ids, err := s.store.UpsertVideos(ctx, channel.ID, rows, now)
	res.Upserted += len(ids)
	if err != nil {
		l.WithError(err).Warn("could not write videos")
		return nil, apperr.New(apperr.SyncFailed, op, err)
	}

	if live, ok := adapter.(upstream.LiveFetcher); ok {
		isLive, n, err := s.reconcileLive(ctx, live, channel, cutoff, now)
		res.Upserted += n
		if err != nil {
			l.WithError(err).Warn("could not reconcile live state")
			return nil, apperr.New(apperr.SyncFailed, op, err)
		}
		res.IsLive = &isLive
	}

	if mode == Recent {
		until := now.Add(s.cooldown)
		res.CooldownUntil = &until
	}

	if err := s.store.StampSync(ctx, channel.ID, now, res.CooldownUntil); err != nil {
		l.WithError(err).Error("videos were written but the channel could not be stamped")
		return nil, apperr.New(apperr.StorageError, op, err)
	}

	l.WithFields(logrus.Fields{
		"sync.pages":    res.Pages,
		"sync.fetched":  res.Fetched,
		"sync.upserted": res.Upserted,
	}).Info("finished channel sync")

	return &res, nil
}

func (s *Syncer) refreshMetadata(ctx context.Context, adapter upstream.Adapter, channel *models.Channel, now time.Time) {
	l := ctxlogger.GetLogger(ctx)

	meta, err := adapter.FetchChannel(ctx, channel.Ref())
	if err != nil {
		l.WithError(err).Warn("could not fetch channel metadata; continuing")
		return
	}

	if err := s.store.UpdateMetadata(ctx, channel.ID, *meta, now); err != nil {
		l.WithError(err).Warn("could not store channel metadata; continuing")
	}
}

// reconcileLive compares the stored live flag with the fetched one. A running
// session in window is also written as a live cache row.
func (s *Syncer) reconcileLive(ctx context.Context, live upstream.LiveFetcher, channel *models.Channel, cutoff, now time.Time) (bool, int, error) {
	status, err := live.FetchLive(ctx, channel.Ref())
	if err != nil {
		return false, 0, fmt.Errorf("channelsync.Syncer.reconcileLive: %w", err)
	}

	var n int
	if status.Open && status.Snapshot != nil && retention.InWindow(status.Snapshot.PublishedAt, cutoff) {
		ids, err := s.store.UpsertVideos(ctx, channel.ID, []upstream.Video{*status.Snapshot}, now)
		n = len(ids)
		if err != nil {
			return false, n, fmt.Errorf("channelsync.Syncer.reconcileLive: %w", err)
		}
	}

	if status.Open && status.Snapshot != nil {
		if err := s.store.RetireLiveRows(ctx, channel.ID, status.Snapshot.VideoID, now); err != nil {
			return false, n, fmt.Errorf("channelsync.Syncer.reconcileLive: %w", err)
		}
	}

	if channel.IsLive != status.Open {
		ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
			"sync.was_live": channel.IsLive,
			"sync.is_live":  status.Open,
		}).Info("live state changed")
	}

	if err := s.store.ReconcileLive(ctx, channel.ID, channel.IsLive, status.Open, now); err != nil {
		return false, n, fmt.Errorf("channelsync.Syncer.reconcileLive: %w", err)
	}

	return status.Open, n, nil
}

// InWindow keeps videos published on or after cutoff.
func InWindow(videos []upstream.Video, cutoff time.Time) []upstream.Video {
	var out []upstream.Video
	for _, v := range videos {
		if retention.InWindow(v.PublishedAt, cutoff) {
			out = append(out, v)
		}
	}

	return out
}

// Dedupe collapses repeated video ids. The last occurrence wins and keeps the
// position of the first.
func Dedupe(videos []upstream.Video) []upstream.Video {
	index := make(map[string]int, len(videos))

	var out []upstream.Video
	for _, v := range videos {
		if i, ok := index[v.VideoID]; ok {
			out[i] = v
			continue
		}

		index[v.VideoID] = len(out)
		out = append(out, v)
	}

	return out
}
