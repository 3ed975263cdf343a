package store

import (
	"context"
	"fmt"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/feedsync/internal/cursor"
	"fknsrs.biz/p/feedsync/internal/sqltypes"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/models"
)

// VideoQuery selects cached videos for a paged read. An empty ContentType
// matches every type.
type VideoQuery struct {
	ChannelIDs  []int
	ContentType upstream.ContentType
	Limit       int
}

type VideoPage struct {
	Videos  []models.Video
	HasMore bool
	// Next is the published-order pivot for the following page.
	Next string
}

type publishedPivot struct {
	PublishedAt time.Time `json:"t"`
	VideoID     string    `json:"v"`
}

func (q VideoQuery) where() (string, []interface{}) {
	where := "where channel_id in " + intList(q.ChannelIDs)

	var args []interface{}
	if q.ContentType != "" {
		where += " and content_type = ?"
		args = append(args, string(q.ContentType))
	}

	return where, args
}

// PublishedPage reads videos newest first, ties broken by video id. pivot is
// a value previously returned in VideoPage.Next; anything unreadable starts
// from the top.
func (s *Store) PublishedPage(ctx context.Context, q VideoQuery, pivot string) (*VideoPage, error) {
	if len(q.ChannelIDs) == 0 || q.Limit <= 0 {
		return &VideoPage{}, nil
	}

	where, args := q.where()

	var p publishedPivot
	if cursor.Decode(pivot, &p) && p.VideoID != "" {
		t := sqltypes.Time(p.PublishedAt)
		where += " and (published_at < ? or (published_at = ? and video_id < ?))"
		args = append(args, t, t, p.VideoID)
	}

	where += " order by published_at desc, video_id desc limit ?"
	args = append(args, q.Limit+1)

	var videos []models.Video
	if err := sorm.FindWhere(ctx, s.db, &videos, where, args...); err != nil {
		return nil, fmt.Errorf("store.Store.PublishedPage: %w", err)
	}

	page := &VideoPage{Videos: videos}

	if len(videos) > q.Limit {
		page.Videos = videos[:q.Limit]
		page.HasMore = true

		last := page.Videos[len(page.Videos)-1]

		next, err := cursor.Encode(publishedPivot{PublishedAt: last.PublishedAt, VideoID: last.VideoID})
		if err != nil {
			return nil, fmt.Errorf("store.Store.PublishedPage: %w", err)
		}
		page.Next = next
	}

	return page, nil
}

type RankWindow string

const (
	RankDaily  = RankWindow("daily")
	RankWeekly = RankWindow("weekly")
)

func (w RankWindow) column() (string, error) {
	switch w {
	case RankDaily:
		return "view_delta_day", nil
	case RankWeekly:
		return "view_delta_week", nil
	default:
		return "", fmt.Errorf("store: unknown rank window %q", w)
	}
}

// RankPivot is the last row of a ranked page.
type RankPivot struct {
	Delta       int64     `json:"d"`
	PublishedAt time.Time `json:"t"`
	VideoID     string    `json:"v"`
}

// RankedPage reads videos by view delta over the window, then newest first,
// then by video id.
func (s *Store) RankedPage(ctx context.Context, q VideoQuery, window RankWindow, pivot *RankPivot) (*VideoPage, error) {
	column, err := window.column()
	if err != nil {
		return nil, fmt.Errorf("store.Store.RankedPage: %w", err)
	}

	if len(q.ChannelIDs) == 0 || q.Limit <= 0 {
		return &VideoPage{}, nil
	}

	where, args := q.where()

	if pivot != nil {
		t := sqltypes.Time(pivot.PublishedAt)
		where += " and (" + column + " < ? or (" + column + " = ? and (published_at < ? or (published_at = ? and video_id < ?))))"
		args = append(args, pivot.Delta, pivot.Delta, t, t, pivot.VideoID)
	}

	where += " order by " + column + " desc, published_at desc, video_id desc limit ?"
	args = append(args, q.Limit+1)

	var videos []models.Video
	if err := sorm.FindWhere(ctx, s.db, &videos, where, args...); err != nil {
		return nil, fmt.Errorf("store.Store.RankedPage: %w", err)
	}

	page := &VideoPage{Videos: videos}
	if len(videos) > q.Limit {
		page.Videos = videos[:q.Limit]
		page.HasMore = true
	}

	return page, nil
}

// Delta returns the view delta a ranked page for window sorts v by.
func (w RankWindow) Delta(v models.Video) int64 {
	if w == RankWeekly {
		return v.ViewDeltaWeek
	}

	return v.ViewDeltaDay
}

// LivePivot is the last channel of a live page.
type LivePivot struct {
	UpdatedAt time.Time `json:"t"`
	ChannelID int       `json:"c"`
}

// LiveChannels reads up to limit currently live chzzk channels among ids,
// ordered by live state change time then id, both descending.
func (s *Store) LiveChannels(ctx context.Context, ids []int, pivot *LivePivot, limit int) ([]models.Channel, error) {
	if len(ids) == 0 || limit <= 0 {
		return nil, nil
	}

	where := "where platform = ? and is_live = 1 and live_state_updated_at is not null and id in " + intList(ids)
	args := []interface{}{string(upstream.Chzzk)}

	if pivot != nil {
		t := sqltypes.Time(pivot.UpdatedAt)
		where += " and (live_state_updated_at < ? or (live_state_updated_at = ? and id < ?))"
		args = append(args, t, t, pivot.ChannelID)
	}

	where += " order by live_state_updated_at desc, id desc limit ?"
	args = append(args, limit)

	var channels []models.Channel
	if err := sorm.FindWhere(ctx, s.db, &channels, where, args...); err != nil {
		return nil, fmt.Errorf("store.Store.LiveChannels: %w", err)
	}

	return channels, nil
}

// LiveSessions returns the newest live cache row for each listed channel
// that has one.
func (s *Store) LiveSessions(ctx context.Context, channelIDs []int) (map[int]*models.Video, error) {
	out := make(map[int]*models.Video)
	if len(channelIDs) == 0 {
		return out, nil
	}

	var videos []models.Video
	if err := sorm.FindWhere(
		ctx,
		s.db,
		&videos,
		"where is_live = 1 and channel_id in "+intList(channelIDs)+" order by published_at desc, video_id desc",
	); err != nil {
		return nil, fmt.Errorf("store.Store.LiveSessions: %w", err)
	}

	for i := range videos {
		if _, ok := out[videos[i].ChannelID]; !ok {
			out[videos[i].ChannelID] = &videos[i]
		}
	}

	return out, nil
}
