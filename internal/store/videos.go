package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fknsrs.biz/p/feedsync/internal/sqltypes"
	"fknsrs.biz/p/feedsync/internal/upstream"
)

var upsertColumns = []string{
	"created_at",
	"updated_at",
	"video_id",
	"channel_id",
	"title",
	"thumbnail_url",
	"published_at",
	"duration_seconds",
	"view_count",
	"like_count",
	"content_type",
	"is_live",
	"video_no",
}

// created_at is the only column an update leaves alone.
const upsertConflict = `on conflict (video_id) do update set
  updated_at = excluded.updated_at,
  channel_id = excluded.channel_id,
  title = excluded.title,
  thumbnail_url = excluded.thumbnail_url,
  published_at = excluded.published_at,
  duration_seconds = excluded.duration_seconds,
  view_count = excluded.view_count,
  like_count = excluded.like_count,
  content_type = excluded.content_type,
  is_live = excluded.is_live,
  video_no = excluded.video_no`

// UpsertVideos writes videos for one channel, keyed on video id with the
// incoming values replacing stored ones. Rows are written in chunks, each in
// its own transaction, and a view count snapshot is taken for any video
// whose last one is older than the snapshot interval. It returns the video
// ids written.
func (s *Store) UpsertVideos(ctx context.Context, channelID int, videos []upstream.Video, now time.Time) ([]string, error) {
	now = sqltypes.Time(now)

	var affected []string

	for start := 0; start < len(videos); start += s.upsertChunk {
		end := start + s.upsertChunk
		if end > len(videos) {
			end = len(videos)
		}

		chunk := videos[start:end]

		if err := s.usingTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			ids, err := upsertChunk(ctx, tx, channelID, chunk, now)
			if err != nil {
				return err
			}

			if err := recordSnapshots(ctx, tx, ids, now, s.snapshotInterval); err != nil {
				return err
			}

			if err := recomputeDeltas(ctx, tx, ids, now); err != nil {
				return err
			}

			affected = append(affected, ids...)

			return nil
		}); err != nil {
			return affected, fmt.Errorf("store.Store.UpsertVideos: chunk at %d: %w", start, err)
		}
	}

	return affected, nil
}

func upsertChunk(ctx context.Context, tx *sql.Tx, channelID int, videos []upstream.Video, now time.Time) ([]string, error) {
	if len(videos) == 0 {
		return nil, nil
	}

	rowPlaceholder := placeholders(len(upsertColumns))

	rows := make([]string, len(videos))
	args := make([]interface{}, 0, len(videos)*len(upsertColumns))

	for i, v := range videos {
		rows[i] = rowPlaceholder

		var durationSeconds, videoNo interface{}
		if v.DurationSeconds != nil {
			durationSeconds = *v.DurationSeconds
		}
		if v.VideoNo != nil {
			videoNo = *v.VideoNo
		}

		args = append(
			args,
			now,
			now,
			v.VideoID,
			channelID,
			v.Title,
			v.ThumbnailURL,
			sqltypes.Time(v.PublishedAt),
			durationSeconds,
			v.ViewCount,
			v.LikeCount,
			string(v.ContentType),
			v.IsLive,
			videoNo,
		)
	}

	query := "insert into videos (" + strings.Join(upsertColumns, ", ") + ") values " +
		strings.Join(rows, ", ") + " " + upsertConflict + " returning video_id"

	res, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.upsertChunk: %w", err)
	}
	defer res.Close()

	var ids []string
	for res.Next() {
		var id string
		if err := res.Scan(&id); err != nil {
			return nil, fmt.Errorf("store.upsertChunk: %w", err)
		}
		ids = append(ids, id)
	}

	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("store.upsertChunk: %w", err)
	}

	return ids, nil
}

func stringArgs(a []string) []interface{} {
	out := make([]interface{}, len(a))
	for i, e := range a {
		out[i] = e
	}
	return out
}

func recordSnapshots(ctx context.Context, tx *sql.Tx, videoIDs []string, now time.Time, interval time.Duration) error {
	if len(videoIDs) == 0 {
		return nil
	}

	args := []interface{}{now}
	args = append(args, stringArgs(videoIDs)...)
	args = append(args, now.Add(-interval))

	if _, err := tx.ExecContext(
		ctx,
		`insert into video_view_snapshots (video_id, captured_at, view_count)
select v.video_id, ?, v.view_count
from videos v
where v.video_id in `+placeholders(len(videoIDs))+`
and not exists (
  select 1 from video_view_snapshots s
  where s.video_id = v.video_id and s.captured_at > ?
)`,
		args...,
	); err != nil {
		return fmt.Errorf("store.recordSnapshots: %w", err)
	}

	return nil
}

// deltaExpr is the view count change since the newest snapshot taken at or
// before a reference time, falling back to the oldest snapshot we have.
const deltaExpr = `view_count - coalesce(
  (select s.view_count from video_view_snapshots s where s.video_id = videos.video_id and s.captured_at <= ? order by s.captured_at desc limit 1),
  (select s.view_count from video_view_snapshots s where s.video_id = videos.video_id order by s.captured_at asc limit 1),
  view_count
)`

func recomputeDeltas(ctx context.Context, tx *sql.Tx, videoIDs []string, now time.Time) error {
	if len(videoIDs) == 0 {
		return nil
	}

	args := []interface{}{now.Add(-time.Hour * 24), now.Add(-time.Hour * 24 * 7)}
	args = append(args, stringArgs(videoIDs)...)

	if _, err := tx.ExecContext(
		ctx,
		"update videos set view_delta_day = "+deltaExpr+", view_delta_week = "+deltaExpr+" where video_id in "+placeholders(len(videoIDs)),
		args...,
	); err != nil {
		return fmt.Errorf("store.recomputeDeltas: %w", err)
	}

	return nil
}
