package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/feedsync/internal/sqltypes"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/models"
)

func (s *Store) ChannelByID(ctx context.Context, id int) (*models.Channel, error) {
	var channel models.Channel
	if err := sorm.FindFirstWhere(ctx, s.db, &channel, "where id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store.Store.ChannelByID: %d: %w", id, ErrNotFound)
		}

		return nil, fmt.Errorf("store.Store.ChannelByID: %w", err)
	}

	return &channel, nil
}

func (s *Store) ChannelByPlatformExternal(ctx context.Context, platform upstream.Platform, externalID string) (*models.Channel, error) {
	var channel models.Channel
	if err := sorm.FindFirstWhere(ctx, s.db, &channel, "where platform = ? and external_id = ?", string(platform), externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store.Store.ChannelByPlatformExternal: %s/%s: %w", platform, externalID, ErrNotFound)
		}

		return nil, fmt.Errorf("store.Store.ChannelByPlatformExternal: %w", err)
	}

	return &channel, nil
}

// ChannelsByIDs loads every listed channel in one query. Missing ids are
// absent from the result.
func (s *Store) ChannelsByIDs(ctx context.Context, ids []int) (map[int]*models.Channel, error) {
	out := make(map[int]*models.Channel, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var channels []models.Channel
	if err := sorm.FindWhere(ctx, s.db, &channels, "where id in "+intList(ids)); err != nil {
		return nil, fmt.Errorf("store.Store.ChannelsByIDs: %w", err)
	}

	for i := range channels {
		out[channels[i].ID] = &channels[i]
	}

	return out, nil
}

func (s *Store) CreateChannel(ctx context.Context, channel *models.Channel, now time.Time) error {
	if channel.CreatedAt.IsZero() {
		channel.CreatedAt = sqltypes.Time(now)
	}

	if err := s.usingTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if channel.CreatorID != nil {
			var creator models.Creator
			if err := sorm.FindFirstWhere(ctx, tx, &creator, "where id = ?", *channel.CreatorID); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("creator %d: %w", *channel.CreatorID, ErrNotFound)
				}
				return err
			}
		}

		var existing models.Channel
		if err := sorm.FindFirstWhere(ctx, tx, &existing, "where platform = ? and external_id = ?", channel.Platform, channel.ExternalID); err == nil {
			return fmt.Errorf("%s/%s: %w", channel.Platform, channel.ExternalID, ErrExists)
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		return sorm.CreateRecord(ctx, tx, channel)
	}); err != nil {
		if errors.Is(err, ErrExists) || errors.Is(err, ErrNotFound) {
			return fmt.Errorf("store.Store.CreateChannel: %w", err)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("store.Store.CreateChannel: %s/%s: %w", channel.Platform, channel.ExternalID, ErrExists)
		}

		return fmt.Errorf("store.Store.CreateChannel: %w", err)
	}

	return nil
}

func (s *Store) CreateCreator(ctx context.Context, creator *models.Creator, now time.Time) error {
	if creator.CreatedAt.IsZero() {
		creator.CreatedAt = sqltypes.Time(now)
	}

	if err := s.usingTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return sorm.CreateRecord(ctx, tx, creator)
	}); err != nil {
		return fmt.Errorf("store.Store.CreateCreator: %w", err)
	}

	return nil
}

// BackfillUploadsPlaylist records a derived uploads playlist id, leaving any
// value already stored alone.
func (s *Store) BackfillUploadsPlaylist(ctx context.Context, channelID int, playlistID string) error {
	if _, err := s.db.ExecContext(
		ctx,
		"update channels set uploads_playlist_id = ? where id = ? and uploads_playlist_id = ''",
		playlistID,
		channelID,
	); err != nil {
		return fmt.Errorf("store.Store.BackfillUploadsPlaylist: %w", err)
	}

	return nil
}

func (s *Store) UpdateMetadata(ctx context.Context, channelID int, meta upstream.ChannelMeta, now time.Time) error {
	if _, err := s.db.ExecContext(
		ctx,
		"update channels set title = ?, thumbnail_url = ?, metadata_updated_at = ? where id = ?",
		meta.Title,
		meta.ThumbnailURL,
		sqltypes.Time(now),
		channelID,
	); err != nil {
		return fmt.Errorf("store.Store.UpdateMetadata: %w", err)
	}

	return nil
}

// ReconcileLive applies a live state transition. Going live clears the last
// ended time; going offline stamps it and clears the live flag on the
// channel's cached live rows. No transition is a no-op.
func (s *Store) ReconcileLive(ctx context.Context, channelID int, wasLive, isLive bool, now time.Time) error {
	if wasLive == isLive {
		return nil
	}

	now = sqltypes.Time(now)

	if err := s.usingTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if isLive {
			_, err := tx.ExecContext(
				ctx,
				"update channels set is_live = 1, live_state_updated_at = ?, last_live_ended_at = null where id = ?",
				now,
				channelID,
			)
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			"update channels set is_live = 0, live_state_updated_at = ?, last_live_ended_at = ? where id = ?",
			now,
			now,
			channelID,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(
			ctx,
			"update videos set is_live = 0, updated_at = ? where channel_id = ? and is_live = 1",
			now,
			channelID,
		)
		return err
	}); err != nil {
		return fmt.Errorf("store.Store.ReconcileLive: %w", err)
	}

	return nil
}

// RetireLiveRows clears the live flag on a channel's cached live rows other
// than the open session's, so a channel that ended one session and opened
// another between syncs only has one row flagged live.
func (s *Store) RetireLiveRows(ctx context.Context, channelID int, openVideoID string, now time.Time) error {
	if _, err := s.db.ExecContext(
		ctx,
		"update videos set is_live = 0, updated_at = ? where channel_id = ? and is_live = 1 and video_id != ?",
		sqltypes.Time(now),
		channelID,
		openVideoID,
	); err != nil {
		return fmt.Errorf("store.Store.RetireLiveRows: %w", err)
	}

	return nil
}

// StampSync records a finished sync. A nil cooldownUntil leaves the stored
// cooldown untouched.
func (s *Store) StampSync(ctx context.Context, channelID int, now time.Time, cooldownUntil *time.Time) error {
	var err error
	if cooldownUntil != nil {
		_, err = s.db.ExecContext(
			ctx,
			"update channels set last_synced_at = ?, sync_cooldown_until = ? where id = ?",
			sqltypes.Time(now),
			sqltypes.Time(*cooldownUntil),
			channelID,
		)
	} else {
		_, err = s.db.ExecContext(
			ctx,
			"update channels set last_synced_at = ? where id = ?",
			sqltypes.Time(now),
			channelID,
		)
	}
	if err != nil {
		return fmt.Errorf("store.Store.StampSync: %w", err)
	}

	return nil
}
