package store

import (
	"context"
	"fmt"
	"time"

	"fknsrs.biz/p/feedsync/internal/sqltypes"
	"fknsrs.biz/p/feedsync/internal/upstream"
)

// ScopeFilter narrows channel id resolution. Zero values match everything.
type ScopeFilter struct {
	CreatorID *int
	Platform  upstream.Platform
}

func (s *Store) ChannelIDs(ctx context.Context, f ScopeFilter) ([]int, error) {
	query := "select id from channels where 1 = 1"

	var args []interface{}
	if f.CreatorID != nil {
		query += " and creator_id = ?"
		args = append(args, *f.CreatorID)
	}
	if f.Platform != "" {
		query += " and platform = ?"
		args = append(args, string(f.Platform))
	}

	query += " order by id"

	ids, err := s.queryIDs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store.Store.ChannelIDs: %w", err)
	}

	return ids, nil
}

// StaleChannelIDs returns channels never synced or last synced before
// olderThan, least recently synced first.
func (s *Store) StaleChannelIDs(ctx context.Context, olderThan time.Time) ([]int, error) {
	ids, err := s.queryIDs(
		ctx,
		"select id from channels where last_synced_at is null or last_synced_at < ? order by last_synced_at is not null, last_synced_at, id",
		sqltypes.Time(olderThan),
	)
	if err != nil {
		return nil, fmt.Errorf("store.Store.StaleChannelIDs: %w", err)
	}

	return ids, nil
}

// HotChannelIDs returns chzzk channels that are live now and any channel
// with a cached video published since the given time.
func (s *Store) HotChannelIDs(ctx context.Context, since time.Time) ([]int, error) {
	ids, err := s.queryIDs(
		ctx,
		`select c.id from channels c
where (c.platform = ? and c.is_live = 1)
or exists (select 1 from videos v where v.channel_id = c.id and v.published_at >= ?)
order by c.id`,
		string(upstream.Chzzk),
		sqltypes.Time(since),
	)
	if err != nil {
		return nil, fmt.Errorf("store.Store.HotChannelIDs: %w", err)
	}

	return ids, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}
