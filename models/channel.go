package models

import (
	"time"

	"fknsrs.biz/p/feedsync/internal/sqlbuilderutil"
	"fknsrs.biz/p/feedsync/internal/upstream"
)

var (
	ChannelTable *sqlbuilderutil.Table
)

func init() {
	ChannelTable = sqlbuilderutil.MustMakeTable(Channel{})
}

type Channel struct {
	ID                int       `sql:",table:channels" json:"id"`
	CreatedAt         time.Time `json:"createdAt"`
	CreatorID         *int      `json:"creatorId"`
	Platform          string    `json:"platform"`
	ExternalID        string    `json:"externalId"`
	Title             string    `json:"title"`
	ThumbnailURL      string    `json:"thumbnailUrl"`
	UploadsPlaylistID string    `json:"uploadsPlaylistId,omitempty"`

	IsLive             bool       `json:"isLive"`
	LiveStateUpdatedAt *time.Time `json:"liveStateUpdatedAt,omitempty"`
	LastLiveEndedAt    *time.Time `json:"lastLiveEndedAt,omitempty"`

	LastSyncedAt      *time.Time `json:"lastSyncedAt,omitempty"`
	SyncCooldownUntil *time.Time `json:"syncCooldownUntil,omitempty"`
	MetadataUpdatedAt *time.Time `json:"metadataUpdatedAt,omitempty"`
}

func (c *Channel) Ref() upstream.ChannelRef {
	return upstream.ChannelRef{
		ID:                c.ID,
		Platform:          upstream.Platform(c.Platform),
		ExternalID:        c.ExternalID,
		UploadsPlaylistID: c.UploadsPlaylistID,
	}
}

// URL is the channel's public page.
func (c *Channel) URL() string {
	return upstream.CanonicalChannelURL(upstream.Platform(c.Platform), c.ExternalID)
}
