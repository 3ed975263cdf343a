package models

import (
	"database/sql"
	"time"

	"fknsrs.biz/p/feedsync/internal/sqlbuilderutil"
	"fknsrs.biz/p/feedsync/internal/sqltypes"
)

var (
	ChannelSummaryTable *sqlbuilderutil.Table
)

func init() {
	ChannelSummaryTable = sqlbuilderutil.MustMakeTable(ChannelSummary{})
}

// ChannelSummary is a row of the channel_summaries view, used for admin
// listing with OData queries.
type ChannelSummary struct {
	ChannelID           int        `sql:",table:channel_summaries" json:"channelId"`
	ChannelCreatedAt    time.Time  `json:"createdAt"`
	ChannelPlatform     string     `json:"platform"`
	ChannelExternalID   string     `json:"externalId"`
	ChannelTitle        string     `json:"title"`
	ChannelThumbnailURL string     `json:"thumbnailUrl"`
	ChannelIsLive       bool       `json:"isLive"`
	ChannelLastSyncedAt *time.Time `json:"lastSyncedAt"`
	CreatorID           *int       `json:"creatorId"`
	CreatorName         string     `json:"creatorName"`
	VideoCount          int        `json:"videoCount"`
	LatestPublishedAt   *time.Time `json:"latestPublishedAt"`
}

func (s *ChannelSummary) OverrideScan(names []string, scanners []sql.Scanner) error {
	for i, name := range names {
		switch name {
		case "ChannelCreatedAt":
			scanners[i] = &sqltypes.TimeScanner{Value: &s.ChannelCreatedAt}
		case "ChannelLastSyncedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &s.ChannelLastSyncedAt}
		case "LatestPublishedAt":
			scanners[i] = &sqltypes.TimePointerScanner{Value: &s.LatestPublishedAt}
		}
	}

	return nil
}
