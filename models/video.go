package models

import (
	"time"

	"fknsrs.biz/p/feedsync/internal/sqlbuilderutil"
)

var (
	VideoTable *sqlbuilderutil.Table
)

func init() {
	VideoTable = sqlbuilderutil.MustMakeTable(Video{})
}

// Video is one cached upstream record. VideoID is the platform-native id,
// namespaced for chzzk.
type Video struct {
	ID              int `sql:",table:videos"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	VideoID         string
	ChannelID       int
	Title           string
	ThumbnailURL    string
	PublishedAt     time.Time
	DurationSeconds *int
	ViewCount       int64
	LikeCount       int64
	ContentType     string
	IsLive          bool
	VideoNo         *int64
	ViewDeltaDay    int64
	ViewDeltaWeek   int64
}
