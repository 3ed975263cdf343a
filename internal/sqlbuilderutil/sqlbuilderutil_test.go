package sqlbuilderutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type channelRow struct {
	ID           int        `sql:",table:channels" json:"id"`
	ExternalID   string     `json:"externalId"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	Live360At    *time.Time `sql:"live_360_at" json:"-"`
	Scratch      string     `sql:"-" json:"scratch"`
}

func TestMakeTable(t *testing.T) {
	a := assert.New(t)

	table := MustMakeTable(channelRow{})

	a.Equal([]string{"id", "external_id", "thumbnail_url", "last_synced_at", "live_360_at"}, table.Columns())

	for _, tc := range []struct {
		name   string
		column string
	}{
		{"ID", "id"},
		{"ExternalID", "external_id"},
		{"externalid", "external_id"},
		{"external_id", "external_id"},
		{"externalId", "external_id"},
		{"EXTERNALID", "external_id"},
		{"thumbnailUrl", "thumbnail_url"},
		{"lastSyncedAt", "last_synced_at"},
		{"Live360At", "live_360_at"},
		{"live_360_at", "live_360_at"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			column, ok := table.Column(tc.name)
			require.True(t, ok)
			assert.Equal(t, tc.column, column)
			assert.NotNil(t, table.C(tc.name))
		})
	}

	for _, name := range []string{"nothing", "scratch", "Scratch", "-"} {
		a.False(table.Has(name), name)
		a.Nil(table.C(name), name)
	}
}

func TestMakeTableDefaultName(t *testing.T) {
	type VideoViewSnapshot struct {
		VideoID int
	}

	table, err := MakeTable(VideoViewSnapshot{})
	require.NoError(t, err)
	assert.Equal(t, []string{"video_id"}, table.Columns())
	assert.True(t, table.Has("videoId"))
}

func TestMakeTableDuplicateColumn(t *testing.T) {
	type dup struct {
		A string `sql:"name"`
		B string `sql:"name"`
	}

	_, err := MakeTable(dup{})
	assert.Error(t, err)
}
