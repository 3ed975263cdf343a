package stringutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var caseConversionTests = []struct {
	pascalCase string
	snakeCase  string
}{
	{"ID", "id"},
	{"ExternalID", "external_id"},
	{"Title", "title"},
	{"MetadataUpdatedAt", "metadata_updated_at"},
	{"ChannelID", "channel_id"},
	{"UploadsPlaylistID", "uploads_playlist_id"},
	{"VideoCount", "video_count"},
	{"ThumbnailURL", "thumbnail_url"},
	{"ViewDeltaDay", "view_delta_day"},
	{"SyncCooldownUntil", "sync_cooldown_until"},
	{"CreatedAt", "created_at"},
	{"QueueName", "queue_name"},
	{"RunAfter", "run_after"},
	{"AttemptsRemaining", "attempts_remaining"},
	{"ChannelSummary", "channel_summary"},
	{"VideoViewSnapshot", "video_view_snapshot"},
}

func TestPascalToSnake(t *testing.T) {
	for _, tc := range caseConversionTests {
		t.Run(tc.pascalCase, func(t *testing.T) {
			a := assert.New(t)
			a.Equal(tc.snakeCase, PascalToSnake(tc.pascalCase))
		})
	}
}

func BenchmarkPascalToSnake(b *testing.B) {
	for _, tc := range caseConversionTests {
		b.Run(tc.pascalCase, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				PascalToSnake(tc.pascalCase)
			}
		})
	}
}

func TestLooksTrue(t *testing.T) {
	a := assert.New(t)

	for _, s := range []string{"true", "YES", "1", "on"} {
		a.True(LooksTrue(s), s)
	}
	for _, s := range []string{"", "false", "0", "nope"} {
		a.False(LooksTrue(s), s)
	}
}

func TestSplitInts(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   []string
		out  []int
		err  bool
	}{
		{"nil", nil, nil, false},
		{"repeated", []string{"1", "2"}, []int{1, 2}, false},
		{"comma", []string{"1,2, 3"}, []int{1, 2, 3}, false},
		{"mixed with blanks", []string{"4,", "", "5"}, []int{4, 5}, false},
		{"invalid", []string{"1,x"}, nil, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			out, err := SplitInts(tc.in)
			if tc.err {
				a.Error(err)
			} else {
				a.NoError(err)
				a.Equal(tc.out, out)
			}
		})
	}
}
