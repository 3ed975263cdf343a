package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type Platform string

const (
	YouTube = Platform("youtube")
	Chzzk   = Platform("chzzk")
)

func ParsePlatform(s string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(s))); p {
	case YouTube, Chzzk:
		return p, nil
	default:
		return "", fmt.Errorf("upstream.ParsePlatform: unrecognised platform %q", s)
	}
}

type ContentType string

const (
	ContentVideo = ContentType("video")
	ContentShort = ContentType("short")
	ContentLive  = ContentType("live")
	ContentVOD   = ContentType("vod")
)

// ChannelRef is what an adapter needs to know about a stored channel.
type ChannelRef struct {
	ID                int
	Platform          Platform
	ExternalID        string
	UploadsPlaylistID string
}

type ChannelMeta struct {
	Title        string
	ThumbnailURL string
}

// Video is one normalised upstream record. VideoID is already namespaced
// where the platform needs it.
type Video struct {
	VideoID         string
	Title           string
	ThumbnailURL    string
	PublishedAt     time.Time
	DurationSeconds *int
	ViewCount       int64
	LikeCount       int64
	ContentType     ContentType
	IsLive          bool
	VideoNo         *int64
}

// Page is one upstream page, newest first. An empty Next ends paging.
type Page struct {
	Videos []Video
	Next   string
}

type LiveStatus struct {
	Open            bool
	LiveID          string
	Title           string
	ThumbnailURL    string
	ConcurrentUsers int
	Category        string
	OpenedAt        *time.Time
	ClosedAt        *time.Time
	ChatChannelID   string

	// Snapshot is the cache row for the running session, when Open.
	Snapshot *Video
}

type Adapter interface {
	Platform() Platform
	FetchChannel(ctx context.Context, ch ChannelRef) (*ChannelMeta, error)
	FetchPage(ctx context.Context, ch ChannelRef, token string) (*Page, error)
}

// LiveFetcher is implemented by adapters for platforms that broadcast.
type LiveFetcher interface {
	FetchLive(ctx context.Context, ch ChannelRef) (*LiveStatus, error)
}

// PlaylistMemo stores a derived uploads playlist id on a channel, but only
// when the channel doesn't already have one.
type PlaylistMemo interface {
	BackfillUploadsPlaylist(ctx context.Context, channelID int, playlistID string) error
}

type Registry map[Platform]Adapter

func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry)
	for _, a := range adapters {
		r[a.Platform()] = a
	}
	return r
}

func (r Registry) Get(p Platform) (Adapter, error) {
	if a, ok := r[p]; ok && a != nil {
		return a, nil
	}

	return nil, fmt.Errorf("upstream.Registry.Get: no adapter for platform %q", p)
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	URL        string
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("upstream: %s: status %d (%s)", e.URL, e.StatusCode, e.Reason)
	}

	return fmt.Sprintf("upstream: %s: status %d", e.URL, e.StatusCode)
}

var rateLimitReasons = []string{
	"ratelimitexceeded",
	"userratelimitexceeded",
	"quotaexceeded",
	"too many requests",
	"rate limit",
}

// LooksRateLimited reports whether an error message reads like a rate limit
// complaint.
func LooksRateLimited(s string) bool {
	s = strings.ToLower(s)

	for _, e := range rateLimitReasons {
		if strings.Contains(s, e) {
			return true
		}
	}

	return false
}

// IsRetryableStatus is true for 429 and any 5xx.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// Retryable classifies StatusError values; it's the default for adapters that
// talk plain HTTP.
func Retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return IsRetryableStatus(se.StatusCode) || LooksRateLimited(se.Reason)
	}

	return false
}

// NewSpacer returns a limiter that lets one call through every d.
func NewSpacer(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}

	return rate.NewLimiter(rate.Every(d), 1)
}

// CanonicalVideoURL builds the public page for a cached video row.
func CanonicalVideoURL(p Platform, videoID string, contentType ContentType, videoNo *int64, channelExternalID string) string {
	switch p {
	case YouTube:
		if contentType == ContentShort {
			return "https://www.youtube.com/shorts/" + videoID
		}
		return "https://www.youtube.com/watch?v=" + videoID
	case Chzzk:
		if contentType == ContentLive || videoNo == nil {
			return "https://chzzk.naver.com/live/" + channelExternalID
		}
		return fmt.Sprintf("https://chzzk.naver.com/video/%d", *videoNo)
	default:
		return ""
	}
}

func CanonicalChannelURL(p Platform, externalID string) string {
	switch p {
	case YouTube:
		return "https://www.youtube.com/channel/" + externalID
	case Chzzk:
		return "https://chzzk.naver.com/" + externalID
	default:
		return ""
	}
}

func CanonicalLiveURL(p Platform, externalID string) string {
	switch p {
	case Chzzk:
		return "https://chzzk.naver.com/live/" + externalID
	case YouTube:
		return "https://www.youtube.com/channel/" + externalID + "/live"
	default:
		return ""
	}
}
