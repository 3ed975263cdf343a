package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"fknsrs.biz/p/feedsync/internal/ctxhttpclient"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/retry"
	"fknsrs.biz/p/feedsync/internal/timeutil"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/internal/ytutil"
)

const (
	// MaxResults is the API's page and batch ceiling.
	MaxResults = 50

	// ShortMaxSeconds is the exclusive upper bound on a short's duration.
	ShortMaxSeconds = 60
)

var (
	ErrChannelNotFound = fmt.Errorf("youtubeapi: channel not found")
)

type Client struct {
	svc    *youtube.Service
	policy retry.Policy
	spacer *rate.Limiter
	memo   upstream.PlaylistMemo
}

type Option func(c *Client)

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithSpacer(l *rate.Limiter) Option {
	return func(c *Client) { c.spacer = l }
}

// WithPlaylistMemo lets the client store derived uploads playlist ids.
func WithPlaylistMemo(m upstream.PlaylistMemo) Option {
	return func(c *Client) { c.memo = m }
}

// New builds a Data API client. endpoint overrides the API base URL and may
// be empty.
func New(ctx context.Context, apiKey, endpoint string, options ...Option) (*Client, error) {
	clientOptions := []option.ClientOption{option.WithAPIKey(apiKey), option.WithUserAgent(ctxhttpclient.UserAgent)}
	if endpoint != "" {
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	svc, err := youtube.NewService(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("youtubeapi.New: %w", err)
	}

	c := &Client{
		svc:    svc,
		policy: retry.DefaultPolicy(),
		spacer: upstream.NewSpacer(0),
	}

	for _, fn := range options {
		fn(c)
	}

	return c, nil
}

func (c *Client) Platform() upstream.Platform { return upstream.YouTube }

// Retryable is true for 429s, 5xx responses, and rate limit or quota
// reasons on any status.
func Retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if upstream.IsRetryableStatus(gerr.Code) {
			return true
		}

		for _, e := range gerr.Errors {
			if upstream.LooksRateLimited(e.Reason) {
				return true
			}
		}

		return upstream.LooksRateLimited(gerr.Message)
	}

	return upstream.Retryable(err)
}

func call[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, c.policy, Retryable, func(ctx context.Context) (T, error) {
		if err := c.spacer.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}

		return fn(ctx)
	})
}

func (c *Client) channelsCall(ctx context.Context, externalID string, parts []string) (*youtube.ChannelListResponse, error) {
	return call(ctx, c, func(ctx context.Context) (*youtube.ChannelListResponse, error) {
		req := c.svc.Channels.List(parts).Context(ctx)

		if handle, err := ytutil.ExtractHandle(externalID); err == nil {
			req = req.ForHandle(handle)
		} else {
			req = req.Id(externalID)
		}

		return req.Do()
	})
}

func (c *Client) FetchChannel(ctx context.Context, ch upstream.ChannelRef) (*upstream.ChannelMeta, error) {
	res, err := c.channelsCall(ctx, ch.ExternalID, []string{"snippet"})
	if err != nil {
		return nil, fmt.Errorf("youtubeapi.Client.FetchChannel: %w", err)
	}

	if len(res.Items) == 0 || res.Items[0].Snippet == nil {
		return nil, fmt.Errorf("youtubeapi.Client.FetchChannel: %s: %w", ch.ExternalID, ErrChannelNotFound)
	}

	return &upstream.ChannelMeta{
		Title:        res.Items[0].Snippet.Title,
		ThumbnailURL: pickThumbnail(res.Items[0].Snippet.Thumbnails),
	}, nil
}

// uploadsPlaylist returns the channel's uploads playlist, deriving it from
// the channel id when it has the standard shape and normalising the id with
// one lookup when it doesn't.
func (c *Client) uploadsPlaylist(ctx context.Context, ch upstream.ChannelRef) (string, error) {
	if ch.UploadsPlaylistID != "" {
		return ch.UploadsPlaylistID, nil
	}

	playlistID, ok := ytutil.UploadsPlaylistID(ch.ExternalID)
	if !ok {
		channelID, err := c.normaliseChannelID(ctx, ch.ExternalID)
		if err != nil {
			return "", err
		}

		playlistID, ok = ytutil.UploadsPlaylistID(channelID)
		if !ok {
			return "", fmt.Errorf("youtubeapi.Client.uploadsPlaylist: %q did not resolve to a standard channel id", ch.ExternalID)
		}
	}

	if c.memo != nil && ch.ID != 0 {
		if err := c.memo.BackfillUploadsPlaylist(ctx, ch.ID, playlistID); err != nil {
			ctxlogger.GetLogger(ctx).WithError(err).WithFields(logrus.Fields{
				"youtube.channel_id":  ch.ExternalID,
				"youtube.playlist_id": playlistID,
			}).Warn("could not store uploads playlist id")
		}
	}

	return playlistID, nil
}

func (c *Client) normaliseChannelID(ctx context.Context, externalID string) (string, error) {
	if _, err := ytutil.ExtractHandle(externalID); err == nil {
		res, err := c.channelsCall(ctx, externalID, []string{"id"})
		if err != nil {
			return "", fmt.Errorf("youtubeapi.Client.normaliseChannelID: %w", err)
		}
		if len(res.Items) == 0 {
			return "", fmt.Errorf("youtubeapi.Client.normaliseChannelID: %s: %w", externalID, ErrChannelNotFound)
		}
		return res.Items[0].Id, nil
	}

	channelID, err := ytutil.FindChannelID(ctx, externalID)
	if err != nil {
		return "", fmt.Errorf("youtubeapi.Client.normaliseChannelID: %w", err)
	}

	return channelID, nil
}

// FetchPage reads one page of the uploads playlist and resolves it to full
// video details. The token is the API's page token.
func (c *Client) FetchPage(ctx context.Context, ch upstream.ChannelRef, token string) (*upstream.Page, error) {
	playlistID, err := c.uploadsPlaylist(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("youtubeapi.Client.FetchPage: %w", err)
	}

	items, err := call(ctx, c, func(ctx context.Context) (*youtube.PlaylistItemListResponse, error) {
		req := c.svc.PlaylistItems.List([]string{"contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(MaxResults).
			Context(ctx)
		if token != "" {
			req = req.PageToken(token)
		}
		return req.Do()
	})
	if err != nil {
		return nil, fmt.Errorf("youtubeapi.Client.FetchPage: could not list playlist %s: %w", playlistID, err)
	}

	var ids []string
	for _, item := range items.Items {
		if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
			ids = append(ids, item.ContentDetails.VideoId)
		}
	}

	videos, err := c.fetchVideos(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("youtubeapi.Client.FetchPage: %w", err)
	}

	return &upstream.Page{Videos: videos, Next: items.NextPageToken}, nil
}

// fetchVideos resolves ids in batches of MaxResults, keeping the order of ids.
func (c *Client) fetchVideos(ctx context.Context, ids []string) ([]upstream.Video, error) {
	byID := make(map[string]upstream.Video)

	for start := 0; start < len(ids); start += MaxResults {
		end := start + MaxResults
		if end > len(ids) {
			end = len(ids)
		}

		chunk := ids[start:end]

		res, err := call(ctx, c, func(ctx context.Context) (*youtube.VideoListResponse, error) {
			return c.svc.Videos.List([]string{"snippet", "contentDetails", "statistics", "liveStreamingDetails"}).
				Id(chunk...).
				Context(ctx).
				Do()
		})
		if err != nil {
			return nil, fmt.Errorf("youtubeapi.Client.fetchVideos: %w", err)
		}

		for _, item := range res.Items {
			if v, ok := convertVideo(item); ok {
				byID[v.VideoID] = v
			}
		}
	}

	var out []upstream.Video
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}

	return out, nil
}

func convertVideo(item *youtube.Video) (upstream.Video, bool) {
	if item == nil || item.Snippet == nil {
		return upstream.Video{}, false
	}

	// scheduled premieres and streams have no content yet
	if item.Snippet.LiveBroadcastContent == "upcoming" {
		return upstream.Video{}, false
	}

	publishedAt, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
	if err != nil {
		return upstream.Video{}, false
	}

	v := upstream.Video{
		VideoID:      item.Id,
		Title:        item.Snippet.Title,
		ThumbnailURL: pickThumbnail(item.Snippet.Thumbnails),
		PublishedAt:  publishedAt.UTC(),
	}

	var started, ended bool
	if d := item.LiveStreamingDetails; d != nil {
		started = d.ActualStartTime != ""
		ended = d.ActualEndTime != ""
	}

	if item.ContentDetails != nil && item.ContentDetails.Duration != "" && !(started && !ended) {
		if seconds, err := ParseDurationSeconds(item.ContentDetails.Duration); err == nil {
			v.DurationSeconds = &seconds
		}
	}

	if s := item.Statistics; s != nil {
		v.ViewCount = int64(s.ViewCount)
		v.LikeCount = int64(s.LikeCount)
	}

	v.ContentType = Classify(v.DurationSeconds, started, ended)
	v.IsLive = v.ContentType == upstream.ContentLive

	return v, true
}

// ParseDurationSeconds turns an ISO-8601 duration like PT4M13S into whole
// seconds.
func ParseDurationSeconds(s string) (int, error) {
	d, err := timeutil.ParseISODuration(s)
	if err != nil {
		return 0, fmt.Errorf("youtubeapi.ParseDurationSeconds: %w", err)
	}

	return int(d / time.Second), nil
}

// Classify picks a content type: broadcasting now is live, a finished
// broadcast is a vod, anything under a minute is a short, and the rest are
// videos.
func Classify(durationSeconds *int, liveStarted, liveEnded bool) upstream.ContentType {
	switch {
	case liveStarted && !liveEnded:
		return upstream.ContentLive
	case liveStarted && liveEnded:
		return upstream.ContentVOD
	case durationSeconds != nil && *durationSeconds < ShortMaxSeconds:
		return upstream.ContentShort
	default:
		return upstream.ContentVideo
	}
}

func pickThumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}

	for _, e := range []*youtube.Thumbnail{t.High, t.Medium, t.Standard, t.Maxres, t.Default} {
		if e != nil && e.Url != "" {
			return e.Url
		}
	}

	return ""
}

// IsNotFound reports whether err is the API saying the resource is gone.
func IsNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}

	return errors.Is(err, ErrChannelNotFound)
}
