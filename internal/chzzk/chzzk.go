package chzzk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"golang.org/x/time/rate"

	"fknsrs.biz/p/feedsync/internal/ctxhttpclient"
	"fknsrs.biz/p/feedsync/internal/retention"
	"fknsrs.biz/p/feedsync/internal/retry"
	"fknsrs.biz/p/feedsync/internal/upstream"
)

const (
	DefaultEndpoint = "https://api.chzzk.naver.com"
	PageSize        = 20

	dateFormat = "2006-01-02 15:04:05"
)

var (
	ErrChannelNotFound = fmt.Errorf("chzzk: channel not found")
)

type Client struct {
	endpoint   string
	httpClient *http.Client
	policy     retry.Policy
	spacer     *rate.Limiter
}

type Option func(c *Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimSuffix(endpoint, "/")
		}
	}
}

// WithHTTPClient pins the client; without it the context's client is used.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithSpacer(l *rate.Limiter) Option {
	return func(c *Client) { c.spacer = l }
}

func New(options ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		policy:   retry.DefaultPolicy(),
		spacer:   upstream.NewSpacer(0),
	}

	for _, fn := range options {
		fn(c)
	}

	return c
}

func (c *Client) Platform() upstream.Platform { return upstream.Chzzk }

func (c *Client) client(ctx context.Context) *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}

	return ctxhttpclient.GetHTTPClient(ctx)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values) (*gabs.Container, error) {
	u := c.endpoint + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	return retry.Value(ctx, c.policy, upstream.Retryable, func(ctx context.Context) (*gabs.Container, error) {
		if err := c.spacer.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("accept", "application/json")

		res, err := ctxhttpclient.DoWith(ctx, c.client(ctx), req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}

		if res.StatusCode != http.StatusOK {
			se := &upstream.StatusError{URL: u, StatusCode: res.StatusCode}
			if j, err := gabs.ParseJSON(body); err == nil {
				se.Reason = str(j, "message")
			}
			return nil, se
		}

		j, err := gabs.ParseJSON(body)
		if err != nil {
			return nil, fmt.Errorf("could not parse response from %s: %w", u, err)
		}

		return j, nil
	})
}

func (c *Client) FetchChannel(ctx context.Context, ch upstream.ChannelRef) (*upstream.ChannelMeta, error) {
	j, err := c.getJSON(ctx, "/service/v1/channels/"+url.PathEscape(ch.ExternalID), nil)
	if err != nil {
		return nil, fmt.Errorf("chzzk.Client.FetchChannel: %w", err)
	}

	content := j.Path("content")
	if content.Data() == nil || str(content, "channelId") == "" && str(content, "channelName") == "" {
		return nil, fmt.Errorf("chzzk.Client.FetchChannel: %s: %w", ch.ExternalID, ErrChannelNotFound)
	}

	return &upstream.ChannelMeta{
		Title:        str(content, "channelName"),
		ThumbnailURL: str(content, "channelImageUrl"),
	}, nil
}

// FetchPage reads one offset page of the channel's videos. The token is the
// zero-based page number.
func (c *Client) FetchPage(ctx context.Context, ch upstream.ChannelRef, token string) (*upstream.Page, error) {
	page := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("chzzk.Client.FetchPage: invalid page token %q", token)
		}
		page = n
	}

	j, err := c.getJSON(ctx, "/service/v1/channels/"+url.PathEscape(ch.ExternalID)+"/videos", url.Values{
		"sortType":   {"LATEST"},
		"pagingType": {"PAGE"},
		"page":       {strconv.Itoa(page)},
		"size":       {strconv.Itoa(PageSize)},
	})
	if err != nil {
		return nil, fmt.Errorf("chzzk.Client.FetchPage: %w", err)
	}

	var out upstream.Page

	for _, item := range j.Path("content.data").Children() {
		v, ok := parseVideo(item)
		if !ok {
			continue
		}

		out.Videos = append(out.Videos, v)
	}

	if totalPages, ok := num(j, "content.totalPages"); ok && len(out.Videos) > 0 && float64(page+1) < totalPages {
		out.Next = strconv.Itoa(page + 1)
	}

	return &out, nil
}

func (c *Client) FetchLive(ctx context.Context, ch upstream.ChannelRef) (*upstream.LiveStatus, error) {
	j, err := c.getJSON(ctx, "/service/v3/channels/"+url.PathEscape(ch.ExternalID)+"/live-detail", nil)
	if err != nil {
		return nil, fmt.Errorf("chzzk.Client.FetchLive: %w", err)
	}

	content := j.Path("content")
	if content.Data() == nil {
		return &upstream.LiveStatus{Open: false}, nil
	}

	st := &upstream.LiveStatus{
		Open:          strings.EqualFold(str(content, "status"), "OPEN"),
		Title:         str(content, "liveTitle"),
		ThumbnailURL:  strings.ReplaceAll(str(content, "liveImageUrl"), "{type}", "480"),
		Category:      str(content, "liveCategoryValue"),
		ChatChannelID: str(content, "chatChannelId"),
		OpenedAt:      parseLocalDate(str(content, "openDate")),
		ClosedAt:      parseLocalDate(str(content, "closeDate")),
	}

	if n, ok := num(content, "liveId"); ok {
		st.LiveID = strconv.FormatInt(int64(n), 10)
	}
	if n, ok := num(content, "concurrentUserCount"); ok {
		st.ConcurrentUsers = int(n)
	}

	if st.Open && st.LiveID != "" && st.OpenedAt != nil {
		st.Snapshot = &upstream.Video{
			VideoID:      LiveVideoID(st.LiveID),
			Title:        st.Title,
			ThumbnailURL: st.ThumbnailURL,
			PublishedAt:  *st.OpenedAt,
			ViewCount:    int64(st.ConcurrentUsers),
			ContentType:  upstream.ContentLive,
			IsLive:       true,
		}
	}

	return st, nil
}

func VideoID(videoNo int64) string { return "chzzk:" + strconv.FormatInt(videoNo, 10) }

func LiveVideoID(liveID string) string { return "chzzk:live:" + liveID }

func parseVideo(item *gabs.Container) (upstream.Video, bool) {
	no, ok := num(item, "videoNo")
	if !ok {
		return upstream.Video{}, false
	}

	publishedAt, ok := publishedTime(item)
	if !ok {
		return upstream.Video{}, false
	}

	videoNo := int64(no)

	v := upstream.Video{
		VideoID:      VideoID(videoNo),
		Title:        str(item, "videoTitle"),
		ThumbnailURL: str(item, "thumbnailImageUrl"),
		PublishedAt:  publishedAt,
		ContentType:  upstream.ContentVideo,
		VideoNo:      &videoNo,
	}

	if d, ok := num(item, "duration"); ok {
		seconds := int(d)
		v.DurationSeconds = &seconds
	}
	if n, ok := num(item, "readCount"); ok {
		v.ViewCount = int64(n)
	}
	if strings.EqualFold(str(item, "videoType"), "REPLAY") {
		v.ContentType = upstream.ContentVOD
	}

	return v, true
}

// publishedTime prefers the epoch millisecond field and falls back to the
// Seoul-local date string.
func publishedTime(item *gabs.Container) (time.Time, bool) {
	if ms, ok := num(item, "publishDateAt"); ok && ms > 0 {
		return time.UnixMilli(int64(ms)).UTC(), true
	}

	if t := parseLocalDate(str(item, "publishDate")); t != nil {
		return *t, true
	}

	return time.Time{}, false
}

func parseLocalDate(s string) *time.Time {
	if s == "" {
		return nil
	}

	t, err := time.ParseInLocation(dateFormat, s, retention.Location())
	if err != nil {
		return nil
	}

	t = t.UTC()

	return &t
}

func str(c *gabs.Container, path string) string {
	if c == nil {
		return ""
	}

	if s, ok := c.Path(path).Data().(string); ok {
		return s
	}

	return ""
}

func num(c *gabs.Container, path string) (float64, bool) {
	if c == nil {
		return 0, false
	}

	switch v := c.Path(path).Data().(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

var channelIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ExtractChannelID accepts a bare channel id or any chzzk.naver.com channel,
// live, or videos page URL.
func ExtractChannelID(urlOrID string) (string, error) {
	s := strings.TrimSpace(urlOrID)

	if channelIDPattern.MatchString(s) {
		return s, nil
	}

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("chzzk.ExtractChannelID: %q is neither a channel id nor a url", urlOrID)
	}

	if host := strings.TrimPrefix(u.Hostname(), "www."); host != "chzzk.naver.com" {
		return "", fmt.Errorf("chzzk.ExtractChannelID: unexpected host %q", u.Hostname())
	}

	for _, e := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if channelIDPattern.MatchString(e) {
			return e, nil
		}
	}

	return "", fmt.Errorf("chzzk.ExtractChannelID: no channel id found in %q", urlOrID)
}
