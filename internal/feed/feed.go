package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/monoculum/formam"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/cursor"
	"fknsrs.biz/p/feedsync/internal/store"
	"fknsrs.biz/p/feedsync/internal/stringutil"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Scope string

const (
	ScopeAll      = Scope("all")
	ScopeChannels = Scope("channels")
	ScopeCreator  = Scope("creator")
)

type Sort string

const (
	SortPublished = Sort("published")
	SortDaily     = Sort("daily")
	SortWeekly    = Sort("weekly")
)

type FilterType string

const (
	FilterAll   = FilterType("all")
	FilterVideo = FilterType("video")
	FilterShort = FilterType("short")
	FilterVOD   = FilterType("vod")
	FilterLive  = FilterType("live")
)

// cursor tags
const (
	kindLive      = "live"
	kindPublished = "published"
)

type Query struct {
	Scope      Scope             `formam:"scope"`
	ChannelIDs []int             `formam:"-"`
	CreatorID  *int              `formam:"creator_id"`
	Platform   upstream.Platform `formam:"platform"`
	Sort       Sort              `formam:"sort"`
	FilterType FilterType        `formam:"filter_type"`
	Limit      int               `formam:"limit"`
	Cursor     string            `formam:"cursor"`
}

var decoder = formam.NewDecoder(&formam.DecoderOptions{TagName: "formam", IgnoreUnknownKeys: true})

// DecodeQuery reads a Query from form values. Channel ids may be repeated
// or comma separated.
func DecodeQuery(vs url.Values) (*Query, error) {
	const op = "feed.DecodeQuery"

	ids, err := stringutil.SplitInts(vs["channel_ids"])
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, op, err)
	}

	rest := make(url.Values, len(vs))
	for k, v := range vs {
		if k != "channel_ids" {
			rest[k] = v
		}
	}

	var q Query
	if err := decoder.Decode(rest, &q); err != nil {
		return nil, apperr.New(apperr.InvalidInput, op, err)
	}
	q.ChannelIDs = ids

	return &q, nil
}

// Normalise fills defaults and rejects anything malformed before any I/O.
// Limits above MaxLimit are clamped.
func (q *Query) Normalise() error {
	const op = "feed.Query.Normalise"

	q.Scope = Scope(strings.ToLower(string(q.Scope)))
	switch q.Scope {
	case "":
		q.Scope = ScopeAll
	case ScopeAll, ScopeChannels:
	case ScopeCreator:
		if q.CreatorID == nil {
			return apperr.Errorf(apperr.InvalidInput, op, "creator scope needs a creator id")
		}
	default:
		return apperr.Errorf(apperr.InvalidInput, op, "unrecognised scope %q", q.Scope)
	}

	if q.Platform != "" {
		p, err := upstream.ParsePlatform(string(q.Platform))
		if err != nil {
			return apperr.New(apperr.InvalidInput, op, err)
		}
		q.Platform = p
	}

	q.Sort = Sort(strings.ToLower(string(q.Sort)))
	switch q.Sort {
	case "":
		q.Sort = SortPublished
	case SortPublished, SortDaily, SortWeekly:
	default:
		return apperr.Errorf(apperr.InvalidInput, op, "unrecognised sort %q", q.Sort)
	}

	q.FilterType = FilterType(strings.ToLower(string(q.FilterType)))
	switch q.FilterType {
	case "":
		q.FilterType = FilterAll
	case FilterAll, FilterVideo, FilterShort, FilterVOD, FilterLive:
	default:
		return apperr.Errorf(apperr.InvalidInput, op, "unrecognised filter type %q", q.FilterType)
	}

	switch {
	case q.Limit < 0:
		return apperr.Errorf(apperr.InvalidInput, op, "limit must not be negative")
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}

	return nil
}

type Channel struct {
	ID           int    `json:"id"`
	Platform     string `json:"platform"`
	ExternalID   string `json:"externalId"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl"`
	URL          string `json:"url"`
	IsLive       bool   `json:"isLive"`
}

type Item struct {
	VideoID         string    `json:"videoId"`
	Title           string    `json:"title"`
	ThumbnailURL    string    `json:"thumbnailUrl"`
	URL             string    `json:"url"`
	PublishedAt     time.Time `json:"publishedAt"`
	DurationSeconds *int      `json:"durationSeconds"`
	ViewCount       int64     `json:"viewCount"`
	LikeCount       int64     `json:"likeCount"`
	ContentType     string    `json:"contentType"`
	IsLive          bool      `json:"isLive"`
	ViewDelta       *int64    `json:"viewDelta,omitempty"`
	Channel         Channel   `json:"channel"`
}

type Page struct {
	Items   []Item  `json:"items"`
	HasMore bool    `json:"hasMore"`
	Cursor  *string `json:"cursor"`
}

func emptyPage() *Page {
	return &Page{Items: []Item{}}
}

type Store interface {
	ChannelIDs(ctx context.Context, f store.ScopeFilter) ([]int, error)
	ChannelsByIDs(ctx context.Context, ids []int) (map[int]*models.Channel, error)
	PublishedPage(ctx context.Context, q store.VideoQuery, pivot string) (*store.VideoPage, error)
	RankedPage(ctx context.Context, q store.VideoQuery, window store.RankWindow, pivot *store.RankPivot) (*store.VideoPage, error)
	LiveChannels(ctx context.Context, ids []int, pivot *store.LivePivot, limit int) ([]models.Channel, error)
	LiveSessions(ctx context.Context, channelIDs []int) (map[int]*models.Video, error)
}

type Engine struct {
	store Store
}

func New(st Store) *Engine {
	return &Engine{store: st}
}

// Page resolves the scope, then reads one page with the strategy the filter
// and sort pick: live channels, published order, or view delta ranking.
func (e *Engine) Page(ctx context.Context, q Query) (*Page, error) {
	const op = "feed.Engine.Page"

	if err := q.Normalise(); err != nil {
		return nil, err
	}

	ids, err := e.resolveScope(ctx, q)
	if err != nil {
		return nil, e.storageError(ctx, op, err)
	}

	if len(ids) == 0 {
		return emptyPage(), nil
	}

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"feed.scope":       string(q.Scope),
		"feed.sort":        string(q.Sort),
		"feed.filter_type": string(q.FilterType),
		"feed.limit":       q.Limit,
		"feed.channels":    len(ids),
	})

	var page *Page
	switch {
	case q.FilterType == FilterLive:
		page, err = e.livePage(ctx, ids, q)
	case q.Sort == SortPublished:
		page, err = e.publishedPage(ctx, ids, q)
	default:
		page, err = e.rankedPage(ctx, ids, q)
	}
	if err != nil {
		l.WithError(err).Warn("could not read feed page")
		return nil, e.storageError(ctx, op, err)
	}

	// a cancelled caller gets nothing rather than a partial page
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.UpstreamTransient, op, err)
	}

	l.WithFields(logrus.Fields{
		"feed.items":    len(page.Items),
		"feed.has_more": page.HasMore,
	}).Debug("read feed page")

	return page, nil
}

func (e *Engine) storageError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return apperr.New(apperr.UpstreamTransient, op, err)
	}

	return apperr.New(apperr.StorageError, op, err)
}

func (e *Engine) resolveScope(ctx context.Context, q Query) ([]int, error) {
	switch q.Scope {
	case ScopeChannels:
		return q.ChannelIDs, nil
	case ScopeCreator:
		return e.store.ChannelIDs(ctx, store.ScopeFilter{CreatorID: q.CreatorID, Platform: q.Platform})
	default:
		return e.store.ChannelIDs(ctx, store.ScopeFilter{Platform: q.Platform})
	}
}

func contentType(f FilterType) upstream.ContentType {
	switch f {
	case FilterVideo:
		return upstream.ContentVideo
	case FilterShort:
		return upstream.ContentShort
	case FilterVOD:
		return upstream.ContentVOD
	default:
		return ""
	}
}

func encodeCursor(kind string, payload interface{}) (*string, error) {
	s, err := cursor.EncodeTagged(kind, payload)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func (e *Engine) livePage(ctx context.Context, ids []int, q Query) (*Page, error) {
	var pivot *store.LivePivot
	var p store.LivePivot
	if cursor.DecodeTagged(q.Cursor, kindLive, &p) && p.ChannelID != 0 {
		pivot = &p
	}

	channels, err := e.store.LiveChannels(ctx, ids, pivot, q.Limit+1)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.livePage: %w", err)
	}

	page := emptyPage()
	if len(channels) > q.Limit {
		channels = channels[:q.Limit]
		page.HasMore = true
	}

	if len(channels) == 0 {
		return page, nil
	}

	channelIDs := make([]int, len(channels))
	for i, c := range channels {
		channelIDs[i] = c.ID
	}

	sessions, err := e.store.LiveSessions(ctx, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.livePage: %w", err)
	}

	for i := range channels {
		c := &channels[i]

		item := Item{
			VideoID:      c.Platform + ":live:" + c.ExternalID,
			Title:        c.Title,
			ThumbnailURL: c.ThumbnailURL,
			URL:          upstream.CanonicalLiveURL(upstream.Platform(c.Platform), c.ExternalID),
			ContentType:  string(upstream.ContentLive),
			IsLive:       true,
			Channel:      channelInfo(c),
		}
		if c.LiveStateUpdatedAt != nil {
			item.PublishedAt = *c.LiveStateUpdatedAt
		}

		if v, ok := sessions[c.ID]; ok {
			item.VideoID = v.VideoID
			item.Title = v.Title
			item.ThumbnailURL = v.ThumbnailURL
			item.PublishedAt = v.PublishedAt
			item.ViewCount = v.ViewCount
			item.LikeCount = v.LikeCount
		}

		page.Items = append(page.Items, item)
	}

	if page.HasMore {
		last := channels[len(channels)-1]
		if last.LiveStateUpdatedAt != nil {
			next, err := encodeCursor(kindLive, store.LivePivot{UpdatedAt: *last.LiveStateUpdatedAt, ChannelID: last.ID})
			if err != nil {
				return nil, fmt.Errorf("feed.Engine.livePage: %w", err)
			}
			page.Cursor = next
		}
	}

	return page, nil
}

func (e *Engine) publishedPage(ctx context.Context, ids []int, q Query) (*Page, error) {
	var pivot string
	if !cursor.DecodeTagged(q.Cursor, kindPublished, &pivot) {
		pivot = ""
	}

	vp, err := e.store.PublishedPage(ctx, store.VideoQuery{
		ChannelIDs:  ids,
		ContentType: contentType(q.FilterType),
		Limit:       q.Limit,
	}, pivot)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.publishedPage: %w", err)
	}

	page, err := e.hydrate(ctx, vp.Videos, nil)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.publishedPage: %w", err)
	}

	page.HasMore = vp.HasMore
	if vp.HasMore && vp.Next != "" {
		if page.Cursor, err = encodeCursor(kindPublished, vp.Next); err != nil {
			return nil, fmt.Errorf("feed.Engine.publishedPage: %w", err)
		}
	}

	return page, nil
}

func (e *Engine) rankedPage(ctx context.Context, ids []int, q Query) (*Page, error) {
	window := store.RankDaily
	if q.Sort == SortWeekly {
		window = store.RankWeekly
	}

	var pivot *store.RankPivot
	var p store.RankPivot
	if cursor.DecodeTagged(q.Cursor, string(q.Sort), &p) && p.VideoID != "" {
		pivot = &p
	}

	vp, err := e.store.RankedPage(ctx, store.VideoQuery{
		ChannelIDs:  ids,
		ContentType: contentType(q.FilterType),
		Limit:       q.Limit,
	}, window, pivot)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.rankedPage: %w", err)
	}

	page, err := e.hydrate(ctx, vp.Videos, &window)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.rankedPage: %w", err)
	}

	page.HasMore = vp.HasMore
	if vp.HasMore && len(vp.Videos) > 0 {
		last := vp.Videos[len(vp.Videos)-1]
		if page.Cursor, err = encodeCursor(string(q.Sort), store.RankPivot{
			Delta:       window.Delta(last),
			PublishedAt: last.PublishedAt,
			VideoID:     last.VideoID,
		}); err != nil {
			return nil, fmt.Errorf("feed.Engine.rankedPage: %w", err)
		}
	}

	return page, nil
}

// hydrate turns cached rows into items, loading every owning channel in one
// lookup.
func (e *Engine) hydrate(ctx context.Context, videos []models.Video, window *store.RankWindow) (*Page, error) {
	page := emptyPage()
	if len(videos) == 0 {
		return page, nil
	}

	seen := make(map[int]bool)
	var channelIDs []int
	for _, v := range videos {
		if !seen[v.ChannelID] {
			seen[v.ChannelID] = true
			channelIDs = append(channelIDs, v.ChannelID)
		}
	}
	sort.Ints(channelIDs)

	channels, err := e.store.ChannelsByIDs(ctx, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("feed.Engine.hydrate: %w", err)
	}

	for _, v := range videos {
		item := Item{
			VideoID:         v.VideoID,
			Title:           v.Title,
			ThumbnailURL:    v.ThumbnailURL,
			PublishedAt:     v.PublishedAt,
			DurationSeconds: v.DurationSeconds,
			ViewCount:       v.ViewCount,
			LikeCount:       v.LikeCount,
			ContentType:     v.ContentType,
			IsLive:          v.IsLive,
			Channel:         Channel{ID: v.ChannelID},
		}

		if window != nil {
			d := window.Delta(v)
			item.ViewDelta = &d
		}

		if c, ok := channels[v.ChannelID]; ok {
			item.Channel = channelInfo(c)
			item.URL = upstream.CanonicalVideoURL(upstream.Platform(c.Platform), v.VideoID, upstream.ContentType(v.ContentType), v.VideoNo, c.ExternalID)
		}

		page.Items = append(page.Items, item)
	}

	return page, nil
}

func channelInfo(c *models.Channel) Channel {
	return Channel{
		ID:           c.ID,
		Platform:     c.Platform,
		ExternalID:   c.ExternalID,
		Title:        c.Title,
		ThumbnailURL: c.ThumbnailURL,
		URL:          c.URL(),
		IsLive:       c.IsLive,
	}
}
