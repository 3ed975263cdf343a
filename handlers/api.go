package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gost/godata"

	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/feed"
	"fknsrs.biz/p/feedsync/internal/httputil"
	"fknsrs.biz/p/feedsync/internal/store"
	"fknsrs.biz/p/feedsync/models"
)

type ChannelSyncer interface {
	Sync(ctx context.Context, channelID int, mode channelsync.Mode, force bool) (*channelsync.Result, error)
}

type FeedPager interface {
	Page(ctx context.Context, q feed.Query) (*feed.Page, error)
}

type BatchRunner interface {
	Run(ctx context.Context, req batchsync.Request) (*batchsync.Result, error)
}

type Store interface {
	ListChannels(ctx context.Context, q *godata.GoDataQuery) ([]models.ChannelSummary, error)
	CreateChannel(ctx context.Context, channel *models.Channel, now time.Time) error
	CreateCreator(ctx context.Context, creator *models.Creator, now time.Time) error
	BackfillUploadsPlaylist(ctx context.Context, channelID int, playlistID string) error
	Purge(ctx context.Context, now time.Time, windowDays, graceDays int) (*store.PurgeResult, error)
}

// API serves the JSON surface. The db, clock, logger, and job queue worker
// come from the request context.
type API struct {
	Store         Store
	Syncer        ChannelSyncer
	Pager         FeedPager
	Batch         BatchRunner
	RetentionDays int
	VODGraceDays  int
}

func (a *API) Routes(m *mux.Router) {
	m.Methods(http.MethodGet).Path("/api/feed").HandlerFunc(a.FeedPage)
	m.Methods(http.MethodGet).Path("/api/channels").HandlerFunc(a.ListChannels)
	m.Methods(http.MethodPost).Path("/api/channels").HandlerFunc(a.CreateChannel)
	m.Methods(http.MethodPost).Path("/api/channels/{id:[0-9]+}/sync").HandlerFunc(a.SyncChannel)
	m.Methods(http.MethodPost).Path("/api/creators").HandlerFunc(a.CreateCreator)
	m.Methods(http.MethodPost).Path("/api/sync/batch").HandlerFunc(a.BatchSync)
	m.Methods(http.MethodPost).Path("/api/purge").HandlerFunc(a.Purge)
	m.Methods(http.MethodGet).Path("/api/jobs").HandlerFunc(Jobs)
	m.Methods(http.MethodPost).Path("/api/jobs").HandlerFunc(EnqueueJob)
	m.Methods(http.MethodGet).Path("/api/jobs/events").HandlerFunc(JobsSSE)

	m.NotFoundHandler = http.HandlerFunc(httputil.NotFound)
}
