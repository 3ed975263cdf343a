package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/channelsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/ctxjobqueue"
	"fknsrs.biz/p/feedsync/internal/feed"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
	"fknsrs.biz/p/feedsync/internal/schema"
	"fknsrs.biz/p/feedsync/internal/store"
	"fknsrs.biz/p/feedsync/internal/upstream"
	"fknsrs.biz/p/feedsync/models"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

const chzzkID = "0123456789abcdef0123456789abcdef"

type fakeSyncer struct {
	err   error
	calls []syncInput
}

func (s *fakeSyncer) Sync(ctx context.Context, channelID int, mode channelsync.Mode, force bool) (*channelsync.Result, error) {
	s.calls = append(s.calls, syncInput{Mode: string(mode), Force: force})
	if s.err != nil {
		return nil, s.err
	}
	until := t0.Add(time.Minute * 5)
	return &channelsync.Result{ChannelID: channelID, Mode: mode, Fetched: 2, Upserted: 2, CooldownUntil: &until}, nil
}

type fakePager struct {
	err     error
	queries []feed.Query
}

func (p *fakePager) Page(ctx context.Context, q feed.Query) (*feed.Page, error) {
	p.queries = append(p.queries, q)
	if p.err != nil {
		return nil, p.err
	}
	return &feed.Page{Items: []feed.Item{{VideoID: "v1"}}, HasMore: false}, nil
}

type fakeBatch struct {
	reqs []batchsync.Request
}

func (b *fakeBatch) Run(ctx context.Context, req batchsync.Request) (*batchsync.Result, error) {
	b.reqs = append(b.reqs, req)
	return &batchsync.Result{ID: "batch", Total: len(req.ChannelIDs), Succeeded: len(req.ChannelIDs), Failures: []batchsync.Failure{}}, nil
}

type harness struct {
	router *mux.Router
	store  *store.Store
	syncer *fakeSyncer
	pager  *fakePager
	batch  *fakeBatch
	worker *jobqueue.Worker
}

func newHarness(t *testing.T) *harness {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db")+"?_busy_timeout=5000&_foreign_keys=1")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, schema.Migrate(context.Background(), db))

	h := &harness{
		store:  store.New(db),
		syncer: &fakeSyncer{},
		pager:  &fakePager{},
		batch:  &fakeBatch{},
		worker: jobqueue.NewWorker(map[string]jobqueue.WorkerFunction{
			"channel_sync": func(ctx context.Context, w *jobqueue.Worker, j *jobqueue.Job) (string, error) { return "", nil },
		}),
	}

	api := &API{
		Store:         h.store,
		Syncer:        h.syncer,
		Pager:         h.pager,
		Batch:         h.batch,
		RetentionDays: 3,
		VODGraceDays:  4,
	}

	h.router = mux.NewRouter()
	h.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			ctx := ctxdb.WithDB(r.Context(), db)
			ctx = ctxclock.WithClock(ctx, ctxclock.NewStaticClock(t0))
			ctx = ctxjobqueue.WithWorker(ctx, h.worker)
			next.ServeHTTP(rw, r.WithContext(ctx))
		})
	})
	api.Routes(h.router)

	return h
}

func (h *harness) do(t *testing.T, method, target, contentType, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		r.Header.Set("content-type", contentType)
	}

	rw := httptest.NewRecorder()
	h.router.ServeHTTP(rw, r)

	var out map[string]interface{}
	if rw.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &out), rw.Body.String())
	}

	return rw, out
}

const form = "application/x-www-form-urlencoded"

func errorKind(out map[string]interface{}) string {
	if e, ok := out["error"].(map[string]interface{}); ok {
		s, _ := e["kind"].(string)
		return s
	}
	return ""
}

func TestSyncChannel(t *testing.T) {
	for _, tc := range []struct {
		name       string
		body       string
		err        error
		status     int
		kind       string
		retryAfter string
	}{
		{"ok", "mode=full&force=1", nil, http.StatusOK, "", ""},
		{"cooldown", "", apperr.NewCooldown("x", t0.Add(time.Second*90)), http.StatusTooManyRequests, "COOLDOWN", "90"},
		{"missing", "", apperr.Errorf(apperr.NotFound, "x", "no channel"), http.StatusNotFound, "NOT_FOUND", ""},
		{"bad mode", "mode=deep", nil, http.StatusBadRequest, "INVALID_INPUT", ""},
		{"upstream", "", apperr.Errorf(apperr.SyncFailed, "x", "broke"), http.StatusBadGateway, "SYNC_FAILED", ""},
		{"storage", "", apperr.Errorf(apperr.StorageError, "x", "disk"), http.StatusInternalServerError, "STORAGE_ERROR", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			h := newHarness(t)
			h.syncer.err = tc.err

			rw, out := h.do(t, http.MethodPost, "/api/channels/5/sync", form, tc.body)
			a.Equal(tc.status, rw.Code)
			a.Equal(tc.kind, errorKind(out))
			a.Equal(tc.retryAfter, rw.Header().Get("retry-after"))

			if tc.status == http.StatusOK {
				a.Equal([]syncInput{{Mode: "full", Force: true}}, h.syncer.calls)
				a.NotNil(out["stats"])
				a.NotNil(out["cooldownUntil"])
			}
		})
	}
}

func TestSyncChannelJSONBody(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	rw, _ := h.do(t, http.MethodPost, "/api/channels/5/sync", "application/json", `{"mode":"recent","force":true}`)
	a.Equal(http.StatusOK, rw.Code)
	a.Equal([]syncInput{{Mode: "recent", Force: true}}, h.syncer.calls)

	rw, out := h.do(t, http.MethodPost, "/api/channels/5/sync", "application/json", `[1,2]`)
	a.Equal(http.StatusBadRequest, rw.Code)
	a.Equal("INVALID_INPUT", errorKind(out))
}

func TestFeedPage(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	rw, out := h.do(t, http.MethodGet, "/api/feed?scope=channels&channel_ids=1,2&sort=weekly&limit=10", "", "")
	a.Equal(http.StatusOK, rw.Code)
	a.Len(out["items"], 1)
	a.Equal(false, out["hasMore"])
	a.Nil(out["retry"])

	require.Len(t, h.pager.queries, 1)
	a.Equal([]int{1, 2}, h.pager.queries[0].ChannelIDs)
	a.Equal(feed.SortWeekly, h.pager.queries[0].Sort)

	rw, out = h.do(t, http.MethodGet, "/api/feed?channel_ids=x", "", "")
	a.Equal(http.StatusBadRequest, rw.Code)
	a.Equal("INVALID_INPUT", errorKind(out))

	h.pager.err = apperr.Errorf(apperr.InvalidInput, "x", "bad sort")
	rw, _ = h.do(t, http.MethodGet, "/api/feed?sort=sideways", "", "")
	a.Equal(http.StatusBadRequest, rw.Code)

	for _, kind := range []apperr.Kind{apperr.StorageError, apperr.UpstreamTransient} {
		h.pager.err = apperr.Errorf(kind, "x", "try later")
		rw, out = h.do(t, http.MethodGet, "/api/feed", "", "")
		a.Equal(http.StatusOK, rw.Code)
		a.Equal(true, out["retry"])
		a.Equal([]interface{}{}, out["items"])
		a.Nil(out["cursor"])
	}
}

func TestCreateChannelAndCreator(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	rw, out := h.do(t, http.MethodPost, "/api/creators", "application/json", `{"name":"someone"}`)
	require.Equal(t, http.StatusCreated, rw.Code)
	creatorID := int(out["creator"].(map[string]interface{})["id"].(float64))

	rw, out = h.do(t, http.MethodPost, "/api/channels", "application/json",
		`{"platform":"chzzk","external_id":"https://chzzk.naver.com/live/`+chzzkID+`","creator_id":`+jsonInt(creatorID)+`}`)
	require.Equal(t, http.StatusCreated, rw.Code, "%v", out)
	ch := out["channel"].(map[string]interface{})
	a.Equal(chzzkID, ch["externalId"])
	a.Equal(float64(creatorID), ch["creatorId"])

	rw, out = h.do(t, http.MethodPost, "/api/channels", form, "platform=chzzk&external_id="+chzzkID)
	a.Equal(http.StatusConflict, rw.Code)
	a.Equal("INVALID_INPUT", errorKind(out))

	const ytID = "UCabcdefghijklmnopqrstuv"
	rw, out = h.do(t, http.MethodPost, "/api/channels", form, "platform=youtube&external_id="+url.QueryEscape("https://www.youtube.com/channel/"+ytID))
	require.Equal(t, http.StatusCreated, rw.Code, "%v", out)
	ch = out["channel"].(map[string]interface{})
	a.Equal(ytID, ch["externalId"])
	a.Equal("UUabcdefghijklmnopqrstuv", ch["uploadsPlaylistId"])

	stored, err := h.store.ChannelByPlatformExternal(context.Background(), upstream.YouTube, ytID)
	require.NoError(t, err)
	a.Equal("UUabcdefghijklmnopqrstuv", stored.UploadsPlaylistID)

	for _, body := range []string{
		"platform=vimeo&external_id=x",
		"platform=chzzk",
		"platform=chzzk&external_id=nope",
		"platform=chzzk&external_id=" + strings.Repeat("f", 32) + "&creator_id=999",
	} {
		rw, out = h.do(t, http.MethodPost, "/api/channels", form, body)
		a.Equal(http.StatusBadRequest, rw.Code, body)
		a.Equal("INVALID_INPUT", errorKind(out), body)
	}

	rw, _ = h.do(t, http.MethodPost, "/api/creators", form, "")
	a.Equal(http.StatusBadRequest, rw.Code)
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestListChannels(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	for _, c := range []models.Channel{
		{Platform: "youtube", ExternalID: "UCaaaaaaaaaaaaaaaaaaaaaa", Title: "alpha"},
		{Platform: "chzzk", ExternalID: chzzkID, Title: "beta"},
	} {
		c := c
		require.NoError(t, h.store.CreateChannel(context.Background(), &c, t0))
	}

	rw, out := h.do(t, http.MethodGet, "/api/channels", "", "")
	a.Equal(http.StatusOK, rw.Code)
	a.Len(out["channels"], 2)

	rw, out = h.do(t, http.MethodGet, "/api/channels?"+url.Values{"$filter": {"platform eq 'chzzk'"}}.Encode(), "", "")
	a.Equal(http.StatusOK, rw.Code)
	if a.Len(out["channels"], 1) {
		a.Equal("beta", out["channels"].([]interface{})[0].(map[string]interface{})["title"])
	}

	rw, out = h.do(t, http.MethodGet, "/api/channels?"+url.Values{"$orderby": {"externalId asc"}}.Encode(), "", "")
	a.Equal(http.StatusOK, rw.Code)
	if a.Len(out["channels"], 2) {
		a.Equal(chzzkID, out["channels"].([]interface{})[0].(map[string]interface{})["externalId"])
	}

	rw, out = h.do(t, http.MethodGet, "/api/channels?"+url.Values{"$filter": {"nothing eq 'x'"}}.Encode(), "", "")
	a.Equal(http.StatusBadRequest, rw.Code)
	a.Equal("INVALID_INPUT", errorKind(out))
}

func TestBatchSync(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	rw, out := h.do(t, http.MethodPost, "/api/sync/batch", "application/json", `{"channel_ids":[3,4],"mode":"full","verbose":true}`)
	a.Equal(http.StatusOK, rw.Code)
	a.Equal(float64(2), out["total"])

	require.Len(t, h.batch.reqs, 1)
	a.Equal(batchsync.Request{ChannelIDs: []int{3, 4}, Mode: channelsync.Full, Verbose: true}, h.batch.reqs[0])

	rw, out = h.do(t, http.MethodPost, "/api/sync/batch", form, "older_than=whenever")
	a.Equal(http.StatusBadRequest, rw.Code)
	a.Equal("INVALID_INPUT", errorKind(out))
}

func TestPurge(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	c := models.Channel{Platform: "chzzk", ExternalID: chzzkID}
	require.NoError(t, h.store.CreateChannel(context.Background(), &c, t0))

	_, err := h.store.UpsertVideos(context.Background(), c.ID, []upstream.Video{
		{VideoID: "chzzk:1", PublishedAt: t0.Add(-time.Hour * 24 * 10), ContentType: upstream.ContentVideo},
		{VideoID: "chzzk:2", PublishedAt: t0, ContentType: upstream.ContentVideo},
	}, t0)
	require.NoError(t, err)

	rw, out := h.do(t, http.MethodPost, "/api/purge", "", "")
	a.Equal(http.StatusOK, rw.Code)
	a.Equal(float64(1), out["deleted"])
	a.NotEmpty(out["cutoff"])
}

func TestJobs(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	rw, out := h.do(t, http.MethodPost, "/api/jobs", form, "queue_name=channel_sync&payload="+url.QueryEscape("5?mode=full"))
	a.Equal(http.StatusAccepted, rw.Code)
	a.Equal("5?mode=full", out["job"].(map[string]interface{})["payload"])

	rw, out = h.do(t, http.MethodGet, "/api/jobs", "", "")
	a.Equal(http.StatusOK, rw.Code)
	a.Len(out["jobs"], 1)

	rw, out = h.do(t, http.MethodPost, "/api/jobs", form, "queue_name=nothing")
	a.Equal(http.StatusBadRequest, rw.Code)
	a.Equal("INVALID_INPUT", errorKind(out))
}

func TestNotFound(t *testing.T) {
	a := assert.New(t)

	h := newHarness(t)

	rw, out := h.do(t, http.MethodGet, "/api/nothing", "", "")
	a.Equal(http.StatusNotFound, rw.Code)
	a.Equal("NOT_FOUND", errorKind(out))
}

func TestJobUpdate(t *testing.T) {
	a := assert.New(t)

	now := t0

	a.Equal("pending", jobUpdate(jobqueue.Job{}).Status)
	a.Equal("running", jobUpdate(jobqueue.Job{ReservedAt: &now}).Status)
	a.Equal("finished", jobUpdate(jobqueue.Job{ReservedAt: &now, FinishedAt: &now}).Status)
	a.Equal("boom", jobUpdate(jobqueue.Job{ErrorMessages: []string{"", "boom"}}).LastError)
}
