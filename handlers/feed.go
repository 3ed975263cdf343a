package handlers

import (
	"net/http"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/feed"
	"fknsrs.biz/p/feedsync/internal/httputil"
)

type feedResponse struct {
	*feed.Page
	Retry bool `json:"retry,omitempty"`
}

// FeedPage answers storage and transient failures with an empty page and a
// retry hint, so clients keep what they have already rendered.
func (a *API) FeedPage(rw http.ResponseWriter, r *http.Request) {
	q, err := feed.DecodeQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	page, err := a.Pager.Page(r.Context(), *q)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.InvalidInput:
			httputil.WriteError(rw, r, err)
		default:
			ctxlogger.GetLogger(r.Context()).WithError(err).Warn("feed read failed; answering with an empty page")
			httputil.WriteJSON(rw, http.StatusOK, feedResponse{
				Page:  &feed.Page{Items: []feed.Item{}},
				Retry: true,
			})
		}
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, feedResponse{Page: page})
}
