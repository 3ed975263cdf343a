package handlers

import (
	"net/http"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/batchsync"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/httputil"
)

// BatchSync runs a batch inline and answers with its summary.
func (a *API) BatchSync(rw http.ResponseWriter, r *http.Request) {
	vs, err := httputil.ReadValues(r)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	p, err := batchsync.DecodeParams(vs)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	req, err := p.Request()
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	res, err := a.Batch.Run(r.Context(), *req)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, res)
}

func (a *API) Purge(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.API.Purge"

	now, err := ctxclock.Now(r.Context())
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.Unknown, op, err))
		return
	}

	res, err := a.Store.Purge(r.Context(), now, a.RetentionDays, a.VODGraceDays)
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.StorageError, op, err))
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, res)
}
