package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/ctxjobqueue"
	"fknsrs.biz/p/feedsync/internal/httputil"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
)

func Jobs(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.Jobs"

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := jobqueue.Pending(r.Context(), ctxdb.GetDB(r.Context()), limit)
	if err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.StorageError, op, err))
		return
	}

	httputil.WriteJSON(rw, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

type enqueueInput struct {
	QueueName string `formam:"queue_name"`
	Payload   string `formam:"payload"`
	Attempts  int    `formam:"attempts"`
}

// EnqueueJob adds a job to a named queue, e.g. queue_name=channel_sync with
// payload=12?mode=full.
func EnqueueJob(rw http.ResponseWriter, r *http.Request) {
	const op = "handlers.EnqueueJob"

	vs, err := httputil.ReadValues(r)
	if err != nil {
		httputil.WriteError(rw, r, err)
		return
	}

	var input enqueueInput
	if err := decoder.Decode(vs, &input); err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}
	if input.QueueName == "" {
		httputil.WriteError(rw, r, apperr.Errorf(apperr.InvalidInput, op, "queue_name is required"))
		return
	}
	if _, _, err := jobqueue.ParsePayload(input.Payload); err != nil {
		httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
		return
	}

	job := jobqueue.Job{
		QueueName:         input.QueueName,
		Payload:           input.Payload,
		AttemptsRemaining: input.Attempts,
	}

	if err := ctxjobqueue.Enqueue(r.Context(), &job); err != nil {
		if errors.Is(err, jobqueue.ErrWorkerDoesNotExist) {
			httputil.WriteError(rw, r, apperr.New(apperr.InvalidInput, op, err))
			return
		}

		httputil.WriteError(rw, r, apperr.New(apperr.StorageError, op, err))
		return
	}

	httputil.WriteJSON(rw, http.StatusAccepted, map[string]interface{}{"job": job})
}
