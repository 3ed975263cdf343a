package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"fknsrs.biz/p/feedsync/internal/ctxdb"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/jobqueue"
)

const jobEventsInterval = time.Second * 2

type JobUpdate struct {
	ID                int    `json:"id"`
	QueueName         string `json:"queueName"`
	Payload           string `json:"payload"`
	Status            string `json:"status"`
	AttemptsRemaining int    `json:"attemptsRemaining"`
	LastError         string `json:"lastError,omitempty"`
}

func jobUpdate(job jobqueue.Job) JobUpdate {
	u := JobUpdate{
		ID:                job.ID,
		QueueName:         job.QueueName,
		Payload:           job.Payload,
		Status:            "pending",
		AttemptsRemaining: job.AttemptsRemaining,
	}

	switch {
	case job.FinishedAt != nil:
		u.Status = "finished"
	case job.ReservedAt != nil:
		u.Status = "running"
	}

	if n := len(job.ErrorMessages); n > 0 {
		u.LastError = job.ErrorMessages[n-1]
	}

	return u
}

// JobsSSE streams changes to unfinished jobs as server-sent events. A job
// that leaves the pending list is reported once as finished.
func JobsSSE(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("content-type", "text/event-stream")
	rw.Header().Set("cache-control", "no-cache")
	rw.Header().Set("connection", "keep-alive")

	ctx := r.Context()

	last := make(map[int]JobUpdate)

	ticker := time.NewTicker(jobEventsInterval)
	defer ticker.Stop()

	for {
		jobs, err := jobqueue.Pending(ctx, ctxdb.GetDB(ctx), 100)
		if err != nil {
			ctxlogger.GetLogger(ctx).WithError(err).Warn("could not read pending jobs for event stream")
		} else {
			seen := make(map[int]bool)

			var updates []JobUpdate
			for _, job := range jobs {
				seen[job.ID] = true

				u := jobUpdate(job)
				if prev, ok := last[job.ID]; !ok || prev != u {
					updates = append(updates, u)
					last[job.ID] = u
				}
			}

			for id, prev := range last {
				if !seen[id] {
					prev.Status = "finished"
					updates = append(updates, prev)
					delete(last, id)
				}
			}

			for _, u := range updates {
				data, err := json.Marshal(u)
				if err != nil {
					continue
				}

				fmt.Fprintf(rw, "data: %s\n\n", data)
			}

			if f, ok := rw.(http.Flusher); ok && len(updates) > 0 {
				f.Flush()
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
