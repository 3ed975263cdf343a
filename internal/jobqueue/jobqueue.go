package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"fknsrs.biz/p/sorm"

	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/sqltypes"
)

// ParsePayload splits a payload like "12?mode=full" into its subject and
// its options.
func ParsePayload(s string) (string, url.Values, error) {
	if !strings.Contains(s, "?") {
		return s, url.Values{}, nil
	}

	a := strings.SplitN(s, "?", 2)

	m, err := url.ParseQuery(a[1])
	if err != nil {
		return a[0], url.Values{}, err
	}

	return a[0], m, nil
}

func FormatPayload(s string, m url.Values) string {
	if len(m) == 0 {
		return s
	}

	return s + "?" + m.Encode()
}

const (
	DefaultFailureDelay      = time.Second * 5
	DefaultAttempts          = 5
	DefaultReservation       = time.Minute * 5
	maxMessagesKeptPerRecord = 20
)

// job definition

type Job struct {
	ID                int                      `sql:",table:jobs" json:"id"`
	CreatedAt         time.Time                `json:"createdAt"`
	QueueName         string                   `json:"queueName"`
	Payload           string                   `json:"payload"`
	RunAfter          time.Time                `json:"runAfter"`
	FailureDelay      time.Duration            `json:"failureDelay"`
	AttemptsRemaining int                      `json:"attemptsRemaining"`
	ReservedAt        *time.Time               `json:"reservedAt,omitempty"`
	ReservedUntil     *time.Time               `json:"reservedUntil,omitempty"`
	FinishedAt        *time.Time               `json:"finishedAt,omitempty"`
	ErrorMessages     sqltypes.JSONStringSlice `json:"errorMessages"`
	OutputMessages    sqltypes.JSONStringSlice `json:"outputMessages"`
}

func now(ctx context.Context) time.Time {
	t, err := ctxclock.Now(ctx)
	if err != nil {
		t = time.Now()
	}

	return sqltypes.Time(t)
}

func init() {
	sorm.SetParameterPrefix("?")
}

func findNext(ctx context.Context, db sorm.Querier, queueNames []string, now time.Time) (*Job, error) {
	if len(queueNames) == 0 {
		return nil, nil
	}

	var parameters []interface{}
	var placeholders []string
	var ranks []string

	for i := range queueNames {
		parameters = append(parameters, queueNames[i])
		placeholders = append(placeholders, fmt.Sprintf("?%d", i+1))
		ranks = append(ranks, fmt.Sprintf("when ?%d then %d", i+1, i))
	}

	parameters = append(parameters, now)

	query := fmt.Sprintf(
		"where queue_name in (%s) and run_after <= ?%d and (reserved_until is null or reserved_until < ?%d) and finished_at is null order by case queue_name %s end asc, run_after asc, id asc",
		strings.Join(placeholders, ", "),
		len(parameters),
		len(parameters),
		strings.Join(ranks, " "),
	)

	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, query, parameters...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}

		return nil, fmt.Errorf("jobqueue.findNext: could not find pending job record: %w", err)
	}

	return &job, nil
}

func reserve(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, reserveDuration time.Duration) error {
	if job.ReservedUntil != nil && job.ReservedUntil.After(now) {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job with a non-expired reservation")
	}
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.reserve: can't reserve a job that has already finished")
	}

	if reserveDuration == 0 {
		reserveDuration = DefaultReservation
	}

	reservedUntil := now.Add(reserveDuration)
	job.ReservedAt = &now
	job.ReservedUntil = &reservedUntil

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.reserve: could not save job record: %w", err)
	}

	return nil
}

func findNextAndReserve(ctx context.Context, tx *sql.Tx, queueNames []string, now time.Time, reserveDuration time.Duration) (*Job, error) {
	j, err := findNext(ctx, tx, queueNames, now)
	if err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not find next job: %w", err)
	}

	if j == nil {
		return nil, nil
	}

	if err := reserve(ctx, tx, j, now, reserveDuration); err != nil {
		return nil, fmt.Errorf("jobqueue.findNextAndReserve: could not reserve job: %w", err)
	}

	return j, nil
}

func appendBounded(a sqltypes.JSONStringSlice, s string) sqltypes.JSONStringSlice {
	a = append(a, s)
	if len(a) > maxMessagesKeptPerRecord {
		a = a[len(a)-maxMessagesKeptPerRecord:]
	}

	return a
}

func finish(ctx context.Context, tx *sql.Tx, job *Job, now time.Time, errorMessage, outputMessage string) error {
	if job.FinishedAt != nil {
		return fmt.Errorf("jobqueue.finish: can't finish a job that has already finished")
	}

	job.FinishedAt = &now
	job.ErrorMessages = appendBounded(job.ErrorMessages, errorMessage)
	job.OutputMessages = appendBounded(job.OutputMessages, outputMessage)

	if errorMessage != "" && job.AttemptsRemaining > 0 {
		job.AttemptsRemaining--
		job.RunAfter = now.Add(job.FailureDelay)
		job.ReservedAt = nil
		job.ReservedUntil = nil
		job.FinishedAt = nil
	}

	if err := sorm.SaveRecord(ctx, tx, job); err != nil {
		return fmt.Errorf("jobqueue.finish: could not save job record: %w", err)
	}

	return nil
}

// Pending lists unfinished jobs, newest first.
func Pending(ctx context.Context, db sorm.Querier, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}

	jobs := []Job{}
	if err := sorm.FindWhere(ctx, db, &jobs, "where finished_at is null order by id desc limit ?", limit); err != nil {
		return nil, fmt.Errorf("jobqueue.Pending: %w", err)
	}

	return jobs, nil
}

// HasPending reports whether an unfinished job with this queue and payload
// already exists.
func HasPending(ctx context.Context, db sorm.Querier, queueName, payload string) (bool, error) {
	var job Job
	if err := sorm.FindFirstWhere(ctx, db, &job, "where queue_name = ? and payload = ? and finished_at is null", queueName, payload); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}

		return false, fmt.Errorf("jobqueue.HasPending: %w", err)
	}

	return true, nil
}
