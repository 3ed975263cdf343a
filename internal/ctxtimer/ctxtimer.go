package ctxtimer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
)

var (
	ErrNoTimer = fmt.Errorf("ctxtimer: no timer in context")
	ErrNoMark  = fmt.Errorf("ctxtimer: no mark with this name")
)

const (
	// RequestMark is set by AddLoggerHooks when a request starts.
	RequestMark = "http.request"
	// JobMark is set by the job queue worker when a job starts.
	JobMark = "job.run"
	// BatchMark is set by batchsync when a batch starts.
	BatchMark = "batch.run"
)

// Timer holds named start times for one unit of work (a request or a job).
type Timer struct {
	m     sync.Mutex
	marks map[string]time.Time
}

func NewTimer() *Timer {
	return &Timer{marks: make(map[string]time.Time)}
}

func (t *Timer) Mark(name string, at time.Time) {
	t.m.Lock()
	defer t.m.Unlock()

	t.marks[name] = at
}

func (t *Timer) Elapsed(name string, at time.Time) (time.Duration, error) {
	t.m.Lock()
	defer t.m.Unlock()

	start, ok := t.marks[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNoMark, name)
	}

	return at.Sub(start), nil
}

var timerKey int

func WithTimer(ctx context.Context, t *Timer) context.Context {
	if t == nil {
		t = NewTimer()
	}

	return context.WithValue(ctx, &timerKey, t)
}

func GetTimer(ctx context.Context) *Timer {
	if t, ok := ctx.Value(&timerKey).(*Timer); ok {
		return t
	}

	return nil
}

// Start marks name at the context clock's current time.
func Start(ctx context.Context, name string) error {
	t := GetTimer(ctx)
	if t == nil {
		return ErrNoTimer
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return fmt.Errorf("ctxtimer.Start: %w", err)
	}

	t.Mark(name, now)

	return nil
}

// Since reports how long ago name was marked, by the context clock.
func Since(ctx context.Context, name string) (time.Duration, error) {
	t := GetTimer(ctx)
	if t == nil {
		return 0, ErrNoTimer
	}

	now, err := ctxclock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("ctxtimer.Since: %w", err)
	}

	d, err := t.Elapsed(name, now)
	if err != nil {
		return 0, fmt.Errorf("ctxtimer.Since: %w", err)
	}

	return d, nil
}

// Register gives every request a fresh timer. Passing a timer shares it
// across requests, which is only useful in tests.
func Register(t *Timer) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithTimer(r.Context(), t)))
	}
}

// AddLoggerHooks adds http.duration to the request's closing log line.
func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(ctxlogger.AddHookPair(
			r.Context(),
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				if err := Start(r.Context(), RequestMark); err != nil {
					l.WithError(err).Warn("ctxtimer: could not mark request start")
				}

				return l
			},
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				elapsed, err := Since(r.Context(), RequestMark)
				if err != nil {
					l.WithError(err).Warn("ctxtimer: could not measure request")
					return l
				}

				return l.WithField("http.duration", elapsed)
			},
		)))
	}
}
