package ctxclock

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/ctxlogger"
)

var (
	ErrNoClock = fmt.Errorf("ctxclock.ErrNoClock: no clock found in context")
)

type Clock interface {
	Now() (time.Time, error)
}

// context registration

var clockKey int

func WithClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		c = NewRealClock()
	}

	return context.WithValue(ctx, &clockKey, c)
}

func GetClock(ctx context.Context) Clock {
	if v := ctx.Value(&clockKey); v != nil {
		return v.(Clock)
	}

	return nil
}

// Now reads the context's clock. Code that stamps rows or compares against
// cooldowns and cutoffs always goes through here so tests can pin time.
func Now(ctx context.Context) (time.Time, error) {
	if c := GetClock(ctx); c != nil {
		return c.Now()
	}

	return time.Time{}, fmt.Errorf("ctxclock.Now: %w", ErrNoClock)
}

// middleware

func Register(c Clock) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithClock(r.Context(), c)))
	}
}

// AddLoggerHooks stamps request logs with the clock's start time.
func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(ctxlogger.AddHookPair(
			r.Context(),
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				now, err := Now(r.Context())
				if err != nil {
					l.WithError(err).Warn("ctxclock: could not get request start time")
					return l
				}

				return l.WithField("http.request_start", now.Format(time.RFC3339))
			},
			nil,
		)))
	}
}

// real clock

type realClock struct{}

func NewRealClock() Clock {
	return &realClock{}
}

func (realClock) Now() (time.Time, error) {
	return time.Now(), nil
}

// static clock

type staticClock struct{ t time.Time }

func NewStaticClock(t time.Time) Clock {
	return &staticClock{t: t}
}

func (c *staticClock) Now() (time.Time, error) {
	return c.t, nil
}

// error clock

type errorClock struct{ err error }

func NewErrorClock(err error) Clock {
	return &errorClock{err: err}
}

func (c *errorClock) Now() (time.Time, error) {
	return time.Time{}, fmt.Errorf("ctxclock.errorClock.Now: %w", c.err)
}

// ManualClock only moves when told to. A non-zero step advances it after
// every read, which makes elapsed-time measurements deterministic.
type ManualClock struct {
	m    sync.Mutex
	t    time.Time
	step time.Duration
}

func NewManualClock(t time.Time, step time.Duration) *ManualClock {
	return &ManualClock{t: t, step: step}
}

func (c *ManualClock) Now() (time.Time, error) {
	c.m.Lock()
	defer c.m.Unlock()

	t := c.t
	c.t = c.t.Add(c.step)

	return t, nil
}

func (c *ManualClock) Set(t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.m.Lock()
	defer c.m.Unlock()

	c.t = c.t.Add(d)
}
