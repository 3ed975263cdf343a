package ctxlogger

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var loggerKey int

func WithLogger(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

func GetLogger(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(&loggerKey); v != nil {
		return v.(logrus.FieldLogger)
	}

	return logrus.StandardLogger()
}

// request logging hooks

// HookFunc decorates the request logger. Before funcs run when the request
// arrives, after funcs just before the closing log line is written.
type HookFunc func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger

type hookPair struct {
	before, after HookFunc
}

type hookList struct {
	a []hookPair
}

func (h *hookList) run(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger, after bool) logrus.FieldLogger {
	for _, p := range h.a {
		fn := p.before
		if after {
			fn = p.after
		}
		if fn != nil {
			l = fn(rw, r, l)
		}
	}

	return l
}

var hookListKey int

func getHookList(ctx context.Context) *hookList {
	if v := ctx.Value(&hookListKey); v != nil {
		return v.(*hookList)
	}

	return nil
}

// AddHookPair registers a before/after pair for the request in ctx. Either
// func may be nil.
func AddHookPair(ctx context.Context, before, after HookFunc) context.Context {
	hooks := getHookList(ctx)
	if hooks == nil {
		hooks = &hookList{}
		ctx = context.WithValue(ctx, &hookListKey, hooks)
	}

	hooks.a = append(hooks.a, hookPair{before: before, after: after})

	return ctx
}

// middleware

const RequestIDHeader = "x-request-id"

var requestIDKey int

func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(&requestIDKey).(string); ok {
		return v
	}

	return ""
}

// requestID keeps a caller supplied id when it looks sane.
func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 64 {
		return id
	}

	return uuid.NewString()
}

func Register(l logrus.FieldLogger) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := context.WithValue(r.Context(), &hookListKey, &hookList{})
		next(rw, r.WithContext(WithLogger(ctx, l)))
	}
}

// Log tags the request with an id, echoes it in the response headers, and
// hands handlers a logger that carries it.
func Log() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		id := requestID(r)
		rw.Header().Set(RequestIDHeader, id)

		var l logrus.FieldLogger = GetLogger(r.Context()).WithFields(logrus.Fields{
			"http.request_id": id,
			"http.method":     r.Method,
			"http.path":       r.URL.String(),
			"http.host":       r.Host,
			"http.referer":    r.Header.Get("referer"),
			"http.user_agent": r.Header.Get("user-agent"),
		})

		hooks := getHookList(r.Context())
		if hooks != nil {
			l = hooks.run(rw, r, l, false)
		}

		ctx := context.WithValue(r.Context(), &requestIDKey, id)
		r = r.WithContext(WithLogger(ctx, l))

		defer func() {
			status := 0
			if nrw, ok := rw.(interface {
				Status() int
				Size() int
			}); ok {
				status = nrw.Status()
				l = l.WithFields(logrus.Fields{
					"http.status_code":   status,
					"http.response_size": nrw.Size(),
				})
			}

			if hooks != nil {
				l = hooks.run(rw, r, l, true)
			}

			if status >= http.StatusInternalServerError {
				l.Warn("http request finished")
			} else {
				l.Info("http request finished")
			}
		}()

		l.Debug("http request started")

		next(rw, r)
	}
}
