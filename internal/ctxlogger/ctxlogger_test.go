package ctxlogger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/negroni/v2"
)

func serve(l logrus.FieldLogger, r *http.Request, before, after HookFunc, h http.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()

	n := negroni.New()
	n.UseFunc(Register(l))
	n.UseFunc(func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(AddHookPair(r.Context(), before, after)))
	})
	n.UseFunc(Log())
	n.UseHandler(h)

	n.ServeHTTP(rec, r)

	return rec
}

func TestGetLoggerDefault(t *testing.T) {
	assert.Equal(t, logrus.StandardLogger(), GetLogger(context.Background()))
}

func TestLog(t *testing.T) {
	a := assert.New(t)

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	var handlerID string
	rec := serve(logger, httptest.NewRequest(http.MethodGet, "/api/feed?limit=5", nil),
		func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
			return l.WithField("hook.before", true)
		},
		func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
			return l.WithField("hook.after", true)
		},
		func(rw http.ResponseWriter, r *http.Request) {
			handlerID = GetRequestID(r.Context())
			GetLogger(r.Context()).Info("handling")
			rw.WriteHeader(http.StatusTeapot)
		},
	)

	id := rec.Header().Get(RequestIDHeader)
	a.NotEmpty(id)
	a.Equal(id, handlerID)

	entries := hook.AllEntries()
	require.Len(t, entries, 3)

	a.Equal(logrus.DebugLevel, entries[0].Level)
	a.Equal("http request started", entries[0].Message)
	a.Equal(true, entries[0].Data["hook.before"])
	a.NotContains(entries[0].Data, "hook.after")

	a.Equal("handling", entries[1].Message)
	a.Equal(id, entries[1].Data["http.request_id"])
	a.Equal("/api/feed?limit=5", entries[1].Data["http.path"])

	a.Equal(logrus.InfoLevel, entries[2].Level)
	a.Equal("http request finished", entries[2].Message)
	a.Equal(http.StatusTeapot, entries[2].Data["http.status_code"])
	a.Equal(true, entries[2].Data["hook.after"])
}

func TestLogRequestID(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header string
		keep   bool
	}{
		{"supplied", "abc-123", true},
		{"missing", "", false},
		{"too long", strings.Repeat("x", 65), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			logger, _ := logtest.NewNullLogger()

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set(RequestIDHeader, tc.header)
			}

			rec := serve(logger, r, nil, nil, func(rw http.ResponseWriter, r *http.Request) {})

			id := rec.Header().Get(RequestIDHeader)
			if tc.keep {
				a.Equal(tc.header, id)
			} else {
				a.NotEmpty(id)
				a.NotEqual(tc.header, id)
			}
		})
	}
}

func TestLogServerErrorIsWarning(t *testing.T) {
	a := assert.New(t)

	logger, hook := logtest.NewNullLogger()

	serve(logger, httptest.NewRequest(http.MethodPost, "/api/sync", nil), nil, nil, func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusBadGateway)
	})

	if e := hook.LastEntry(); a.NotNil(e) {
		a.Equal(logrus.WarnLevel, e.Level)
		a.Equal(http.StatusBadGateway, e.Data["http.status_code"])
	}
}
