package ctxhttpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/ctxlogger"
)

const UserAgent = "feedsync/1.0 (+https://fknsrs.biz/p/feedsync)"

var httpClientKey int

func WithHTTPClient(ctx context.Context, httpClient *http.Client) context.Context {
	return context.WithValue(ctx, &httpClientKey, httpClient)
}

// GetHTTPClient falls back to http.DefaultClient when ctx carries none.
func GetHTTPClient(ctx context.Context) *http.Client {
	if v := ctx.Value(&httpClientKey); v != nil {
		return v.(*http.Client)
	}

	return http.DefaultClient
}

func Register(httpClient *http.Client) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithHTTPClient(r.Context(), httpClient)))
	}
}

// Prepare sets the default user agent on req unless it already has one.
func Prepare(req *http.Request) *http.Request {
	if req.Header.Get("user-agent") == "" {
		req.Header.Set("user-agent", UserAgent)
	}

	return req
}

// Do sends req with the context's client, bound to ctx.
func Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return DoWith(ctx, GetHTTPClient(ctx), req)
}

func DoWith(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req = Prepare(req.WithContext(ctx))

	l := ctxlogger.GetLogger(ctx).WithFields(logrus.Fields{
		"fetch.method": req.Method,
		"fetch.url":    req.URL.String(),
	})

	res, err := client.Do(req)
	if err != nil {
		l.WithError(err).Debug("upstream request failed")
		return nil, fmt.Errorf("ctxhttpclient.Do: %w", err)
	}

	l.WithField("fetch.status_code", res.StatusCode).Debug("upstream request finished")

	return res, nil
}
