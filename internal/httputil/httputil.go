package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/apperr"
	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
)

const maxBodySize = 1 << 20

func WriteJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("content-type", "application/json; charset=utf-8")
	rw.WriteHeader(status)

	if err := json.NewEncoder(rw).Encode(v); err != nil {
		panic(fmt.Errorf("httputil.WriteJSON: %w", err))
	}
}

type ErrorBody struct {
	Kind       apperr.Kind `json:"kind"`
	Message    string      `json:"message"`
	RetryAfter *time.Time  `json:"retryAfter,omitempty"`
}

// WriteError answers with the status matching the error's kind. Cooldowns
// carry a Retry-After header in whole seconds.
func WriteError(rw http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	body := ErrorBody{Kind: kind, Message: err.Error()}

	if until := apperr.RetryAfter(err); until != nil {
		body.RetryAfter = until

		if now, err := ctxclock.Now(r.Context()); err == nil {
			seconds := int64(math.Ceil(until.Sub(now).Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			rw.Header().Set("retry-after", strconv.FormatInt(seconds, 10))
		}
	}

	l := ctxlogger.GetLogger(r.Context()).WithError(err).WithFields(logrus.Fields{
		"http.error_kind":   string(kind),
		"http.error_status": status,
	})
	if status >= 500 {
		l.Error("request failed")
	} else {
		l.Info("request rejected")
	}

	WriteJSON(rw, status, map[string]interface{}{"error": body})
}

func NotFound(rw http.ResponseWriter, r *http.Request) {
	WriteJSON(rw, http.StatusNotFound, map[string]interface{}{"error": ErrorBody{Kind: apperr.NotFound, Message: "not found"}})
}

// ReadValues collects request parameters from the query string, form
// bodies, and flat JSON object bodies into one set of form values. Arrays
// become repeated values.
func ReadValues(r *http.Request) (url.Values, error) {
	const op = "httputil.ReadValues"

	if r.Body != nil {
		r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("content-type"))

	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, apperr.New(apperr.InvalidInput, op, err)
		}

		return r.Form, nil
	}

	vs := r.URL.Query()

	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, op, err)
	}
	if len(b) == 0 {
		return vs, nil
	}

	c, err := gabs.ParseJSON(b)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, op, err)
	}

	if _, ok := c.Data().(map[string]interface{}); !ok {
		return nil, apperr.Errorf(apperr.InvalidInput, op, "request body must be a json object")
	}

	for k, child := range c.ChildrenMap() {
		if arr, ok := child.Data().([]interface{}); ok {
			for _, e := range arr {
				s, err := scalar(e)
				if err != nil {
					return nil, apperr.New(apperr.InvalidInput, op, fmt.Errorf("%s: %w", k, err))
				}
				vs.Add(k, s)
			}
			continue
		}

		if child.Data() == nil {
			continue
		}

		s, err := scalar(child.Data())
		if err != nil {
			return nil, apperr.New(apperr.InvalidInput, op, fmt.Errorf("%s: %w", k, err))
		}
		vs.Set(k, s)
	}

	return vs, nil
}

func scalar(v interface{}) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
