package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

// UpstreamTransient marks a failed attempt that retry.Do will make again, so
// it is never surfaced. UpstreamFatal is what retry.Do returns once it gives
// up; channelsync surfaces it to callers as SyncFailed.
const (
	NotFound          = Kind("NOT_FOUND")
	Cooldown          = Kind("COOLDOWN")
	InvalidInput      = Kind("INVALID_INPUT")
	UpstreamTransient = Kind("UPSTREAM_TRANSIENT")
	UpstreamFatal     = Kind("UPSTREAM_FATAL")
	SyncFailed        = Kind("SYNC_FAILED")
	StorageError      = Kind("STORAGE_ERROR")
	Unknown           = Kind("UNKNOWN")
)

// Error is the typed failure that crosses component boundaries. RetryAfter is
// only set for Cooldown.
type Error struct {
	Kind       Kind
	Op         string
	Err        error
	RetryAfter *time.Time
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err.Error())
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func NewCooldown(op string, until time.Time) *Error {
	return &Error{
		Kind:       Cooldown,
		Op:         op,
		Err:        fmt.Errorf("channel is cooling down until %s", until.UTC().Format(time.RFC3339)),
		RetryAfter: &until,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or Unknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return Unknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func RetryAfter(err error) *time.Time {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}

	return nil
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case NotFound:
		return http.StatusNotFound
	case Cooldown:
		return http.StatusTooManyRequests
	case InvalidInput:
		return http.StatusBadRequest
	case SyncFailed, UpstreamFatal, UpstreamTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
