package apperr

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		kind Kind
	}{
		{"nil", nil, ""},
		{"plain", fmt.Errorf("boom"), Unknown},
		{"direct", New(NotFound, "op", nil), NotFound},
		{"wrapped", fmt.Errorf("outer: %w", New(StorageError, "op", fmt.Errorf("disk"))), StorageError},
		{"cooldown", NewCooldown("op", time.Now()), Cooldown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)

			a.Equal(tc.kind, KindOf(tc.err))
		})
	}
}

func TestErrorString(t *testing.T) {
	a := assert.New(t)

	a.Equal("channelsync.Sync: SYNC_FAILED: upstream exploded", New(SyncFailed, "channelsync.Sync", fmt.Errorf("upstream exploded")).Error())
	a.Equal("NOT_FOUND", New(NotFound, "", nil).Error())
}

func TestRetryAfter(t *testing.T) {
	a := assert.New(t)

	until := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	err := fmt.Errorf("wrap: %w", NewCooldown("op", until))

	if a.NotNil(RetryAfter(err)) {
		a.Equal(until, *RetryAfter(err))
	}
	a.Nil(RetryAfter(fmt.Errorf("nope")))
}

func TestHTTPStatus(t *testing.T) {
	a := assert.New(t)

	a.Equal(http.StatusNotFound, HTTPStatus(NotFound))
	a.Equal(http.StatusTooManyRequests, HTTPStatus(Cooldown))
	a.Equal(http.StatusBadRequest, HTTPStatus(InvalidInput))
	a.Equal(http.StatusBadGateway, HTTPStatus(SyncFailed))
	a.Equal(http.StatusInternalServerError, HTTPStatus(StorageError))
	a.Equal(http.StatusInternalServerError, HTTPStatus(Unknown))
}
