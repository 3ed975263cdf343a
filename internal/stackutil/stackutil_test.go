package stackutil

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureHere() []runtime.Frame {
	return Capture(10, 0)
}

func TestCapture(t *testing.T) {
	a := assert.New(t)

	frames := captureHere()
	if a.NotEmpty(frames) {
		a.True(strings.HasSuffix(frames[0].Function, "stackutil.captureHere"), frames[0].Function)
		a.True(strings.HasSuffix(frames[1].Function, "stackutil.TestCapture"), frames[1].Function)
	}

	skipped := Capture(10, 1)
	if a.NotEmpty(skipped) {
		a.NotEqual(frames[0].Function, skipped[0].Function)
	}
}

func TestPackage(t *testing.T) {
	for _, tc := range []struct {
		function string
		pkg      string
	}{
		{"fknsrs.biz/p/feedsync/internal/store.(*Store).Purge", "fknsrs.biz/p/feedsync/internal/store"},
		{"fknsrs.biz/p/feedsync/internal/jobs.Functions.Map.func1", "fknsrs.biz/p/feedsync/internal/jobs"},
		{"main.main", "main"},
		{"database/sql.(*DB).QueryContext", "database/sql"},
		{"github.com/urfave/negroni/v2.(*Negroni).ServeHTTP", "github.com/urfave/negroni/v2"},
	} {
		t.Run(tc.function, func(t *testing.T) {
			assert.Equal(t, tc.pkg, Package(runtime.Frame{Function: tc.function}))
		})
	}
}

func TestInPackages(t *testing.T) {
	a := assert.New(t)

	frame := runtime.Frame{Function: "fknsrs.biz/p/feedsync/internal/ctxdb.UsingTx"}

	a.True(InPackages(frame, []string{"fknsrs.biz/p/feedsync/internal/ctxdb"}))
	a.True(InPackages(frame, []string{"fknsrs.biz/p/feedsync/internal"}))
	a.False(InPackages(frame, []string{"fknsrs.biz/p/feedsync/internal/ctx"}))
	a.False(InPackages(frame, nil))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "store/purge.go:42: fknsrs.biz/p/feedsync/internal/store.(*Store).Purge", Format(runtime.Frame{
		File:     "/src/feedsync/internal/store/purge.go",
		Line:     42,
		Function: "fknsrs.biz/p/feedsync/internal/store.(*Store).Purge",
	}))
}
