package stackutil

import (
	"fmt"
	"path"
	"runtime"
	"strings"
)

// Capture returns up to depth frames of the calling goroutine's stack,
// leaving out Capture itself and the skip frames above it.
func Capture(depth, skip int) []runtime.Frame {
	pc := make([]uintptr, depth)

	// 2 covers runtime.Callers and Capture
	n := runtime.Callers(skip+2, pc)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pc[:n])

	var a []runtime.Frame
	for {
		frame, more := frames.Next()
		a = append(a, frame)
		if !more {
			break
		}
	}

	return a
}

// Package returns the import path of the frame's function, so
// "fknsrs.biz/p/feedsync/internal/store.(*Store).Purge" gives
// "fknsrs.biz/p/feedsync/internal/store".
func Package(frame runtime.Frame) string {
	fn := frame.Function

	dir, name := "", fn
	if i := strings.LastIndex(fn, "/"); i != -1 {
		dir, name = fn[:i+1], fn[i+1:]
	}

	if i := strings.Index(name, "."); i != -1 {
		name = name[:i]
	}

	return dir + name
}

// InPackages is true when the frame's package is one of packages or nested
// under one of them.
func InPackages(frame runtime.Frame, packages []string) bool {
	pkg := Package(frame)

	for _, p := range packages {
		if pkg == p || strings.HasPrefix(pkg, p+"/") {
			return true
		}
	}

	return false
}

// Format renders a frame as "dir/file.go:line: function", keeping only the
// file's parent directory so log lines stay short.
func Format(frame runtime.Frame) string {
	file := path.Join(path.Base(path.Dir(frame.File)), path.Base(frame.File))

	return fmt.Sprintf("%s:%d: %s", file, frame.Line, frame.Function)
}
