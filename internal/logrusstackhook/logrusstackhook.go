package logrusstackhook

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/stackutil"
)

const maxDepth = 25

// FilterFunc reports whether a frame should be kept.
type FilterFunc func(frame runtime.Frame) bool

// SkipPackages drops frames from the named packages and anything nested
// under them.
func SkipPackages(packages ...string) FilterFunc {
	return func(frame runtime.Frame) bool {
		return !stackutil.InPackages(frame, packages)
	}
}

func CombineFilters(a ...FilterFunc) FilterFunc {
	return func(frame runtime.Frame) bool {
		for _, fn := range a {
			if !fn(frame) {
				return false
			}
		}

		return true
	}
}

var (
	DefaultLevels = []logrus.Level{logrus.DebugLevel, logrus.TraceLevel}
	DefaultFilter = SkipPackages(
		"github.com/sirupsen/logrus",
		"fknsrs.biz/p/feedsync/internal/ctxlogger",
	)
)

// StackHook attaches the caller's stack to entries at the configured levels
// as stack.00, stack.01, and so on.
type StackHook struct {
	levels []logrus.Level
	filter FilterFunc
}

func NewStackHook(levels []logrus.Level, filter FilterFunc) *StackHook {
	if levels == nil {
		levels = DefaultLevels
	}

	if filter == nil {
		filter = DefaultFilter
	}

	return &StackHook{levels: levels, filter: filter}
}

func (h *StackHook) Levels() []logrus.Level { return h.levels }

func (h *StackHook) Fire(e *logrus.Entry) error {
	index := 0
	for _, frame := range stackutil.Capture(maxDepth, 1) {
		if !h.filter(frame) {
			continue
		}

		e.Data[fmt.Sprintf("stack.%02d", index)] = stackutil.Format(frame)
		index++
	}

	return nil
}
