package sqlitelogger

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	proxy "github.com/shogo82148/go-sql-proxy"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/feedsync/internal/ctxclock"
	"fknsrs.biz/p/feedsync/internal/ctxlogger"
	"fknsrs.biz/p/feedsync/internal/stackutil"
)

var (
	ErrCancelLogging = fmt.Errorf("cancel logging")
)

type Stats struct {
	Start    time.Time
	Duration time.Duration
	Stack    []runtime.Frame

	quiet     bool
	query     string
	queryText string
	queryArgs []driver.NamedValue
}

func (s *Stats) Query() string {
	if s.query == "" && s.queryText != "" {
		s.query = printQuery(s.queryText, s.queryArgs)
	}
	return s.query
}

// Counter totals the statements run under one context, so a request or job
// can report how much database work it did.
type Counter struct {
	statements atomic.Int64
	failures   atomic.Int64
	nanos      atomic.Int64
}

func (c *Counter) add(d time.Duration, err error) {
	c.statements.Add(1)
	c.nanos.Add(int64(d))
	if err != nil {
		c.failures.Add(1)
	}
}

func (c *Counter) Statements() int64 { return c.statements.Load() }
func (c *Counter) Failures() int64 { return c.failures.Load() }
func (c *Counter) Duration() time.Duration { return time.Duration(c.nanos.Load()) }

var counterKey int

func WithCounter(ctx context.Context, c *Counter) context.Context {
	return context.WithValue(ctx, &counterKey, c)
}

func GetCounter(ctx context.Context) *Counter {
	if v := ctx.Value(&counterKey); v != nil {
		return v.(*Counter)
	}

	return nil
}

// AddLoggerHooks gives each request a Counter and reports it on the
// request's closing log line.
func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		c := &Counter{}

		ctx := WithCounter(r.Context(), c)
		ctx = ctxlogger.AddHookPair(ctx, nil, func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
			return l.WithFields(logrus.Fields{
				"sql.statements": c.Statements(),
				"sql.failures":   c.Failures(),
				"sql.duration":   c.Duration(),
			})
		})

		next(rw, r.WithContext(ctx))
	}
}

type Filter interface {
	PreCollection(ctx context.Context, stats *Stats) error
	PreLogging(ctx context.Context, stats *Stats) error
	HideStackFrame(ctx context.Context, index int, frame runtime.Frame) (bool, error)
}

// now prefers the context clock. Queries issued without one, such as from
// database/sql's own housekeeping, still get logged.
func now(ctx context.Context) time.Time {
	if t, err := ctxclock.Now(ctx); err == nil {
		return t
	}

	return time.Now()
}

// makeStats marks the stats quiet when a filter cancels logging; the
// statement still counts towards the context's Counter.
func makeStats(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue, filters []Filter) (*Stats, error) {
	stats := &Stats{
		Start: now(ctx),
		Stack: stackutil.Capture(100, 1),
	}

	if stmt != nil {
		stats.queryText = stmt.QueryString
		stats.queryArgs = args
	}

	for _, filter := range filters {
		if err := filter.PreCollection(ctx, stats); err != nil {
			if err == ErrCancelLogging {
				stats.quiet = true
				return stats, nil
			}

			return nil, err
		}
	}

	return stats, nil
}

func logStats(ctx context.Context, upperError error, qctx interface{}, filters []Filter, prefix, message string) error {
	stats, _ := qctx.(*Stats)
	if stats == nil {
		return upperError
	}

	stats.Duration = now(ctx).Sub(stats.Start)

	if c := GetCounter(ctx); c != nil {
		c.add(stats.Duration, upperError)
	}

	if stats.quiet {
		return upperError
	}

	if upperError != nil {
		ctxlogger.GetLogger(ctx).WithError(upperError).WithFields(logrus.Fields{
			prefix + ".duration": stats.Duration,
			prefix + ".content":  stats.Query(),
		}).Debug(message + " failed")

		return upperError
	}

	for _, filter := range filters {
		if err := filter.PreLogging(ctx, stats); err != nil {
			if err == ErrCancelLogging {
				return nil
			}

			return err
		}
	}

	fields := logrus.Fields{
		prefix + ".start":    stats.Start.Format(time.RFC3339),
		prefix + ".duration": stats.Duration,
		prefix + ".content":  stats.Query(),
	}

loop:
	for index, frame := range stats.Stack {
		for _, filter := range filters {
			hide, err := filter.HideStackFrame(ctx, index, frame)
			if err != nil {
				return err
			}
			if hide {
				continue loop
			}
		}

		fields[fmt.Sprintf("%s.stack.%02d", prefix, index)] = stackutil.Format(frame)
	}

	ctxlogger.GetLogger(ctx).WithFields(fields).Info(message)

	return nil
}

func New(name string, wrapped driver.Driver, filters ...Filter) driver.Driver {
	return proxy.NewProxyContext(wrapped, &proxy.HooksContext{
		PrePrepare: func(ctx context.Context, stmt *proxy.Stmt) (interface{}, error) {
			return makeStats(ctx, stmt, nil, filters)
		},
		PostPrepare: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, err error) error {
			return logStats(ctx, err, qctx, filters, "sql.prepare", "sql prepare")
		},
		PreExec: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return makeStats(ctx, stmt, args, filters)
		},
		PostExec: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Result, err error) error {
			return logStats(ctx, err, qctx, filters, "sql.exec", "sql exec")
		},
		PreQuery: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return makeStats(ctx, stmt, args, filters)
		},
		PostQuery: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Rows, err error) error {
			return logStats(ctx, err, qctx, filters, "sql.query", "sql query")
		},
		PreBegin: func(ctx context.Context, conn *proxy.Conn) (interface{}, error) {
			return makeStats(ctx, nil, nil, filters)
		},
		PostBegin: func(ctx context.Context, qctx interface{}, conn *proxy.Conn, err error) error {
			return logStats(ctx, err, qctx, filters, "sql.tx_begin", "sql tx begin")
		},
		PreCommit: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return makeStats(ctx, nil, nil, filters)
		},
		PostCommit: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return logStats(ctx, err, qctx, filters, "sql.tx_commit", "sql tx commit")
		},
		PreRollback: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return makeStats(ctx, nil, nil, filters)
		},
		PostRollback: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return logStats(ctx, err, qctx, filters, "sql.tx_rollback", "sql tx rollback")
		},
	})
}

type BasicFilter struct {
	CancelAll                bool
	LogSlowerThan            time.Duration
	IgnorePackageStackFrames []string
	IgnoreFunctionQueries    []string
	PreCollectionFunc        func(ctx context.Context, stats *Stats) error
	PreLoggingFunc           func(ctx context.Context, stats *Stats) error
}

func (b *BasicFilter) PreCollection(ctx context.Context, stats *Stats) error {
	if b.CancelAll {
		return ErrCancelLogging
	}

	for _, functionName := range b.IgnoreFunctionQueries {
		for _, frame := range stats.Stack {
			if frame.Function == functionName {
				return ErrCancelLogging
			}
		}
	}

	if b.PreCollectionFunc != nil {
		if err := b.PreCollectionFunc(ctx, stats); err != nil {
			return err
		}
	}

	return nil
}

func (b *BasicFilter) PreLogging(ctx context.Context, stats *Stats) error {
	if b.CancelAll {
		return ErrCancelLogging
	}

	if b.LogSlowerThan != 0 && stats.Duration < b.LogSlowerThan {
		return ErrCancelLogging
	}

	if b.PreLoggingFunc != nil {
		if err := b.PreLoggingFunc(ctx, stats); err != nil {
			return err
		}
	}

	return nil
}

func (b *BasicFilter) HideStackFrame(ctx context.Context, index int, frame runtime.Frame) (bool, error) {
	return stackutil.InPackages(frame, b.IgnorePackageStackFrames), nil
}

var (
	placeholderPattern = regexp.MustCompile(`[$?]([0-9]+)`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// printQuery inlines numbered placeholders (?1 or $1) with their arguments
// so a logged query can be pasted into the sqlite shell.
func printQuery(sqlString string, args []driver.NamedValue) string {
	inlined := placeholderPattern.ReplaceAllStringFunc(sqlString, func(s string) string {
		i, err := strconv.Atoi(s[1:])
		if err != nil || i < 1 || i > len(args) {
			return s
		}

		return printValue(args[i-1].Value)
	})

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(inlined, " "))
}

func printValue(v driver.Value) string {
	switch e := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if e {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(e, 10)
	case float64:
		return strconv.FormatFloat(e, 'f', -1, 64)
	case time.Time:
		return quote(e.Format(time.RFC3339Nano))
	case string:
		return printText(e)
	case []byte:
		return printText(string(e))
	default:
		return printText(fmt.Sprintf("%v", e))
	}
}

func printText(s string) string {
	if r, ok := printable(s); !ok {
		return fmt.Sprintf("[%d bytes of binary data (%q)]", len(s), r)
	}

	return quote(s)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func printable(s string) (rune, bool) {
	for _, r := range s {
		if unicode.IsControl(r) {
			return r, false
		}

		if !unicode.IsPrint(r) && r > unicode.MaxASCII {
			return r, false
		}
	}

	return 0, true
}
