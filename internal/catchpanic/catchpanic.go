package catchpanic

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"fknsrs.biz/p/feedsync/internal/stackutil"
)

const stackDepth = 32

// PanicError is what a recovered panic turns into. Stack starts at the
// panicking function, with the runtime's own frames removed.
type PanicError struct {
	Value interface{}
	Stack []runtime.Frame
}

func (e *PanicError) Error() string {
	if err, ok := e.Value.(error); ok {
		return "panic: " + err.Error()
	}

	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}

	return nil
}

// Origin is the formatted frame that panicked, or "" if err did not come
// from a panic.
func Origin(err error) string {
	var pe *PanicError
	if !errors.As(err, &pe) || len(pe.Stack) == 0 {
		return ""
	}

	return stackutil.Format(pe.Stack[0])
}

func newPanicError(v interface{}) *PanicError {
	var stack []runtime.Frame
	for _, frame := range stackutil.Capture(stackDepth, 2) {
		if strings.HasPrefix(frame.Function, "runtime.") {
			continue
		}
		stack = append(stack, frame)
	}

	return &PanicError{Value: v, Stack: stack}
}

func Catch(fn func()) (err error) {
	defer func() {
		if ex := recover(); ex != nil {
			err = fmt.Errorf("catchpanic.Catch: %w", newPanicError(ex))
		}
	}()

	fn()

	return
}

func CatchErr0(fn func() error) error {
	var err error

	if err1 := Catch(func() { err = fn() }); err1 != nil {
		return err1
	}

	return err
}

func CatchErr1[T any](fn func() (T, error)) (T, error) {
	var res T
	var err error

	if err1 := Catch(func() { res, err = fn() }); err1 != nil {
		err = err1
	}

	return res, err
}
