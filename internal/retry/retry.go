package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"fknsrs.biz/p/feedsync/internal/apperr"
)

// Policy describes how often and how slowly a call is retried. The delay
// before attempt n+1 is Base*n plus a random jitter in [0, Jitter).
type Policy struct {
	Attempts int
	Base     time.Duration
	Jitter   time.Duration

	// Sleep waits for d or until ctx is done; nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts: 3,
		Base:     time.Millisecond * 500,
		Jitter:   time.Millisecond * 200,
	}
}

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

var ErrExhausted = fmt.Errorf("retry: attempts exhausted")

func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Base * time.Duration(attempt)
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}

	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, returns an error the classifier rejects, or
// the policy runs out of attempts. Both failures come back as an
// apperr.UpstreamFatal; an exhausted policy's error also wraps ErrExhausted
// and the last failure. Cancellation is returned as is.
func Do(ctx context.Context, p Policy, classify Classifier, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if classify == nil || !classify(err) {
			return apperr.New(apperr.UpstreamFatal, "retry.Do", err)
		}

		if attempt == attempts {
			break
		}

		if err := p.sleep(ctx, p.Backoff(attempt)); err != nil {
			return fmt.Errorf("retry.Do: %w", err)
		}
	}

	return apperr.New(apperr.UpstreamFatal, "retry.Do", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr))
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, classify Classifier, fn func(ctx context.Context) (T, error)) (T, error) {
	var res T

	err := Do(ctx, p, classify, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}

		res = v

		return nil
	})

	return res, err
}
