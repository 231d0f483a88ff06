// File: internal/browser/wait.go
package browser

import (
	"context"
	"time"
)

// Predicate is polled by WaitUntil. A returned error is treated as "not yet".
type Predicate func(ctx context.Context) (bool, error)

// WaitUntil polls pred every poll interval until it returns true or timeout
// elapses. It returns (false, nil) on timeout and (false, ctx.Err()) when ctx
// is cancelled. The predicate is always evaluated at least once.
func WaitUntil(ctx context.Context, pred Predicate, timeout, poll time.Duration) (bool, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if ok, err := pred(ctx); err == nil && ok {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitFor waits until sel exists on the page driven by d.
func WaitFor(ctx context.Context, d Driver, sel Selector, timeout, poll time.Duration) (bool, error) {
	return WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		return d.Exists(ctx, sel)
	}, timeout, poll)
}

// FindAnyAffordance returns the first candidate present on the page. Lookup
// errors count as absence.
func FindAnyAffordance(ctx context.Context, d Driver, candidates []Selector) (Selector, bool) {
	for _, c := range candidates {
		if ctx.Err() != nil {
			return Selector{}, false
		}
		if ok, err := d.Exists(ctx, c); err == nil && ok {
			return c, true
		}
	}
	return Selector{}, false
}
