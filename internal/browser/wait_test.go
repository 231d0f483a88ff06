// File: internal/browser/wait_test.go
package browser_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scholarsync/internal/browser"
	"github.com/xkilldash9x/scholarsync/internal/browser/browsertest"
)

func TestWaitUntil(t *testing.T) {
	t.Run("returns immediately when already satisfied", func(t *testing.T) {
		var calls int32
		ok, err := browser.WaitUntil(context.Background(), func(context.Context) (bool, error) {
			atomic.AddInt32(&calls, 1)
			return true, nil
		}, time.Second, 10*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("polls until the predicate holds", func(t *testing.T) {
		var calls int32
		ok, err := browser.WaitUntil(context.Background(), func(context.Context) (bool, error) {
			return atomic.AddInt32(&calls, 1) >= 3, nil
		}, time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("timeout is not an error", func(t *testing.T) {
		start := time.Now()
		ok, err := browser.WaitUntil(context.Background(), func(context.Context) (bool, error) {
			return false, nil
		}, 30*time.Millisecond, 5*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("zero timeout still evaluates once", func(t *testing.T) {
		ok, err := browser.WaitUntil(context.Background(), func(context.Context) (bool, error) {
			return true, nil
		}, 0, time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("predicate errors count as not yet", func(t *testing.T) {
		var calls int32
		ok, err := browser.WaitUntil(context.Background(), func(context.Context) (bool, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return true, errors.New("transient")
			}
			return true, nil
		}, time.Second, time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("cancellation is reported", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		ok, err := browser.WaitUntil(ctx, func(context.Context) (bool, error) {
			return false, nil
		}, time.Minute, time.Millisecond)
		assert.False(t, ok)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWaitFor(t *testing.T) {
	page := browsertest.NewPage(nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		page.SetElement(".dropdown-filters__result-count", "12 results")
	}()

	ok, err := browser.WaitFor(context.Background(), page, browser.CSS(".dropdown-filters__result-count"), time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = browser.WaitFor(context.Background(), page, browser.CSS(".missing"), 10*time.Millisecond, time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindAnyAffordance(t *testing.T) {
	candidates := browser.LabelSelectors([]string{"Activate Alert", "Create Alert"})

	t.Run("first present candidate wins", func(t *testing.T) {
		page := browsertest.NewPage(nil)
		page.SetElement(candidates[1].Query, "Create Alert")
		page.SetElement(candidates[0].Query, "Activate Alert")

		sel, ok := browser.FindAnyAffordance(context.Background(), page, candidates)
		require.True(t, ok)
		assert.Equal(t, candidates[0], sel)
	})

	t.Run("later variant found", func(t *testing.T) {
		page := browsertest.NewPage(nil)
		page.SetElement(candidates[1].Query, "Create Alert")

		sel, ok := browser.FindAnyAffordance(context.Background(), page, candidates)
		require.True(t, ok)
		assert.Equal(t, candidates[1], sel)
	})

	t.Run("absent", func(t *testing.T) {
		_, ok := browser.FindAnyAffordance(context.Background(), browsertest.NewPage(nil), candidates)
		assert.False(t, ok)
	})

	t.Run("lookup errors count as absence", func(t *testing.T) {
		page := browsertest.NewPage(nil)
		page.SetElement(candidates[0].Query, "Activate Alert")
		page.ExistsErr = errors.New("target crashed")
		_, ok := browser.FindAnyAffordance(context.Background(), page, candidates)
		assert.False(t, ok)
	})
}
