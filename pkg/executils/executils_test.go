package executils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestForEachAsyncVisitsEveryValue(t *testing.T) {
	var sum atomic.Int64
	vals := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	err := ForEachAsync(context.Background(), vals, 3, func(_ context.Context, v int64) error {
		sum.Add(v)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int64(55), sum.Load())
}

func TestForEachAsyncJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	var visited atomic.Int64

	err := ForEachAsync(context.Background(), []int{1, 2, 3, 4}, 0, func(_ context.Context, v int) error {
		visited.Inc()
		if v%2 == 0 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(4), visited.Load())
}

func TestForEachAsyncCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ForEachAsync(ctx, []int{1, 2}, 1, func(context.Context, int) error {
		t.Fatal("must not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
