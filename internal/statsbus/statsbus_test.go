package statsbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	raw, err := Encode(map[string]int{"casual": 3, "stage": 0}, at)
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, map[string]int{"casual": 3, "stage": 0}, snap.Stats)
	assert.Equal(t, int64(1700000000000), snap.At)
}

func TestNewRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedis(ctx, "127.0.0.1:1", slog.New(slog.NewJSONHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), map[string]int{"casual": 1}))
	assert.NoError(t, p.Close())
}

func TestPublishDoesNotWaitForWrites(t *testing.T) {
	unblock := make(chan struct{})
	var (
		mu      sync.Mutex
		written []Snapshot
		closed  bool
	)
	write := func(_ context.Context, raw []byte) error {
		<-unblock
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		written = append(written, snap)
		return nil
	}
	p := newPublisher(slog.New(slog.NewJSONHandler(io.Discard, nil)), write, func() error {
		closed = true
		return nil
	})

	for i := 1; i <= 5; i++ {
		require.NoError(t, p.Publish(context.Background(), map[string]int{"casual": i}))
	}
	close(unblock)
	require.NoError(t, p.Close())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, written)
	assert.LessOrEqual(t, len(written), 2)
	assert.Equal(t, 5, written[len(written)-1].Stats["casual"])
	assert.True(t, closed)

	assert.ErrorIs(t, p.Publish(context.Background(), map[string]int{"casual": 6}), ErrPublisherClosed)
	assert.ErrorIs(t, p.Close(), ErrPublisherClosed)
}
