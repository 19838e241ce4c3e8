// Package statsbus mirrors per-type membership counts to Redis so dashboards and
// other instances can follow them without a websocket.
package statsbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	Channel     = "stagedelight:room-stats"
	SnapshotKey = "stagedelight:room-stats:latest"
)

type Snapshot struct {
	Stats map[string]int `json:"stats"`
	At    int64          `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, stats map[string]int) error
	Close() error
}

type Nop struct{}

func (Nop) Publish(context.Context, map[string]int) error { return nil }
func (Nop) Close() error                                  { return nil }

const (
	snapshotTTL    = time.Hour
	publishTimeout = 2 * time.Second
)

// RedisPublisher hands snapshots to a single writer goroutine so callers never
// wait on Redis. Only the newest unsent snapshot is kept.
type RedisPublisher struct {
	logger *slog.Logger
	write  func(ctx context.Context, raw []byte) error
	closer func() error

	mu      sync.Mutex
	closed  bool
	pending chan []byte
	done    chan struct{}
}

// NewRedis connects to addr and verifies connectivity.
func NewRedis(ctx context.Context, addr string, logger *slog.Logger) (*RedisPublisher, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	logger.Info("stats publisher connected", slog.String("addr", addr))

	// The latest snapshot is stored and announced on Channel in one transaction.
	write := func(ctx context.Context, raw []byte) error {
		pipe := rdb.TxPipeline()
		pipe.Set(ctx, SnapshotKey, raw, snapshotTTL)
		pipe.Publish(ctx, Channel, raw)
		_, err := pipe.Exec(ctx)
		return err
	}
	return newPublisher(logger, write, rdb.Close), nil
}

func newPublisher(logger *slog.Logger, write func(context.Context, []byte) error, closer func() error) *RedisPublisher {
	p := &RedisPublisher{
		logger:  logger,
		write:   write,
		closer:  closer,
		pending: make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish queues stats and returns without touching the network.
func (p *RedisPublisher) Publish(_ context.Context, stats map[string]int) error {
	raw, err := Encode(stats, time.Now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case <-p.pending:
	default:
	}
	p.pending <- raw
	return nil
}

func (p *RedisPublisher) run() {
	defer close(p.done)
	for raw := range p.pending {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.write(ctx, raw); err != nil {
			p.logger.Warn("publish room stats", slog.String("err", err.Error()))
		}
		cancel()
	}
}

// Close flushes the queued snapshot and disconnects.
func (p *RedisPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPublisherClosed
	}
	p.closed = true
	close(p.pending)
	p.mu.Unlock()

	<-p.done
	return p.closer()
}

func Encode(stats map[string]int, at time.Time) ([]byte, error) {
	return json.Marshal(Snapshot{Stats: stats, At: at.UnixMilli()})
}

var (
	_ Publisher = Nop{}
	_ Publisher = (*RedisPublisher)(nil)
)
