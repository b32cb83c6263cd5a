package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	queueSize    = 1024
	writeTimeout = 5 * time.Second
)

// StreamWriter is the slice of the Redis client the mirror needs.
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type record struct {
	kind string
	key  string
	data []byte
	at   time.Time
}

// RedisMirror appends merged snapshots to a capped Redis stream. Publish
// never blocks; when the queue is full the snapshot is dropped.
type RedisMirror struct {
	client StreamWriter
	stream string
	maxLen int64
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan record
	done   chan struct{}
}

func New(client StreamWriter, stream string, maxLen int64, logger *zap.Logger) *RedisMirror {
	m := &RedisMirror{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
		queue:  make(chan record, queueSize),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// Connect opens a Redis client for addr and checks it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (m *RedisMirror) Publish(kind, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("mirror marshal failed", zap.String("key", key), zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- record{kind: kind, key: key, data: data, at: time.Now()}:
	default:
		m.logger.Warn("mirror queue full, snapshot dropped",
			zap.String("kind", kind),
			zap.String("key", key),
		)
	}
}

func (m *RedisMirror) run() {
	defer close(m.done)
	for r := range m.queue {
		if err := m.write(r); err != nil {
			m.logger.Warn("mirror write failed",
				zap.String("stream", m.stream),
				zap.String("key", r.key),
				zap.Error(err),
			)
		}
	}
}

func (m *RedisMirror) write(r record) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	return m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: m.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind": r.kind,
			"key":  r.key,
			"data": string(r.data),
			"ts":   r.at.UnixMilli(),
		},
	}).Err()
}

// Close flushes queued snapshots and stops the writer.
func (m *RedisMirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	<-m.done
}
