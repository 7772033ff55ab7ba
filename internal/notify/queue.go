package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// ErrQueueFull is returned by Push when the queue cannot take more jobs
// without blocking.
var ErrQueueFull = errors.New("notification queue is full")

// Queue is the hand-off between the order pipeline and delivery workers.
type Queue interface {
	// Push enqueues a payload without waiting for a consumer.
	Push(ctx context.Context, payload []byte) error
	// Pop blocks until a payload is available or ctx is done. A nil payload
	// with a nil error means the wait timed out and should be retried.
	Pop(ctx context.Context) ([]byte, error)
}

// MemoryQueue is an in-process, channel-backed queue. Jobs are lost on
// restart.
type MemoryQueue struct {
	ch chan []byte
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a MemoryQueue holding up to size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan []byte, size)}
}

// Push enqueues payload, or returns ErrQueueFull when the buffer is full.
func (q *MemoryQueue) Push(_ context.Context, payload []byte) error {
	select {
	case q.ch <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pop waits for the next payload until ctx is done.
func (q *MemoryQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case payload := <-q.ch:
		return payload, nil
	}
}

// Len returns the number of queued jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// DefaultRedisKey is the list notifications are queued on.
const DefaultRedisKey = "pickup:notify:jobs"

// RedisQueue queues jobs on a Redis list with LPUSH and BRPOP, so pending
// notifications survive a restart and can be drained by any replica.
type RedisQueue struct {
	rdb     redis.UniversalClient
	key     string
	maxLen  int64
	timeout time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// RedisQueueOptions tunes a RedisQueue.
type RedisQueueOptions struct {
	// Key defaults to DefaultRedisKey.
	Key string
	// MaxLen caps the list length. Zero means unbounded.
	MaxLen int64
	// PopTimeout bounds a single BRPOP. Defaults to 5s.
	PopTimeout time.Duration
}

// NewRedisQueue creates a RedisQueue over rdb.
func NewRedisQueue(rdb redis.UniversalClient, opts RedisQueueOptions) *RedisQueue {
	if opts.Key == "" {
		opts.Key = DefaultRedisKey
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 5 * time.Second
	}
	return &RedisQueue{rdb: rdb, key: opts.Key, maxLen: opts.MaxLen, timeout: opts.PopTimeout}
}

// Push appends payload to the list, or returns ErrQueueFull when the list
// has reached MaxLen.
func (q *RedisQueue) Push(ctx context.Context, payload []byte) error {
	if q.maxLen > 0 {
		n, err := q.rdb.LLen(ctx, q.key).Result()
		if err != nil {
			return errors.Wrap(err, "redis llen")
		}
		if n >= q.maxLen {
			return ErrQueueFull
		}
	}
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return errors.Wrap(err, "redis lpush")
	}
	return nil
}

// Pop waits up to the pop timeout for the oldest payload. It returns nil
// when the wait times out.
func (q *RedisQueue) Pop(ctx context.Context) ([]byte, error) {
	res, err := q.rdb.BRPop(ctx, q.timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(err, "redis brpop")
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}
