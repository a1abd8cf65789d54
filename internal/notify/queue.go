package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RedisConfig holds Redis connection configuration for the queue.
type RedisConfig struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// Key is the Redis list the queue lives on.
	Key string
}

// DefaultRedisConfig returns a sensible default configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         "localhost",
		Port:         6379,
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		Key:          "candid:push-queue",
	}
}

// Addr returns the Redis address in "host:port" format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	// ErrQueueConnection is returned when the Redis connection fails.
	ErrQueueConnection = errors.New("notify: queue connection failed")

	// ErrQueueClosed is returned when operations are attempted on a closed queue.
	ErrQueueClosed = errors.New("notify: queue is closed")
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// Queue is a Redis list backed notification queue. Producers call Enqueue
// after their transaction commits; the dispatcher pops and pushes.
type Queue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewQueue connects to Redis and returns a new queue.
func NewQueue(cfg RedisConfig, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Key == "" {
		cfg.Key = "candid:push-queue"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueConnection, err)
	}

	return &Queue{
		client: client,
		key:    cfg.Key,
		logger: logger,
	}, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue implements Notifier. Failures are logged and swallowed because
// callers have already committed their side effects.
func (q *Queue) Enqueue(ctx context.Context, notifications ...Notification) {
	for _, n := range notifications {
		if n.Token == "" {
			continue
		}
		payload, err := json.Marshal(n)
		if err != nil {
			q.logger.Error("failed to encode notification", "error", err)
			continue
		}
		if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
			q.logger.Error("failed to enqueue notification", "error", err)
		}
	}
}

// Dequeue blocks until a notification is available or the timeout elapses.
// A zero timeout blocks indefinitely. Returns (nil, nil) on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Notification, error) {
	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("notify: dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) != 2 {
		return nil, fmt.Errorf("notify: unexpected brpop reply of length %d", len(result))
	}

	var n Notification
	if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
		return nil, fmt.Errorf("notify: decode notification: %w", err)
	}
	return &n, nil
}

// Len returns the number of pending notifications.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// PollTimeout bounds each blocking pop so shutdown is responsive.
	PollTimeout time.Duration

	// BatchWindow is how long the dispatcher keeps draining after the
	// first pop before flushing the collected batch.
	BatchWindow time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollTimeout: 5 * time.Second,
		BatchWindow: 500 * time.Millisecond,
	}
}

// Dispatcher drains the queue and hands batches to the Pusher.
type Dispatcher struct {
	queue  *Queue
	pusher Pusher
	config DispatcherConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(queue *Queue, pusher Pusher, config DispatcherConfig) *Dispatcher {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  queue,
		pusher: pusher,
		config: config,
		logger: logger,
	}
}

// Run drains the queue until the context is cancelled. Push failures are
// logged and the batch is dropped; delivery is best effort.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("notification dispatcher started")
	defer d.logger.Info("notification dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch, err := d.collectBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("failed to read notification queue", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}

		if err := d.pusher.Push(ctx, batch); err != nil {
			d.logger.Error("push delivery failed", "count", len(batch), "error", err)
		}
	}
}

// Start runs the dispatcher in a goroutine. Wait blocks until it returns.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(ctx)
	}()
}

// Wait blocks until the dispatcher goroutine exits.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// collectBatch blocks for the first notification, then drains whatever
// arrives within the batch window so bursts go out as one API call.
func (d *Dispatcher) collectBatch(ctx context.Context) ([]Notification, error) {
	first, err := d.queue.Dequeue(ctx, d.config.PollTimeout)
	if err != nil || first == nil {
		return nil, err
	}

	batch := []Notification{*first}
	deadline := time.Now().Add(d.config.BatchWindow)

	for time.Now().Before(deadline) && len(batch) < expoChunkSize {
		n, err := d.queue.Dequeue(ctx, 50*time.Millisecond)
		if err != nil {
			d.logger.Error("failed to drain notification queue", "error", err)
			break
		}
		if n == nil {
			break
		}
		batch = append(batch, *n)
	}

	return batch, nil
}
