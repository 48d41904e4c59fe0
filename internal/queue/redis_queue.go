// Package queue implements the durable submission queue on Redis lists, with
// a sorted set for delayed retry delivery and a dead-letter side channel.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/core"
	"github.com/Rainking6693/Directory-Bolt-ALL-NEW-sub001/internal/domain/model"
)

const (
	defaultNamespace   = "directorybolt:queue:submissions"
	defaultPollTimeout = 5 * time.Second

	// promoteBatchSize bounds how many due delayed messages one receive call
	// moves to the ready list.
	promoteBatchSize = 64
)

// RedisQueueOptions contains dependencies for RedisQueue.
type RedisQueueOptions struct {
	Client      *redis.Client
	Namespace   string
	PollTimeout time.Duration
	Logger      *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// RedisQueue is the Redis implementation of core.Queue. Delivery is
// at-least-once: a received message sits on a processing list until Acked,
// so a consumer crash leaves it recoverable rather than lost.
type RedisQueue struct {
	client      *redis.Client
	logger      *slog.Logger
	pollTimeout time.Duration
	now         func() time.Time

	readyKey          string
	processingKey     string
	delayedKey        string
	deadKey           string
	deadProcessingKey string
	poisonKey         string
}

// NewRedisQueue creates a RedisQueue with the given options.
func NewRedisQueue(opts RedisQueueOptions) (*RedisQueue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Namespace == "" {
		opts.Namespace = defaultNamespace
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RedisQueue{
		client:            opts.Client,
		logger:            opts.Logger.With("component", "redis_queue"),
		pollTimeout:       opts.PollTimeout,
		now:               opts.Now,
		readyKey:          opts.Namespace + ":ready",
		processingKey:     opts.Namespace + ":processing",
		delayedKey:        opts.Namespace + ":delayed",
		deadKey:           opts.Namespace + ":dead",
		deadProcessingKey: opts.Namespace + ":dead:processing",
		poisonKey:         opts.Namespace + ":poison",
	}, nil
}

// MustNewRedisQueue creates a RedisQueue and panics on invalid options.
func MustNewRedisQueue(opts RedisQueueOptions) *RedisQueue {
	q, err := NewRedisQueue(opts)
	if err != nil {
		panic(err)
	}
	return q
}

// Publish makes the message available for immediate delivery.
func (q *RedisQueue) Publish(ctx context.Context, msg core.Message) error {
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.readyKey, raw).Err(); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishDelayed schedules the message for delivery after the given delay.
// Due messages are promoted to the ready list by Receive.
func (q *RedisQueue) PublishDelayed(ctx context.Context, msg core.Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Publish(ctx, msg)
	}
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	deliverAt := q.now().Add(delay)
	err = q.client.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(deliverAt.UnixMilli()),
		Member: raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule delayed message: %w", err)
	}
	return nil
}

// Receive promotes due delayed messages, then blocks up to the poll timeout
// for the next ready message, moving it onto the processing list. It returns
// model.ErrNoJob when nothing arrived within the window.
func (q *RedisQueue) Receive(ctx context.Context) (*core.Delivery, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.logger.WarnContext(ctx, "delayed promotion failed", "err", err)
	}
	return q.receiveFrom(ctx, q.readyKey, q.processingKey)
}

// DeadLetter parks the message on the dead-letter list for operator review.
func (q *RedisQueue) DeadLetter(ctx context.Context, msg core.Message) error {
	raw, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.deadKey, raw).Err(); err != nil {
		return fmt.Errorf("dead-letter message: %w", err)
	}
	return nil
}

// ReceiveDeadLetter blocks for the next dead-lettered message.
func (q *RedisQueue) ReceiveDeadLetter(ctx context.Context) (*core.Delivery, error) {
	return q.receiveFrom(ctx, q.deadKey, q.deadProcessingKey)
}

// DeadLetterDepth returns the number of parked dead-letter messages.
func (q *RedisQueue) DeadLetterDepth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.deadKey).Result()
	if err != nil {
		return 0, fmt.Errorf("dead-letter depth: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) receiveFrom(ctx context.Context, srcKey, inflightKey string) (*core.Delivery, error) {
	raw, err := q.client.BLMove(ctx, srcKey, inflightKey, "RIGHT", "LEFT", q.pollTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, model.ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		// Undecodable payloads cannot be processed; drop from in-flight and
		// park the raw text for inspection. Parking happens on a dedicated
		// key, never back on the source list, or a consumer of that list
		// would re-receive the same poison payload forever.
		q.logger.ErrorContext(ctx, "dropping undecodable message", "err", err)
		if remErr := q.client.LRem(ctx, inflightKey, 1, raw).Err(); remErr != nil {
			q.logger.ErrorContext(ctx, "failed to drop message", "err", remErr)
		}
		if parkErr := q.client.LPush(ctx, q.poisonKey, raw).Err(); parkErr != nil {
			q.logger.ErrorContext(ctx, "failed to park undecodable message", "err", parkErr)
		}
		return nil, model.ErrNoJob
	}

	return &core.Delivery{
		Message: msg,
		Ack: func(ctx context.Context) error {
			if err := q.client.LRem(ctx, inflightKey, 1, raw).Err(); err != nil {
				return fmt.Errorf("ack message: %w", err)
			}
			return nil
		},
		Nack: func(ctx context.Context) error {
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, inflightKey, 1, raw)
			pipe.RPush(ctx, srcKey, raw)
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("nack message: %w", err)
			}
			return nil
		},
	}, nil
}

// promoteDue moves due delayed messages to the ready list. ZRem returns 1
// for exactly one caller per member, so concurrent consumers never promote
// the same message twice.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	nowMilli := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   nowMilli,
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed messages: %w", err)
	}
	for _, raw := range due {
		removed, err := q.client.ZRem(ctx, q.delayedKey, raw).Result()
		if err != nil {
			return fmt.Errorf("claim delayed message: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.readyKey, raw).Err(); err != nil {
			return fmt.Errorf("promote delayed message: %w", err)
		}
	}
	return nil
}

func encodeMessage(msg core.Message) (string, error) {
	if msg.JobID == "" {
		return "", errors.New("message job_id is required")
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(b), nil
}

func decodeMessage(raw string) (core.Message, error) {
	var msg core.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return core.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.JobID == "" {
		return core.Message{}, errors.New("message missing job_id")
	}
	return msg, nil
}

var _ core.Queue = (*RedisQueue)(nil)
