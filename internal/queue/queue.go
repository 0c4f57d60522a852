package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"labelq/internal/config"
	"labelq/internal/log"
	"labelq/internal/message"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const promoteBatchSize = 100

// Queue is a Redis-backed message channel with delayed delivery. Ready
// messages live in a list; delayed messages wait in a sorted set scored by
// their ready time until the promotion loop moves them over.
type Queue struct {
	client *redis.Client
	name   string
	cfg    *config.Config
	logger *log.Logger
}

func New(client *redis.Client, name string, cfg *config.Config, logger *log.Logger) *Queue {
	return &Queue{
		client: client,
		name:   name,
		cfg:    cfg,
		logger: logger,
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) readyKey() string {
	return fmt.Sprintf("labelq:queue:%s", q.name)
}

func (q *Queue) delayedKey() string {
	return fmt.Sprintf("labelq:delayed:%s", q.name)
}

// Publish enqueues a message body. With a positive delay the message stays
// invisible until the delay elapses.
func (q *Queue) Publish(ctx context.Context, body []byte, delay time.Duration) error {
	if delay <= 0 {
		if err := q.client.LPush(ctx, q.readyKey(), body).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", q.name, err)
		}
		return nil
	}
	member := redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: body,
	}
	if err := q.client.ZAdd(ctx, q.delayedKey(), member).Err(); err != nil {
		return fmt.Errorf("publish delayed to %s: %w", q.name, err)
	}
	return nil
}

// Receive blocks for up to timeout and returns the next ready message, or
// nil when none arrived.
func (q *Queue) Receive(ctx context.Context, timeout time.Duration) ([]byte, error) {
	result, err := q.client.BRPop(ctx, timeout, q.readyKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.name, err)
	}
	// BRPop returns [key, value]
	return []byte(result[1]), nil
}

// Consume delivers messages to handler one at a time until ctx is done.
// A failing message is republished with a redelivery delay so transient
// handler errors never lose it. Unparseable messages are the exception:
// redelivering those would fail forever, so they are logged and dropped.
func (q *Queue) Consume(ctx context.Context, handler func(context.Context, []byte) error) {
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Consumer shutting down", zap.String("queue", q.name))
			return
		default:
		}
		body, err := q.Receive(ctx, q.cfg.ReceiveTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			q.logger.Error("Failed to receive message", zap.Error(err), zap.String("queue", q.name))
			time.Sleep(time.Second)
			continue
		}
		if body == nil {
			continue
		}
		if err := handler(ctx, body); err != nil {
			if errors.Is(err, message.ErrMalformed) || errors.Is(err, message.ErrUnknownCommand) {
				q.logger.Error("Dropping unparseable message", zap.Error(err), zap.String("queue", q.name), zap.ByteString("body", body))
				continue
			}
			q.logger.Error("Failed to process message, scheduling redelivery", zap.Error(err), zap.String("queue", q.name))
			if pubErr := q.Publish(ctx, body, q.cfg.RedeliveryDelay); pubErr != nil {
				q.logger.Error("Failed to redeliver message", zap.Error(pubErr), zap.String("queue", q.name), zap.ByteString("body", body))
			}
		}
	}
}

// Run promotes due delayed messages into the ready list until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Promoter shutting down", zap.String("queue", q.name))
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil {
				q.logger.Error("Failed to promote delayed messages", zap.Error(err), zap.String("queue", q.name))
			}
		}
	}
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().UnixMilli())
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("range delayed messages: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := q.client.Pipeline()
	for _, body := range due {
		pipe.LPush(ctx, q.readyKey(), body)
		pipe.ZRem(ctx, q.delayedKey(), body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("promote delayed messages: %w", err)
	}
	return nil
}

// Depth returns the ready and delayed message counts.
func (q *Queue) Depth(ctx context.Context) (ready, delayed int64, err error) {
	ready, err = q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("ready depth: %w", err)
	}
	delayed, err = q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("delayed depth: %w", err)
	}
	return ready, delayed, nil
}
