//go:build integration
// +build integration

package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"labelq/internal/config"
	"labelq/internal/log"
	"labelq/internal/message"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupTestRedis(ctx context.Context, t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		redisContainer, err := tcRedis.RunContainer(ctx, testcontainers.WithImage("redis:7"))
		if err != nil {
			t.Fatalf("failed to start redis container: %s", err)
		}
		t.Cleanup(func() { redisContainer.Terminate(ctx) })

		addr, err = redisContainer.Endpoint(ctx, "")
		if err != nil {
			t.Fatalf("failed to get redis endpoint: %s", err)
		}
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	if err := client.FlushAll(ctx).Err(); err != nil {
		t.Fatalf("failed to flush redis: %s", err)
	}
	return client
}

func testQueueConfig() *config.Config {
	return &config.Config{
		PromoteInterval: 100 * time.Millisecond,
		ReceiveTimeout:  time.Second,
		RedeliveryDelay: 200 * time.Millisecond,
	}
}

func TestPublishReceive(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(ctx, t)
	q := New(client, "test", testQueueConfig(), log.NewLogger())

	if err := q.Publish(ctx, []byte(`{"command":"create"}`), 0); err != nil {
		t.Fatalf("publish failed: %s", err)
	}
	body, err := q.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("receive failed: %s", err)
	}
	if string(body) != `{"command":"create"}` {
		t.Errorf("received %q", body)
	}

	// Nothing left: receive times out with no message and no error.
	body, err = q.Receive(ctx, time.Second)
	if err != nil || body != nil {
		t.Errorf("empty receive = %q, %v, want nil, nil", body, err)
	}
}

func TestDelayedDelivery(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(ctx, t)
	q := New(client, "test-delayed", testQueueConfig(), log.NewLogger())

	if err := q.Publish(ctx, []byte("later"), 500*time.Millisecond); err != nil {
		t.Fatalf("publish failed: %s", err)
	}

	ready, delayed, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth failed: %s", err)
	}
	if ready != 0 || delayed != 1 {
		t.Fatalf("depth = %d ready / %d delayed, want 0/1", ready, delayed)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.Run(runCtx)

	// The message must stay invisible until the delay elapses.
	if body, _ := q.Receive(ctx, 100*time.Millisecond); body != nil {
		t.Fatalf("message delivered before its delay: %q", body)
	}

	deadline := time.Now().Add(5 * time.Second)
	var body []byte
	for time.Now().Before(deadline) {
		body, err = q.Receive(ctx, time.Second)
		if err != nil {
			t.Fatalf("receive failed: %s", err)
		}
		if body != nil {
			break
		}
	}
	if string(body) != "later" {
		t.Fatalf("delayed message not delivered, got %q", body)
	}

	ready, delayed, err = q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth failed: %s", err)
	}
	if ready != 0 || delayed != 0 {
		t.Errorf("depth after delivery = %d/%d, want 0/0", ready, delayed)
	}
}

func TestConsumeDeliversOneAtATime(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(ctx, t)
	q := New(client, "test-consume", testQueueConfig(), log.NewLogger())

	for _, body := range []string{"m1", "m2", "m3"} {
		if err := q.Publish(ctx, []byte(body), 0); err != nil {
			t.Fatalf("publish failed: %s", err)
		}
	}

	received := make(chan string, 3)
	consumeCtx, cancel := context.WithCancel(ctx)
	go q.Consume(consumeCtx, func(ctx context.Context, body []byte) error {
		received <- string(body)
		return nil
	})

	got := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case body := <-received:
			got[body] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	cancel()
	if !got["m1"] || !got["m2"] || !got["m3"] {
		t.Errorf("missing messages: %v", got)
	}
}

func TestConsumeRedeliversOnHandlerError(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(ctx, t)
	q := New(client, "test-redeliver", testQueueConfig(), log.NewLogger())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.Run(runCtx)

	if err := q.Publish(ctx, []byte("flaky"), 0); err != nil {
		t.Fatalf("publish failed: %s", err)
	}

	// The first delivery fails transiently; the message must come back.
	deliveries := make(chan string, 2)
	var calls int32
	go q.Consume(runCtx, func(ctx context.Context, body []byte) error {
		deliveries <- string(body)
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("store down")
		}
		return nil
	})

	for i := 0; i < 2; i++ {
		select {
		case body := <-deliveries:
			if body != "flaky" {
				t.Fatalf("delivery %d = %q, want the original body", i+1, body)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i+1)
		}
	}
}

func TestConsumeDropsUnparseableMessages(t *testing.T) {
	ctx := context.Background()
	client := setupTestRedis(ctx, t)
	q := New(client, "test-poison", testQueueConfig(), log.NewLogger())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go q.Run(runCtx)

	if err := q.Publish(ctx, []byte("{{{"), 0); err != nil {
		t.Fatalf("publish failed: %s", err)
	}

	deliveries := make(chan string, 2)
	go q.Consume(runCtx, func(ctx context.Context, body []byte) error {
		deliveries <- string(body)
		return fmt.Errorf("%w: not json", message.ErrMalformed)
	})

	select {
	case <-deliveries:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first delivery")
	}

	// No redelivery may follow, and the message must be gone entirely.
	select {
	case body := <-deliveries:
		t.Fatalf("unparseable message redelivered: %q", body)
	case <-time.After(time.Second):
	}
	ready, delayed, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth failed: %s", err)
	}
	if ready != 0 || delayed != 0 {
		t.Errorf("depth after drop = %d/%d, want 0/0", ready, delayed)
	}
}
