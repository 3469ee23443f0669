package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/listingcore/core/internal/logger"
)

// RedisStreamConfig configures the durable stream queue.
type RedisStreamConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string

	// MaxPending caps in-flight (delivered, unacked) entries per
	// consumer before the consumer stops reading new entries.
	MaxPending int

	// BlockInterval is how long XREADGROUP blocks waiting for new
	// stream entries before returning empty-handed and looping.
	BlockInterval time.Duration

	// ClaimMinIdle is how long a pending entry may sit unacked on any
	// consumer before another consumer's sweep claims and re-delivers
	// it. This is what recovers deliveries owned by a crashed worker.
	ClaimMinIdle time.Duration
}

func (c RedisStreamConfig) withDefaults() RedisStreamConfig {
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "listingcore"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "worker-1"
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 1000
	}
	if c.BlockInterval <= 0 {
		c.BlockInterval = 2 * time.Second
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Minute
	}
	return c
}

// RedisStreamQueue implements Queue over Redis Streams: XADD to publish,
// consumer groups (XREADGROUP) for load-balanced delivery across
// workers, XACK on success, and an XAUTOCLAIM sweep that re-delivers
// entries left pending longer than ClaimMinIdle (e.g. by a crashed
// consumer).
type RedisStreamQueue struct {
	cfg    RedisStreamConfig
	client *redis.Client

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

// NewRedisStreamQueue constructs a queue bound to the given config. It
// does not connect until Connect is called.
func NewRedisStreamQueue(cfg RedisStreamConfig) *RedisStreamQueue {
	return &RedisStreamQueue{cfg: cfg.withDefaults(), subs: make(map[string]context.CancelFunc)}
}

func (q *RedisStreamQueue) Connect(ctx context.Context) error {
	q.client = redis.NewClient(&redis.Options{
		Addr:     q.cfg.Addr,
		Password: q.cfg.Password,
		DB:       q.cfg.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		MaxIdleConns:    10,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("queue: failed to connect to redis: %w", err)
	}
	logger.Queue().Info().Str("addr", q.cfg.Addr).Msg("redis stream queue connected")
	return nil
}

func (q *RedisStreamQueue) Disconnect(ctx context.Context) error {
	q.mu.Lock()
	for _, cancel := range q.subs {
		cancel()
	}
	q.mu.Unlock()
	if q.client == nil {
		return nil
	}
	return q.client.Close()
}

func (q *RedisStreamQueue) Publish(ctx context.Context, topic string, body []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"body": body},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: xadd to %q failed: %w", topic, err)
	}
	return id, nil
}

// ensureGroup creates the consumer group for topic if it does not already
// exist; BUSYGROUP errors from a concurrent creator are swallowed.
func (q *RedisStreamQueue) ensureGroup(ctx context.Context, topic string) error {
	err := q.client.XGroupCreateMkStream(ctx, topic, q.cfg.ConsumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Subscribe starts one consumer-group worker blocking on XREADGROUP.
// Backpressure: the worker stops reading new entries once XPENDING
// reports >= MaxPending in-flight for this consumer, resuming once the
// caller acks enough of them.
func (q *RedisStreamQueue) Subscribe(ctx context.Context, topic string, handler Handler) (string, error) {
	if err := q.ensureGroup(ctx, topic); err != nil {
		return "", fmt.Errorf("queue: consumer group setup failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	subID := fmt.Sprintf("%s:%s:%s", topic, q.cfg.ConsumerGroup, q.cfg.ConsumerName)
	q.mu.Lock()
	q.subs[subID] = cancel
	q.mu.Unlock()

	// A nil return from handler acks the delivery; an error leaves it
	// pending, to be re-delivered by the XAUTOCLAIM sweep.
	acking := func(ctx context.Context, msg Message) error {
		if err := handler(ctx, msg); err != nil {
			return err
		}
		return q.Ack(ctx, msg)
	}
	go q.consumeLoop(workerCtx, topic, acking)
	return subID, nil
}

func (q *RedisStreamQueue) consumeLoop(ctx context.Context, topic string, handler Handler) {
	log := logger.Queue().With().Str("topic", topic).Str("consumer_group", q.cfg.ConsumerGroup).Logger()
	nextClaimSweep := time.Now().Add(q.cfg.ClaimMinIdle)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Now().After(nextClaimSweep) {
			q.claimStale(ctx, topic, handler, log)
			nextClaimSweep = time.Now().Add(q.cfg.ClaimMinIdle)
		}

		pending, err := q.client.XPending(ctx, topic, q.cfg.ConsumerGroup).Result()
		if err == nil && pending != nil && int(pending.Consumers[q.cfg.ConsumerName]) >= q.cfg.MaxPending {
			log.Warn().Int64("pending", pending.Consumers[q.cfg.ConsumerName]).Msg("backpressure: max_pending reached, pausing reads")
			time.Sleep(q.cfg.BlockInterval)
			continue
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.ConsumerGroup,
			Consumer: q.cfg.ConsumerName,
			Streams:  []string{topic, ">"},
			Count:    10,
			Block:    q.cfg.BlockInterval,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("xreadgroup failed")
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				msg := entryToMessage(topic, entry)
				if err := handler(ctx, msg); err != nil {
					log.Warn().Err(err).Str("message_id", msg.ID).Msg("handler rejected delivery")
				}
			}
		}
	}
}

// claimStale takes ownership of pending entries idle past ClaimMinIdle
// (abandoned by a crashed or stalled consumer) via XAUTOCLAIM and runs
// them through handler, preserving at-least-once delivery across worker
// deaths. The DeliveryCount of a claimed entry is at least 2.
func (q *RedisStreamQueue) claimStale(ctx context.Context, topic string, handler Handler, log zerolog.Logger) {
	start := "0-0"
	for {
		claimed, next, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   topic,
			Group:    q.cfg.ConsumerGroup,
			Consumer: q.cfg.ConsumerName,
			MinIdle:  q.cfg.ClaimMinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("xautoclaim failed")
			}
			return
		}

		for _, entry := range claimed {
			msg := entryToMessage(topic, entry)
			msg.DeliveryCount = 2
			log.Warn().Str("message_id", msg.ID).Msg("re-delivering entry claimed from a stale consumer")
			if err := handler(ctx, msg); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("handler rejected claimed delivery")
			}
		}

		if next == "0-0" || len(claimed) == 0 {
			return
		}
		start = next
	}
}

func entryToMessage(topic string, entry redis.XMessage) Message {
	var body []byte
	if raw, ok := entry.Values["body"]; ok {
		switch v := raw.(type) {
		case string:
			body = []byte(v)
		case []byte:
			body = v
		}
	}
	return Message{ID: entry.ID, Topic: topic, Body: body, DeliveryCount: 1}
}

func (q *RedisStreamQueue) Unsubscribe(ctx context.Context, subscriptionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cancel, ok := q.subs[subscriptionID]
	if !ok {
		return fmt.Errorf("queue: unknown subscription %q", subscriptionID)
	}
	cancel()
	delete(q.subs, subscriptionID)
	return nil
}

func (q *RedisStreamQueue) Ack(ctx context.Context, msg Message) error {
	return q.client.XAck(ctx, msg.Topic, q.cfg.ConsumerGroup, msg.ID).Err()
}

// Reject acks the delivery (removing it from the pending-entries list)
// and, when requeue is true, re-publishes the body as a fresh entry —
// Redis Streams has no native "nack and redeliver", so requeue is
// modeled as republish-then-ack-original, with a new delivery id.
func (q *RedisStreamQueue) Reject(ctx context.Context, msg Message, requeue bool) error {
	if requeue {
		if _, err := q.Publish(ctx, msg.Topic, msg.Body); err != nil {
			return fmt.Errorf("queue: requeue publish failed: %w", err)
		}
	}
	return q.client.XAck(ctx, msg.Topic, q.cfg.ConsumerGroup, msg.ID).Err()
}

func (q *RedisStreamQueue) HealthCheck(ctx context.Context) (HealthStatus, error) {
	start := time.Now()
	err := q.client.Ping(ctx).Err()
	latency := time.Since(start)
	if err != nil {
		return HealthStatus{Connected: false, Latency: latency, Detail: err.Error()}, err
	}
	return HealthStatus{Connected: true, Latency: latency, Detail: "redis streams"}, nil
}
