// Package queue defines the Queue abstraction the orchestrator publishes
// and subscribes through, plus two implementations of the same contract:
// an in-memory queue for tests and development, and a Redis Streams-backed
// durable queue for production.
//
// Delivery is at-least-once. Handlers MUST be idempotent, keyed by the
// envelope's event_id — the queue makes no ordering or exactly-once
// guarantee across topics or workers.
package queue

import (
	"context"
	"time"
)

// Fixed topic names (flat namespace).
const (
	TopicListingsRaw        = "listings.raw"
	TopicListingsNormalized = "listings.normalized"
	TopicListingsProcessed  = "listings.processed"
	TopicFraudDetected      = "fraud.detected"
	TopicProcessingFailed   = "processing.failed"
	TopicDeadLetter         = "dead_letter"
)

// Message is a single delivery: the topic it arrived on, its serialized
// body, a delivery id the backend uses to ack/reject it, and a delivery
// count for backoff/DLQ decisions.
type Message struct {
	ID            string
	Topic         string
	Body          []byte
	DeliveryCount int
}

// Handler processes one delivered message. Returning nil acks the
// message (for the in-memory queue, this happens automatically after a
// successful return); returning an error rejects it per the queue's
// reject policy.
type Handler func(ctx context.Context, msg Message) error

// HealthStatus reports queue connectivity for the orchestrator's health view.
type HealthStatus struct {
	Connected bool
	Latency   time.Duration
	Detail    string
}

// Queue is the contract both implementations satisfy.
type Queue interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// Publish enqueues body on topic and returns a backend-assigned
	// message id.
	Publish(ctx context.Context, topic string, body []byte) (string, error)

	// Subscribe registers handler to process deliveries on topic and
	// returns a subscription id. Subscribe starts a background worker;
	// it does not block.
	Subscribe(ctx context.Context, topic string, handler Handler) (string, error)

	// Unsubscribe stops the worker behind subscriptionID.
	Unsubscribe(ctx context.Context, subscriptionID string) error

	// Ack acknowledges successful processing of a delivery.
	Ack(ctx context.Context, msg Message) error

	// Reject signals failed processing. If requeue is true the message
	// becomes available for redelivery; otherwise the delivery is dropped.
	// Neither implementation routes a dropped delivery to the dead_letter
	// topic; dead-lettering is left to the caller.
	Reject(ctx context.Context, msg Message, requeue bool) error

	HealthCheck(ctx context.Context) (HealthStatus, error)
}
