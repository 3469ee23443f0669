package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/listingcore/core/internal/logger"
)

// MemoryQueue is a mutex-guarded ring-buffer queue, one worker goroutine
// per subscription. It has no persistence and is intended for tests and
// local development only.
type MemoryQueue struct {
	mu          sync.RWMutex
	connected   bool
	topics      map[string]*memoryTopic
	subCounter  uint64
}

type memoryTopic struct {
	mu   sync.Mutex
	buf  chan Message
	subs map[string]context.CancelFunc
}

const defaultBufferSize = 1024

// NewMemoryQueue returns an unconnected in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{topics: make(map[string]*memoryTopic)}
}

func (q *MemoryQueue) Connect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.connected = true
	logger.Queue().Info().Msg("memory queue connected")
	return nil
}

func (q *MemoryQueue) Disconnect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.topics {
		t.mu.Lock()
		for _, cancel := range t.subs {
			cancel()
		}
		t.mu.Unlock()
	}
	q.connected = false
	return nil
}

func (q *MemoryQueue) topic(name string) *memoryTopic {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.topics[name]
	if !ok {
		t = &memoryTopic{
			buf:  make(chan Message, defaultBufferSize),
			subs: make(map[string]context.CancelFunc),
		}
		q.topics[name] = t
	}
	return t
}

func (q *MemoryQueue) Publish(ctx context.Context, topicName string, body []byte) (string, error) {
	id := uuid.New().String()
	msg := Message{ID: id, Topic: topicName, Body: body, DeliveryCount: 1}

	t := q.topic(topicName)
	select {
	case t.buf <- msg:
		return id, nil
	default:
		return "", fmt.Errorf("queue: topic %q is full (capacity %d)", topicName, defaultBufferSize)
	}
}

// Subscribe starts one worker goroutine that pulls from topic's buffer
// and invokes handler. A handler error is logged and the delivery is
// dropped, not re-delivered; a handler that wants redelivery calls Reject
// with requeue true, which re-publishes it (incrementing DeliveryCount).
// MemoryQueue itself does not know about pkg/model's dead_letter
// semantics, it only re-delivers or drops.
func (q *MemoryQueue) Subscribe(ctx context.Context, topicName string, handler Handler) (string, error) {
	t := q.topic(topicName)
	subID := fmt.Sprintf("sub-%d", atomic.AddUint64(&q.subCounter, 1))

	workerCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.subs[subID] = cancel
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-workerCtx.Done():
				return
			case msg, ok := <-t.buf:
				if !ok {
					return
				}
				if err := handler(workerCtx, msg); err != nil {
					logger.Queue().Warn().Err(err).Str("topic", topicName).Str("message_id", msg.ID).Msg("handler rejected delivery")
					continue
				}
			}
		}
	}()

	return subID, nil
}

func (q *MemoryQueue) Unsubscribe(ctx context.Context, subscriptionID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, t := range q.topics {
		t.mu.Lock()
		if cancel, ok := t.subs[subscriptionID]; ok {
			cancel()
			delete(t.subs, subscriptionID)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
	}
	return fmt.Errorf("queue: unknown subscription %q", subscriptionID)
}

// Ack is a no-op: the in-memory queue auto-acks on handler success by
// simply not re-delivering.
func (q *MemoryQueue) Ack(ctx context.Context, msg Message) error {
	return nil
}

// Reject re-publishes msg to its original topic with an incremented
// delivery count when requeue is true; otherwise it drops the message
// and the caller is responsible for dead-lettering it.
func (q *MemoryQueue) Reject(ctx context.Context, msg Message, requeue bool) error {
	if !requeue {
		return nil
	}
	t := q.topic(msg.Topic)
	msg.DeliveryCount++
	select {
	case t.buf <- msg:
		return nil
	default:
		return fmt.Errorf("queue: requeue of %q failed, topic %q is full", msg.ID, msg.Topic)
	}
}

func (q *MemoryQueue) HealthCheck(ctx context.Context) (HealthStatus, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	start := time.Now()
	return HealthStatus{Connected: q.connected, Latency: time.Since(start), Detail: "in-memory"}, nil
}
