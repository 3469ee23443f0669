package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_PublishSubscribe(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Connect(context.Background()))
	defer q.Disconnect(context.Background())

	var mu sync.Mutex
	var received []Message
	done := make(chan struct{}, 1)

	_, err := q.Subscribe(context.Background(), TopicListingsRaw, func(ctx context.Context, msg Message) error {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	_, err = q.Publish(context.Background(), TopicListingsRaw, []byte(`{"listing_id":"L1"}`))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, TopicListingsRaw, received[0].Topic)
}

func TestMemoryQueue_RejectRequeueRedelivers(t *testing.T) {
	q := NewMemoryQueue()
	require.NoError(t, q.Connect(context.Background()))
	defer q.Disconnect(context.Background())

	var attempts int32
	var mu sync.Mutex
	done := make(chan struct{}, 1)

	_, err := q.Subscribe(context.Background(), TopicListingsRaw, func(ctx context.Context, msg Message) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return q.Reject(ctx, msg, true)
		}
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	_, err = q.Publish(context.Background(), TopicListingsRaw, []byte("payload"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for redelivery")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, attempts, int32(2))
}

func TestMemoryQueue_HealthCheck(t *testing.T) {
	q := NewMemoryQueue()
	status, err := q.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Connected)

	require.NoError(t, q.Connect(context.Background()))
	status, err = q.HealthCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Connected)
}
