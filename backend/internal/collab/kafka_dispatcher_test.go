package collab

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaDispatcher_RetriesThenDelivers(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageAndFail(errors.New("leader not available"))
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !assert.Contains(t, string(val), `"eventType":"RECONCILE_TRIGGERED"`) {
			return errors.New("unexpected payload")
		}
		return nil
	})

	d := NewKafkaDispatcher(producer, "doc-events", NewSemaphoreControl(1), KafkaDispatcherOptions{
		QueueSize:   4,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	})

	err := d.Enqueue(context.Background(), ReconcileTriggeredEvent{EventType: EventReconcileTriggered, DocID: "doc"})
	require.NoError(t, err)
	d.Close()
	require.NoError(t, producer.Close())
}

func TestKafkaDispatcher_EnqueueAfterClose(t *testing.T) {
	d := NewKafkaDispatcher(nil, "", nil, KafkaDispatcherOptions{})
	d.Close()
	d.Close()

	err := d.Enqueue(context.Background(), DocOpEvent{EventType: EventOpApplied, DocID: "doc"})
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestKafkaDispatcher_EnqueueRespectsContext(t *testing.T) {
	blocked := make(chan struct{})
	d := &KafkaDispatcher{queue: make(chan Event), done: blocked}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, DocOpEvent{DocID: "doc"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSemaphoreControl(t *testing.T) {
	sem := NewSemaphoreControl(1)
	require.NoError(t, sem.Acquire(context.Background()))
	assert.Equal(t, 1, sem.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sem.Acquire(ctx), ErrSemaphoreTimeout)

	require.NoError(t, sem.Release())
	assert.ErrorIs(t, sem.Release(), ErrSemaphoreNotAcquired)
}
