package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	mu             sync.Mutex
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_ string, _ Event) {
	o.mu.Lock()
	o.publishCount++
	o.mu.Unlock()
}

func (o *testObserver) OnDelivered(_ string, handlers int, err error, _ int64) {
	o.mu.Lock()
	o.deliveredCount += handlers
	o.lastErr = err
	o.mu.Unlock()
}

func TestBasicPublishSubscribe(t *testing.T) {
	b := New()
	var got Event
	_, err := b.Subscribe("peer.left", func(e Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(NewEvent("peer.left", "replication", uint64(42), map[string]any{"reason": "timeout"})))
	require.NotNil(t, got)
	assert.Equal(t, "replication", got.Source())
	assert.Equal(t, uint64(42), got.Data())
	assert.Equal(t, "timeout", got.Metadata()["reason"])
	assert.False(t, got.Timestamp().IsZero())
}

func TestSubscribeNilHandler(t *testing.T) {
	_, err := New().Subscribe("x", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestHandlerErrorsAreJoined(t *testing.T) {
	b := New()
	errA := errors.New("a")
	errB := errors.New("b")
	_, _ = b.Subscribe("x", func(Event) error { return errA })
	_, _ = b.Subscribe("x", func(Event) error { return errB })

	err := b.Publish(NewEvent("x", "src", nil, nil))
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	var calls atomic.Int32
	sub, err := b.Subscribe("x", func(Event) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("x"))

	require.NoError(t, b.Publish(NewEvent("x", "", nil, nil)))
	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, sub.Cancel())
	require.NoError(t, b.Unsubscribe(nil))
	require.NoError(t, b.Publish(NewEvent("x", "", nil, nil)))

	assert.False(t, sub.IsActive())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, b.Subscribers("x"))
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, "x", sub.EventType())
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe("e", func(Event) error { return nil })
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	assert.Zero(t, b.GetMetrics().Published)

	obs := &testObserver{}
	b.AddObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil, nil))

	m := b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, uint64(1), m.SubscribersActive)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	b.RemoveObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil, nil))
	assert.Equal(t, 1, obs.publishCount)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()
	var calls atomic.Int64
	b.AddObserver(&testObserver{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub, _ := b.Subscribe("tick", func(Event) error {
				calls.Add(1)
				return nil
			})
			_ = sub.Cancel()
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.Publish(NewEvent("tick", "", nil, nil))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(800), b.GetMetrics().Published)
}
