package events

import (
	"testing"
	"time"

	"bankd/config"
	"bankd/types"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(id uint64) *types.Event {
	return &types.Event{
		ID:         id,
		Kind:       types.EventDeposit,
		AccountIDs: []uint64{1},
		Amount:     uint256.NewInt(10),
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()
	assert.True(t, bus.HasSubscriber(id))
	assert.Equal(t, 1, bus.GetTotalSubscriptions())

	bus.Publish(testEvent(1))

	select {
	case event := <-ch:
		assert.Equal(t, uint64(1), event.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewEventBus()
	id, ch := bus.Subscribe()

	require.True(t, bus.Unsubscribe(id))
	assert.False(t, bus.HasSubscriber(id))
	assert.Equal(t, 0, bus.GetTotalSubscriptions())

	_, open := <-ch
	assert.False(t, open)

	assert.False(t, bus.Unsubscribe(id), "double unsubscribe reports false")
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	_, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()

	bus.Publish(testEvent(7))

	for _, ch := range []chan *types.Event{ch1, ch2} {
		select {
		case event := <-ch:
			assert.Equal(t, uint64(7), event.ID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewEventBus()
	_, ch := bus.Subscribe()

	// Overfill the buffer; Publish must drop rather than block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < config.EventBufferSize+10; i++ {
			bus.Publish(testEvent(uint64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
	assert.Len(t, ch, config.EventBufferSize)
}
