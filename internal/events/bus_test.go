package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()

	bus.Publish(Event{Kind: KindFailover, NetworkID: "net-1", NewPrimary: "net-2"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			assert.Equal(t, KindFailover, e.Kind)
			assert.Equal(t, "net-1", e.NetworkID)
			assert.Equal(t, "net-2", e.NewPrimary)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestPublishOrderPreserved(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(Event{Kind: KindStatusChange, Status: string(rune('a' + i))})
	}
	for i := 0; i < 5; i++ {
		e := <-ch
		assert.Equal(t, string(rune('a'+i)), e.Status)
	}
}

// A slow subscriber never blocks the publisher; overflow events are dropped
// for that subscriber only.
func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	slow := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Kind: KindStatusChange})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	e, ok := <-slow
	require.True(t, ok)
	assert.Equal(t, KindStatusChange, e.Kind)
}

func TestCloseIsTerminal(t *testing.T) {
	bus := NewBus(4)
	ch := bus.Subscribe()

	bus.Close()
	bus.Close() // idempotent

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after close is a no-op, and late subscribers get a closed
	// channel instead of one that never delivers.
	bus.Publish(Event{Kind: KindFailover})
	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
