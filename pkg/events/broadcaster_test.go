package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastFanOut(t *testing.T) {
	b := NewBroadcaster()

	ch1, cancel1 := b.Subscribe(4)
	ch2, cancel2 := b.Subscribe(4)
	defer cancel1()
	defer cancel2()

	b.Broadcast(Event{Type: TypeCallEnded, CallID: 42})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, TypeCallEnded, ev1.Type)
	assert.Equal(t, 42, ev1.CallID)
	assert.False(t, ev1.Timestamp.IsZero())
	assert.Equal(t, ev1.CallID, ev2.CallID)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	// Second send overflows the buffer; Broadcast must not block.
	b.Broadcast(Event{Type: TypeCallStarted, CallID: 1})
	b.Broadcast(Event{Type: TypeCallStarted, CallID: 2})

	ev := <-ch
	assert.Equal(t, 1, ev.CallID)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event %v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()

	ch, cancel := b.Subscribe(1)
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice is safe.
	cancel()

	// Broadcast after unsubscribe reaches nobody and does not panic.
	b.Broadcast(Event{Type: TypeCallEnded})
}
