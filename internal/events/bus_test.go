package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showdeck/outline-engine/internal/outline"
)

func testEvent(containerID uuid.UUID, eventID string, seq int64) *outline.Event {
	return &outline.Event{
		EventID:     eventID,
		Type:        outline.EvtNodeContentChanged,
		ContainerID: containerID,
		Payload:     json.RawMessage(`{}`),
		Sequence:    seq,
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()
	containerID := uuid.New()

	s1 := bus.Subscribe(containerID)
	s2 := bus.Subscribe(containerID)
	other := bus.Subscribe(uuid.New())

	ev := testEvent(containerID, uuid.NewString(), 1)
	bus.Publish(ev)

	assert.Equal(t, ev, <-s1.C)
	assert.Equal(t, ev, <-s2.C)
	select {
	case got := <-other.C:
		t.Fatalf("unrelated topic received %v", got)
	default:
	}
}

func TestSubscribeAfterPublishMissesEvent(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()
	containerID := uuid.New()

	bus.Publish(testEvent(containerID, uuid.NewString(), 1))
	sub := bus.Subscribe(containerID)

	select {
	case got := <-sub.C:
		t.Fatalf("late subscriber received %v", got)
	default:
	}
}

func TestIgnoreOriginatorSuppressesEcho(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()
	containerID := uuid.New()

	mine := bus.Subscribe(containerID, WithIgnoreOriginator("session-1"))
	theirs := bus.Subscribe(containerID)

	echo := testEvent(containerID, uuid.NewString()+":session-1", 1)
	foreign := testEvent(containerID, uuid.NewString()+":session-2", 2)
	bus.Publish(echo)
	bus.Publish(foreign)

	// The echo is dropped for the originating session only.
	assert.Equal(t, foreign, <-mine.C)
	assert.Equal(t, echo, <-theirs.C)
	assert.Equal(t, foreign, <-theirs.C)
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()
	containerID := uuid.New()

	sub := bus.Subscribe(containerID)
	require.Equal(t, 1, bus.SubscriberCount(containerID))

	sub.Cancel()
	assert.Equal(t, 0, bus.SubscriberCount(containerID))
	_, open := <-sub.C
	assert.False(t, open)

	// Cancel is idempotent.
	sub.Cancel()
}

func TestSlowSubscriberEvicted(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()
	containerID := uuid.New()

	slow := bus.Subscribe(containerID)
	for i := 0; i < subscriberBuffer+1; i++ {
		bus.Publish(testEvent(containerID, uuid.NewString(), int64(i+1)))
	}

	assert.Equal(t, 0, bus.SubscriberCount(containerID))

	// The buffered events drain, then the channel reports closed.
	n := 0
	for range slow.C {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}

func TestShutdownClosesAll(t *testing.T) {
	bus := NewBus()
	containerID := uuid.New()
	sub := bus.Subscribe(containerID)

	bus.Shutdown()
	_, open := <-sub.C
	assert.False(t, open)

	// Subscriptions after shutdown come back already closed.
	late := bus.Subscribe(containerID)
	_, open = <-late.C
	assert.False(t, open)
}
