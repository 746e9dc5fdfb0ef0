// Package events fans committed outline events out to in-process
// subscribers. Topics are container ids; within a topic, delivery order
// is the append order of the event log.
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/showdeck/outline-engine/internal/logging"
	"github.com/showdeck/outline-engine/internal/outline"
)

const subscriberBuffer = 256

// Subscription is one consumer's view of a container topic. C is closed
// when the subscription is cancelled, the bus shuts down, or the
// consumer falls too far behind.
type Subscription struct {
	C <-chan *outline.Event

	bus         *Bus
	containerID uuid.UUID
	ch          chan *outline.Event
	ignore      string
	once        sync.Once
}

// Cancel removes the subscription and closes C.
func (s *Subscription) Cancel() {
	s.bus.remove(s)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithIgnoreOriginator drops events whose event_id originator matches
// the given session id, so interactive clients do not receive echoes of
// their own commands.
func WithIgnoreOriginator(session string) SubscribeOption {
	return func(s *Subscription) { s.ignore = session }
}

// Bus is the in-memory pub/sub fabric between the serializers and
// everything downstream (websocket sessions, projections).
type Bus struct {
	mu     sync.RWMutex
	topics map[uuid.UUID]map[*Subscription]struct{}
	closed bool
	log    zerolog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[uuid.UUID]map[*Subscription]struct{}),
		log:    logging.WithComponent("bus"),
	}
}

// Subscribe registers interest in one container's events. Every event
// published after this call is delivered in sequence order.
func (b *Bus) Subscribe(containerID uuid.UUID, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{
		bus:         b,
		containerID: containerID,
		ch:          make(chan *outline.Event, subscriberBuffer),
	}
	sub.C = sub.ch
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.once.Do(func() { close(sub.ch) })
		return sub
	}
	topic, ok := b.topics[containerID]
	if !ok {
		topic = make(map[*Subscription]struct{})
		b.topics[containerID] = topic
	}
	topic[sub] = struct{}{}
	return sub
}

// Publish delivers ev to every subscriber of its container topic. A
// subscriber whose buffer is full gets its channel closed; it should
// resubscribe and replay from its last seen sequence.
func (b *Bus) Publish(ev *outline.Event) {
	b.mu.RLock()
	var evicted []*Subscription
	for sub := range b.topics[ev.ContainerID] {
		if sub.ignore != "" && sub.ignore == ev.Originator() {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			evicted = append(evicted, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range evicted {
		b.log.Warn().
			Str("container_id", ev.ContainerID.String()).
			Msg("evicting slow subscriber")
		b.remove(sub)
	}
}

// SubscriberCount returns the number of live subscriptions for a
// container.
func (b *Bus) SubscriberCount(containerID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[containerID])
}

// Shutdown closes every subscription channel.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for containerID, topic := range b.topics {
		for sub := range topic {
			sub.once.Do(func() { close(sub.ch) })
		}
		delete(b.topics, containerID)
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic, ok := b.topics[sub.containerID]; ok {
		if _, present := topic[sub]; present {
			delete(topic, sub)
			if len(topic) == 0 {
				delete(b.topics, sub.containerID)
			}
		}
	}
	sub.once.Do(func() { close(sub.ch) })
}
