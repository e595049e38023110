// Package broker implements the in-process Event Broker: publish/subscribe
// fan-out of job lifecycle events with a per-subscriber bounded buffer and
// drop-oldest backpressure, so a slow subscriber never blocks the
// publisher.
package broker

import (
	"sync"

	"github.com/google/uuid"

	"github.com/alephauto/core/internal/domain"
)

// DefaultBufferSize is the default per-subscriber channel capacity.
const DefaultBufferSize = 256

// Filter narrows a subscription to a pipeline and/or a set of event types.
// A zero-value Filter matches everything.
type Filter struct {
	PipelineID string
	Types      map[domain.EventType]bool
}

func (f Filter) matches(e domain.Event) bool {
	if f.PipelineID != "" && f.PipelineID != e.PipelineID {
		return false
	}
	if len(f.Types) > 0 && !f.Types[e.Type] {
		return false
	}
	return true
}

// subscriber holds one subscription's channel and drop counter.
type subscriber struct {
	id      string
	filter  Filter
	ch      chan domain.Event
	mu      sync.Mutex
	dropped int64
}

// Broker is the in-process pub/sub fan-out.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
}

// New constructs a Broker. bufferSize <= 0 uses DefaultBufferSize.
func New(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Broker{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new subscription and returns its id and receive
// channel. The channel is closed only by Unsubscribe.
func (b *Broker) Subscribe(filter Filter) (string, <-chan domain.Event) {
	sub := &subscriber{
		id:     uuid.New().String(),
		filter: filter,
		ch:     make(chan domain.Event, b.bufferSize),
	}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	return sub.id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subscriptionID]
	delete(b.subscribers, subscriptionID)
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// DroppedCount returns the number of events dropped for a subscription due
// to backpressure, exposed in the subscription's status.
func (b *Broker) DroppedCount(subscriptionID string) int64 {
	b.mu.RLock()
	sub, ok := b.subscribers[subscriptionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.dropped
}

// Publish delivers event to every matching subscriber, never blocking on a
// slow one: when a subscriber's buffer is full, the oldest buffered event is
// dropped to make room (drop-oldest policy), and its per-subscriber dropped
// count is incremented.
func (b *Broker) Publish(event domain.Event) {
	b.mu.RLock()
	matching := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.filter.matches(event) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		deliver(sub, event)
	}
}

// deliver attempts a non-blocking send; on a full buffer it drops the
// oldest queued event and retries once. Publish is called concurrently by
// every executor's dispatch goroutines (distinct pipelines, or the same
// pipeline with max_concurrent > 1), so a single subscriber can receive
// concurrent deliver calls; sub.mu serializes the drop-oldest-and-resend
// sequence per subscriber so two racing deliveries can never steal each
// other's freed slot and silently drop an event without counting it.
func deliver(sub *subscriber, event domain.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.ch <- event:
		return
	default:
	}

	select {
	case <-sub.ch:
		sub.dropped++
	default:
	}

	select {
	case sub.ch <- event:
	default:
		// The buffer refilled between the drain and this send despite
		// holding sub.mu only if some other path sends without the lock;
		// none does, so count it as dropped rather than lose it silently.
		sub.dropped++
	}
}
