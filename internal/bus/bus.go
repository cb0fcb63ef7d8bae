package bus

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	next    int
	dropped atomic.Int64
}

type subscription struct {
	namespace string
	ch        chan Event
	// overflow, when set, is signalled whenever an event is dropped.
	overflow chan struct{}
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of evt.Kind.
// It never blocks: a subscriber with a full buffer misses the event.
// Returns the number of subscribers that received it.
func (b *Bus) Publish(evt Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
			delivered++
		default:
			b.dropped.Add(1)
			if sub.overflow != nil {
				select {
				case sub.overflow <- struct{}{}:
				default:
				}
			}
		}
	}
	return delivered
}

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. The returned function unsubscribes; the channel
// is left open so readers selecting on it never see a spurious zero event.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch, _, unsub := b.subscribe(namespace, bufSize, nil)
	return ch, unsub
}

// SubscribeWithOverflow is Subscribe plus a channel that becomes ready once
// an event for this subscriber has been dropped.
func (b *Bus) SubscribeWithOverflow(namespace string, bufSize int) (<-chan Event, <-chan struct{}, func()) {
	return b.subscribe(namespace, bufSize, make(chan struct{}, 1))
}

func (b *Bus) subscribe(namespace string, bufSize int, overflow chan struct{}) (<-chan Event, <-chan struct{}, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch, overflow: overflow}
	b.mu.Unlock()

	var once sync.Once
	return ch, overflow, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
