package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/model"
)

// Broadcaster fans events out to in-process subscribers, one buffered
// channel each. A subscriber that stops draining loses events rather than
// stalling the publisher; consumers de-duplicate on (job_id, event) anyway.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan model.Event
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold up
// to buffer undelivered events. Buffer defaults to 16.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   make(map[int]chan model.Event),
		buffer: buffer,
	}
}

// Publish sends the event to every subscriber without blocking. Full
// subscriber buffers drop the event.
func (b *Broadcaster) Publish(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			zap.L().Warn("events: subscriber buffer full, dropping event",
				zap.Int("subscriber", id),
				zap.String("event", string(ev.Type)),
				zap.String("job_id", ev.JobID),
			)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (b *Broadcaster) Subscribe() (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close drops all subscribers and closes their channels. Publishes after
// Close are discarded.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
