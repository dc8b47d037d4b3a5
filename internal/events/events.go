// Package events publishes job lifecycle notifications. Delivery is
// fire-and-forget: a slow or absent consumer never delays the job that
// produced the event.
package events

import (
	"time"

	"github.com/sells-group/modelgen/internal/model"
)

// Notifier is the publish side of the event stream. Publish must not
// block; sinks that perform I/O handle it on their own goroutines and
// log failures instead of returning them.
type Notifier interface {
	Publish(ev model.Event)
}

// JobEvent builds a lifecycle event with the timestamp set.
func JobEvent(t model.EventType, jobID string, payload map[string]any) model.Event {
	return model.Event{
		Type:      t,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(model.Event) {}

// Fanout delivers each event to every sink in order.
func Fanout(sinks ...Notifier) Notifier {
	return fanout(sinks)
}

type fanout []Notifier

func (f fanout) Publish(ev model.Event) {
	for _, n := range f {
		n.Publish(ev)
	}
}
