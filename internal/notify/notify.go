// Package notify delivers change notifications to external observers.
// Notifications are not required for correctness: publish failures are
// logged and never abort the action that produced them.
package notify

import (
	"context"
	"encoding/hex"
	"log"
	"sort"
	"strings"
	"sync"

	"traitfusion-api/internal/model"
)

// Publisher delivers change notifications.
type Publisher interface {
	Publish(ctx context.Context, events ...model.Event) error
}

// LogPublisher writes every notification to the standard logger.
type LogPublisher struct{}

// Publish logs each event on one line.
func (LogPublisher) Publish(ctx context.Context, events ...model.Event) error {
	for _, e := range events {
		log.Printf("[Notify] %s %s/%d %s", e.Type, e.Collection, e.ItemID, describe(e))
	}
	return nil
}

func describe(e model.Event) string {
	var parts []string
	if e.Actor != "" {
		parts = append(parts, "actor="+e.Actor)
	}
	if e.Name != "" {
		parts = append(parts, "name="+string(e.Name))
		parts = append(parts, "value=0x"+hex.EncodeToString(e.Value))
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+e.Fields[k])
	}
	return strings.Join(parts, " ")
}

// Multi fans a notification out to several publishers.
type Multi []Publisher

// Publish delivers to every publisher and returns the first error.
func (m Multi) Publish(ctx context.Context, events ...model.Event) error {
	var firstErr error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EventQuery selects a page of the event history. A zero ItemID matches
// every item of the collection.
type EventQuery struct {
	Collection string
	ItemID     uint64
	Limit      int
	Offset     int
}

func (q EventQuery) matches(e model.Event) bool {
	if q.Collection != "" && e.Collection != q.Collection {
		return false
	}
	return q.ItemID == 0 || e.ItemID == q.ItemID
}

// Feed is a Publisher whose history can be read back, newest first.
type Feed interface {
	Publisher
	Recent(ctx context.Context, q EventQuery) ([]model.Event, int64, error)
}

// Recorder keeps published notifications in memory. A positive Max bounds
// the history; the oldest events are dropped first.
type Recorder struct {
	Max int

	mu     sync.Mutex
	events []model.Event
}

// NewRecorder creates a recorder holding at most max events.
func NewRecorder(max int) *Recorder {
	return &Recorder{Max: max}
}

// Publish appends events.
func (r *Recorder) Publish(ctx context.Context, events ...model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	if r.Max > 0 && len(r.events) > r.Max {
		r.events = append([]model.Event(nil), r.events[len(r.events)-r.Max:]...)
	}
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t model.EventType) []model.Event {
	var out []model.Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Recent returns matching events, newest first, and the total match count.
func (r *Recorder) Recent(ctx context.Context, q EventQuery) ([]model.Event, int64, error) {
	events := r.Events()

	var matched []model.Event
	for i := len(events) - 1; i >= 0; i-- {
		if q.matches(events[i]) {
			matched = append(matched, events[i])
		}
	}

	total := int64(len(matched))
	if q.Offset >= len(matched) {
		return []model.Event{}, total, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, total, nil
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ Feed = (*Recorder)(nil)
