// Package notify defines the fire-and-forget event sink invoked at table
// lifecycle transitions. Sink failures must never fail the operation that
// emitted the event.
package notify

import "time"

// Table lifecycle event types.
const (
	EventTableCreateStart = "table.create.start"
	EventTableCreateEnd   = "table.create.end"
	EventTableCreateError = "table.create.error"
	EventTableDeleteStart = "table.delete.start"
	EventTableDeleteEnd   = "table.delete.end"
	EventTableDeleteError = "table.delete.error"
)

// Event is one notification payload.
type Event struct {
	Type    string
	Tenant  string
	Table   string
	Elapsed time.Duration
	Err     error
}

// Sink receives events.
type Sink interface {
	Notify(ev Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Notify(Event) {}
