// Package notify delivers engine run events (started, resumed, paused,
// completed, failed) to pluggable sinks. Delivery is best-effort.
package notify

import (
	"context"
	"time"
)

// Event types.
const (
	EventStarted   = "started"
	EventResumed   = "resumed"
	EventPaused    = "paused"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event is one run lifecycle transition.
type Event struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Session  string    `json:"session"`
	RunID    string    `json:"run_id"`
	Contacts int       `json:"contacts"`
	Cycles   int       `json:"cycles"`
	Status   string    `json:"status,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink is an event backend (stdout, webhook, event log, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Send(context.Context, Event) error { return nil }
func (Discard) Close() error                      { return nil }
