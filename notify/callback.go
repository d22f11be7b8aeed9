package notify

import "context"

// Func handles one event in-process.
type Func func(ctx context.Context, ev Event) error

// Callback delivers events through a Go function call.
type Callback struct{ fn Func }

// NewCallback creates a Callback sink. A nil fn discards events.
func NewCallback(fn Func) *Callback { return &Callback{fn: fn} }

func (c *Callback) Send(ctx context.Context, ev Event) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx, ev)
}

func (c *Callback) Close() error { return nil }
