package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hazyhaar/snatch/contact"
)

// Action is a control-surface command.
type Action string

const (
	ActionStart  Action = "START"
	ActionStop   Action = "STOP"
	ActionStatus Action = "STATUS_QUERY"
	ActionPing   Action = "PING"
)

// Command statuses.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusStopped        = "stopped"
)

// Command is one request from the control surface.
type Command struct {
	Action Action `json:"action"`
}

// Result is the reply to a Command. START answers {status}, STOP answers
// {status, contacts}, STATUS_QUERY and PING answer {isScanning, contactCount}.
type Result struct {
	Status       string        `json:"status,omitempty"`
	Contacts     *int          `json:"contacts,omitempty"`
	IsScanning   *bool         `json:"isScanning,omitempty"`
	ContactCount *int          `json:"contactCount,omitempty"`
	Phase        contact.Phase `json:"phase,omitempty"`
}

// Count returns whichever contact count the result carries.
func (r Result) Count() int {
	switch {
	case r.Contacts != nil:
		return *r.Contacts
	case r.ContactCount != nil:
		return *r.ContactCount
	}
	return 0
}

// Scanning reports the isScanning field, false when absent.
func (r Result) Scanning() bool { return r.IsScanning != nil && *r.IsScanning }

func stopped(n int) Result {
	return Result{Status: StatusStopped, Contacts: &n, Phase: contact.PhasePaused}
}

func status(scanning bool, n int, p contact.Phase) Result {
	return Result{IsScanning: &scanning, ContactCount: &n, Phase: p}
}

// ParseAction accepts the wire names case-insensitively, plus "STATUS".
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionStart, ActionStop, ActionStatus, ActionPing:
		return a, nil
	case "STATUS":
		return ActionStatus, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
}

// Handle dispatches one command synchronously.
func (e *Engine) Handle(ctx context.Context, cmd Command) (Result, error) {
	a, err := ParseAction(string(cmd.Action))
	if err != nil {
		return Result{}, err
	}
	switch a {
	case ActionStart:
		return e.Start(ctx)
	case ActionStop:
		return e.Stop(ctx)
	case ActionPing:
		return e.Ping(), nil
	default:
		return e.Status(ctx)
	}
}

// Ping is the cheap liveness probe. It answers from memory, except for
// the first call after a restart which reads the persisted count once so
// it agrees with STATUS_QUERY.
func (e *Engine) Ping() Result {
	e.mu.Lock()
	primed := e.cur != nil || e.known >= 0
	e.mu.Unlock()
	if !primed {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(e.baseCtx), pingLoadTimeout)
		st, err := e.store.Load(ctx)
		cancel()
		if err != nil {
			e.logger.Debug("engine: ping could not read state", "error", err)
		} else {
			e.remember(len(st.ScrapedData))
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

const pingLoadTimeout = time.Second
