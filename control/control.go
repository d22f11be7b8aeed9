// Package control exposes the engine over HTTP and MCP.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/engine"
	"github.com/hazyhaar/snatch/internal/shield"
	"github.com/hazyhaar/snatch/notify"
)

var (
	// ErrUnauthorized is returned for a missing or wrong bearer token.
	ErrUnauthorized = errors.New("control: unauthorized")
	// ErrThrottled is returned after too many failed token checks.
	ErrThrottled = errors.New("control: too many failed attempts")
	// ErrDetached is reported while the page context has no tab.
	ErrDetached = errors.New("page_detached")
)

// Engine is the engine surface the control server needs.
type Engine interface {
	Handle(ctx context.Context, cmd engine.Command) (engine.Result, error)
	Contacts(ctx context.Context) ([]contact.Record, error)
	State(ctx context.Context) (contact.State, error)
	Clear(ctx context.Context) error
}

// Session is the host page context.
type Session interface {
	Detached() bool
	Reattach(ctx context.Context) error
}

// EventLog lists past run events.
type EventLog interface {
	Recent(ctx context.Context, session string, limit int) ([]notify.Event, error)
}

// Server serves the control surface of one engine.
type Server struct {
	eng       Engine
	sess      Session
	events    EventLog
	name      string
	tokenHash []byte
	authFails *shield.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithSession enables page_detached answers and the reattach route.
func WithSession(s Session) Option { return func(srv *Server) { srv.sess = s } }

// WithEvents enables the events route.
func WithEvents(l EventLog, session string) Option {
	return func(srv *Server) { srv.events, srv.name = l, session }
}

// WithTokenHash requires a bearer token matching a bcrypt hash.
func WithTokenHash(hash string) Option {
	return func(srv *Server) {
		if hash != "" {
			srv.tokenHash = []byte(hash)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(srv *Server) { srv.logger = l } }

// New creates a control server.
func New(eng Engine, opts ...Option) *Server {
	s := &Server{
		eng:       eng,
		authFails: shield.NewLimiter(10, time.Minute),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// HashToken returns the bcrypt hash to configure as control.token_hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("control: empty token")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("control: hash token: %w", err)
	}
	return string(h), nil
}

// authorize checks the bearer token. With no hash configured every
// request passes.
func (s *Server) authorize(r *http.Request) error {
	if s.tokenHash == nil {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(s.tokenHash, []byte(token)) != nil {
		return ErrUnauthorized
	}
	return nil
}

func (s *Server) detached() bool {
	return s.sess != nil && s.sess.Detached()
}

func (s *Server) command(ctx context.Context, a engine.Action) (engine.Result, error) {
	if s.detached() {
		return engine.Result{}, ErrDetached
	}
	return s.eng.Handle(ctx, engine.Command{Action: a})
}
