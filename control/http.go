package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/engine"
	"github.com/hazyhaar/snatch/export"
	"github.com/hazyhaar/snatch/internal/shield"
)

// Handler returns the HTTP API. When mcpSrv is non-nil it is mounted on
// /mcp behind the same token check.
func (s *Server) Handler(mcpSrv *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "attached": !s.detached()})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/api/command", func(w http.ResponseWriter, r *http.Request) {
			var cmd engine.Command
			if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("control: decode command: %w", err))
				return
			}
			s.reply(w, r, cmd.Action)
		})
		r.Post("/api/start", s.action(engine.ActionStart))
		r.Post("/api/stop", s.action(engine.ActionStop))
		r.Get("/api/status", s.action(engine.ActionStatus))
		r.Get("/api/ping", s.action(engine.ActionPing))

		r.Get("/api/contacts", func(w http.ResponseWriter, r *http.Request) {
			recs, err := s.eng.Contacts(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"contacts": nonNil(recs), "count": len(recs)})
		})
		r.Get("/api/state", func(w http.ResponseWriter, r *http.Request) {
			st, err := s.eng.State(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, st)
		})
		r.Get("/api/export", s.handleExport)
		r.Post("/api/clear", func(w http.ResponseWriter, r *http.Request) {
			if err := s.eng.Clear(r.Context()); err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, engine.ErrScanning) {
					code = http.StatusConflict
				}
				writeError(w, code, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
		})
		r.Post("/api/session/reattach", func(w http.ResponseWriter, r *http.Request) {
			if s.sess == nil {
				writeError(w, http.StatusNotFound, errors.New("control: no session"))
				return
			}
			if err := s.sess.Reattach(r.Context()); err != nil {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
		})
		r.Get("/api/events", func(w http.ResponseWriter, r *http.Request) {
			if s.events == nil {
				writeError(w, http.StatusNotFound, errors.New("control: event log disabled"))
				return
			}
			evs, err := s.events.Recent(r.Context(), s.name, queryInt(r, "limit", 50))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, evs)
		})

		if mcpSrv != nil {
			h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
			r.Handle("/mcp", h)
			r.Handle("/mcp/*", h)
		}
	})
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := shield.ClientIP(r)
		if s.authFails.Blocked(ip) {
			writeError(w, http.StatusTooManyRequests, ErrThrottled)
			return
		}
		if err := s.authorize(r); err != nil {
			s.authFails.Allow(ip)
			s.logger.Warn("control: rejected token", "ip", ip)
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) action(a engine.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { s.reply(w, r, a) }
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, a engine.Action) {
	res, err := s.command(r.Context(), a)
	switch {
	case errors.Is(err, ErrDetached):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, engine.ErrUnknownCommand):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		s.logger.Warn("control: command failed", "action", a, "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f, name, err := s.export(r.Context(), format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Content)
}

func (s *Server) export(ctx context.Context, format export.Format) (export.File, string, error) {
	recs, err := s.eng.Contacts(ctx)
	if err != nil {
		return export.File{}, "", err
	}
	f, err := export.Encode(recs, format)
	if err != nil {
		return export.File{}, "", err
	}
	return f, export.Filename(f, s.now()), nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func nonNil(recs []contact.Record) []contact.Record {
	if recs == nil {
		return []contact.Record{}
	}
	return recs
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
