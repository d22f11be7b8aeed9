package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Probe reports what the daemon is doing right now.
type Probe func() (phase string, contacts int)

// Heartbeat writes periodic liveness rows to the heartbeats table.
type Heartbeat struct {
	db       *sql.DB
	name     string
	hostname string
	pid      int
	interval time.Duration
	probe    Probe
	logger   *slog.Logger
	stop     chan struct{}
	done     chan struct{}
}

// NewHeartbeat creates a writer. A nil probe records only runtime health.
func NewHeartbeat(db *sql.DB, name string, interval time.Duration, probe Probe, logger *slog.Logger) *Heartbeat {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		db:       db,
		name:     name,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		probe:    probe,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start writes one heartbeat now, then one per interval until Stop or
// ctx ends.
func (h *Heartbeat) Start(ctx context.Context) { go h.loop(ctx) }

// Stop ends the loop and waits for it.
func (h *Heartbeat) Stop() {
	close(h.stop)
	<-h.done
}

// Write records a single heartbeat.
func (h *Heartbeat) Write(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	phase, contacts := "", 0
	if h.probe != nil {
		phase, contacts = h.probe()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO heartbeats
			(worker_name, hostname, pid, phase, contacts, goroutines, memory_alloc_mb, timestamp)
		VALUES (?,?,?,?,?,?,?,?)`,
		h.name, h.hostname, h.pid, phase, contacts, runtime.NumGoroutine(),
		float64(mem.Alloc)/1024/1024, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.Write(ctx); err != nil {
			h.logger.Warn("observability: heartbeat failed", "worker", h.name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case <-ticker.C:
		}
	}
}

// LastBeat returns the newest heartbeat time of name, zero if none.
func LastBeat(ctx context.Context, db *sql.DB, name string) (time.Time, string, error) {
	var (
		ts    int64
		phase string
	)
	err := db.QueryRowContext(ctx, `
		SELECT timestamp, phase FROM heartbeats WHERE worker_name = ?
		ORDER BY timestamp DESC, heartbeat_id DESC LIMIT 1`, name).Scan(&ts, &phase)
	if err == sql.ErrNoRows {
		return time.Time{}, "", nil
	}
	if err != nil {
		return time.Time{}, "", fmt.Errorf("observability: last heartbeat: %w", err)
	}
	return time.Unix(ts, 0), phase, nil
}
