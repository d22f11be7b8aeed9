// Command snatch collects the chat list of a messaging web client.
//
// Usage:
//
//	snatch serve [-config snatch.yaml]          # run the daemon
//	snatch ctl start|stop|status|ping|contacts  # talk to the daemon
//	snatch export -format csv [-o file]         # write the collected contacts
//	snatch clear                                # delete the collected contacts
//	snatch follow                               # print progress as the store changes
//	snatch scan-file page.html                  # run one extraction over a saved page
//	snatch hash-token <token>                   # bcrypt hash for control.token_hash
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hazyhaar/snatch/client"
	"github.com/hazyhaar/snatch/contact"
	"github.com/hazyhaar/snatch/control"
	"github.com/hazyhaar/snatch/dom/htmldom"
	"github.com/hazyhaar/snatch/engine"
	"github.com/hazyhaar/snatch/export"
	"github.com/hazyhaar/snatch/internal/browser"
	"github.com/hazyhaar/snatch/internal/config"
	"github.com/hazyhaar/snatch/notify"
	"github.com/hazyhaar/snatch/observability"
	"github.com/hazyhaar/snatch/session"
	"github.com/hazyhaar/snatch/store"
)

const version = "0.3.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "", "path to snatch.yaml (default $SNATCH_CONFIG)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error")
	format := fs.String("format", "csv", "export format: csv, xlsx, json, vcard, markdown")
	out := fs.String("o", "", "output file (default: timestamped name, - for stdout)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, logger, cfg)
	case "ctl":
		err = ctl(ctx, logger, cfg, fs.Args())
	case "export":
		err = exportFile(ctx, cfg, *format, *out)
	case "clear":
		err = newClient(cfg, logger).Clear(ctx)
	case "follow":
		err = follow(ctx, logger, cfg)
	case "scan-file":
		err = scanFile(ctx, logger, cfg, fs.Args())
	case "hash-token":
		err = hashToken(fs.Args())
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("snatch: "+cmd, "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: snatch serve|ctl|export|clear|follow|scan-file|hash-token [flags]")
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func serve(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := observability.Init(st.DB); err != nil {
		return err
	}
	if n, err := observability.Cleanup(ctx, st.DB, cfg.Observability.Retention); err == nil && n > 0 {
		logger.Info("snatch: pruned events", "rows", n)
	}

	events := observability.NewEventLog(st.DB, logger)
	router := buildSinks(cfg, logger, events)
	defer router.Close()

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		UserDataDir:      cfg.Browser.UserDataDir,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             browser.ParseMode(cfg.Browser.Mode),
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	sess := session.New(&session.RodDriver{
		Manager:     mgr,
		URL:         cfg.Page.URL,
		LoadTimeout: cfg.Page.LoadTimeout,
		CallTimeout: cfg.Page.CallTimeout,
		Adopt:       cfg.Browser.Remote != "",
	}, session.Config{
		WatchPoll:     cfg.Page.WatchPoll,
		ResumeTimeout: cfg.Engine.ResumeTimeout,
	}, logger)

	eng := engine.New(cfg.Engine, sess, st.Session(cfg.Engine.Session), logger)
	eng.SetContext(ctx)
	eng.SetSink(router)
	sess.Bind(eng)
	mgr.OnRecycle(sess.Hooks(ctx))
	if err := sess.Start(ctx); err != nil {
		logger.Warn("snatch: page not attached yet", "error", err)
	}

	name := eng.Config().Session
	hb := observability.NewHeartbeat(st.DB, "snatch:"+name, cfg.Observability.Heartbeat, func() (string, int) {
		r := eng.Ping()
		return string(r.Phase), r.Count()
	}, logger)
	hb.Start(ctx)
	defer hb.Stop()

	hash := cfg.Control.TokenHash
	if hash == "" && cfg.Control.Token != "" {
		if hash, err = control.HashToken(cfg.Control.Token); err != nil {
			return err
		}
	}
	cs := control.New(eng,
		control.WithSession(sess),
		control.WithEvents(events, name),
		control.WithTokenHash(hash),
		control.WithLogger(logger),
	)
	srv := &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           cs.Handler(cs.NewMCPServer(version)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("snatch: control listening", "addr", cfg.Control.Addr, "session", name, "auth", hash != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("control: %w", err)
	}

	// The cancelled context suspends the run; wait for its snapshot.
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
	if err := eng.Wait(shutCtx); err != nil {
		logger.Warn("snatch: engine did not stop in time", "error", err)
	}
	_ = sess.Close()
	logger.Info("snatch: stopped")
	return nil
}

func buildSinks(cfg *config.Config, logger *slog.Logger, events *observability.EventLog) *notify.Router {
	router := notify.NewRouter(logger)
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			router.Add(notify.NewStdout(os.Stdout))
		case "webhook":
			opts := []notify.WebhookOption{
				notify.WithWebhookRetries(sc.Retries),
				notify.WithWebhookLogger(logger),
			}
			for k, v := range sc.Headers {
				opts = append(opts, notify.WithWebhookHeader(k, v))
			}
			router.Add(notify.NewWebhook(sc.URL, opts...))
		case "eventlog":
			router.Add(events)
		}
	}
	if router.Len() == 0 {
		router.Add(events)
	}
	return router
}

func newClient(cfg *config.Config, logger *slog.Logger) *client.Client {
	return client.New(cfg.Control.Addr, client.WithToken(cfg.Control.Token), client.WithLogger(logger))
}

func ctl(ctx context.Context, logger *slog.Logger, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("ctl: want start, stop, status, ping or contacts")
	}
	c := newClient(cfg, logger)
	var v any
	var err error
	switch args[0] {
	case "contacts":
		v, err = c.Contacts(ctx)
	default:
		a, perr := engine.ParseAction(args[0])
		if perr != nil {
			return perr
		}
		v, err = c.Send(ctx, a)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exportFile reads the store directly, so it works with the daemon down.
func exportFile(ctx context.Context, cfg *config.Config, format, out string) error {
	f, err := export.ParseFormat(format)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	recs, err := st.Contacts(ctx, sessionName(cfg))
	if err != nil {
		return err
	}
	file, err := export.Encode(recs, f)
	if err != nil {
		return err
	}
	if out == "-" {
		_, err = os.Stdout.Write(file.Content)
		return err
	}
	if out == "" {
		out = export.Filename(file, time.Now())
	}
	if err := os.WriteFile(out, file.Content, 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%d contacts written to %s\n", len(recs), out)
	return nil
}

// follow prints one line per saved snapshot until interrupted or the
// run ends.
func follow(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	err = st.Follow(ctx, sessionName(cfg), time.Second, logger, func(s contact.State) error {
		fmt.Printf("%s  %-9s %5d contacts  cycle %-4d %s\n",
			time.Now().Format(time.TimeOnly), s.Phase, s.TotalContacts, s.ScanCycles, s.ScanStatus)
		if s.Phase == contact.PhaseCompleted || s.Phase == contact.PhaseFailed {
			return errRunEnded
		}
		return nil
	})
	if errors.Is(err, errRunEnded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var errRunEnded = errors.New("run ended")

func sessionName(cfg *config.Config) string {
	if cfg.Engine.Session == "" {
		return "default"
	}
	return cfg.Engine.Session
}

// scanFile runs one extraction over a saved page. Without scroll
// metrics the container is read once, so this suits snapshots of fully
// rendered lists.
func scanFile(ctx context.Context, logger *slog.Logger, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("scan-file: want one HTML file")
	}
	fh, err := os.Open(args[0])
	if err != nil {
		return err
	}
	doc, err := htmldom.Parse(fh)
	fh.Close()
	if err != nil {
		return err
	}
	root, err := doc.Root(ctx)
	if err != nil {
		return err
	}
	if !browser.Loaded(root) {
		logger.Warn("snatch: page does not look like a loaded chat client", "file", args[0])
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()
	ecfg := cfg.Engine
	ecfg.DelayMin, ecfg.DelayMax = time.Millisecond, time.Millisecond
	eng := engine.New(ecfg, doc, st.Session(ecfg.Session), logger)
	eng.SetContext(ctx)
	if _, err := eng.Start(ctx); err != nil {
		return err
	}
	if err := eng.Wait(ctx); err != nil {
		return err
	}
	res, err := eng.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d contacts in session %s\n", res.Count(), eng.Config().Session)
	return nil
}

func hashToken(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("hash-token: want one token")
	}
	h, err := control.HashToken(args[0])
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}
