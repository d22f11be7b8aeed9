package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, "log_level: debug\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Page.URL != "https://web.whatsapp.com" {
		t.Errorf("got url %q", cfg.Page.URL)
	}
	if cfg.Control.Addr != "127.0.0.1:8765" || cfg.Store.Path != "snatch.db" {
		t.Errorf("got %+v %+v", cfg.Control, cfg.Store)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("got log level %q", cfg.LogLevel)
	}
	if cfg.Browser.RecycleInterval != 4*time.Hour {
		t.Errorf("got recycle %v", cfg.Browser.RecycleInterval)
	}
}

func TestLoadFile_EngineDurations(t *testing.T) {
	cfg, err := LoadFile(writeFile(t, `
engine:
  session: work
  patience: 6
  delay_min: 900ms
  persist_interval: 5s
  locator:
    min_height: 200
sinks:
  - type: Webhook
    url: http://hooks.local/snatch
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	e := cfg.Engine
	if e.Session != "work" || e.Patience != 6 {
		t.Errorf("got %+v", e)
	}
	if e.DelayMin != 900*time.Millisecond || e.PersistInterval != 5*time.Second {
		t.Errorf("got delay %v persist %v", e.DelayMin, e.PersistInterval)
	}
	if e.Locator.MinHeight != 200 {
		t.Errorf("got min height %v", e.Locator.MinHeight)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Type != "webhook" || cfg.Sinks[0].Retries != 3 {
		t.Errorf("got sinks %+v", cfg.Sinks)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	cases := map[string]string{
		"mode":    "browser:\n  mode: invisible\n",
		"webhook": "sinks:\n  - type: webhook\n",
		"sink":    "sinks:\n  - type: nats\n",
		"yaml":    "engine: [",
	}
	for name, body := range cases {
		if _, err := LoadFile(writeFile(t, body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvControlAddr: ":9000", EnvControlToken: "s3cret"}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.Control.Addr != ":9000" || cfg.Control.Token != "s3cret" {
		t.Errorf("got %+v", cfg.Control)
	}
}

func TestLoad_FromEnvPath(t *testing.T) {
	path := writeFile(t, "store:\n  path: /tmp/x.db\n")
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvControlAddr, "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Path != "/tmp/x.db" {
		t.Errorf("got %q", cfg.Store.Path)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil || !strings.Contains(err.Error(), "config:") {
		t.Errorf("got %v, want wrapped error", err)
	}
}
