package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/arkanwolfshade/MythosMUD-sub022/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load(newTestLogger(), nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":8080")
	}
	if cfg.Transport.ReadTimeout != 60*time.Second {
		t.Errorf("Transport.ReadTimeout = %v, want 60s", cfg.Transport.ReadTimeout)
	}
	if cfg.Transport.ChannelKind != "websocket" {
		t.Errorf("Transport.ChannelKind = %q, want websocket", cfg.Transport.ChannelKind)
	}
	if cfg.Monitor.ProbeConcurrency != 8 {
		t.Errorf("Monitor.ProbeConcurrency = %d, want 8", cfg.Monitor.ProbeConcurrency)
	}
	if cfg.World.Path != "" {
		t.Errorf("World.Path = %q, want empty", cfg.World.Path)
	}
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mythos.yaml")
	body := []byte(`
server:
  address: ":9000"
  connectionLimit:
    maxPerUser: 3
    mode: cycle
monitor:
  sweepInterval: 10s
world:
  path: from-file.yaml
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MYTHOS_LOG_LEVEL", "debug")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse([]string{"--config", path, "--world", "from-flag.yaml"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load(newTestLogger(), fs)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("Server.Address = %q, want :9000", cfg.Server.Address)
	}
	if cfg.Server.ConnectionLimit.MaxPerUser != 3 || cfg.Server.ConnectionLimit.Mode != "cycle" {
		t.Errorf("ConnectionLimit = %+v, want {3 cycle}", cfg.Server.ConnectionLimit)
	}
	if cfg.Monitor.SweepInterval != 10*time.Second {
		t.Errorf("Monitor.SweepInterval = %v, want 10s", cfg.Monitor.SweepInterval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug from env", cfg.Log.Level)
	}
	if cfg.World.Path != "from-flag.yaml" {
		t.Errorf("World.Path = %q, want flag value", cfg.World.Path)
	}
}

func TestLoadRejectsUnknownLimitMode(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MYTHOS_SERVER_CONNECTIONLIMIT_MODE", "drop")

	if _, err := config.Load(newTestLogger(), nil); err == nil {
		t.Fatal("expected an error for an unknown connection limit mode")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := config.Load(newTestLogger(), fs); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}
