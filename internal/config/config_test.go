package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config      string
	RtspPort    string `toml:"rtsp.port" env:"RTSP_PORT"`
	PollSeconds int    `toml:"registry.poll_seconds" env:"POLL_SECONDS"`
	OnDemand    bool   `toml:"sessions.on_demand" env:"ON_DEMAND"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camgate.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[rtsp]
port = ":9554"

[registry]
poll_seconds = 45

[sessions]
on_demand = false
`)

	opts := testOptions{Config: path, RtspPort: ":8554", PollSeconds: 30, OnDemand: true}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.RtspPort != ":9554" {
		t.Errorf("RtspPort = %q, want :9554", opts.RtspPort)
	}
	if opts.PollSeconds != 45 {
		t.Errorf("PollSeconds = %d, want 45", opts.PollSeconds)
	}
	if opts.OnDemand {
		t.Error("OnDemand = true, want false")
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeConfig(t, `
[registry]
poll_seconds = 45
`)

	t.Setenv("CAMGATE_POLL_SECONDS", "90")
	t.Setenv("CAMGATE_ON_DEMAND", "false")

	opts := testOptions{Config: path, PollSeconds: 30, OnDemand: true}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.PollSeconds != 90 {
		t.Errorf("PollSeconds = %d, want 90 (env over TOML)", opts.PollSeconds)
	}
	if opts.OnDemand {
		t.Error("OnDemand = true, want false from env")
	}
}

func TestLoadConfigCLIWins(t *testing.T) {
	path := writeConfig(t, `
[rtsp]
port = ":9554"
`)
	t.Setenv("CAMGATE_RTSP_PORT", ":7554")

	cmd := &cobra.Command{}
	cmd.Flags().String("rtsp-port", ":8554", "")
	if err := cmd.Flags().Set("rtsp-port", ":6554"); err != nil {
		t.Fatalf("set flag: %v", err)
	}

	opts := testOptions{Config: path, RtspPort: ":6554"}
	if err := LoadConfig(&opts, cmd); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if opts.RtspPort != ":6554" {
		t.Errorf("RtspPort = %q, want CLI value :6554", opts.RtspPort)
	}
}

func TestLoadConfigMissingFileIsNotFatal(t *testing.T) {
	opts := testOptions{Config: "/nonexistent/camgate.toml", PollSeconds: 30}
	if err := LoadConfig(&opts, nil); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if opts.PollSeconds != 30 {
		t.Errorf("PollSeconds = %d, want default 30", opts.PollSeconds)
	}
}

func TestLoadConfigMalformedTOML(t *testing.T) {
	path := writeConfig(t, `not [valid toml`)
	opts := testOptions{Config: path}
	if err := LoadConfig(&opts, nil); err == nil {
		t.Error("expected error for malformed TOML")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	cases := map[string]string{
		"Port":        "port",
		"RtspPort":    "rtsp-port",
		"PollSeconds": "poll-seconds",
		"OnDemand":    "on-demand",
	}
	for in, want := range cases {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatcherNotifiesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.json")
	if err := os.WriteFile(path, []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var reloads atomic.Int32
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := NewFileWatcher(path, func(p string) (string, error) {
		data, err := os.ReadFile(p)
		return string(data), err
	}, logger, WithDebounce[string](50*time.Millisecond))

	w.OnReload(func(content string) {
		reloads.Add(1)
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(`{"v":2}`), 0o644); err != nil {
		t.Fatalf("rewrite file: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for reloads.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("handler was not notified of file change")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestWatcherUnsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewFileWatcher(path, func(p string) (string, error) {
		return "", nil
	}, logger, WithDebounce[string](20*time.Millisecond))

	var called atomic.Bool
	unsub := w.OnReload(func(string) { called.Store(true) })
	unsub()

	w.loadAndNotify()
	if called.Load() {
		t.Error("unsubscribed handler was called")
	}
}
