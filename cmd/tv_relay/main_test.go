package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tv_relay/internal/config"
	"github.com/dgnsrekt/tv_relay/internal/transport"
	"github.com/dgnsrekt/tv_relay/internal/upstream"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "listen", "feedsim"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("Find(%q) = %v, %v; want command", name, cmd, err)
		}
	}
	if f := root.PersistentFlags().Lookup("config"); f == nil {
		t.Fatal("--config flag missing")
	}
}

func TestNewLinkUsesConfig(t *testing.T) {
	cfg := config.Default()
	link, err := newLink(cfg, nopSink{}, nil, nil)
	if err != nil {
		t.Fatalf("newLink() error = %v", err)
	}
	if got := link.State(); got != upstream.Disconnected {
		t.Fatalf("State() = %v; want disconnected before Start", got)
	}
	if got, want := link.Stats().Addr, cfg.Upstream.URL; got != want {
		t.Fatalf("Stats().Addr = %q; want %q", got, want)
	}

	cfg.Upstream.RetryKind = "linear"
	if _, err := newLink(cfg, nopSink{}, nil, nil); err == nil {
		t.Fatal("newLink() error = nil; want bad retry kind error")
	}
}

func TestRunListenPrintsMessages(t *testing.T) {
	up := transport.NewUpgrader()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		conn.Send("connected", nil)
		conn.Send("AAPL:190.5\nMSFT:410.1\n", func(error) { _ = conn.Close() })
		conn.Serve(transport.HandlerFuncs{})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/websocket/cli"
	if err := runListen(ctx, url, &out); err != nil {
		t.Fatalf("runListen() error = %v", err)
	}
	if got, want := out.String(), "connected\nAAPL:190.5\nMSFT:410.1\n"; got != want {
		t.Fatalf("output = %q; want %q", got, want)
	}
}

func TestSetupLoggerCreatesLogDir(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "relay.log")
	if err := setupLogger("debug", path); err != nil {
		t.Fatalf("setupLogger() error = %v", err)
	}
	slog.Debug("logger ready")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("log file not written: %v", err)
	}
}

type nopSink struct{}

func (nopSink) Dispatch(string) {}
