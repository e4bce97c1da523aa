package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dgnsrekt/tv_relay/internal/api"
	"github.com/dgnsrekt/tv_relay/internal/config"
	"github.com/dgnsrekt/tv_relay/internal/journal"
	"github.com/dgnsrekt/tv_relay/internal/metrics"
	"github.com/dgnsrekt/tv_relay/internal/netutil"
	"github.com/dgnsrekt/tv_relay/internal/notify"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/dgnsrekt/tv_relay/internal/transport"
	"github.com/dgnsrekt/tv_relay/internal/upstream"
	"github.com/dgnsrekt/tv_relay/internal/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfgPath)
		},
	}
}

func runServe(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load relay config", "error", err)
		return err
	}

	if err := setupLogger(cfg.Log.Level, cfg.Log.File); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		return err
	}

	slog.Info("tv_relay config loaded",
		"upstream", cfg.Upstream.URL,
		"heartbeat_interval", cfg.Upstream.HeartbeatInterval,
		"retry_kind", cfg.Upstream.RetryKind,
		"retry_delay", cfg.Upstream.RetryDelay,
		"retry_max_attempts", cfg.Upstream.RetryMaxAttempts,
		"batch_size", cfg.Relay.BatchSize,
		"pool_size", cfg.Relay.PoolSize,
		"mailbox_limit", cfg.Relay.MailboxLimit,
		"bind_addr", cfg.Server.BindAddr,
		"port_auto_fallback", cfg.Server.AutoFallback,
		"log_level", cfg.Log.Level,
		"log_file", cfg.Log.File,
		"notify", cfg.NtfyEndpoint != "",
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	pool := workerpool.New(cfg.Relay.PoolSize, cfg.Relay.WorkerQueue)
	opts := relay.Options{
		BatchSize:    cfg.Relay.BatchSize,
		MailboxLimit: cfg.Relay.MailboxLimit,
		Heartbeat:    relay.Heartbeat,
		AckMessage:   cfg.Relay.AckMessage,
	}
	registry := relay.NewRegistry(m)
	dispatcher := relay.NewDispatcher(registry, pool, opts, m)
	hub := relay.NewHub(registry, dispatcher, opts, m)

	var sink upstream.Sink = dispatcher
	if cfg.Journal.Dir != "" {
		j := journal.New(cfg.Journal.Dir, cfg.Journal.BufferSize, cfg.Journal.MaxSizeMB)
		defer func() {
			if err := j.Close(); err != nil {
				slog.Error("journal close failed", "error", err)
			}
		}()
		sink = upstream.Sinks{dispatcher, j}
		slog.Info("feed journal enabled", "dir", cfg.Journal.Dir)
	}

	notifier := notify.New(cfg.NtfyEndpoint, nil)
	link, err := newLink(cfg, sink, m, notifier)
	if err != nil {
		return err
	}

	upgrader := transport.NewUpgrader(
		transport.WithSendQueue(cfg.Relay.SendQueue),
		transport.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	)
	h := api.NewServer(api.Deps{
		Hub:       hub,
		Upstream:  link,
		Pool:      pool,
		Upgrader:  upgrader,
		SendQueue: cfg.Relay.SendQueue,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	})

	ln, err := netutil.Listen(cfg.Server.BindAddr, cfg.Server.FallbackAddrs, cfg.Server.AutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.Server.BindAddr, "error", err)
		return err
	}
	bindAddr := ln.Addr().String()
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("tv_relay listening",
			"addr", bindAddr,
			"websocket", "ws://"+bindAddr+"/websocket/{uid}",
			"docs", "http://"+bindAddr+"/docs",
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if err := link.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("tv_relay shutting down", "cause", context.Cause(ctx))
	case err, ok := <-serveErr:
		if ok {
			slog.Error("tv_relay server failed", "error", err)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := link.Close(); err != nil {
		slog.Error("upstream close failed", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("tv_relay shutdown failed", "error", err)
	}
	closed := hub.CloseAll()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker pool shutdown failed", "error", err)
	}
	notifier.Wait()
	slog.Info("tv_relay stopped", "subscribers_closed", closed)
	return runErr
}

func newLink(cfg *config.Config, sink upstream.Sink, m *metrics.Relay, notifier *notify.Notifier) (*upstream.Link, error) {
	kind, err := upstream.ParseRetryKind(cfg.Upstream.RetryKind)
	if err != nil {
		return nil, err
	}
	addr := cfg.Upstream.URL

	opts := upstream.Options{
		HeartbeatInterval: cfg.Upstream.HeartbeatInterval,
		HeartbeatMessage:  upstream.DefaultHeartbeat,
		HandshakeMessage:  cfg.Upstream.Handshake,
		Retry: upstream.RetryPolicy{
			Kind:        kind,
			Delay:       cfg.Upstream.RetryDelay,
			MaxDelay:    cfg.Upstream.RetryMaxDelay,
			MaxAttempts: cfg.Upstream.RetryMaxAttempts,
		},
		Metrics: m,
		OnStateChange: func(from, to upstream.State) {
			switch {
			case to == upstream.Connected:
				notifier.Go(fmt.Sprintf("upstream %s connected", addr))
			case from == upstream.Connected:
				notifier.Go(fmt.Sprintf("upstream %s lost, reconnecting", addr))
			}
		},
		OnGiveUp: func(attempts int, lastErr error) {
			notifier.Go(fmt.Sprintf("upstream %s gave up after %d attempts: %v", addr, attempts, lastErr))
		},
	}
	dialer := transport.WSDialer{DialTimeout: cfg.Upstream.DialTimeout, SendQueue: cfg.Relay.SendQueue}
	return upstream.New(addr, dialer, sink, opts), nil
}
