// Package api exposes the relay over HTTP: subscriber endpoints, the JSON
// control API, health probes, and metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/dgnsrekt/tv_relay/internal/transport"
	"github.com/dgnsrekt/tv_relay/internal/upstream"
	"github.com/dgnsrekt/tv_relay/internal/workerpool"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Upstream is the read side of the feed link.
type Upstream interface {
	State() upstream.State
	Stats() upstream.Stats
}

type PoolStats interface {
	Stats() workerpool.Stats
}

// Deps wires the server to a running relay. Metrics may be nil.
type Deps struct {
	Hub       *relay.Hub
	Upstream  Upstream
	Pool      PoolStats
	Upgrader  *transport.Upgrader
	SendQueue int
	Metrics   http.Handler
}

type server struct {
	Deps
	started time.Time
}

func NewServer(d Deps) http.Handler {
	if d.Upgrader == nil {
		d.Upgrader = transport.NewUpgrader(transport.WithSendQueue(d.SendQueue))
	}
	s := &server{Deps: d, started: time.Now().UTC()}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("TV Relay API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/", writeHTML(testPageHTML))
	router.Get("/docs", writeHTML(docsHTML))
	router.Get("/docs/relay", writeHTML(relayDocsHTML))
	router.Get("/websocket/{uid}", s.serveWebSocket)
	router.Get("/sse/{uid}", s.serveSSE)
	router.Get("/healthz/live", s.live)
	router.Get("/healthz/ready", s.ready)
	if d.Metrics != nil {
		router.Handle("/metrics", d.Metrics)
	}

	registerRelayHandlers(api, s)
	return router
}

func writeHTML(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("html response write failed", "path", r.URL.Path, "error", err)
		}
	}
}

func (s *server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	conn, err := s.Upgrader.Upgrade(w, r)
	if err != nil {
		slog.Warn("websocket upgrade failed", "id", uid, "error", err)
		return
	}
	s.Hub.Connect(uid, conn)
	conn.Serve(s.Hub.Handler(uid, conn))
}

func (s *server) serveSSE(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	conn, err := transport.NewSSEConn(w, s.SendQueue)
	if err != nil {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	s.Hub.Connect(uid, conn)
	conn.Serve(r.Context(), s.Hub.Handler(uid, conn))
}

func (s *server) live(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ALIVE")
}

func (s *server) ready(w http.ResponseWriter, _ *http.Request) {
	if s.Upstream == nil || s.Upstream.State() != upstream.Connected {
		writeText(w, http.StatusServiceUnavailable, "NOT READY")
		return
	}
	writeText(w, http.StatusOK, "READY")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Debug("text response write failed", "error", err)
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, relay.ErrNotRegistered):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, relay.ErrConnClosed), errors.Is(err, transport.ErrClosed):
		return huma.NewError(http.StatusGone, err.Error())
	case errors.Is(err, transport.ErrSendQueueFull):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
