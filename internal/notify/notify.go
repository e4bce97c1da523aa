package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultTimeout = 5 * time.Second

// Notifier posts operator notifications to an ntfy topic. A nil Notifier or
// one without an endpoint drops every message.
type Notifier struct {
	Endpoint string
	Title    string
	Client   *http.Client
	Timeout  time.Duration

	wg sync.WaitGroup
}

func New(endpoint string, client *http.Client) *Notifier {
	return &Notifier{Endpoint: endpoint, Title: "tv_relay", Client: client}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.Endpoint != ""
}

// Notify sends message and waits for the result.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}
	timeout := n.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var header http.Header
	if n.Title != "" {
		header = http.Header{"Title": []string{n.Title}}
	}
	return send(ctx, n.Client, n.Endpoint, message, header)
}

// Go sends message in the background and logs failures. Callers on hot paths
// such as state-change hooks use it so they never block on the network.
func (n *Notifier) Go(message string) {
	if !n.Enabled() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Notify(context.Background(), message); err != nil {
			slog.Warn("notification failed", "endpoint", n.Endpoint, "error", err)
		}
	}()
}

// Wait blocks until background sends finish.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}

// send posts message to endpoint with any extra headers.
func send(ctx context.Context, client *http.Client, endpoint, message string, header http.Header) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
