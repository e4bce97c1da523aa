package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/tv_relay/internal/feedsim"
	"github.com/spf13/cobra"
)

func feedsimCmd() *cobra.Command {
	var addr string
	var interval time.Duration
	var symbols string

	cmd := &cobra.Command{
		Use:   "feedsim",
		Short: "Serve a fake upstream quote feed for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			var syms []string
			for _, s := range strings.Split(symbols, ",") {
				if s = strings.TrimSpace(s); s != "" {
					syms = append(syms, strings.ToUpper(s))
				}
			}
			feed := feedsim.New(feedsim.WithInterval(interval), feedsim.WithSymbols(syms...))
			return runFeedsim(cmd.Context(), addr, feed)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9001", "listen address")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "quote interval per connection")
	cmd.Flags().StringVar(&symbols, "symbols", strings.Join(feedsim.DefaultSymbols, ","), "comma separated symbols")
	return cmd
}

func runFeedsim(ctx context.Context, addr string, feed *feedsim.Server) error {
	srv := &http.Server{Addr: addr, Handler: feed, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("feedsim listening", "addr", addr, "symbols", feed.Symbols())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	feed.DropAll()
	return srv.Shutdown(shutdownCtx)
}
