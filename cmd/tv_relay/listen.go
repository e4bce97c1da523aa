package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/tv_relay/internal/relay"
	"github.com/dgnsrekt/tv_relay/internal/transport"
	"github.com/spf13/cobra"
)

func listenCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect as a subscriber and print every message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd.Context(), url, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/websocket/cli", "subscriber endpoint")
	return cmd
}

func runListen(ctx context.Context, url string, out io.Writer) error {
	closed := make(chan error, 1)
	h := transport.HandlerFuncs{
		OnMessage: func(text string) {
			for _, msg := range strings.Split(strings.TrimSuffix(text, relay.Separator), relay.Separator) {
				fmt.Fprintln(out, msg)
			}
		},
		OnClose: func(reason error) { closed <- reason },
	}

	conn, err := transport.WSDialer{}.Dial(ctx, url, h)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-closed
		return nil
	case reason := <-closed:
		slog.Info("subscriber connection closed", "url", url, "reason", reason)
		return nil
	}
}
