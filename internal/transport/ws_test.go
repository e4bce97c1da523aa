package transport

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	messages chan string
	errs     chan error
	closed   chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages: make(chan string, 16),
		errs:     make(chan error, 4),
		closed:   make(chan error, 4),
	}
}

func (h *recordingHandler) HandleMessage(text string) { h.messages <- text }
func (h *recordingHandler) HandleClose(reason error)  { h.closed <- reason }
func (h *recordingHandler) HandleError(cause error)   { h.errs <- cause }

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestWSDialerExchangesFrames(t *testing.T) {
	fromClient := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := wsutil.WriteServerText(conn, []byte("AAPL:190.5")); err != nil {
			return
		}
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		fromClient <- string(data)
	}))
	defer srv.Close()

	h := newRecordingHandler()
	conn, err := WSDialer{DialTimeout: time.Second}.Dial(context.Background(), wsURL(srv), h)
	require.NoError(t, err)
	defer conn.Close()

	assert.True(t, conn.IsOpen())
	assert.NotEmpty(t, conn.ID())

	select {
	case got := <-h.messages:
		assert.Equal(t, "AAPL:190.5", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from server")
	}

	sent := make(chan error, 1)
	conn.Send("heart", func(err error) { sent <- err })
	require.NoError(t, <-sent)

	select {
	case got := <-fromClient:
		assert.Equal(t, "heart", got)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive client frame")
	}

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleClose not called after server hung up")
	}
	assert.False(t, conn.IsOpen())
}

func TestWSDialerDialFailure(t *testing.T) {
	_, err := WSDialer{DialTimeout: 200 * time.Millisecond}.Dial(context.Background(), "ws://127.0.0.1:1/feed", newRecordingHandler())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport: dial")
}

func TestHandshakeReaderReleasesBufferOnceDrained(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("early"))
	_, err := br.Peek(5)
	require.NoError(t, err)

	hr := &handshakeReader{br: br, conn: strings.NewReader("late")}

	got, err := io.ReadAll(hr)
	require.NoError(t, err)
	assert.Equal(t, "earlylate", string(got))
	assert.Nil(t, hr.br, "buffered reader should be handed back once empty")
}

func TestUpgraderServesSubscriber(t *testing.T) {
	h := newRecordingHandler()
	conns := make(chan *WSConn, 1)
	up := NewUpgrader(WithAllowedOrigins([]string{"*"}), WithSendQueue(8))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r)
		if err != nil {
			return
		}
		conns <- c
		c.Serve(h)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)

	var serverConn *WSConn
	select {
	case serverConn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
	}

	serverConn.Send("a\nb\n", nil)
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("ping")))
	select {
	case got := <-h.messages:
		assert.Equal(t, "ping", got)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive client message")
	}

	require.NoError(t, client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = client.Close()

	select {
	case <-h.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleClose not called")
	}
	assert.False(t, serverConn.IsOpen())
	assert.Empty(t, h.errs)
}

func TestUpgraderRejectsForeignOrigin(t *testing.T) {
	up := NewUpgrader(WithAllowedOrigins([]string{"relay.example.com"}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := up.Upgrade(w, r); err != nil {
			return
		}
		t.Error("upgrade succeeded for foreign origin")
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "http://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSSEConnWritesEvents(t *testing.T) {
	rec := httptest.NewRecorder()
	conn, err := NewSSEConn(rec, 4)
	require.NoError(t, err)

	h := newRecordingHandler()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		conn.Serve(ctx, h)
		close(served)
	}()

	sent := make(chan error, 1)
	conn.Send("AAPL:190.5\nMSFT:410.1\n", func(err error) { sent <- err })
	require.NoError(t, <-sent)

	cancel()
	<-served

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: message\ndata: AAPL:190.5\ndata: MSFT:410.1\n\n", rec.Body.String())
	assert.False(t, conn.IsOpen())
	assert.ErrorIs(t, <-h.closed, context.Canceled)
}
