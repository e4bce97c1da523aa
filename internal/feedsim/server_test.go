package feedsim

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func dial(t *testing.T, url string) (readText func() string, writeText func(string), closeConn func()) {
	t.Helper()
	conn, _, _, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(url, "http"))
	require.NoError(t, err)
	readText = func() string {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		b, err := wsutil.ReadServerText(conn)
		require.NoError(t, err)
		return string(b)
	}
	writeText = func(s string) {
		require.NoError(t, wsutil.WriteClientText(conn, []byte(s)))
	}
	closeConn = func() { _ = conn.Close() }
	return
}

func TestServerGeneratesQuotes(t *testing.T) {
	feed := New(WithInterval(5*time.Millisecond), WithSymbols("AAPL"))
	srv := httptest.NewServer(feed)
	defer srv.Close()
	defer feed.DropAll()

	read, _, closeConn := dial(t, srv.URL)
	defer closeConn()

	for i := 0; i < 3; i++ {
		msg := read()
		assert.True(t, strings.HasPrefix(msg, "AAPL:"), "quote %q", msg)
	}
}

func TestServerBroadcastAndRecord(t *testing.T) {
	feed := New()
	srv := httptest.NewServer(feed)
	defer srv.Close()
	defer feed.DropAll()

	read, write, closeConn := dial(t, srv.URL)
	defer closeConn()
	require.Eventually(t, func() bool { return feed.Connections() == 1 }, time.Second, 2*time.Millisecond)

	assert.Equal(t, 1, feed.Broadcast("MSFT:410.1"))
	assert.Equal(t, "MSFT:410.1", read())

	write("hello")
	write("heart")
	write("heart")
	require.Eventually(t, func() bool { return len(feed.Received()) == 3 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{"hello", "heart", "heart"}, feed.Received())
	assert.Equal(t, 2, feed.Count("heart"))
}

func TestServerRejectNext(t *testing.T) {
	feed := New()
	srv := httptest.NewServer(feed)
	defer srv.Close()
	defer feed.DropAll()

	feed.RejectNext(1)
	_, _, _, err := ws.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Error(t, err)

	_, _, closeConn := dial(t, srv.URL)
	defer closeConn()
	assert.Equal(t, 1, feed.Accepted())
}

func TestServerDropAll(t *testing.T) {
	feed := New()
	srv := httptest.NewServer(feed)
	defer srv.Close()

	_, _, closeConn := dial(t, srv.URL)
	defer closeConn()
	require.Eventually(t, func() bool { return feed.Connections() == 1 }, time.Second, 2*time.Millisecond)

	feed.DropAll()
	assert.Equal(t, 0, feed.Connections())
	assert.Equal(t, 0, feed.Broadcast("x"))
}
