package tunnel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFrameStreamPartialReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.BinaryMessage, []byte("hello "))
		conn.WriteMessage(websocket.BinaryMessage, nil)
		conn.WriteMessage(websocket.BinaryMessage, []byte("world"))
		conn.ReadMessage()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	wc := newFrameStream(conn, zap.NewNop())
	defer wc.Close()

	var got []string
	buf := make([]byte, 5)
	for total := 0; total < len("hello world"); {
		n, err := wc.Read(buf)
		require.NoError(t, err)
		got = append(got, string(buf[:n]))
		total += n
	}
	assert.Equal(t, []string{"hello", " ", "world"}, got)
}

func TestFrameStreamRejectsTextFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"gateway"}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	wc := newFrameStream(conn, zap.NewNop())
	defer wc.Close()

	_, err = wc.Read(make([]byte, 64))
	assert.ErrorIs(t, err, ErrUnexpectedFrame)
}

func TestFrameStreamWriteIsOneMessage(t *testing.T) {
	received := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		mt, msg, err := conn.ReadMessage()
		if err == nil && mt == websocket.BinaryMessage {
			received <- msg
		}
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	wc := newFrameStream(conn, zap.NewNop())
	defer wc.Close()

	n, err := wc.Write([]byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	select {
	case msg := <-received:
		assert.Equal(t, "frame", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestClientProxiesGatewayStreams(t *testing.T) {
	local := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "pong")
	}))
	defer local.Close()

	sessions := make(chan *yamux.Session, 1)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SecretHeader) != "s3cret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess, err := yamux.Client(newFrameStream(conn, nil), yamux.DefaultConfig())
		if err != nil {
			conn.Close()
			return
		}
		sessions <- sess
	}))
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewClient(wsURL(gw), "s3cret", strings.TrimPrefix(local.URL, "http://"), zap.NewNop())
	go c.Run(ctx)

	var sess *yamux.Session
	select {
	case sess = <-sessions:
	case <-time.After(5 * time.Second):
		t.Fatal("tunnel did not connect")
	}
	defer sess.Close()

	stream, err := sess.Open()
	require.NoError(t, err)
	defer stream.Close()

	_, err = fmt.Fprint(stream, "GET /ping HTTP/1.0\r\nHost: local\r\n\r\n")
	require.NoError(t, err)

	resp, err := http.ReadResponse(bufio.NewReader(stream), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))
}

func TestClientRetriesAndStopsOnCancel(t *testing.T) {
	var attempts atomic.Int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer gw.Close()

	c := NewClient(wsURL(gw), "wrong", "127.0.0.1:1", zap.NewNop())
	c.MinBackoff = 10 * time.Millisecond
	c.MaxBackoff = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(finished)
	}()

	require.Eventually(t, func() bool { return attempts.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
