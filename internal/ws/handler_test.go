package ws

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSession struct {
	mu        sync.Mutex
	pending   string
	streaming bool
	writes    []string
	sizes     [][2]uint16
	done      chan struct{}
}

func newFakeSession(pending string) *fakeSession {
	return &fakeSession{pending: pending, done: make(chan struct{})}
}

func (f *fakeSession) ID() string { return "fake" }
func (f *fakeSession) PID() int   { return 42 }

func (f *fakeSession) Initialize() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = ""
	f.streaming = true
	return out
}

func (f *fakeSession) Write(data string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
}

func (f *fakeSession) Resize(rows, cols uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes = append(f.sizes, [2]uint16{rows, cols})
}

func (f *fakeSession) Streaming() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaming
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeSession) Sizes() [][2]uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint16(nil), f.sizes...)
}

func dial(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHandlerInitReturnsBufferedOutput(t *testing.T) {
	sess := newFakeSession("booted\r\n")
	hub := NewHub(zap.NewNop(), nil, nil)
	conn := dial(t, NewHandler(sess, hub, zap.NewNop()))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "init"}))
	assert.Equal(t, Event{Event: EventInit, Data: "booted\r\n"}, readEvent(t, conn))
	assert.True(t, sess.Streaming())
}

func TestHandlerForwardsTermData(t *testing.T) {
	sess := newFakeSession("")
	hub := NewHub(zap.NewNop(), nil, nil)
	conn := dial(t, NewHandler(sess, hub, zap.NewNop()))

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.OnData("live")

	assert.Equal(t, Event{Event: EventTermData, Data: "live"}, readEvent(t, conn))
}

func TestHandlerWriteAndResize(t *testing.T) {
	sess := newFakeSession("")
	hub := NewHub(zap.NewNop(), nil, nil)
	conn := dial(t, NewHandler(sess, hub, zap.NewNop()))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte("ls\n")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "write", "data": "pwd\n"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "resize", "rows": 40, "cols": 120}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	require.Eventually(t, func() bool {
		return len(sess.Writes()) == 2 && len(sess.Sizes()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ls\n", "pwd\n"}, sess.Writes())
	assert.Equal(t, [][2]uint16{{40, 120}}, sess.Sizes())
}

func TestHandlerClosesOnExit(t *testing.T) {
	sess := newFakeSession("")
	hub := NewHub(zap.NewNop(), nil, nil)
	conn := dial(t, NewHandler(sess, hub, zap.NewNop()))

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.OnExit()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestSendCloseLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var sentType int
	send := func(msgType int, _ []byte) error {
		sentType = msgType
		return errors.New("broken pipe")
	}

	sendClose(send, zap.New(core), "session ended")

	assert.Equal(t, websocket.CloseMessage, sentType)
	entries := logs.FilterMessage("ws: close frame to client failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}
