package tunnel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrUnexpectedFrame is returned by a frameStream read when the peer sends
// anything other than a binary frame. yamux traffic is never text.
var ErrUnexpectedFrame = errors.New("tunnel: unexpected non-binary frame")

// frameWriteTimeout bounds a single frame write so a stalled gateway cannot
// hold the write lock forever.
const frameWriteTimeout = 10 * time.Second

// frameStream carries a yamux session over a websocket. Reads stream each
// binary frame through its reader without copying it whole; each write is
// sent as one binary frame.
type frameStream struct {
	conn *websocket.Conn
	log  *zap.Logger

	// cur is the reader of the frame being consumed. Only the yamux recv
	// loop reads, so it needs no lock.
	cur io.Reader

	writeMu sync.Mutex
}

func newFrameStream(conn *websocket.Conn, log *zap.Logger) *frameStream {
	if log == nil {
		log = zap.NewNop()
	}
	return &frameStream{conn: conn, log: log}
}

func (f *frameStream) Read(p []byte) (int, error) {
	for {
		if f.cur == nil {
			mt, r, err := f.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if mt != websocket.BinaryMessage {
				f.log.Error("tunnel: gateway sent non-binary frame", zap.Int("type", mt))
				return 0, fmt.Errorf("%w (type %d)", ErrUnexpectedFrame, mt)
			}
			f.cur = r
		}
		n, err := f.cur.Read(p)
		if errors.Is(err, io.EOF) {
			f.cur = nil
			err = nil
		}
		// An empty frame or a drained one: move on to the next frame.
		if n == 0 && err == nil {
			continue
		}
		return n, err
	}
}

func (f *frameStream) Write(p []byte) (int, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.conn.SetWriteDeadline(time.Now().Add(frameWriteTimeout))
	if err := f.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, fmt.Errorf("write frame: %w", err)
	}
	return len(p), nil
}

func (f *frameStream) Close() error {
	return f.conn.Close()
}

var _ io.ReadWriteCloser = (*frameStream)(nil)
