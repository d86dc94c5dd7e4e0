package pty

import (
	"errors"
	"io"

	"go.uber.org/zap"
)

// Monitor starts the session's output monitor on r. It must be called at most
// once per session.
func (s *Session) Monitor(r io.Reader, sink Sink) {
	go s.monitor(r, sink)
}

// monitor drains r until end of stream or a read error, then calls
// sink.OnExit once. Raw bytes are buffered undecoded so multibyte sequences
// split across reads survive until Initialize.
func (s *Session) monitor(r io.Reader, sink Sink) {
	defer close(s.done)

	buf := make([]byte, s.readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.metrics.ObserveRead(n)
			if !s.buffer(buf[:n]) {
				sink.OnData(decodeLossy(buf[:n]))
				s.metrics.ObserveDelivered()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info("terminal output closed")
			} else {
				s.log.Info("terminal output ended", zap.Error(err))
			}
			sink.OnExit()
			return
		}
	}
}
