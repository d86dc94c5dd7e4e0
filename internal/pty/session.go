package pty

import (
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/metrics"
)

const defaultReadChunk = 1024

// Session is one child process attached to a pseudo-terminal.
//
// Output read before Initialize is held in a pending buffer; after it, output
// is delivered live to the Sink. The pending buffer and the streaming flag
// share one lock so every chunk lands in exactly one of the two.
type Session struct {
	id      string
	log     *zap.Logger
	metrics *metrics.Metrics

	cmd      *exec.Cmd
	exited   chan struct{}
	exitCode atomic.Int64

	termMu sync.Mutex
	term   Resizer

	writerMu sync.Mutex
	writer   io.Writer

	// mu guards pending, streaming and trimmed.
	mu         sync.Mutex
	pending    []byte
	streaming  bool
	trimmed    bool
	maxPending int

	readChunk int
	done      chan struct{}
}

// NewSession builds a session around existing terminal handles. term and
// writer may be nil, in which case Resize and Write are no-ops.
func NewSession(id string, term Resizer, writer io.Writer, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		id:         id,
		log:        opts.Logger.With(zap.String("session", id)),
		metrics:    opts.Metrics,
		exited:     make(chan struct{}),
		term:       term,
		writer:     writer,
		maxPending: opts.MaxPending,
		readChunk:  opts.ReadChunk,
		done:       make(chan struct{}),
	}
	s.exitCode.Store(-1)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// PID returns the child's process id, or 0 when no child was spawned.
func (s *Session) PID() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed once the output monitor has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Exited is closed once the child process has been reaped.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// ExitCode returns the child's exit status and whether it has exited.
func (s *Session) ExitCode() (int, bool) {
	select {
	case <-s.exited:
		return int(s.exitCode.Load()), true
	default:
		return 0, false
	}
}

// Streaming reports whether Initialize has been called.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Pending returns the number of bytes held for the next Initialize.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Initialize drains the pending buffer, switches the session to streaming and
// returns the drained output decoded as text. Later calls return "" and leave
// streaming on. Until the first call, all output is held in memory.
func (s *Session) Initialize() string {
	s.mu.Lock()
	drained := s.pending
	s.pending = nil
	first := !s.streaming
	s.streaming = true
	s.mu.Unlock()

	s.metrics.ObserveInitialize()
	if first {
		s.log.Info("session streaming", zap.Int("drained_bytes", len(drained)))
	} else {
		s.log.Debug("initialize called again", zap.Int("drained_bytes", len(drained)))
	}
	return decodeLossy(drained)
}

// Write sends data to the child's input. Failures are logged and counted but
// not returned.
func (s *Session) Write(data string) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	if s.writer == nil {
		s.log.Warn("write dropped: no input writer", zap.Int("bytes", len(data)))
		s.metrics.WriteDropped(metrics.ReasonNoHandle)
		return
	}
	if _, err := io.WriteString(s.writer, data); err != nil {
		s.log.Warn("write dropped", zap.Int("bytes", len(data)), zap.Error(err))
		s.metrics.WriteDropped(metrics.ReasonError)
	}
}

// Resize sets the terminal's cell dimensions. Failures are logged and counted
// but not returned.
func (s *Session) Resize(rows, cols uint16) {
	s.termMu.Lock()
	defer s.termMu.Unlock()

	if s.term == nil {
		s.log.Warn("resize dropped: no terminal handle", zap.Uint16("rows", rows), zap.Uint16("cols", cols))
		s.metrics.ResizeDropped(metrics.ReasonNoHandle)
		return
	}
	if err := s.term.Resize(rows, cols); err != nil {
		s.log.Warn("resize dropped", zap.Uint16("rows", rows), zap.Uint16("cols", cols), zap.Error(err))
		s.metrics.ResizeDropped(metrics.ReasonError)
		return
	}
	s.log.Debug("resized", zap.Uint16("rows", rows), zap.Uint16("cols", cols))
}

// buffer appends chunk to the pending buffer unless the session is
// streaming. It reports whether the chunk was taken.
func (s *Session) buffer(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streaming {
		return false
	}
	s.pending = append(s.pending, chunk...)
	if s.maxPending > 0 && len(s.pending) > s.maxPending {
		drop := len(s.pending) - s.maxPending
		n := copy(s.pending, s.pending[drop:])
		s.pending = s.pending[:n]
		s.metrics.ObserveTrimmed(drop)
		if !s.trimmed {
			s.trimmed = true
			s.log.Warn("pending output exceeds cap, discarding oldest bytes",
				zap.Int("max_pending", s.maxPending))
		}
	}
	s.metrics.ObserveBuffered(len(s.pending))
	return true
}
