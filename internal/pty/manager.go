package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/metrics"
)

// Options configures a session.
type Options struct {
	// Path is the executable to spawn. Empty means the running binary.
	Path string
	Args []string
	Dir  string
	Env  []string

	Rows uint16
	Cols uint16

	ReadChunk int
	// MaxPending caps the pending buffer in bytes; zero leaves it unbounded.
	MaxPending int

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Rows == 0 {
		o.Rows = 24
	}
	if o.Cols == 0 {
		o.Cols = 80
	}
	if o.ReadChunk <= 0 {
		o.ReadChunk = defaultReadChunk
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ResolvePath returns the executable a session would spawn for o.
func (o Options) ResolvePath() (string, error) {
	if o.Path != "" {
		return o.Path, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("get executable path: %w", err)
	}
	return exe, nil
}

// ptyTerminal resizes the controlling side of a pseudo-terminal.
type ptyTerminal struct {
	f *os.File
}

func (t ptyTerminal) Resize(rows, cols uint16) error {
	return pty.Setsize(t.f, &pty.Winsize{Rows: rows, Cols: cols})
}

// Start opens a pseudo-terminal, spawns the child on it and starts the output
// monitor feeding sink. An error here means the session could not be created.
func Start(opts Options, sink Sink) (*Session, error) {
	if sink == nil {
		return nil, errors.New("start session: nil sink")
	}
	opts = opts.withDefaults()

	path, err := opts.ResolvePath()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, opts.Args...)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: opts.Rows, Cols: opts.Cols})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	s := NewSession(uuid.New().String()[:8], ptyTerminal{f: ptmx}, ptmx, opts)
	s.cmd = cmd
	s.log.Info("session started",
		zap.String("path", path),
		zap.Strings("args", opts.Args),
		zap.Int("pid", cmd.Process.Pid),
		zap.Uint16("rows", opts.Rows),
		zap.Uint16("cols", opts.Cols))

	s.Monitor(ptmx, sink)
	go s.reap(ptmx)

	return s, nil
}

// reap waits for the child, records its exit status and closes the
// controlling side once the monitor has drained it.
func (s *Session) reap(ptmx *os.File) {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.exitCode.Store(int64(code))
	close(s.exited)
	s.log.Info("child exited", zap.Int("exit_code", code))

	<-s.done
	ptmx.Close()
}
