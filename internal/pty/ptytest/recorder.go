// Package ptytest provides a recording Sink for tests.
package ptytest

import (
	"strings"
	"sync"
)

// Recorder records every OnData and OnExit call it receives.
type Recorder struct {
	mu     sync.Mutex
	data   []string
	exits  int
	exited chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{exited: make(chan struct{})}
}

func (r *Recorder) OnData(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, text)
}

func (r *Recorder) OnExit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits++
	if r.exits == 1 {
		close(r.exited)
	}
}

// Data returns a copy of the chunks delivered so far.
func (r *Recorder) Data() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]string, len(r.data))
	copy(cp, r.data)
	return cp
}

// Text returns the delivered chunks concatenated.
func (r *Recorder) Text() string {
	return strings.Join(r.Data(), "")
}

// Exits returns how many times OnExit was called.
func (r *Recorder) Exits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exits
}

// Exited is closed on the first OnExit.
func (r *Recorder) Exited() <-chan struct{} {
	return r.exited
}
