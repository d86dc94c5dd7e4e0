package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/metrics"
)

// Event names sent to UI clients.
const (
	EventTermData = "term-data"
	EventInit     = "init"
)

const subscriberBuffer = 256

// Event is the JSON envelope delivered to UI clients.
type Event struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Hub is the production session sink. Output is fanned out to connected
// clients without blocking the monitor. Delivery to a client is best effort:
// once its queue of subscriberBuffer events is full, further term-data
// events for that client are dropped and counted, leaving a gap in its
// output. On exit every client channel is closed and the host exit callback
// runs once.
type Hub struct {
	log     *zap.Logger
	metrics *metrics.Metrics
	onExit  func()

	subMu       sync.Mutex
	subscribers map[chan []byte]struct{}
	closed      bool

	exitOnce sync.Once
}

func NewHub(log *zap.Logger, m *metrics.Metrics, onExit func()) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:         log,
		metrics:     m,
		onExit:      onExit,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// OnData implements pty.Sink.
func (h *Hub) OnData(text string) {
	payload, err := json.Marshal(Event{Event: EventTermData, Data: text})
	if err != nil {
		h.log.Error("encode term-data event", zap.Error(err))
		return
	}
	h.broadcast(payload)
}

// OnExit implements pty.Sink.
func (h *Hub) OnExit() {
	h.exitOnce.Do(func() {
		h.subMu.Lock()
		h.closed = true
		for ch := range h.subscribers {
			close(ch)
			delete(h.subscribers, ch)
			h.metrics.SubscriberRemoved()
		}
		h.subMu.Unlock()

		h.log.Info("child exited, shutting down host")
		if h.onExit != nil {
			h.onExit()
		}
	})
}

func (h *Hub) broadcast(payload []byte) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	for ch := range h.subscribers {
		select {
		case ch <- payload:
		default:
			h.metrics.EventDropped()
			h.log.Debug("slow subscriber, event dropped", zap.Int("bytes", len(payload)))
		}
	}
}

// Subscribe returns a channel of encoded events and an unsubscribe function.
// After exit the returned channel is already closed.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.subMu.Lock()
	if h.closed {
		h.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subscribers[ch] = struct{}{}
	h.subMu.Unlock()
	h.metrics.SubscriberAdded()

	unsub := func() {
		h.subMu.Lock()
		defer h.subMu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			h.metrics.SubscriberRemoved()
		}
	}
	return ch, unsub
}

// Subscribers returns the number of connected clients.
func (h *Hub) Subscribers() int {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	return len(h.subscribers)
}
