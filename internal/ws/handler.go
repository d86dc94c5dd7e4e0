package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/pty"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// command is a text frame sent by the UI. Binary frames are raw input.
type command struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

type Handler struct {
	session pty.Handle
	hub     *Hub
	log     *zap.Logger
}

func NewHandler(session pty.Handle, hub *Hub, log *zap.Logger) *Handler {
	return &Handler{session: session, hub: hub, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("remote", r.RemoteAddr))
	log.Info("ws: client connected")

	// Subscribe before reading commands so nothing emitted after an init
	// reply is missed.
	events, unsub := h.hub.Subscribe()
	defer unsub()

	var writeMu sync.Mutex
	send := func(msgType int, payload []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(msgType, payload)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})

	// Session events -> WebSocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case payload, ok := <-events:
				if !ok {
					sendClose(send, log, "session ended")
					return
				}
				if err := send(websocket.TextMessage, payload); err != nil {
					log.Debug("ws: write to client failed", zap.Error(err))
					return
				}
			case <-done:
				return
			}
		}
	}()

	// WebSocket -> session
	defer func() {
		close(done)
		wg.Wait()
		log.Info("ws: client disconnected")
	}()
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			log.Debug("ws: read from client failed", zap.Error(err))
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			h.session.Write(string(msg))
		case websocket.TextMessage:
			var cmd command
			if err := json.Unmarshal(msg, &cmd); err != nil {
				log.Warn("ws: bad command", zap.Error(err))
				continue
			}
			// The init reply and live events are sent from different goroutines,
			// so a term-data event may reach the client before the init reply.
			if reply := h.dispatch(cmd, log); reply != nil {
				if err := send(websocket.TextMessage, reply); err != nil {
					log.Debug("ws: reply to client failed", zap.Error(err))
					return
				}
			}
		}
	}
}

func (h *Handler) dispatch(cmd command, log *zap.Logger) []byte {
	switch cmd.Type {
	case "init":
		payload, _ := json.Marshal(Event{Event: EventInit, Data: h.session.Initialize()})
		return payload
	case "write":
		h.session.Write(cmd.Data)
	case "resize":
		h.session.Resize(cmd.Rows, cmd.Cols)
	default:
		log.Warn("ws: unknown command", zap.String("type", cmd.Type))
	}
	return nil
}

// sendClose sends a normal-closure frame carrying reason.
func sendClose(send func(int, []byte) error, log *zap.Logger, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := send(websocket.CloseMessage, msg); err != nil {
		log.Debug("ws: close frame to client failed", zap.Error(err))
	}
}
