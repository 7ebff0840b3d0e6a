package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"player-session/internal/events"
)

const (
	writeWait = 5 * time.Second
	// CloseReason sent when the session's stream ends.
	closeEndOfStream = "endOfStream"
	// CloseReason sent when a client falls maxQueuedFrames behind. It may
	// reattach.
	closeSlowConsumer = "slowConsumer"
	maxQueuedFrames   = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API listens on loopback by default.
	CheckOrigin: func(*http.Request) bool { return true },
}

type errorFrame struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

// wsConsumer adapts a session's event sink to one socket. The sink calls it
// with its lock held, so frames are queued and written by the handler
// goroutine.
type wsConsumer struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	ended    bool
	overflow bool
	notify   chan struct{}
}

func newWSConsumer() *wsConsumer {
	return &wsConsumer{
		id:     uuid.NewString(),
		notify: make(chan struct{}, 1),
	}
}

func (c *wsConsumer) Success(e events.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		log.Warnf("[server] consumer %s: encoding %s: %v", c.id, e.Kind, err)
		return
	}
	c.push(b, false)
}

func (c *wsConsumer) Error(code, message string, details any) {
	var f errorFrame
	f.Error.Code = code
	f.Error.Message = message
	f.Error.Details = details
	b, err := json.Marshal(f)
	if err != nil {
		log.Warnf("[server] consumer %s: encoding error frame: %v", c.id, err)
		return
	}
	c.push(b, false)
}

func (c *wsConsumer) EndOfStream() {
	c.push(nil, true)
}

func (c *wsConsumer) push(frame []byte, end bool) {
	c.mu.Lock()
	switch {
	case frame == nil || c.overflow:
	case len(c.frames) >= maxQueuedFrames:
		c.overflow = true
		c.frames = nil
	default:
		c.frames = append(c.frames, frame)
	}
	if end {
		c.ended = true
	}
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// drain takes the queued frames and reports whether the stream has ended
// and whether frames were dropped.
func (c *wsConsumer) drain() (frames [][]byte, ended, overflow bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames = c.frames
	c.frames = nil
	return frames, c.ended, c.overflow
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	// Check before upgrading so unknown ids get a JSON error.
	if _, err := s.sessions.Get(id); err != nil {
		w.Header().Set("Content-Type", "application/json")
		writeCommandError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("[server] upgrade for session %d: %v", id, err)
		return
	}
	defer conn.Close()

	consumer := newWSConsumer()
	if err := s.sessions.Listen(id, consumer); err != nil {
		// Disposed between the check and the upgrade.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeEndOfStream),
			time.Now().Add(writeWait))
		return
	}
	defer s.sessions.Cancel(id, consumer)
	log.Debugf("[server] session %d: listener %s attached", id, consumer.id)

	// The reader only watches for the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			log.Debugf("[server] session %d: listener %s went away", id, consumer.id)
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-consumer.notify:
			frames, ended, overflow := consumer.drain()
			if overflow {
				log.Warnf("[server] session %d: listener %s fell behind, closing", id, consumer.id)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, closeSlowConsumer),
					time.Now().Add(writeWait))
				return
			}
			for _, f := range frames {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, f); err != nil {
					log.Debugf("[server] session %d: write: %v", id, err)
					return
				}
			}
			if ended {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeEndOfStream),
					time.Now().Add(writeWait))
				// Give the peer a moment to answer the close.
				select {
				case <-closed:
				case <-time.After(writeWait):
				}
				return
			}
		}
	}
}
