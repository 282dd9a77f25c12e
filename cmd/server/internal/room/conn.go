package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codedocs/server/cmd/server/internal/users"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64

	// closeInternal terminates a connection after an unhandled fault.
	closeInternal = 4500
)

// Conn is one live websocket member of a room. Outbound events are
// queued on a buffered channel drained by the write pump; a consumer
// that cannot keep up is dropped rather than allowed to stall the
// room.
type Conn struct {
	id   string
	ws   *websocket.Conn
	hub  *Hub
	room *Room
	log  *slog.Logger
	send chan []byte
	once sync.Once
}

// ServeConn joins the websocket to the document's room and runs the
// read/write pumps. It blocks until the connection closes.
func ServeConn(ctx context.Context, hub *Hub, ws *websocket.Conn, docID string, u *users.User) error {
	c := &Conn{
		id:   uuid.NewString(),
		ws:   ws,
		hub:  hub,
		log:  hub.log.With("component", "conn", "file_id", docID),
		send: make(chan []byte, sendBuffer),
	}
	r, err := hub.Join(ctx, docID, c.id, u, c)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			c.closeWith(re.EventCode(), re.Message)
		} else {
			c.closeWith(closeInternal, "internal error")
		}
		ws.Close()
		return err
	}
	c.room = r

	go c.writePump()
	c.readPump()
	return nil
}

func (c *Conn) sendEvent(ev event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("failed to marshal event", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, dropping connection", "channel_name", c.id)
		go c.shutdown()
	}
}

func (c *Conn) readPump() {
	defer c.shutdown()
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("connection closed", "channel_name", c.id, "error", err)
			}
			return
		}
		if !c.handle(raw) {
			return
		}
	}
}

// handle dispatches one inbound message. Unknown message kinds and
// panics terminate the connection; everything else is reported back as
// an error event by the dispatcher.
func (c *Conn) handle(raw []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("panic while handling message", "channel_name", c.id, "panic", rec)
			c.closeWith(closeInternal, "internal error")
			ok = false
		}
	}()
	if err := c.room.Dispatch(c.id, raw); err != nil {
		c.log.Warn("terminating connection", "channel_name", c.id, "error", err)
		c.closeWith(closeInternal, "unsupported message")
		return false
	}
	return true
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case data, open := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) closeWith(code int, msg string) {
	deadline := time.Now().Add(writeWait)
	c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, msg), deadline)
}

// shutdown detaches from the room and releases the socket. Leaving the
// room first guarantees no further events are queued, making the send
// channel safe to close.
func (c *Conn) shutdown() {
	c.once.Do(func() {
		if c.room != nil {
			c.hub.Leave(c.room, c.id)
		}
		close(c.send)
		c.ws.Close()
	})
}
