package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/collab"
	"github.com/peerbajaj/collab/internal/session"
)

// frame is the wire envelope.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type joinPayload struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type leavePayload struct {
	RoomID string `json:"roomId"`
}

// conn is one WebSocket session.
//
// send is never closed: rooms may still be emitting when the connection
// goes away, and a send on a closed channel panics. done signals the
// writer to stop instead.
type conn struct {
	id      string
	ws      *websocket.Conn
	h       *Handler
	logger  *slog.Logger
	limiter *rate.Limiter

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	// Owned by the read goroutine.
	room        *collab.Room
	displayName string
}

var _ session.Sink = (*conn)(nil)

func newConn(id string, ws *websocket.Conn, h *Handler) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		h:       h,
		logger:  h.logger.With(slog.String("connectionId", id)),
		limiter: rate.NewLimiter(rate.Limit(h.opts.RateLimit), h.opts.RateBurst),
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// Emit queues an event for this connection. It never blocks: a client
// that cannot keep up with its buffer is disconnected.
func (c *conn) Emit(event string, data any) {
	b, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		c.logger.Error("failed to encode event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- b:
	default:
		c.logger.Warn("send buffer full, dropping connection", slog.String("event", event))
		c.stop()
	}
}

func (c *conn) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *conn) emitError(event, message string) {
	c.Emit(collab.EventError, collab.ErrorPayload{Event: event, Message: message})
}

func (c *conn) readPump() {
	defer func() {
		c.leave()
		c.stop()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.emitError("", "frames must be JSON text")
			continue
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil || f.Event == "" {
			c.emitError("", "malformed frame")
			continue
		}

		if !c.limiter.Allow() {
			c.h.opts.Metrics.Event(f.Event, "limited")
			c.emitError(f.Event, "rate limit exceeded")
			continue
		}

		c.dispatch(f)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

func (c *conn) dispatch(f frame) {
	switch f.Event {
	case collab.EventJoinRoom:
		var p joinPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			c.reject(f.Event, apperror.ValidationFailed("data", "malformed joinRoom payload"))
			return
		}
		if c.room != nil {
			c.reject(f.Event, apperror.ValidationFailed("roomId", "already in room "+c.room.ID()+", leave it first"))
			return
		}
		name := p.DisplayName
		if name == "" {
			name = c.displayName
		}
		c.join(p.RoomID, name)

	case collab.EventLeaveRoom:
		var p leavePayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			c.reject(f.Event, apperror.ValidationFailed("data", "malformed leaveRoom payload"))
			return
		}
		if c.room == nil {
			c.reject(f.Event, apperror.ValidationFailed("roomId", "not in a room"))
			return
		}
		if p.RoomID != c.room.ID() {
			c.reject(f.Event, apperror.ValidationFailed("roomId", "roomId does not match the joined room"))
			return
		}
		c.leave()

	default:
		if c.room == nil {
			c.reject(f.Event, apperror.ValidationFailed("roomId", "join a room first"))
			return
		}
		ev, err := collab.DecodeEvent(f.Event, f.Data)
		if err != nil {
			c.reject(f.Event, err)
			return
		}
		if ev.Room() != c.room.ID() {
			c.reject(f.Event, apperror.ValidationFailed("roomId", "roomId does not match the joined room"))
			return
		}
		if err := c.room.Submit(c.id, ev); err != nil {
			c.reject(f.Event, err)
		}
	}
}

func (c *conn) reject(event string, err error) {
	c.h.opts.Metrics.Event(event, "rejected")
	c.logger.Debug("event rejected",
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
	msg := err.Error()
	if errors.Is(err, collab.ErrClosed) {
		msg = "server is shutting down"
	}
	c.emitError(event, msg)
}

func (c *conn) join(roomID, displayName string) {
	displayName = session.NormalizeDisplayName(displayName)
	if roomID == "" {
		c.reject(collab.EventJoinRoom, apperror.ValidationFailed("roomId", "room ID is required"))
		return
	}

	room, err := c.h.opts.Hub.Join(roomID, c.id, displayName, c)
	if err != nil {
		c.reject(collab.EventJoinRoom, err)
		return
	}
	c.room = room
	c.displayName = displayName
	c.logger.Debug("joined room", slog.String("roomId", roomID))
}

// leave is a no-op when the connection is not in a room.
func (c *conn) leave() {
	if c.room == nil {
		return
	}
	room := c.room
	c.room = nil

	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := room.Leave(ctx, c.id); err != nil && !errors.Is(err, collab.ErrClosed) {
		c.logger.Warn("leave failed",
			slog.String("roomId", room.ID()),
			slog.String("error", err.Error()),
		)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", slog.String("error", err.Error()))
				c.stop()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}

		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
