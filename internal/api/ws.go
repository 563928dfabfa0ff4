package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/presence"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsBufferSize = 256
	wsMaxFrame   = 4096
)

// ErrSlowConsumer is returned when a client's outgoing buffer is full
var ErrSlowConsumer = errors.New("client outgoing buffer full")

// wsChannel is a presence channel backed by one WebSocket connection.
// A single writer goroutine owns the connection's write side.
type wsChannel struct {
	id   string
	conn *websocket.Conn
	out  chan presence.Event
	done chan struct{}
	once sync.Once
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		id:   uuid.New().String(),
		conn: conn,
		out:  make(chan presence.Event, wsBufferSize),
		done: make(chan struct{}),
	}
}

func (c *wsChannel) ID() string {
	return c.id
}

// Send queues ev without blocking. A full queue closes the channel.
func (c *wsChannel) Send(ev presence.Event) error {
	select {
	case <-c.done:
		return presence.ErrChannelClosed
	default:
	}

	select {
	case c.out <- ev:
		return nil
	default:
		log.Warn().Str("channelId", c.id).Msg("Closing slow WebSocket client")
		c.Close()
		return ErrSlowConsumer
	}
}

// SendBacklog queues a replayed event, waiting up to wsWriteWait for the
// writer to make room
func (c *wsChannel) SendBacklog(ctx context.Context, ev presence.Event) error {
	select {
	case <-c.done:
		return presence.ErrChannelClosed
	default:
	}

	timer := time.NewTimer(wsWriteWait)
	defer timer.Stop()

	select {
	case c.out <- ev:
		return nil
	case <-c.done:
		return presence.ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		log.Warn().Str("channelId", c.id).Msg("Closing WebSocket client stalled during replay")
		c.Close()
		return ErrSlowConsumer
	}
}

func (c *wsChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

func (c *wsChannel) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Str("channelId", c.id).Msg("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientFrame is a control message sent by the client
type clientFrame struct {
	Action string    `json:"action"`
	ChatID uuid.UUID `json:"chatId"`
}

// HandleWebSocket upgrades the request into the caller's live channel
func (s *RESTServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := claimsFrom(r).UserID
	if q := r.URL.Query().Get("userId"); q != "" && q != userID.String() {
		s.respondError(w, http.StatusForbidden, "userId does not match token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ch := newWSChannel(conn)
	go ch.writeLoop()

	ctx := context.WithoutCancel(r.Context())
	defer func() {
		if err := s.bus.Disconnect(ctx, userID, ch); err != nil {
			log.Warn().Err(err).Str("userId", userID.String()).Msg("Failed to disconnect channel")
		}
		ch.Close()
	}()

	if err := s.bus.Connect(ctx, userID, ch); err != nil {
		log.Error().Err(err).Str("userId", userID.String()).Msg("Failed to connect channel")
		return
	}

	s.readLoop(ctx, ch)
}

// readLoop handles client frames until the connection drops
func (s *RESTServer) readLoop(ctx context.Context, ch *wsChannel) {
	ch.conn.SetReadLimit(wsMaxFrame)
	ch.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var frame clientFrame
		if err := ch.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("channelId", ch.id).Msg("WebSocket closed unexpectedly")
			}
			return
		}
		if frame.ChatID == uuid.Nil {
			continue
		}

		var err error
		switch frame.Action {
		case "joinChat":
			err = s.bus.JoinChat(ctx, frame.ChatID, ch)
		case "leaveChat":
			err = s.bus.LeaveChat(ctx, frame.ChatID, ch)
		default:
			log.Debug().Str("action", frame.Action).Msg("Unknown client action")
		}
		if err != nil {
			log.Warn().Err(err).
				Str("action", frame.Action).
				Str("chatId", frame.ChatID.String()).
				Msg("Client action failed")
		}
	}
}
