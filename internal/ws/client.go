package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pnotato/VSDocs/internal/protocol"
	"github.com/pnotato/VSDocs/internal/ratelimit"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	sendBufferSize    = 256
	eventsPerSecond   = 50
	eventBurst        = 100
	maxDropViolations = 1000
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection. It belongs to at most one room at
// a time; roomID is owned by the hub goroutine.
type Client struct {
	hub         *Hub
	log         *slog.Logger
	conn        *websocket.Conn
	send        chan []byte
	rateLimiter *ratelimit.Limiter

	id     string
	roomID string
}

// ServeWs upgrades an HTTP request to a WebSocket connection and
// registers it with the hub. Rooms are joined later via join-room.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("ws.upgrade", "err", err)
		return
	}

	client := &Client{
		hub:         hub,
		log:         hub.log,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		rateLimiter: ratelimit.NewLimiter(eventsPerSecond, eventBurst),
		id:          uuid.NewString(),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitViolations := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("ws.read", "conn", c.id, "err", err)
			}
			break
		}

		if !c.rateLimiter.Allow() {
			rateLimitViolations++
			if rateLimitViolations%100 == 1 {
				// roomID is hub-owned and must not be read here.
				c.log.Warn("ws.rate_limited", "conn", c.id, "violations", rateLimitViolations)
			}
			if rateLimitViolations > maxDropViolations {
				c.log.Warn("ws.rate_limit_disconnect", "conn", c.id)
				return
			}
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			// Malformed frames are discarded without a response
			c.log.Debug("ws.bad_frame", "conn", c.id, "err", err)
			continue
		}

		c.hub.events <- &inboundEvent{sender: c, env: env}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
