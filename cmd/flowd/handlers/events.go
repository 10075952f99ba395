package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowcore/cmd/flowd/container"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings with this period; must be less than pongWait.
	pingPeriod = 25 * time.Second

	// Clients only send pongs, never data.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering happens at the gateway.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsHandler streams execution events over WebSocket.
type EventsHandler struct {
	c *container.Container
}

// NewEventsHandler creates the event stream handler.
func NewEventsHandler(c *container.Container) *EventsHandler {
	return &EventsHandler{c: c}
}

// Stream attaches a WebSocket to one execution's event feed.
// GET /v1/executions/:id/events
func (h *EventsHandler) Stream(c echo.Context) error {
	executionID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	sub := h.c.Hub.Subscribe(executionID)
	metrics := h.c.Components.Metrics
	metrics.ClientConnected()

	// Read loop: pongs and disconnect detection only.
	go func() {
		defer sub.Close()
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
		metrics.ClientDisconnected()
	}()

	for {
		select {
		case payload, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return nil
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}
