package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/FlexpointLLC/linquo-sub000/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound buffer per connection. A full buffer is a delivery gap.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // widget is embedded on third-party origins
	},
}

// Client is the middleman between one websocket connection and the gateway.
type Client struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
	send chan model.Event
}

func (c *Client) ID() string { return c.id }

// Deliver hands an event to the write pump without blocking. False means the
// event was dropped for this connection; reconciliation covers the gap.
func (c *Client) Deliver(ev model.Event) bool {
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
// Identity is established by the first join-* event, not at upgrade time.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &Client{
		id:   uuid.New().String(),
		gw:   g,
		conn: conn,
		send: make(chan model.Event, sendBuffer),
	}

	go client.writePump()
	client.readPump(r.Context())
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.gw.HandleDisconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.gw.log.WithError(err).Debug("websocket read error")
			}
			break
		}

		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.gw.log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		c.gw.HandleEvent(ctx, c, ev)
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
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}

			// Drain whatever queued up behind this event.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteJSON(<-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
