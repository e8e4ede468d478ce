package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Clients only send pongs and close frames.
	maxReadSize = 4 << 10

	// eventQueue is the per-client backlog of JSON messages.
	eventQueue = 64
)

// Client is one websocket connection attached to a hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	events chan Message  // JSON, in order
	frame  chan Message  // newest binary frame only
	done   chan struct{} // closed by the hub on removal
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		events: make(chan Message, eventQueue),
		frame:  make(chan Message, 1),
		done:   make(chan struct{}),
	}
}

// NewClient creates a client and registers it with the hub. A client of a
// stopped hub starts closed, so Run returns at once.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	c := newClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		close(c.done)
	}
	return c
}

// deliver hands msg to the client without blocking. It reports false when
// the JSON backlog is full. Only the hub goroutine calls it.
func (c *Client) deliver(msg Message) bool {
	if msg.Type == BinaryMessage {
		// Replace an unsent frame. The hub is the only sender, so after
		// draining the slot the send cannot fail.
		select {
		case <-c.frame:
		default:
		}
		c.frame <- msg
		return true
	}
	select {
	case c.events <- msg:
		return true
	default:
		return false
	}
}

// Run pumps messages to the connection until it closes or the hub drops the
// client. Call it from the websocket handler; it blocks.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump only watches for disconnects and pongs.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		var err error
		select {
		case <-c.done:
			write(websocket.CloseMessage, nil)
			return
		case msg := <-c.events:
			err = write(msg.frameType(), msg.Data)
		case msg := <-c.frame:
			err = write(msg.frameType(), msg.Data)
		case <-ticker.C:
			err = write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}
