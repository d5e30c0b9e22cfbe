package broadcast

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/replicahq/replica-broadcast/internal/status"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 512
	// sendBuffer is the number of outbound frames queued per client before
	// the client is considered stalled and evicted.
	sendBuffer = 256
)

var errClientStalled = errors.New("send buffer full")

// controlMessage is the optional JSON envelope a client may send on its
// connection; the service echoes it back to the client's whole group.
type controlMessage struct {
	Message string `json:"message"`
}

// Client is one subscriber connection. It owns its websocket exclusively and
// is a member of exactly one group for the lifetime of the connection.
type Client struct {
	id       string
	key      string
	conn     *websocket.Conn
	registry *Registry

	membership Membership
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// NewClient wraps an upgraded connection for the given subscription key.
func NewClient(registry *Registry, conn *websocket.Conn, key string) *Client {
	return &Client{
		id:       uuid.New().String(),
		key:      key,
		conn:     conn,
		registry: registry,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// Start attaches the client to its group and spawns the read/write pumps.
func (c *Client) Start() {
	c.membership = c.registry.Attach(c.key, c)
	log.Printf("broadcast: client %s attached to %q", c.id, c.key)
	go c.writePump()
	go c.readPump()
}

// Send enqueues one frame for delivery. It never blocks: a closed client or a
// full send buffer returns an error, which the registry treats as a dead sink.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return errors.New("client closed")
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errors.New("client closed")
	default:
		return errClientStalled
	}
}

// Close detaches the client and releases the connection. Idempotent, and safe
// to call concurrently with an in-flight delivery.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.registry.Detach(c.membership)
		close(c.done)
		c.conn.Close() //nolint:errcheck // already tearing down
		log.Printf("broadcast: client %s detached from %q", c.id, c.key)
	})
	return nil
}

// readPump consumes inbound frames until the connection dies. The channel is
// push-only, but a client may send a control message to have it echoed to its
// group; anything unparseable is logged and ignored.
func (c *Client) readPump() {
	defer c.Close() //nolint:errcheck

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("broadcast: client %s read error: %v", c.id, err)
			}
			return
		}

		var cm controlMessage
		if err := json.Unmarshal(msg, &cm); err != nil || cm.Message == "" {
			log.Printf("broadcast: client %s sent invalid control message", c.id)
			continue
		}
		c.registry.Broadcast(c.key, status.Echo{Target: cm.Message, StatusCode: 200})
	}
}

// writePump drains the send buffer to the connection and keeps the peer alive
// with pings. A write failure tears the client down rather than propagating.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close() //nolint:errcheck
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))    //nolint:errcheck
			c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
			return
		}
	}
}
