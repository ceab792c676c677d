package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client is the dialing side of a service link. Received frames land in a
// bounded queue drained with Dequeue, mirroring the Server shape.
type Client struct {
	log     *zap.Logger
	conn    *websocket.Conn
	writeMu sync.Mutex
	inbound chan []byte
	done    chan struct{}
}

// Dial connects to a ws:// URL and starts the read loop.
func Dial(url string, queueSize int, log *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w", url, err)
	}
	c := &Client{
		log:     log,
		conn:    conn,
		inbound: make(chan []byte, queueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	log.Info("ws client connected", zap.String("url", url))
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case c.inbound <- payload:
		default:
			c.log.Warn("client inbound queue full, dropping frame")
		}
	}
}

// Send writes one text frame. Safe for concurrent use.
func (c *Client) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Dequeue pops the next received frame, waiting at most timeout. A zero
// timeout polls without waiting.
func (c *Client) Dequeue(timeout time.Duration) ([]byte, bool) {
	if timeout <= 0 {
		select {
		case payload := <-c.inbound:
			return payload, true
		default:
			return nil, false
		}
	}
	select {
	case payload := <-c.inbound:
		return payload, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Close tears the connection down and waits for the read loop to exit.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
