// Package txwire is a generic websocket client shared by the
// Twitch-chat-over-IRC-websocket and Discord-gateway runtimes. It does not
// reconnect by itself: the platform manager dials a fresh Conn for every
// connect attempt. Grounded on
// pkg/clients/signalman/client.go's Connect/readPump/writePump/Close shape;
// generalized here to carry arbitrary text frames instead of one fixed
// message type, since Twitch IRC and the Discord gateway use unrelated
// wire formats.
package txwire

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatbroker/internal/logging"
)

const (
	readLimitBytes   = 512 * 1024
	pongWait         = 60 * time.Second
	pingInterval     = 54 * time.Second
	handshakeTimeout = 30 * time.Second
)

// Conn is one live websocket connection plus its read/write pumps. A fresh
// Conn is created per connect attempt; it is not reused across reconnects.
type Conn struct {
	ws     *websocket.Conn
	logger logging.Logger

	lines chan string
	send  chan string

	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Dial opens a websocket connection to url with optional headers (e.g. an
// Authorization bearer token) and starts its read/write pumps. The
// returned Conn's Lines channel is closed when the connection drops.
func Dial(ctx context.Context, url string, headers http.Header, logger logging.Logger) (*Conn, error) {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	ws, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("txwire: dial %s (status %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("txwire: dial %s: %w", url, err)
	}

	c := &Conn{
		ws:     ws,
		logger: logger,
		lines:  make(chan string, 256),
		send:   make(chan string, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go c.readPump()
	go c.writePump()
	return c, nil
}

// Lines is the stream of text frames read from the connection. Closed when
// the read pump exits, which is the caller's liveness signal.
func (c *Conn) Lines() <-chan string { return c.lines }

// Write enqueues a text frame for the write pump to send.
func (c *Conn) Write(line string) error {
	select {
	case c.send <- line:
		return nil
	case <-c.stop:
		return fmt.Errorf("txwire: connection closed")
	}
}

// Close stops both pumps and closes the underlying connection. Idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ws.Close()
	})
	<-c.done
	return nil
}

func (c *Conn) readPump() {
	defer func() {
		close(c.lines)
		close(c.done)
	}()

	c.ws.SetReadLimit(readLimitBytes)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.stop:
			return
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.logger != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("txwire: read error")
			}
			return
		}

		select {
		case c.lines <- string(data):
		default:
			if c.logger != nil {
				c.logger.Warn("txwire: inbound queue full, dropping frame")
			}
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case line := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				if c.logger != nil {
					c.logger.WithError(err).Warn("txwire: write error")
				}
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				if c.logger != nil {
					c.logger.WithError(err).Warn("txwire: ping failed")
				}
				return
			}
		}
	}
}
