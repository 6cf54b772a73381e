// Package client is the participant side of a study room: it keeps a local
// replica of the room (roster, canvas, timer) in sync with the relay and
// runs the audio mesh with the other call members.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"studysync/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	queueSize      = 64
)

var ErrClosed = errors.New("connection closed")

// Sender emits one event to the room.
type Sender interface {
	Send(event string, body any) error
}

// Conn is the signaling connection to the relay.
type Conn struct {
	conn     *websocket.Conn
	incoming chan ws.Envelope
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once
}

// Dial connects to the relay's /ws endpoint. token may be empty when the
// relay runs without auth, in which case userID and userName identify us.
func Dial(serverURL, token, userID, userName string) (*Conn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	if token != "" {
		q.Set("token", token)
	}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if userName != "" {
		q.Set("user_name", userName)
	}
	u.RawQuery = q.Encode()

	wsc, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("failed to connect: unauthorized: %w", err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Conn{
		conn:     wsc,
		incoming: make(chan ws.Envelope, queueSize),
		outgoing: make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *Conn) readPump() {
	defer func() {
		c.Close()
		close(c.incoming)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var env ws.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				zap.L().Info("client.closed", zap.Int("code", ce.Code), zap.String("text", ce.Text))
			}
			return
		}
		select {
		case c.incoming <- env:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.outgoing:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Send queues an event for the relay.
func (c *Conn) Send(event string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(ws.Envelope{Event: event, Body: raw})
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.outgoing <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming is closed once the connection drops.
func (c *Conn) Incoming() <-chan ws.Envelope { return c.incoming }

func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}
