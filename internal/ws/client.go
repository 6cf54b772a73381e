package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Close codes sent to clients. 4000-4999 is the application range.
const (
	CloseSessionReplaced = 4001
	CloseSlowConsumer    = 4002
)

// ConnContext is what a handler knows about the sender.
type ConnContext struct {
	RoomID   string
	UserID   string
	UserName string
	Conn     *clientConn
	Room     *room
}

type clientConn struct {
	id       string
	userID   string
	userName string
	rawConn  *websocket.Conn
	opts     *Options

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	// Only touched by the reader goroutine.
	roomID string
	room   *room
}

func newClientConn(raw *websocket.Conn, userID, userName string, opts *Options) *clientConn {
	return &clientConn{
		id:       uuid.NewString(),
		userID:   userID,
		userName: userName,
		rawConn:  raw,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
	}
}

// enqueue never blocks. A false return means the connection is gone or its
// buffer is full.
func (c *clientConn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *clientConn) sendFrame(event string, body any) bool {
	msg, err := marshalFrame(event, body)
	if err != nil {
		zap.L().Error("ws.marshal", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.enqueue(msg)
}

func (c *clientConn) sendError(err error) {
	c.sendFrame(EvtError, ErrorBody{Error: errorCode(err)})
}

// close asks the write loop to send a close frame and drop the socket.
func (c *clientConn) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *clientConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writeLoop owns every write on the socket, pings included.
func (c *clientConn) writeLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.rawConn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.rawConn.WriteMessage(websocket.TextMessage, msg); err != nil {
				zap.L().Debug("ws.write", zap.String("conn", c.id), zap.Error(err))
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteWait)
			if err := c.rawConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping timeout")
				return
			}
		case <-c.done:
			code := c.closeCode
			if code == websocket.CloseAbnormalClosure {
				return
			}
			deadline := time.Now().Add(c.opts.WriteWait)
			_ = c.rawConn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, c.closeText), deadline)
			return
		}
	}
}

func marshalFrame(event string, body any) ([]byte, error) {
	env := struct {
		Event string `json:"event"`
		Body  any    `json:"body,omitempty"`
	}{Event: event, Body: body}
	return json.Marshal(env)
}
