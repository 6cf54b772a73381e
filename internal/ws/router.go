package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownEvent = errors.New("unknown_event")
	ErrRoomMismatch = errors.New("room_mismatch")
	ErrNotInRoom    = errors.New("not_in_room")
	ErrTargetGone   = errors.New("target_gone")
)

// RequestError is reported back to the sender as an "error" frame. Any other
// handler error is a precondition miss and is dropped silently.
type RequestError struct {
	Code string
	Err  error
}

func (e *RequestError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }

func badRequest(code string, err error) error {
	return &RequestError{Code: code, Err: err}
}

// reply is what a handler wants sent back to the sender only.
type reply struct {
	Event string
	Body  any
}

// internal (untyped) handler signature.
type rawHandler func(ctx context.Context, c *ConnContext, body json.RawMessage) (*reply, error)

// Router keeps a map[event]handler, à-la gin.Engine.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]rawHandler
	validate *validator.Validate
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]rawHandler), validate: validator.New()}
}

type roomScoped interface{ roomRef() string }

func decode[Req any](v *validator.Validate, c *ConnContext, body json.RawMessage) (Req, error) {
	var req Req
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return req, badRequest("invalid_body", err)
		}
	}
	if rs, ok := any(req).(roomScoped); ok {
		if id := rs.roomRef(); id != "" && id != c.RoomID {
			return req, badRequest(ErrRoomMismatch.Error(), fmt.Errorf("%s != %s", id, c.RoomID))
		}
	}
	if err := v.Struct(req); err != nil {
		return req, badRequest("invalid_body", err)
	}
	return req, nil
}

// Register binds an event to a strongly-typed handler whose result goes back
// to the sender as replyEvent ("<event>-ack" when empty).
func Register[Req any, Res any](
	r *Router,
	event, replyEvent string,
	h func(ctx context.Context, c *ConnContext, req Req) (Res, error),
) {
	if event == "" {
		panic("ws router: empty event")
	}
	if replyEvent == "" {
		replyEvent = event + "-ack"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) (*reply, error) {
		req, err := decode[Req](r.validate, c, body)
		if err != nil {
			return nil, err
		}
		res, err := h(ctx, c, req)
		if err != nil {
			return nil, err
		}
		return &reply{Event: replyEvent, Body: res}, nil
	}
}

// Handle binds an event whose effects are broadcasts only.
func Handle[Req any](
	r *Router,
	event string,
	h func(ctx context.Context, c *ConnContext, req Req) error,
) {
	if event == "" {
		panic("ws router: empty event")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[event] = func(ctx context.Context, c *ConnContext, body json.RawMessage) (*reply, error) {
		req, err := decode[Req](r.validate, c, body)
		if err != nil {
			return nil, err
		}
		return nil, h(ctx, c, req)
	}
}

// dispatch is called by the room goroutine.
func (r *Router) dispatch(ctx context.Context, c *ConnContext, env Envelope) (*reply, error) {
	r.mu.RLock()
	h, ok := r.handlers[env.Event]
	r.mu.RUnlock()
	if !ok {
		return nil, badRequest(ErrUnknownEvent.Error(), nil)
	}
	return h(ctx, c, env.Body)
}

func (r *Router) has(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[event]
	return ok
}
