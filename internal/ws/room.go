package ws

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"studysync/internal/call"
	"studysync/internal/presence"
	"studysync/internal/timer"
	"studysync/internal/whiteboard"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const dispatchTimeout = 2 * time.Second

type msgKind int

const (
	msgJoin msgKind = iota
	msgLeave
	msgEvent
	msgInject
	msgSnapshot
	msgShutdown
	msgStop
)

type roomMsg struct {
	kind msgKind
	conn *clientConn
	env  Envelope
	info *RoomInfo
	snap chan<- RoomSnapshot
}

// RoomSummary is published after every dispatched message.
type RoomSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Members   int       `json:"members"`
	InCall    int       `json:"inCall"`
	Speakers  int       `json:"speakers"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type LinkView struct {
	A         string    `json:"a"`
	B         string    `json:"b"`
	Initiator string    `json:"initiator"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RoomSnapshot struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name,omitempty"`
	Members     []presence.Participant `json:"members"`
	CallState   string                 `json:"callState"`
	CallMembers []call.Member          `json:"callMembers"`
	Links       []LinkView             `json:"links"`
	Speakers    []string               `json:"speakers"`
	Images      []whiteboard.Image     `json:"images"`
	Viewers     int                    `json:"whiteboardViewers"`
	Strokes     int                    `json:"strokes"`
	LastSeq     uint64                 `json:"lastSeq"`
	Timer       timer.State            `json:"timer"`
}

// room is one study room's dispatcher. Everything below the marker is owned
// by the run goroutine and must not be touched elsewhere.
type room struct {
	id  string
	hub *Hub

	// guarded by hub.mu
	info     *RoomInfo
	attached int

	prev *room // predecessor with the same id, still draining

	inbox   chan roomMsg
	done    chan struct{}
	summary atomic.Pointer[RoomSummary]

	// ── owned by run ──
	name     string
	conns    map[string]*clientConn // userID -> live connection
	session  *call.Session
	links    *call.Links
	speakers *call.Speakers
	board    *whiteboard.Board
	timer    timer.State
}

func newRoom(id string, h *Hub) *room {
	r := &room{
		id:       id,
		hub:      h,
		inbox:    make(chan roomMsg, h.opts.QueueSize),
		done:     make(chan struct{}),
		conns:    make(map[string]*clientConn),
		session:  call.NewSession(h.opts.MaxCall, h.opts.EndPolicy),
		links:    call.NewLinks(),
		speakers: call.NewSpeakers(),
		board:    whiteboard.NewBoard(h.opts.MaxStrokes, h.opts.MaxImages),
		timer:    timer.Default(time.Now()),
	}
	r.summary.Store(&RoomSummary{ID: id, UpdatedAt: time.Now()})
	return r
}

// submit blocks until the dispatcher takes m or has exited.
func (r *room) submit(m roomMsg) {
	select {
	case r.inbox <- m:
	case <-r.done:
	}
}

func (r *room) submitCtx(ctx context.Context, m roomMsg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// offer drops m when the queue is full.
func (r *room) offer(m roomMsg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-r.done:
		return false
	default:
		zap.L().Warn("room.queue_full", zap.String("room", r.id), zap.String("event", m.env.Event))
		return false
	}
}

func (r *room) run() {
	defer func() {
		close(r.done)
		r.hub.stopped(r)
	}()
	if r.prev != nil {
		<-r.prev.done
		r.prev = nil
	}
	for m := range r.inbox {
		switch m.kind {
		case msgStop:
			return
		case msgJoin:
			r.join(m.conn, m.info)
		case msgLeave:
			r.leave(m.conn)
		case msgEvent:
			r.dispatch(m.conn, m.env)
		case msgInject:
			r.inject(m.env)
		case msgSnapshot:
			m.snap <- r.snapshot()
		case msgShutdown:
			for _, c := range r.conns {
				c.close(websocket.CloseGoingAway, "server shutting down")
			}
		}
		r.publishSummary()
	}
}

func (r *room) join(c *clientConn, info *RoomInfo) {
	if info != nil && r.name == "" {
		r.name = info.Name
	}
	res := r.hub.registry.Join(r.id, presence.Participant{ID: c.userID, Name: c.userName, ConnID: c.id})
	if old, ok := r.conns[c.userID]; ok && old != c {
		old.close(CloseSessionReplaced, "session replaced")
	}
	r.conns[c.userID] = c

	c.sendFrame(EvtCurrentUsers, CurrentUsersBody{Users: res.Members, Names: presence.Names(res.Members)})
	if res.Replaced == nil {
		r.broadcast(EvtUserJoined, userRef(c.userID, c.userName), c)
	}
	zap.L().Info("room.join",
		zap.String("room", r.id), zap.String("user", c.userID), zap.String("conn", c.id),
		zap.Bool("replaced", res.Replaced != nil))
}

func (r *room) leave(c *clientConn) {
	if r.conns[c.userID] == c {
		delete(r.conns, c.userID)
	}
	p, ok := r.hub.registry.Leave(r.id, c.userID, c.id)
	if !ok {
		return
	}
	r.releaseParticipant(p.ID, p.Name)
	r.broadcast(EvtUserLeft, userRef(p.ID, p.Name), nil)
	zap.L().Info("room.leave", zap.String("room", r.id), zap.String("user", p.ID), zap.String("conn", c.id))
}

// releaseParticipant frees everything id holds in the room: image locks,
// speaker flag, peer links, call seat and whiteboard seat, in that order.
func (r *room) releaseParticipant(id, name string) {
	for _, img := range r.board.ReleaseLocks(id) {
		r.broadcast(EvtImageUnlock, ImageLockBody{ImageID: img.ID, UserID: id}, nil)
	}
	r.leaveCall(id, name, "left")
	if _, ok := r.board.LeaveViewer(id); ok {
		r.broadcast(EvtUserLeftWhiteboard, SpeakerBody{UserID: id, UserName: name}, nil)
	}
}

func (r *room) dispatch(c *clientConn, env Envelope) {
	if r.conns[c.userID] != c {
		return
	}
	cc := &ConnContext{RoomID: r.id, UserID: c.userID, UserName: c.userName, Conn: c, Room: r}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	rep, err := r.hub.router.dispatch(ctx, cc, env)
	cancel()

	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			zap.L().Debug("room.bad_request", zap.String("room", r.id), zap.String("event", env.Event), zap.Error(err))
			c.sendError(err)
			return
		}
		zap.L().Debug("room.ignored", zap.String("room", r.id), zap.String("event", env.Event), zap.Error(err))
		return
	}
	if rep != nil {
		c.sendFrame(rep.Event, rep.Body)
	}
}

// inject relays a frame published by an external collaborator.
func (r *room) inject(env Envelope) {
	switch env.Event {
	case EvtChatMessage, EvtAIResponse:
		r.broadcast(env.Event, env.Body, nil)
	default:
		zap.L().Debug("room.inject_ignored", zap.String("room", r.id), zap.String("event", env.Event))
	}
}

func (r *room) broadcast(event string, body any, except *clientConn) {
	msg, err := marshalFrame(event, body)
	if err != nil {
		zap.L().Error("ws.marshal", zap.String("event", event), zap.Error(err))
		return
	}
	for _, c := range r.conns {
		if c != except {
			r.deliver(c, msg)
		}
	}
}

// sendTo reports false when userID is not connected to the room.
func (r *room) sendTo(userID, event string, body any) bool {
	c, ok := r.conns[userID]
	if !ok {
		return false
	}
	msg, err := marshalFrame(event, body)
	if err != nil {
		zap.L().Error("ws.marshal", zap.String("event", event), zap.Error(err))
		return false
	}
	r.deliver(c, msg)
	return true
}

func (r *room) deliver(c *clientConn, msg []byte) {
	if c.enqueue(msg) || c.closed() {
		return
	}
	zap.L().Warn("ws.slow_consumer", zap.String("room", r.id), zap.String("user", c.userID))
	c.close(CloseSlowConsumer, "slow consumer")
}

func (r *room) setCap(userID string, c presence.Capability, on bool) {
	r.hub.registry.SetCapability(r.id, userID, c, on)
}

func (r *room) snapshot() RoomSnapshot {
	links := r.links.All()
	views := make([]LinkView, 0, len(links))
	for _, l := range links {
		views = append(views, LinkView{A: l.Key.A, B: l.Key.B, Initiator: l.Initiator, State: l.State.String(), UpdatedAt: l.UpdatedAt})
	}
	return RoomSnapshot{
		ID:          r.id,
		Name:        r.name,
		Members:     r.hub.registry.Members(r.id),
		CallState:   r.session.State().String(),
		CallMembers: r.session.Members(),
		Links:       views,
		Speakers:    r.speakers.IDs(),
		Images:      r.board.Images(),
		Viewers:     r.board.ViewerCount(),
		Strokes:     len(r.board.Strokes()),
		LastSeq:     r.board.LastSeq(),
		Timer:       r.timer,
	}
}

func (r *room) publishSummary() {
	r.summary.Store(&RoomSummary{
		ID:        r.id,
		Name:      r.name,
		Members:   len(r.conns),
		InCall:    len(r.session.Members()),
		Speakers:  len(r.speakers.IDs()),
		UpdatedAt: time.Now(),
	})
}
