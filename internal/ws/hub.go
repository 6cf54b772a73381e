package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"studysync/internal/call"
	"studysync/internal/config"
	"studysync/internal/presence"

	"go.uber.org/zap"
)

type Options struct {
	ReadLimit     int64
	WriteWait     time.Duration
	PongWait      time.Duration
	PingPeriod    time.Duration
	SendBuffer    int
	QueueSize     int
	MaxCall       int
	EndPolicy     call.EndPolicy
	MaxStrokes    int
	MaxImages     int
	ReplayStrokes bool
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ReadLimit:     cfg.WsReadLimitBytes,
		WriteWait:     cfg.WsWriteWait,
		PongWait:      cfg.WsPongWait,
		PingPeriod:    cfg.WsPingPeriod,
		SendBuffer:    cfg.WsSendBuffer,
		QueueSize:     cfg.RoomQueueSize,
		MaxCall:       cfg.CallMaxMembers,
		EndPolicy:     call.EndPolicy(cfg.CallEndPolicy),
		MaxStrokes:    cfg.WhiteboardMaxStrokes,
		MaxImages:     cfg.WhiteboardMaxImages,
		ReplayStrokes: cfg.WhiteboardReplayStrokes,
	}
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  1 << 20,
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
		SendBuffer: 256,
		QueueSize:  512,
		MaxCall:    8,
		EndPolicy:  call.EndByAnyMember,
		MaxStrokes: 2000,
		MaxImages:  32,
	}
}

// Hub keeps one dispatcher per live room.
type Hub struct {
	opts     Options
	registry *presence.Registry
	router   *Router

	mu      sync.Mutex
	rooms   map[string]*room // roomID -> *room
	closing map[string]*room // roomID -> dispatcher still draining its last leave
}

func NewHub(opts Options, registry *presence.Registry) *Hub {
	return &Hub{
		opts:     opts,
		registry: registry,
		rooms:    make(map[string]*room),
		closing:  make(map[string]*room),
	}
}

func (h *Hub) Registry() *presence.Registry { return h.registry }

// attach counts c into the room, starting its dispatcher on first use, and
// queues the join.
func (h *Hub) attach(roomID string, c *clientConn, info *RoomInfo) *room {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = newRoom(roomID, h)
		// A reopened room must not touch the presence partition until the
		// previous dispatcher has run its final leave.
		r.prev = h.closing[roomID]
		h.rooms[roomID] = r
		go r.run()
		zap.L().Debug("room.open", zap.String("room", roomID))
	}
	if r.info == nil {
		r.info = info
	}
	info = r.info
	r.attached++
	h.mu.Unlock()

	r.submit(roomMsg{kind: msgJoin, conn: c, info: info})
	return r
}

// detach queues the leave. The last connection out stops the dispatcher.
func (h *Hub) detach(roomID string, c *clientConn) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.attached--
	last := r.attached == 0
	if last {
		delete(h.rooms, roomID)
		h.closing[roomID] = r
	}
	h.mu.Unlock()

	r.submit(roomMsg{kind: msgLeave, conn: c})
	if last {
		r.submit(roomMsg{kind: msgStop})
		zap.L().Debug("room.close", zap.String("room", roomID))
	}
}

// stopped forgets r once its dispatcher has exited.
func (h *Hub) stopped(r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing[r.id] == r {
		delete(h.closing, r.id)
	}
}

func (h *Hub) lookup(roomID string) (*room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// cachedInfo returns the directory record cached on a live room.
func (h *Hub) cachedInfo(roomID string) *RoomInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[roomID]; ok {
		return r.info
	}
	return nil
}

// Inject relays an externally produced frame to everyone in the room.
func (h *Hub) Inject(roomID string, env Envelope) bool {
	r, ok := h.lookup(roomID)
	if !ok {
		return false
	}
	return r.offer(roomMsg{kind: msgInject, env: env})
}

// Snapshot asks the room dispatcher for a consistent view of the room.
func (h *Hub) Snapshot(ctx context.Context, roomID string) (RoomSnapshot, bool) {
	r, ok := h.lookup(roomID)
	if !ok {
		return RoomSnapshot{}, false
	}
	ch := make(chan RoomSnapshot, 1)
	if !r.submitCtx(ctx, roomMsg{kind: msgSnapshot, snap: ch}) {
		return RoomSnapshot{}, false
	}
	select {
	case s := <-ch:
		return s, true
	case <-r.done:
		return RoomSnapshot{}, false
	case <-ctx.Done():
		return RoomSnapshot{}, false
	}
}

// Summaries lists every live room, cheaply, without going through the
// dispatchers.
func (h *Hub) Summaries() []RoomSummary {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	out := make([]RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if s := r.summary.Load(); s != nil {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown closes every connection; their readers then run the usual leave
// path.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()
	for _, r := range rooms {
		r.offer(roomMsg{kind: msgShutdown})
	}
}
