package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	injectPrefix = "room:"
	injectSuffix = ":inject"
)

// InjectChannel is where external collaborators (the AI responder, the
// message service) publish frames for a room.
func InjectChannel(roomID string) string { return injectPrefix + roomID + injectSuffix }

// subscriptionManager guarantees that we have **exactly one** Redis
// subscription per "room:<id>:inject" channel, no matter how many websocket
// clients join the same room.
type subscriptionManager struct {
	rdb  *redis.Client
	hub  *Hub
	mu   sync.Mutex
	subs map[string]*subEntry // roomID ➜ subscription data
}

type subEntry struct {
	refCnt int
	cancel context.CancelFunc
}

func newSubscriptionManager(rdb *redis.Client, hub *Hub) *subscriptionManager {
	return &subscriptionManager{
		rdb:  rdb,
		hub:  hub,
		subs: make(map[string]*subEntry),
	}
}

// Subscribe ensures that the process is subscribed to the room's channel;
// subsequent calls for the same room only increment the ref-counter.
func (sm *subscriptionManager) Subscribe(roomID string) {
	sm.mu.Lock()
	if e, ok := sm.subs[roomID]; ok {
		e.refCnt++
		sm.mu.Unlock()
		return
	}

	// First consumer → create Redis SUB and fan-out loop.
	ctx, cancel := context.WithCancel(context.Background())
	ps := sm.rdb.Subscribe(ctx, InjectChannel(roomID))

	sm.subs[roomID] = &subEntry{refCnt: 1, cancel: cancel}
	sm.mu.Unlock()

	go func() {
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ps.Channel():
				if !ok { // Redis connection closed.
					return
				}
				env, err := unwrapInjected(m.Payload)
				if err != nil {
					zap.L().Warn("ws.inject_decode_failed", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				sm.hub.Inject(roomIDFromChannel(m.Channel), env)
			}
		}
	}()
}

// Unsubscribe decrements the ref-counter and tears the Redis SUB down when the
// last websocket client leaves the room.
func (sm *subscriptionManager) Unsubscribe(roomID string) {
	sm.mu.Lock()
	e, ok := sm.subs[roomID]
	if !ok {
		sm.mu.Unlock()
		return
	}
	e.refCnt--
	if e.refCnt > 0 {
		sm.mu.Unlock()
		return
	}
	delete(sm.subs, roomID)
	sm.mu.Unlock()

	// Outside the lock → stop the fan-out goroutine.
	e.cancel()
}

// ─────────────────────────────── helpers ─────────────────────────────────────

// unwrapInjected accepts either the envelope itself
//
//	{"event":"aiResponse","body":{"content":"…"}}
//
// or a flat object whose remaining keys become the body
//
//	{"event":"aiResponse","content":"…"}
func unwrapInjected(payload string) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if evt, ok := raw["event"]; ok {
		_ = json.Unmarshal(evt, &env.Event)
	}
	if env.Event == "" {
		env.Event = EvtAIResponse
	}
	delete(raw, "event") // Avoid duplication inside "body".

	if body, ok := raw["body"]; ok && len(raw) == 1 {
		env.Body = body
		return env, nil
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return Envelope{}, err
	}
	env.Body = body
	return env, nil
}
