// Package presence tracks which participants are connected to which room.
//
// Membership is partitioned by room id: every room has its own lock, so joins
// and leaves in different rooms never contend with each other.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Capability flags describe what a participant is currently doing in a room.
type Capability uint8

const (
	InCall Capability = 1 << iota
	Speaking
	Whiteboard
)

type Participant struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	ConnID   string     `json:"-"`
	JoinedAt time.Time  `json:"joinedAt"`
	Caps     Capability `json:"caps"`
}

func (p Participant) Has(c Capability) bool { return p.Caps&c != 0 }

// JoinResult is what a join hands back to the caller.
type JoinResult struct {
	// Members is the full roster after the join, the joiner included.
	Members []Participant
	// Replaced is set when the same participant was already present on another
	// connection; that connection no longer owns the membership.
	Replaced *Participant
}

type partition struct {
	mu      sync.RWMutex
	members map[string]Participant
	// dead is set once the partition has been unlinked from the registry;
	// writers that raced with the unlink must fetch a fresh one.
	dead bool
}

type Registry struct {
	mu    sync.Mutex
	rooms map[string]*partition
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*partition), now: time.Now}
}

func (r *Registry) partition(roomID string, create bool) *partition {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rooms[roomID]
	if !ok && create {
		p = &partition{members: make(map[string]Participant)}
		r.rooms[roomID] = p
	}
	return p
}

// Join admits p to roomID. Rooms come into existence on first join.
func (r *Registry) Join(roomID string, p Participant) JoinResult {
	var part *partition
	for {
		part = r.partition(roomID, true)
		part.mu.Lock()
		if !part.dead {
			break
		}
		part.mu.Unlock()
	}

	var res JoinResult
	if prev, ok := part.members[p.ID]; ok {
		if prev.ConnID != p.ConnID {
			res.Replaced = &prev
		}
		p.JoinedAt = prev.JoinedAt
		p.Caps = prev.Caps
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = r.now()
	}
	part.members[p.ID] = p
	res.Members = snapshot(part.members)
	part.mu.Unlock()

	return res
}

// Leave removes participantID from roomID if connID still owns the
// membership. It reports true exactly once per admitted membership, however
// many times the disconnect is signalled.
func (r *Registry) Leave(roomID, participantID, connID string) (Participant, bool) {
	part := r.partition(roomID, false)
	if part == nil {
		return Participant{}, false
	}

	part.mu.Lock()
	p, ok := part.members[participantID]
	if !ok || (connID != "" && p.ConnID != connID) {
		part.mu.Unlock()
		return Participant{}, false
	}
	delete(part.members, participantID)
	empty := len(part.members) == 0
	part.mu.Unlock()

	if empty {
		r.mu.Lock()
		part.mu.Lock()
		// A join may have raced in between the two critical sections.
		if len(part.members) == 0 && !part.dead {
			part.dead = true
			delete(r.rooms, roomID)
		}
		part.mu.Unlock()
		r.mu.Unlock()
	}
	return p, true
}

// SetCapability toggles a capability flag. It reports whether the flag changed.
func (r *Registry) SetCapability(roomID, participantID string, c Capability, on bool) bool {
	part := r.partition(roomID, false)
	if part == nil {
		return false
	}
	part.mu.Lock()
	defer part.mu.Unlock()

	p, ok := part.members[participantID]
	if !ok || p.Has(c) == on {
		return false
	}
	if on {
		p.Caps |= c
	} else {
		p.Caps &^= c
	}
	part.members[participantID] = p
	return true
}

func (r *Registry) Get(roomID, participantID string) (Participant, bool) {
	part := r.partition(roomID, false)
	if part == nil {
		return Participant{}, false
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	p, ok := part.members[participantID]
	return p, ok
}

// Members returns the roster ordered by join time.
func (r *Registry) Members(roomID string) []Participant {
	part := r.partition(roomID, false)
	if part == nil {
		return nil
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	return snapshot(part.members)
}

func (r *Registry) Count(roomID string) int {
	part := r.partition(roomID, false)
	if part == nil {
		return 0
	}
	part.mu.RLock()
	defer part.mu.RUnlock()
	return len(part.members)
}

// Rooms lists the ids of every room with at least one member.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func snapshot(m map[string]Participant) []Participant {
	out := make([]Participant, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Names is a convenience for the legacy currentUsers payload.
func Names(ps []Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}
