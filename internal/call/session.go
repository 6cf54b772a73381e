// Package call holds the server-side view of a room's voice call: who is in
// it, which peer links are being negotiated, and who is speaking. Media never
// passes through here; only signaling metadata does.
package call

import (
	"errors"
	"time"
)

var (
	ErrNoActiveCall  = errors.New("no active call")
	ErrAlreadyMember = errors.New("already in call")
	ErrNotMember     = errors.New("not in call")
	ErrCallFull      = errors.New("call is full")
	ErrNotOriginator = errors.New("only the originator may end the call")
)

type State int

const (
	Idle State = iota
	Active
	Ended
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Ended:
		return "ended"
	default:
		return "idle"
	}
}

// EndPolicy decides who may end a call for everyone.
type EndPolicy string

const (
	EndByAnyMember  EndPolicy = "any"
	EndByOriginator EndPolicy = "originator"
)

type Member struct {
	ID   string `json:"userId"`
	Name string `json:"userName"`
}

type TransitionKind int

const (
	Started TransitionKind = iota
	Joined
	Left
	Finished
)

// Transition describes what a session operation changed.
type Transition struct {
	Kind   TransitionKind
	Member Member
	// Peers are the members the joiner must open a link with.
	Peers []Member
	// Members is the roster after the transition (before it, for Finished).
	Members []Member
}

// Session is one room's call. The zero value is not usable; see NewSession.
type Session struct {
	state      State
	originator Member
	members    []Member
	startedAt  time.Time
	maxMembers int
	policy     EndPolicy
	now        func() time.Time
}

func NewSession(maxMembers int, policy EndPolicy) *Session {
	if policy == "" {
		policy = EndByAnyMember
	}
	return &Session{maxMembers: maxMembers, policy: policy, now: time.Now}
}

func (s *Session) State() State { return s.state }

func (s *Session) Originator() Member { return s.originator }

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) Members() []Member {
	out := make([]Member, len(s.members))
	copy(out, s.members)
	return out
}

func (s *Session) IsMember(id string) bool {
	return s.indexOf(id) >= 0
}

func (s *Session) indexOf(id string) int {
	for i, m := range s.members {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// Start opens a call with m as originator. Starting an already active call
// is the same as joining it.
func (s *Session) Start(m Member) (Transition, error) {
	if s.state == Active {
		return s.Join(m)
	}
	s.state = Active
	s.originator = m
	s.members = []Member{m}
	s.startedAt = s.now()
	return Transition{Kind: Started, Member: m, Members: s.Members()}, nil
}

// Join adds m to an active call. Peers lists everyone already in the call,
// one link to set up per entry.
func (s *Session) Join(m Member) (Transition, error) {
	if s.state != Active {
		return Transition{}, ErrNoActiveCall
	}
	if s.IsMember(m.ID) {
		return Transition{}, ErrAlreadyMember
	}
	if s.maxMembers > 0 && len(s.members) >= s.maxMembers {
		return Transition{}, ErrCallFull
	}
	peers := s.Members()
	s.members = append(s.members, m)
	return Transition{Kind: Joined, Member: m, Peers: peers, Members: s.Members()}, nil
}

// Leave removes id from the call. The last member leaving ends it.
func (s *Session) Leave(id string) (Transition, error) {
	i := s.indexOf(id)
	if s.state != Active || i < 0 {
		return Transition{}, ErrNotMember
	}
	m := s.members[i]
	s.members = append(s.members[:i], s.members[i+1:]...)
	if len(s.members) == 0 {
		s.state = Ended
		return Transition{Kind: Finished, Member: m, Members: []Member{m}}, nil
	}
	return Transition{Kind: Left, Member: m, Members: s.Members()}, nil
}

// End terminates the call for everyone. Under EndByAnyMember any call member
// may do so, not just the originator.
func (s *Session) End(by string) (Transition, error) {
	if s.state != Active {
		return Transition{}, ErrNoActiveCall
	}
	i := s.indexOf(by)
	if i < 0 {
		return Transition{}, ErrNotMember
	}
	if s.policy == EndByOriginator && by != s.originator.ID {
		return Transition{}, ErrNotOriginator
	}
	prev := s.Members()
	s.members = nil
	s.state = Ended
	return Transition{Kind: Finished, Member: prev[i], Members: prev}, nil
}
