package timer

import (
	"sync"
	"time"
)

const DefaultResyncEvery = 5

// Replica is one participant's copy of the timer. Every replica counts down
// on its own; the one that acted last is the controller and re-broadcasts
// periodically so the others do not drift.
type Replica struct {
	mu          sync.Mutex
	state       State
	controller  bool
	resyncEvery int
	now         func() time.Time
}

func NewReplica(resyncEvery int) *Replica {
	if resyncEvery < 1 {
		resyncEvery = DefaultResyncEvery
	}
	r := &Replica{resyncEvery: resyncEvery, now: time.Now}
	r.state = Default(r.now())
	return r
}

func (r *Replica) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Replica) Controller() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

// Control applies a local action and makes this replica the controller. It
// returns the state to broadcast; changed is false for Request and for
// actions that leave the state as it was.
func (r *Replica) Control(a Action) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controller = true
	prev := r.state
	st := &r.state
	switch a {
	case Start:
		st.IsRunning = true
	case Pause:
		st.IsRunning = false
	case Reset:
		st.TimeLeft = st.Settings.FocusTime * 60
		st.IsRunning = false
		st.IsBreak = false
	case Skip:
		if st.IsBreak {
			st.TimeLeft = st.Settings.FocusTime * 60
			st.IsBreak = false
		} else {
			st.TimeLeft = st.Settings.ShortBreak * 60
			st.IsBreak = true
		}
	default:
		return r.state, false
	}
	if sameExceptSync(prev, r.state) {
		return r.state, false
	}
	st.LastSyncTime = r.now().UnixMilli()
	return r.state, true
}

func sameExceptSync(a, b State) bool {
	a.LastSyncTime, b.LastSyncTime = 0, 0
	return a == b
}

// Tick advances a running timer by one second. resync reports that the
// controller should broadcast the returned state: on every phase change and
// whenever the remaining seconds hit a multiple of the resync interval.
// completed is true when a focus session just finished.
func (r *Replica) Tick() (st State, resync, completed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.state
	if !s.IsRunning {
		return r.state, false, false
	}
	s.TimeLeft--
	s.LastSyncTime = r.now().UnixMilli()
	if s.TimeLeft <= 0 {
		if !s.IsBreak {
			s.CompletedSessions++
			s.IsBreak = true
			completed = true
			if s.Settings.LongBreakInterval > 0 && s.CompletedSessions%s.Settings.LongBreakInterval == 0 {
				s.TimeLeft = s.Settings.LongBreak * 60
			} else {
				s.TimeLeft = s.Settings.ShortBreak * 60
			}
		} else {
			s.IsBreak = false
			s.TimeLeft = s.Settings.FocusTime * 60
		}
		return r.state, r.controller, completed
	}
	return r.state, r.controller && s.TimeLeft%r.resyncEvery == 0, false
}

// Apply overwrites local state with a remote broadcast.
func (r *Replica) Apply(remote State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = remote
}

// Yield gives up control after another participant acted.
func (r *Replica) Yield() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controller = false
}

// UpdateSettings changes the settings locally and takes control. A paused
// focus segment restarts at the new focus length.
func (r *Replica) UpdateSettings(s Settings) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controller = true
	r.applySettings(s)
	r.state.LastSyncTime = r.now().UnixMilli()
	return r.state
}

// ApplySettings takes settings broadcast by someone else.
func (r *Replica) ApplySettings(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applySettings(s)
}

func (r *Replica) applySettings(s Settings) {
	r.state.Settings = s
	if !r.state.IsBreak && !r.state.IsRunning {
		r.state.TimeLeft = s.FocusTime * 60
	}
}
