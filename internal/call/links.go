package call

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrUnknownLink       = errors.New("no such peer link")
	ErrInvalidTransition = errors.New("invalid peer link transition")
)

// LinkState follows one peer link through negotiation.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkOffering
	LinkAnswering
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

var linkStateNames = [...]string{"new", "offering", "answering", "connected", "disconnected", "failed", "closed"}

func (s LinkState) String() string {
	if int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return "unknown"
}

// ParseLinkState accepts the states a client may report for its end of a link.
func ParseLinkState(s string) (LinkState, bool) {
	switch s {
	case "connected":
		return LinkConnected, true
	case "disconnected":
		return LinkDisconnected, true
	case "failed":
		return LinkFailed, true
	case "closed":
		return LinkClosed, true
	}
	return 0, false
}

// Terminal states tear the link down.
func (s LinkState) Terminal() bool {
	return s == LinkDisconnected || s == LinkFailed || s == LinkClosed
}

var allowed = map[LinkState][]LinkState{
	LinkNew:       {LinkOffering},
	LinkOffering:  {LinkOffering, LinkAnswering},
	LinkAnswering: {LinkConnected, LinkAnswering, LinkOffering},
	LinkConnected: {LinkConnected, LinkOffering},
}

func canMove(from, to LinkState) bool {
	if from == LinkClosed {
		return false
	}
	if to.Terminal() {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PairKey identifies an unordered pair of participants.
type PairKey struct {
	A, B string
}

func Pair(x, y string) PairKey {
	if y < x {
		x, y = y, x
	}
	return PairKey{A: x, B: y}
}

func (k PairKey) Has(id string) bool { return k.A == id || k.B == id }

// Other returns the endpoint that is not id.
func (k PairKey) Other(id string) string {
	if k.A == id {
		return k.B
	}
	return k.A
}

type Link struct {
	Key       PairKey   `json:"-"`
	Initiator string    `json:"initiator"`
	State     LinkState `json:"-"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Links is the table of live peer links in one call. There is at most one
// non-closed link per unordered pair; closed links are dropped from the table.
type Links struct {
	links map[PairKey]*Link
	now   func() time.Time
}

func NewLinks() *Links {
	return &Links{links: make(map[PairKey]*Link), now: time.Now}
}

// Open registers a New link from initiator to peer. If the pair already has a
// live link it is returned unchanged with created=false.
func (l *Links) Open(initiator, peer string) (link Link, created bool) {
	key := Pair(initiator, peer)
	if existing, ok := l.links[key]; ok {
		return *existing, false
	}
	now := l.now()
	nl := &Link{Key: key, Initiator: initiator, State: LinkNew, CreatedAt: now, UpdatedAt: now}
	l.links[key] = nl
	return *nl, true
}

// Offer records an offer from -> to, opening a fresh link if the pair has
// none (first contact or renegotiation after a close).
func (l *Links) Offer(from, to string) (Link, error) {
	l.Open(from, to)
	return l.Advance(from, to, LinkOffering)
}

// Advance moves the pair's link to next. Terminal states close the link and
// remove it from the table; the returned Link then reports LinkClosed with
// the terminal state as reason.
func (l *Links) Advance(a, b string, next LinkState) (Link, error) {
	key := Pair(a, b)
	link, ok := l.links[key]
	if !ok {
		return Link{}, ErrUnknownLink
	}
	if !canMove(link.State, next) {
		return *link, ErrInvalidTransition
	}
	if next.Terminal() {
		closed, _ := l.Close(a, b, next.String())
		return closed, nil
	}
	link.State = next
	link.UpdatedAt = l.now()
	return *link, nil
}

// Close tears the pair's link down, releasing its slot.
func (l *Links) Close(a, b, reason string) (Link, bool) {
	key := Pair(a, b)
	link, ok := l.links[key]
	if !ok {
		return Link{}, false
	}
	delete(l.links, key)
	link.State = LinkClosed
	link.Reason = reason
	link.UpdatedAt = l.now()
	return *link, true
}

// CloseAll closes every link that has id as an endpoint.
func (l *Links) CloseAll(id, reason string) []Link {
	var out []Link
	for key := range l.links {
		if key.Has(id) {
			if link, ok := l.Close(key.A, key.B, reason); ok {
				out = append(out, link)
			}
		}
	}
	sortLinks(out)
	return out
}

// Reset closes every link, e.g. when the call ends.
func (l *Links) Reset(reason string) []Link {
	var out []Link
	for key := range l.links {
		if link, ok := l.Close(key.A, key.B, reason); ok {
			out = append(out, link)
		}
	}
	sortLinks(out)
	return out
}

func (l *Links) Get(a, b string) (Link, bool) {
	link, ok := l.links[Pair(a, b)]
	if !ok {
		return Link{}, false
	}
	return *link, true
}

func (l *Links) Len() int { return len(l.links) }

// All returns the live links in a stable order.
func (l *Links) All() []Link {
	out := make([]Link, 0, len(l.links))
	for _, link := range l.links {
		out = append(out, *link)
	}
	sortLinks(out)
	return out
}

func sortLinks(ls []Link) {
	sort.Slice(ls, func(i, j int) bool {
		if ls[i].Key.A == ls[j].Key.A {
			return ls[i].Key.B < ls[j].Key.B
		}
		return ls[i].Key.A < ls[j].Key.A
	})
}
