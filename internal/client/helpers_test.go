package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"studysync/internal/call"
	"studysync/internal/ws"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	sent []ws.Envelope
}

func (r *recorder) Send(event string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, ws.Envelope{Event: event, Body: raw})
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, e := range r.sent {
		out = append(out, e.Event)
	}
	return out
}

func (r *recorder) all(event string) []ws.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ws.Envelope
	for _, e := range r.sent {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

func body[T any](t *testing.T, env ws.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Body, &v))
	return v
}

func envelope(t *testing.T, event string, b any) ws.Envelope {
	t.Helper()
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	return ws.Envelope{Event: event, Body: raw}
}

var errSetup = errors.New("ice setup failed")

type fakePeer struct {
	id     string
	ev     PeerEvents
	failOf bool

	mu      sync.Mutex
	closed  bool
	answer  *webrtc.SessionDescription
	remotes []webrtc.ICECandidateInit
}

func (p *fakePeer) CreateOffer(context.Context) (webrtc.SessionDescription, error) {
	if p.failOf {
		return webrtc.SessionDescription{}, errSetup
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer " + p.id}, nil
}

func (p *fakePeer) Accept(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if offer.Type != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("unexpected %s", offer.Type)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer " + p.id}, nil
}

func (p *fakePeer) SetAnswer(a webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answer = &a
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remotes = append(p.remotes, c)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeDialer struct {
	mu        sync.Mutex
	failOffer map[string]bool
	peers     map[string]*fakePeer
}

func newFakeDialer(failing ...string) *fakeDialer {
	d := &fakeDialer{failOffer: map[string]bool{}, peers: map[string]*fakePeer{}}
	for _, id := range failing {
		d.failOffer[id] = true
	}
	return d
}

func (d *fakeDialer) NewPeer(peerID string, ev PeerEvents) (Peer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &fakePeer{id: peerID, ev: ev, failOf: d.failOffer[peerID]}
	d.peers[peerID] = p
	return p, nil
}

func (d *fakeDialer) peer(id string) *fakePeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[id]
}

func members(ids ...string) []call.Member {
	out := make([]call.Member, 0, len(ids))
	for _, id := range ids {
		out = append(out, call.Member{ID: id, Name: "name-" + id})
	}
	return out
}

type deniedMic struct{}

func (deniedMic) Acquire() error { return errors.New("permission dismissed") }
