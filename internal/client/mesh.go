package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"studysync/internal/call"
	"studysync/internal/ws"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// ErrMicrophoneDenied is returned to the local caller when audio capture is
// refused. Nothing is sent to the room.
var ErrMicrophoneDenied = errors.New("microphone access denied")

// Microphone grants access to local audio capture.
type Microphone interface {
	Acquire() error
}

// OpenMicrophone always grants access.
type OpenMicrophone struct{}

func (OpenMicrophone) Acquire() error { return nil }

// PeerEvents are raised by a Peer from its own goroutines.
type PeerEvents struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnState     func(call.LinkState)
}

// Peer is one end of a direct audio link.
type Peer interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	Accept(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Close() error
}

// Dialer creates peers; PionDialer is the real one.
type Dialer interface {
	NewPeer(peerID string, ev PeerEvents) (Peer, error)
}

// Mesh holds one PeerLink per other call member. Each link negotiates and
// fails on its own; losing one never touches the rest.
type Mesh struct {
	mu       sync.Mutex
	roomID   string
	self     string
	out      Sender
	dialer   Dialer
	links    *call.Links
	peers    map[string]Peer
	speakers map[string]struct{}
}

func NewMesh(roomID, self string, out Sender, dialer Dialer) *Mesh {
	return &Mesh{
		roomID:   roomID,
		self:     self,
		out:      out,
		dialer:   dialer,
		links:    call.NewLinks(),
		peers:    make(map[string]Peer),
		speakers: make(map[string]struct{}),
	}
}

func (m *Mesh) ref() ws.RoomRef { return ws.RoomRef{RoomID: m.roomID} }

// Connect offers a link to every peer concurrently and waits for all offers
// to go out. It returns the peers whose setup failed; those links are
// closed, the others carry on.
func (m *Mesh) Connect(ctx context.Context, peers []call.Member) []string {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []string
	)
	for _, p := range peers {
		if p.ID == m.self {
			continue
		}
		wg.Add(1)
		go func(peerID string) {
			defer wg.Done()
			if err := m.offer(ctx, peerID); err != nil {
				zap.L().Info("call.link_setup_failed", zap.String("peer", peerID), zap.Error(err))
				m.drop(peerID, call.LinkFailed.String())
				m.report(peerID, call.LinkFailed)
				mu.Lock()
				failed = append(failed, peerID)
				mu.Unlock()
			}
		}(p.ID)
	}
	wg.Wait()
	sort.Strings(failed)
	return failed
}

func (m *Mesh) offer(ctx context.Context, peerID string) error {
	peer, err := m.peer(peerID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	_, err = m.links.Offer(m.self, peerID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	sdp, err := peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	return m.signal(ws.EvtAudioOffer, peerID, sdp)
}

// peer returns the Peer for peerID, creating it when the pair has none.
func (m *Mesh) peer(peerID string) (Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[peerID]; ok {
		return p, nil
	}
	p, err := m.dialer.NewPeer(peerID, PeerEvents{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			if err := m.signal(ws.EvtAudioIceCandidate, peerID, c); err != nil {
				zap.L().Debug("call.candidate_dropped", zap.String("peer", peerID), zap.Error(err))
			}
		},
		OnState: func(s call.LinkState) { m.OnPeerState(peerID, s) },
	})
	if err != nil {
		return nil, err
	}
	m.peers[peerID] = p
	return p, nil
}

func (m *Mesh) signal(event, peerID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.out.Send(event, ws.SignalRequest{RoomRef: m.ref(), TargetUserID: peerID, Payload: raw})
}

// HandleOffer answers an offer from another member.
func (m *Mesh) HandleOffer(ctx context.Context, b ws.SignalBody) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(b.Payload, &offer); err != nil {
		return err
	}
	peer, err := m.peer(b.FromUserID)
	if err != nil {
		m.fail(b.FromUserID, call.LinkFailed)
		return err
	}
	m.mu.Lock()
	_, err = m.links.Offer(b.FromUserID, m.self)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	answer, err := peer.Accept(ctx, offer)
	if err != nil {
		m.fail(b.FromUserID, call.LinkFailed)
		return fmt.Errorf("accept offer: %w", err)
	}
	m.advance(b.FromUserID, call.LinkAnswering)
	return m.signal(ws.EvtAudioAnswer, b.FromUserID, answer)
}

func (m *Mesh) HandleAnswer(b ws.SignalBody) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(b.Payload, &answer); err != nil {
		return err
	}
	m.mu.Lock()
	peer, ok := m.peers[b.FromUserID]
	m.mu.Unlock()
	if !ok {
		return call.ErrUnknownLink
	}
	if err := peer.SetAnswer(answer); err != nil {
		m.fail(b.FromUserID, call.LinkFailed)
		return err
	}
	m.advance(b.FromUserID, call.LinkAnswering)
	return nil
}

func (m *Mesh) HandleCandidate(b ws.SignalBody) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(b.Payload, &cand); err != nil {
		return err
	}
	m.mu.Lock()
	peer, ok := m.peers[b.FromUserID]
	m.mu.Unlock()
	if !ok {
		return call.ErrUnknownLink
	}
	return peer.AddICECandidate(cand)
}

func (m *Mesh) advance(peerID string, s call.LinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.links.Advance(m.self, peerID, s); err != nil {
		zap.L().Debug("call.link_transition", zap.String("peer", peerID), zap.Stringer("to", s), zap.Error(err))
	}
}

// OnPeerState takes a connection state reported by the transport. Terminal
// states tear down that link only and tell the room.
func (m *Mesh) OnPeerState(peerID string, s call.LinkState) {
	if !s.Terminal() {
		m.advance(peerID, s)
		m.report(peerID, s)
		return
	}
	m.fail(peerID, s)
}

func (m *Mesh) fail(peerID string, s call.LinkState) {
	if m.drop(peerID, s.String()) {
		m.report(peerID, s)
	}
}

func (m *Mesh) report(peerID string, s call.LinkState) {
	err := m.out.Send(ws.EvtPeerState, ws.PeerStateRequest{RoomRef: m.ref(), TargetUserID: peerID, State: s.String()})
	if err != nil {
		zap.L().Debug("call.peer_state_dropped", zap.String("peer", peerID), zap.Error(err))
	}
}

// drop closes the link to peerID and forgets it as a speaker. It reports
// whether there was anything to close.
func (m *Mesh) drop(peerID, reason string) bool {
	m.mu.Lock()
	peer, had := m.peers[peerID]
	delete(m.peers, peerID)
	_, linked := m.links.Close(m.self, peerID, reason)
	delete(m.speakers, peerID)
	m.mu.Unlock()
	if had {
		if err := peer.Close(); err != nil {
			zap.L().Debug("call.peer_close", zap.String("peer", peerID), zap.Error(err))
		}
		zap.L().Info("call.link_closed", zap.String("peer", peerID), zap.String("reason", reason))
	}
	return had || linked
}

// Close tears down the link to peerID, e.g. after peerLinkClosed or
// userLeftCall.
func (m *Mesh) Close(peerID, reason string) { m.drop(peerID, reason) }

// CloseAll tears down every link, e.g. when the call ends or we leave it.
func (m *Mesh) CloseAll(reason string) {
	for _, id := range m.Peers() {
		m.drop(id, reason)
	}
	m.mu.Lock()
	m.links.Reset(reason)
	m.speakers = make(map[string]struct{})
	m.mu.Unlock()
}

// Peers returns the members we hold a live link with.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Mesh) LinkState(peerID string) (call.LinkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links.Get(m.self, peerID)
	return l.State, ok
}

// SetSpeaking records a speaker announced by the room. Speakers we have no
// link with are ignored; their audio cannot reach us.
func (m *Mesh) SetSpeaking(id string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !on {
		delete(m.speakers, id)
		return
	}
	if _, ok := m.peers[id]; ok || id == m.self {
		m.speakers[id] = struct{}{}
	}
}

// ResetSpeakers replaces the speaker set with the room's list.
func (m *Mesh) ResetSpeakers(ids []string) {
	m.mu.Lock()
	m.speakers = make(map[string]struct{})
	m.mu.Unlock()
	for _, id := range ids {
		m.SetSpeaking(id, true)
	}
}

// Speakers lists who we currently hear, sorted.
func (m *Mesh) Speakers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.speakers))
	for id := range m.speakers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
