package client

import (
	"context"

	"studysync/internal/call"

	"github.com/pion/webrtc/v4"
)

// PionDialer builds audio peers on pion, using the room's ICE servers
// (served by the relay at /ice-servers).
type PionDialer struct {
	ICEServers []webrtc.ICEServer
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (d PionDialer) NewPeer(_ string, ev PeerEvents) (Peer, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: d.ICEServers})
	if err != nil {
		return nil, err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || ev.OnCandidate == nil {
			return
		}
		ev.OnCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ls, ok := linkState(s); ok && ev.OnState != nil {
			ev.OnState(ls)
		}
	})
	return &pionPeer{pc: pc}, nil
}

// linkState maps the transport's view of a connection onto a PeerLink state.
// Intermediate states are not reported.
func linkState(s webrtc.PeerConnectionState) (call.LinkState, bool) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return call.LinkConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return call.LinkDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return call.LinkFailed, true
	case webrtc.PeerConnectionStateClosed:
		return call.LinkClosed, true
	}
	return 0, false
}

func (p *pionPeer) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (p *pionPeer) Accept(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (p *pionPeer) SetAnswer(answer webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(answer)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) Close() error { return p.pc.Close() }
