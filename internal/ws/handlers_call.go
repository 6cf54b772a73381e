package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"studysync/internal/call"
	"studysync/internal/presence"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

func (s *WsServer) registerCallHandlers() {
	Handle(s.router, EvtStartCall, func(_ context.Context, cc *ConnContext, _ CallRequest) error {
		return cc.Room.startCall(cc)
	})
	Handle(s.router, EvtJoinCall, func(_ context.Context, cc *ConnContext, _ CallRequest) error {
		return cc.Room.joinCall(cc)
	})
	Handle(s.router, EvtLeaveCall, func(_ context.Context, cc *ConnContext, _ CallRequest) error {
		if !cc.Room.session.IsMember(cc.UserID) {
			return call.ErrNotMember
		}
		cc.Room.leaveCall(cc.UserID, cc.UserName, "left_call")
		return nil
	})
	Handle(s.router, EvtEndCall, func(_ context.Context, cc *ConnContext, _ CallRequest) error {
		return cc.Room.endCall(cc)
	})

	Handle(s.router, EvtAudioOffer, func(_ context.Context, cc *ConnContext, req SignalRequest) error {
		if err := checkSDP(req.Payload, webrtc.SDPTypeOffer); err != nil {
			return err
		}
		return cc.Room.relaySignal(cc, EvtAudioOffer, req, call.LinkOffering)
	})
	Handle(s.router, EvtAudioAnswer, func(_ context.Context, cc *ConnContext, req SignalRequest) error {
		if err := checkSDP(req.Payload, webrtc.SDPTypeAnswer); err != nil {
			return err
		}
		return cc.Room.relaySignal(cc, EvtAudioAnswer, req, call.LinkAnswering)
	})
	Handle(s.router, EvtAudioIceCandidate, func(_ context.Context, cc *ConnContext, req SignalRequest) error {
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(req.Payload, &cand); err != nil {
			return badRequest("invalid_candidate", err)
		}
		return cc.Room.relaySignal(cc, EvtAudioIceCandidate, req, 0)
	})
	Handle(s.router, EvtPeerState, func(_ context.Context, cc *ConnContext, req PeerStateRequest) error {
		return cc.Room.peerState(cc, req)
	})

	Handle(s.router, EvtAudioStart, func(_ context.Context, cc *ConnContext, _ CallRequest) error {
		return cc.Room.startSpeaking(cc)
	})
	Handle(s.router, EvtAudioStop, func(_ context.Context, cc *ConnContext, _ CallRequest) error {
		if !cc.Room.stopSpeaking(cc.UserID) {
			return errors.New("not speaking")
		}
		return nil
	})
}

// checkSDP makes sure payload is a session description of the expected type
// before it is forwarded.
func checkSDP(payload json.RawMessage, want webrtc.SDPType) error {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(payload, &sd); err != nil {
		return badRequest("invalid_sdp", err)
	}
	if sd.Type != want {
		return badRequest("invalid_sdp", fmt.Errorf("got %s, want %s", sd.Type, want))
	}
	if sd.SDP == "" {
		return badRequest("invalid_sdp", errors.New("empty sdp"))
	}
	return nil
}

func member(cc *ConnContext) call.Member {
	return call.Member{ID: cc.UserID, Name: cc.UserName}
}

func (r *room) startCall(cc *ConnContext) error {
	tr, err := r.session.Start(member(cc))
	if err != nil {
		return r.callError(err)
	}
	if tr.Kind == call.Joined {
		r.announceJoin(tr)
		return nil
	}
	r.setCap(cc.UserID, presence.InCall, true)
	r.broadcast(EvtCallStarted, CallStartedBody{
		StartedBy:     cc.UserID,
		StartedByUser: cc.UserName,
		Members:       tr.Members,
	}, nil)
	zap.L().Info("call.started", zap.String("room", r.id), zap.String("user", cc.UserID))
	return nil
}

func (r *room) joinCall(cc *ConnContext) error {
	tr, err := r.session.Join(member(cc))
	if err != nil {
		return r.callError(err)
	}
	r.announceJoin(tr)
	return nil
}

// announceJoin registers one fresh link per existing member and tells the
// room who must connect to whom.
func (r *room) announceJoin(tr call.Transition) {
	for _, p := range tr.Peers {
		r.links.Open(tr.Member.ID, p.ID)
	}
	r.setCap(tr.Member.ID, presence.InCall, true)
	r.broadcast(EvtUserJoinedCall, CallMemberBody{
		UserID:   tr.Member.ID,
		UserName: tr.Member.Name,
		Members:  tr.Members,
		Peers:    tr.Peers,
	}, nil)
	zap.L().Info("call.joined", zap.String("room", r.id), zap.String("user", tr.Member.ID), zap.Int("links", len(tr.Peers)))
}

func (r *room) callError(err error) error {
	if errors.Is(err, call.ErrCallFull) {
		return badRequest("call_full", err)
	}
	return err
}

// leaveCall takes id out of the call. Callers do not need to check
// membership first; a non-member only loses a speaker flag if it had one.
func (r *room) leaveCall(id, name, reason string) {
	r.stopSpeaking(id)
	for _, l := range r.links.CloseAll(id, reason) {
		peer := l.Key.Other(id)
		r.sendTo(peer, EvtPeerLinkClosed, PeerLinkClosedBody{UserID: id, PeerID: peer, Reason: reason})
		zap.L().Info("call.link_closed", zap.String("room", r.id), zap.String("a", id), zap.String("b", peer), zap.String("reason", reason))
	}
	tr, err := r.session.Leave(id)
	if err != nil {
		return
	}
	r.setCap(id, presence.InCall, false)
	members := tr.Members
	if tr.Kind == call.Finished {
		members = []call.Member{}
	}
	r.broadcast(EvtUserLeftCall, CallMemberBody{UserID: id, UserName: name, Members: members}, nil)
	if tr.Kind == call.Finished {
		r.finishCall(id, name, nil)
	}
}

func (r *room) endCall(cc *ConnContext) error {
	tr, err := r.session.End(cc.UserID)
	if err != nil {
		return err
	}
	r.finishCall(cc.UserID, cc.UserName, tr.Members)
	return nil
}

func (r *room) finishCall(by, byName string, members []call.Member) {
	for _, m := range members {
		r.setCap(m.ID, presence.InCall, false)
	}
	if cleared := r.speakers.Clear(); len(cleared) > 0 {
		for _, m := range cleared {
			r.setCap(m.ID, presence.Speaking, false)
			r.broadcast(EvtAudioStopped, SpeakerBody{UserID: m.ID, UserName: m.Name}, nil)
		}
		r.broadcast(EvtActiveSpeakers, ActiveSpeakersBody{Speakers: []string{}}, nil)
	}
	r.links.Reset("call_ended")
	r.broadcast(EvtCallEnded, CallEndedBody{EndedBy: by, EndedByUser: byName}, nil)
	zap.L().Info("call.ended", zap.String("room", r.id), zap.String("by", by))
}

// relaySignal forwards a signaling payload to its target untouched. A target
// that is gone is not an error for the sender.
func (r *room) relaySignal(cc *ConnContext, event string, req SignalRequest, next call.LinkState) error {
	if req.TargetUserID == cc.UserID {
		return badRequest("invalid_target", nil)
	}
	if _, ok := r.conns[req.TargetUserID]; !ok {
		zap.L().Debug("call.signal_dropped", zap.String("room", r.id), zap.String("event", event), zap.String("target", req.TargetUserID))
		return ErrTargetGone
	}
	switch next {
	case call.LinkOffering:
		if _, err := r.links.Offer(cc.UserID, req.TargetUserID); err != nil {
			zap.L().Debug("call.link_transition", zap.String("room", r.id), zap.Error(err))
		}
	case call.LinkAnswering:
		if _, err := r.links.Advance(cc.UserID, req.TargetUserID, call.LinkAnswering); err != nil {
			zap.L().Debug("call.link_transition", zap.String("room", r.id), zap.Error(err))
		}
	}
	r.sendTo(req.TargetUserID, event, SignalBody{
		FromUserID:   cc.UserID,
		FromUserName: cc.UserName,
		Payload:      req.Payload,
	})
	return nil
}

// peerState records what one endpoint observed about its link. Terminal
// states close the link for both endpoints; the rest of the mesh is
// unaffected.
func (r *room) peerState(cc *ConnContext, req PeerStateRequest) error {
	state, ok := call.ParseLinkState(req.State)
	if !ok {
		return badRequest("invalid_state", nil)
	}
	l, err := r.links.Advance(cc.UserID, req.TargetUserID, state)
	if err != nil {
		return err
	}
	if l.State != call.LinkClosed {
		return nil
	}
	body := PeerLinkClosedBody{UserID: cc.UserID, PeerID: req.TargetUserID, Reason: l.Reason}
	r.sendTo(cc.UserID, EvtPeerLinkClosed, body)
	r.sendTo(req.TargetUserID, EvtPeerLinkClosed, body)
	zap.L().Info("call.link_closed", zap.String("room", r.id), zap.String("a", cc.UserID), zap.String("b", req.TargetUserID), zap.String("reason", l.Reason))
	return nil
}

func (r *room) startSpeaking(cc *ConnContext) error {
	if !r.session.IsMember(cc.UserID) {
		return call.ErrNotMember
	}
	if !r.speakers.Start(cc.UserID, cc.UserName) {
		return nil
	}
	r.setCap(cc.UserID, presence.Speaking, true)
	r.broadcast(EvtAudioStarted, SpeakerBody{UserID: cc.UserID, UserName: cc.UserName}, cc.Conn)
	r.broadcast(EvtActiveSpeakers, ActiveSpeakersBody{Speakers: r.speakers.IDs()}, nil)
	return nil
}

// stopSpeaking reports whether id was flagged as speaking.
func (r *room) stopSpeaking(id string) bool {
	m, ok := r.speakers.Stop(id)
	if !ok {
		return false
	}
	r.setCap(id, presence.Speaking, false)
	r.broadcast(EvtAudioStopped, SpeakerBody{UserID: m.ID, UserName: m.Name}, r.conns[id])
	r.broadcast(EvtActiveSpeakers, ActiveSpeakersBody{Speakers: r.speakers.IDs()}, nil)
	return true
}
