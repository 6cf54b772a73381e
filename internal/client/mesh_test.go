package client

import (
	"context"
	"encoding/json"
	"testing"

	"studysync/internal/call"
	"studysync/internal/ws"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signalFrom(t *testing.T, from string, payload any) ws.SignalBody {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return ws.SignalBody{FromUserID: from, FromUserName: "name-" + from, Payload: raw}
}

func TestMesh_ConnectIsolatesFailedLink(t *testing.T) {
	rec := &recorder{}
	d := newFakeDialer("d")
	m := NewMesh("room-1", "a", rec, d)

	failed := m.Connect(context.Background(), members("a", "b", "c", "d"))

	assert.Equal(t, []string{"d"}, failed)
	assert.Equal(t, []string{"b", "c"}, m.Peers())
	for _, id := range []string{"b", "c"} {
		st, ok := m.LinkState(id)
		require.True(t, ok, id)
		assert.Equal(t, call.LinkOffering, st)
	}
	_, ok := m.LinkState("d")
	assert.False(t, ok)
	assert.True(t, d.peer("d").isClosed())

	offers := rec.all(ws.EvtAudioOffer)
	require.Len(t, offers, 2)
	targets := map[string]bool{}
	for _, o := range offers {
		req := body[ws.SignalRequest](t, o)
		assert.Equal(t, "room-1", req.RoomID)
		var sdp webrtc.SessionDescription
		require.NoError(t, json.Unmarshal(req.Payload, &sdp))
		assert.Equal(t, webrtc.SDPTypeOffer, sdp.Type)
		targets[req.TargetUserID] = true
	}
	assert.Equal(t, map[string]bool{"b": true, "c": true}, targets)

	states := rec.all(ws.EvtPeerState)
	require.Len(t, states, 1)
	ps := body[ws.PeerStateRequest](t, states[0])
	assert.Equal(t, "d", ps.TargetUserID)
	assert.Equal(t, "failed", ps.State)
}

func TestMesh_AnswerAndConnect(t *testing.T) {
	rec := &recorder{}
	m := NewMesh("room-1", "b", rec, newFakeDialer())

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	require.NoError(t, m.HandleOffer(context.Background(), signalFrom(t, "a", offer)))

	st, ok := m.LinkState("a")
	require.True(t, ok)
	assert.Equal(t, call.LinkAnswering, st)

	answers := rec.all(ws.EvtAudioAnswer)
	require.Len(t, answers, 1)
	req := body[ws.SignalRequest](t, answers[0])
	assert.Equal(t, "a", req.TargetUserID)
	var sdp webrtc.SessionDescription
	require.NoError(t, json.Unmarshal(req.Payload, &sdp))
	assert.Equal(t, webrtc.SDPTypeAnswer, sdp.Type)

	m.OnPeerState("a", call.LinkConnected)
	st, _ = m.LinkState("a")
	assert.Equal(t, call.LinkConnected, st)
	states := rec.all(ws.EvtPeerState)
	require.Len(t, states, 1)
	assert.Equal(t, "connected", body[ws.PeerStateRequest](t, states[0]).State)
}

func TestMesh_OffererTakesAnswerAndCandidates(t *testing.T) {
	rec := &recorder{}
	d := newFakeDialer()
	m := NewMesh("room-1", "a", rec, d)
	require.Empty(t, m.Connect(context.Background(), members("b")))

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	require.NoError(t, m.HandleAnswer(signalFrom(t, "b", answer)))
	st, _ := m.LinkState("b")
	assert.Equal(t, call.LinkAnswering, st)
	require.NotNil(t, d.peer("b").answer)

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2122260223 10.0.0.2 54321 typ host"}
	require.NoError(t, m.HandleCandidate(signalFrom(t, "b", cand)))
	assert.Len(t, d.peer("b").remotes, 1)

	assert.ErrorIs(t, m.HandleCandidate(signalFrom(t, "zed", cand)), call.ErrUnknownLink)
}

func TestMesh_LocalCandidatesAreRelayed(t *testing.T) {
	rec := &recorder{}
	d := newFakeDialer()
	m := NewMesh("room-1", "a", rec, d)
	m.Connect(context.Background(), members("b"))

	d.peer("b").ev.OnCandidate(webrtc.ICECandidateInit{Candidate: "candidate:2 1 udp 1 10.0.0.1 4000 typ host"})

	cands := rec.all(ws.EvtAudioIceCandidate)
	require.Len(t, cands, 1)
	assert.Equal(t, "b", body[ws.SignalRequest](t, cands[0]).TargetUserID)
}

func TestMesh_FailureDropsOnlyThatSpeaker(t *testing.T) {
	rec := &recorder{}
	d := newFakeDialer()
	m := NewMesh("room-1", "a", rec, d)
	m.Connect(context.Background(), members("b", "c"))
	m.SetSpeaking("b", true)
	m.SetSpeaking("c", true)
	rec.reset()

	d.peer("b").ev.OnState(call.LinkFailed)

	assert.Equal(t, []string{"c"}, m.Peers())
	assert.Equal(t, []string{"c"}, m.Speakers())
	assert.True(t, d.peer("b").isClosed())
	assert.False(t, d.peer("c").isClosed())
	require.Len(t, rec.all(ws.EvtPeerState), 1)

	// The transport reporting closed after teardown is not news.
	d.peer("b").ev.OnState(call.LinkClosed)
	assert.Len(t, rec.all(ws.EvtPeerState), 1)
}

func TestMesh_RenegotiatesAfterClose(t *testing.T) {
	rec := &recorder{}
	m := NewMesh("room-1", "a", rec, newFakeDialer())
	m.Connect(context.Background(), members("b"))
	m.Close("b", "failed")
	_, ok := m.LinkState("b")
	require.False(t, ok)

	require.Empty(t, m.Connect(context.Background(), members("b")))
	st, ok := m.LinkState("b")
	require.True(t, ok)
	assert.Equal(t, call.LinkOffering, st)
}

func TestMesh_Speakers(t *testing.T) {
	m := NewMesh("room-1", "a", &recorder{}, newFakeDialer())
	m.Connect(context.Background(), members("b"))

	m.SetSpeaking("stranger", true)
	m.SetSpeaking("a", true)
	m.SetSpeaking("b", true)
	assert.Equal(t, []string{"a", "b"}, m.Speakers())

	m.ResetSpeakers([]string{"b", "stranger"})
	assert.Equal(t, []string{"b"}, m.Speakers())

	m.CloseAll("call_ended")
	assert.Empty(t, m.Speakers())
	assert.Empty(t, m.Peers())
}
