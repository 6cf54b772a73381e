package client

import (
	"context"
	"testing"

	"studysync/internal/call"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkState(t *testing.T) {
	cases := map[webrtc.PeerConnectionState]call.LinkState{
		webrtc.PeerConnectionStateConnected:    call.LinkConnected,
		webrtc.PeerConnectionStateDisconnected: call.LinkDisconnected,
		webrtc.PeerConnectionStateFailed:       call.LinkFailed,
		webrtc.PeerConnectionStateClosed:       call.LinkClosed,
	}
	for in, want := range cases {
		got, ok := linkState(in)
		require.True(t, ok, in.String())
		assert.Equal(t, want, got)
	}
	_, ok := linkState(webrtc.PeerConnectionStateConnecting)
	assert.False(t, ok)
}

func TestPionDialer_OfferAnswer(t *testing.T) {
	d := PionDialer{}
	offerer, err := d.NewPeer("b", PeerEvents{})
	require.NoError(t, err)
	defer offerer.Close()
	answerer, err := d.NewPeer("a", PeerEvents{})
	require.NoError(t, err)
	defer answerer.Close()

	ctx := context.Background()
	offer, err := offerer.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")

	answer, err := answerer.Accept(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	require.NoError(t, offerer.SetAnswer(answer))
}
