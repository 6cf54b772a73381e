package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinerOpensOneLinkPerExistingMember(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	links := NewLinks()
	_, _ = s.Start(alice)
	for _, m := range []Member{bob, carol} {
		tr, err := s.Join(m)
		require.NoError(t, err)
		for _, p := range tr.Peers {
			links.Open(m.ID, p.ID)
		}
	}
	require.Equal(t, 3, links.Len())

	tr, err := s.Join(dave)
	require.NoError(t, err)
	opened := 0
	for _, p := range tr.Peers {
		if _, created := links.Open(dave.ID, p.ID); created {
			opened++
		}
	}
	assert.Equal(t, 3, opened)
	assert.Equal(t, 6, links.Len())
}

func TestFailedLinkDoesNotAffectOthers(t *testing.T) {
	links := NewLinks()
	for _, p := range []string{"a", "b", "c"} {
		links.Open("d", p)
		_, err := links.Offer("d", p)
		require.NoError(t, err)
		_, err = links.Advance(p, "d", LinkAnswering)
		require.NoError(t, err)
	}

	closed, err := links.Advance("d", "b", LinkFailed)
	require.NoError(t, err)
	assert.Equal(t, LinkClosed, closed.State)
	assert.Equal(t, "failed", closed.Reason)

	for _, p := range []string{"a", "c"} {
		l, err := links.Advance("d", p, LinkConnected)
		require.NoError(t, err)
		assert.Equal(t, LinkConnected, l.State)
	}
	assert.Equal(t, 2, links.Len())
}

func TestPairIsUnordered(t *testing.T) {
	links := NewLinks()
	_, created := links.Open("a", "b")
	assert.True(t, created)
	l, created := links.Open("b", "a")
	assert.False(t, created)
	assert.Equal(t, "a", l.Initiator)
	assert.Equal(t, Pair("b", "a"), Pair("a", "b"))
}

func TestInvalidTransitions(t *testing.T) {
	links := NewLinks()
	_, err := links.Advance("a", "b", LinkOffering)
	assert.ErrorIs(t, err, ErrUnknownLink)

	links.Open("a", "b")
	_, err = links.Advance("a", "b", LinkConnected)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestOfferAfterCloseRenegotiates(t *testing.T) {
	links := NewLinks()
	_, err := links.Offer("a", "b")
	require.NoError(t, err)
	_, ok := links.Close("a", "b", "closed")
	require.True(t, ok)

	l, err := links.Offer("b", "a")
	require.NoError(t, err)
	assert.Equal(t, LinkOffering, l.State)
	assert.Equal(t, "b", l.Initiator)
}

func TestCloseAllAndReset(t *testing.T) {
	links := NewLinks()
	links.Open("a", "b")
	links.Open("a", "c")
	links.Open("b", "c")

	gone := links.CloseAll("a", "left")
	require.Len(t, gone, 2)
	assert.Equal(t, Pair("a", "b"), gone[0].Key)
	assert.Equal(t, 1, links.Len())

	gone = links.Reset("ended")
	require.Len(t, gone, 1)
	assert.Equal(t, "ended", gone[0].Reason)
	assert.Zero(t, links.Len())
}

func TestEndCallClearsSpeakersAndLinks(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	links := NewLinks()
	speakers := NewSpeakers()

	_, _ = s.Start(alice)
	tr, _ := s.Join(bob)
	for _, p := range tr.Peers {
		links.Open(bob.ID, p.ID)
	}
	speakers.Start(alice.ID, alice.Name)
	speakers.Start(bob.ID, bob.Name)

	_, err := s.End("a")
	require.NoError(t, err)
	assert.Len(t, speakers.Clear(), 2)
	assert.Len(t, links.Reset("ended"), 1)

	assert.Empty(t, speakers.IDs())
	assert.Zero(t, links.Len())
}

func TestSpeakers(t *testing.T) {
	sp := NewSpeakers()
	assert.True(t, sp.Start("b", "Bob"))
	assert.False(t, sp.Start("b", "Bob"))
	assert.True(t, sp.Start("a", "Alice"))
	assert.Equal(t, []string{"a", "b"}, sp.IDs())

	m, ok := sp.Stop("b")
	assert.True(t, ok)
	assert.Equal(t, "Bob", m.Name)
	_, ok = sp.Stop("b")
	assert.False(t, ok)
	assert.False(t, sp.Has("b"))
}
