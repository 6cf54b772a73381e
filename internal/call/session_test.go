package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = Member{ID: "a", Name: "Alice"}
	bob   = Member{ID: "b", Name: "Bob"}
	carol = Member{ID: "c", Name: "Carol"}
	dave  = Member{ID: "d", Name: "Dave"}
)

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	assert.Equal(t, Idle, s.State())

	tr, err := s.Start(alice)
	require.NoError(t, err)
	assert.Equal(t, Started, tr.Kind)
	assert.Equal(t, Active, s.State())
	assert.Equal(t, alice, s.Originator())

	tr, err = s.Join(bob)
	require.NoError(t, err)
	assert.Equal(t, Joined, tr.Kind)
	assert.Equal(t, []Member{alice}, tr.Peers)
	assert.Equal(t, []Member{alice, bob}, tr.Members)

	tr, err = s.Leave("a")
	require.NoError(t, err)
	assert.Equal(t, Left, tr.Kind)
	assert.Equal(t, []Member{bob}, s.Members())

	tr, err = s.Leave("b")
	require.NoError(t, err)
	assert.Equal(t, Finished, tr.Kind)
	assert.Equal(t, Ended, s.State())
}

func TestStartOnActiveCallJoins(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	_, _ = s.Start(alice)

	tr, err := s.Start(bob)
	require.NoError(t, err)
	assert.Equal(t, Joined, tr.Kind)
	assert.Equal(t, alice, s.Originator())
}

func TestJoinIdleCallFails(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	_, err := s.Join(bob)
	assert.ErrorIs(t, err, ErrNoActiveCall)
}

func TestJoinTwiceAndCapacity(t *testing.T) {
	s := NewSession(2, EndByAnyMember)
	_, _ = s.Start(alice)
	_, err := s.Join(alice)
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = s.Join(bob)
	require.NoError(t, err)
	_, err = s.Join(carol)
	assert.ErrorIs(t, err, ErrCallFull)
}

func TestAnyMemberMayEnd(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	_, _ = s.Start(alice)
	_, _ = s.Join(bob)

	tr, err := s.End("b")
	require.NoError(t, err)
	assert.Equal(t, Finished, tr.Kind)
	assert.Equal(t, []Member{alice, bob}, tr.Members)
	assert.Equal(t, Ended, s.State())
	assert.Empty(t, s.Members())
}

func TestOriginatorPolicy(t *testing.T) {
	s := NewSession(8, EndByOriginator)
	_, _ = s.Start(alice)
	_, _ = s.Join(bob)

	_, err := s.End("b")
	assert.ErrorIs(t, err, ErrNotOriginator)
	_, err = s.End("z")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = s.End("a")
	require.NoError(t, err)
}

func TestRestartAfterEnd(t *testing.T) {
	s := NewSession(8, EndByAnyMember)
	_, _ = s.Start(alice)
	_, _ = s.End("a")

	tr, err := s.Start(bob)
	require.NoError(t, err)
	assert.Equal(t, Started, tr.Kind)
	assert.Equal(t, bob, s.Originator())
}
