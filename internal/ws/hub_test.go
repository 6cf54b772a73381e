package ws

import (
	"encoding/json"
	"testing"
	"time"

	"studysync/internal/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReopenedRoomWaitsForPreviousLeave(t *testing.T) {
	hub := NewHub(DefaultOptions(), presence.NewRegistry())
	a, b := newTestConn("a", 32), newTestConn("b", 32)

	r1 := hub.attach("R1", a, nil)
	require.Eventually(t, func() bool { return len(a.send) == 1 }, time.Second, 5*time.Millisecond)

	// Park the first dispatcher so a's leave is still queued behind it.
	parked := make(chan RoomSnapshot)
	r1.submit(roomMsg{kind: msgSnapshot, snap: parked})

	hub.detach("R1", a)
	r2 := hub.attach("R1", b, nil)
	require.NotSame(t, r1, r2)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b.send, "second dispatcher ran before the first one drained")

	<-parked
	<-r1.done

	var got []Envelope
	require.Eventually(t, func() bool {
		got = append(got, drain(b)...)
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, EvtCurrentUsers, got[0].Event)
	var roster CurrentUsersBody
	require.NoError(t, json.Unmarshal(got[0].Body, &roster))
	assert.Equal(t, []string{"B"}, roster.Names)
	assert.Zero(t, count(got, EvtUserLeft))

	members := hub.Registry().Members("R1")
	require.Len(t, members, 1)
	assert.Equal(t, "b", members[0].ID)

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, draining := hub.closing["R1"]
		return !draining
	}, time.Second, 5*time.Millisecond)
}
