package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studysync/internal/auth"
	"studysync/internal/presence"
	"studysync/internal/whiteboard"
	"studysync/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelay(t *testing.T, secret string) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := ws.NewHub(ws.DefaultOptions(), presence.NewRegistry())
	srv := ws.NewWsServer(hub, nil, auth.NewVerifier(secret), nil)
	engine := gin.New()
	engine.GET("/ws", srv.Handle)
	ts := httptest.NewServer(engine)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func runSession(t *testing.T, ctx context.Context, url, id, name string) *Session {
	t.Helper()
	conn, err := Dial(url, "", id, name)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	s := NewSession(conn, Options{RoomID: "room-1", UserID: id, UserName: name, Dialer: newFakeDialer()})
	go func() { _ = s.Run(ctx, conn.Incoming()) }()
	require.NoError(t, s.Join())
	return s
}

func TestConn_TwoParticipantsShareTheBoard(t *testing.T) {
	url := startRelay(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ann := runSession(t, ctx, url, "a", "Ann")
	bob := runSession(t, ctx, url, "b", "Bob")

	require.Eventually(t, func() bool {
		return len(ann.Roster()) == 2 && len(bob.Roster()) == 2
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, ann.Canvas.Draw(line, "#123456", 4, whiteboard.KindDraw))

	require.Eventually(t, func() bool {
		got := bob.Canvas.Strokes()
		return len(got) == 1 && got[0].Seq == 1 && got[0].UserID == "a"
	}, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		got := ann.Canvas.Strokes()
		return len(got) == 1 && got[0].Seq == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, ann.Canvas.Undo())
	require.Eventually(t, func() bool {
		return len(ann.Canvas.Strokes()) == 0 && len(bob.Canvas.Strokes()) == 0
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, bob.Say("hello"))
	require.Eventually(t, func() bool {
		return len(ann.Chat()) == 1 && len(bob.Chat()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "hello", ann.Chat()[0].Content)
}

func TestDial_Unauthorized(t *testing.T) {
	url := startRelay(t, "secret")
	_, err := Dial(url, "", "a", "Ann")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestConn_SendAfterClose(t *testing.T) {
	url := startRelay(t, "")
	conn, err := Dial(url, "", "a", "Ann")
	require.NoError(t, err)
	conn.Close()
	assert.ErrorIs(t, conn.Send(ws.EvtJoinRoom, ws.JoinRoomRequest{RoomID: "room-1"}), ErrClosed)

	// Incoming closes once the socket is gone.
	for range conn.Incoming() {
	}
}
