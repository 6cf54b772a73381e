package client

import (
	"fmt"
	"testing"

	"studysync/internal/whiteboard"
	"studysync/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var line = []whiteboard.Point{{X: 1, Y: 1}, {X: 5, Y: 5}}

// newTestCanvas lets exactly one drag frame through until EndDrag.
func newTestCanvas(rec *recorder) *Canvas {
	c := NewCanvas("room-1", "a", "Ann", rec, 0)
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return c
}

func TestCanvas_DrawShowsAtOnceThenReconciles(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)

	require.NoError(t, c.Draw(line, "#000000", 3, whiteboard.KindDraw))

	got := c.Strokes()
	require.Len(t, got, 1)
	assert.Zero(t, got[0].Seq)

	sent := rec.all(ws.EvtWhiteboardDraw)
	require.Len(t, sent, 1)
	req := body[ws.DrawRequest](t, sent[0])
	assert.Equal(t, "id-1", req.ClientStrokeID)
	assert.Equal(t, "room-1", req.RoomID)
	assert.Equal(t, line, req.Points)

	c.OnDrawAck(ws.DrawAck{ClientStrokeID: "id-1", Seq: 7})
	got = c.Strokes()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].Seq)
	assert.Equal(t, "a", got[0].UserID)
}

func TestCanvas_InvalidStrokeIsNotSent(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)

	err := c.Draw(nil, "#000000", 3, whiteboard.KindDraw)
	assert.ErrorIs(t, err, whiteboard.ErrInvalidStroke)
	err = c.Draw(line, "red", 3, whiteboard.KindDraw)
	assert.ErrorIs(t, err, whiteboard.ErrInvalidStroke)
	assert.Empty(t, rec.events())
	assert.Empty(t, c.Strokes())
}

func TestCanvas_RemoteStrokesKeepRoomOrder(t *testing.T) {
	c := newTestCanvas(&recorder{})
	c.OnStroke(whiteboard.Stroke{Seq: 3, Points: line, Color: "#111111", BrushSize: 2, Type: whiteboard.KindDraw, UserID: "b"})
	c.OnStroke(whiteboard.Stroke{Seq: 1, Points: line, Color: "#222222", BrushSize: 2, Type: whiteboard.KindErase, UserID: "c"})
	c.OnStroke(whiteboard.Stroke{Seq: 3, Points: line, Color: "#111111", BrushSize: 2, Type: whiteboard.KindDraw, UserID: "b"})

	got := c.Strokes()
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(3), got[1].Seq)
}

func TestCanvas_UndoWaitsForTheRoom(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)
	require.NoError(t, c.Draw(line, "#000000", 3, whiteboard.KindDraw))
	c.OnDrawAck(ws.DrawAck{ClientStrokeID: "id-1", Seq: 1})

	require.NoError(t, c.Undo())
	assert.Len(t, c.Strokes(), 1)
	assert.Len(t, rec.all(ws.EvtWhiteboardUndo), 1)

	c.OnUndo(ws.HistoryBody{UserID: "a", Seq: 1})
	assert.Empty(t, c.Strokes())

	c.OnRedo(ws.HistoryBody{UserID: "a", Seq: 1})
	assert.Len(t, c.Strokes(), 1)

	// Tombstones for strokes we never saw are ignored.
	c.OnUndo(ws.HistoryBody{UserID: "b", Seq: 99})
	assert.Len(t, c.Strokes(), 1)
}

func TestCanvas_LocalHistory(t *testing.T) {
	c := newTestCanvas(&recorder{})
	require.NoError(t, c.Draw(line, "#000000", 3, whiteboard.KindDraw))
	require.NoError(t, c.Draw(line, "#ff0000", 3, whiteboard.KindDraw))
	assert.Len(t, c.Snapshot().Strokes, 2)

	snap, ok := c.Back()
	require.True(t, ok)
	assert.Len(t, snap.Strokes, 1)
	snap, ok = c.Back()
	require.True(t, ok)
	assert.Empty(t, snap.Strokes)
	_, ok = c.Back()
	assert.False(t, ok)

	snap, ok = c.Forward()
	require.True(t, ok)
	assert.Len(t, snap.Strokes, 1)

	// A new edit after stepping back drops the forward tail.
	require.NoError(t, c.Draw(line, "#00ff00", 3, whiteboard.KindDraw))
	_, ok = c.Forward()
	assert.False(t, ok)
}

func TestCanvas_ClearKeepsImages(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)
	_, err := c.Upload("data:image/png;base64,AAAA", 10, 10, 200, 100)
	require.NoError(t, err)
	c.OnStroke(whiteboard.Stroke{Seq: 1, Points: line, Color: "#111111", BrushSize: 2, Type: whiteboard.KindDraw, UserID: "b"})
	depth := c.history.Len()

	require.NoError(t, c.Clear())
	assert.Empty(t, c.Strokes())
	assert.Len(t, c.Images(), 1)
	assert.Equal(t, depth+1, c.history.Len())

	c.OnClear()
	assert.Equal(t, depth+1, c.history.Len())
	assert.Len(t, rec.all(ws.EvtWhiteboardClear), 1)
}

func TestCanvas_RemoteClearKeepsUnackedStroke(t *testing.T) {
	c := newTestCanvas(&recorder{})
	c.OnStroke(whiteboard.Stroke{Seq: 1, Points: line, Color: "#111111", BrushSize: 2, Type: whiteboard.KindDraw, UserID: "b"})
	require.NoError(t, c.Draw(line, "#000000", 3, whiteboard.KindDraw))

	// The room took b's clear first, then our stroke as seq 2.
	c.OnClear()
	got := c.Strokes()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].UserID)

	c.OnDrawAck(ws.DrawAck{ClientStrokeID: "id-1", Seq: 2})
	got = c.Strokes()
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Seq)
	assert.Equal(t, "a", got[0].UserID)
}

func TestCanvas_LocalClearDropsPending(t *testing.T) {
	c := newTestCanvas(&recorder{})
	require.NoError(t, c.Draw(line, "#000000", 3, whiteboard.KindDraw))
	require.NoError(t, c.Clear())
	assert.Empty(t, c.Strokes())

	c.OnDrawAck(ws.DrawAck{ClientStrokeID: "id-1", Seq: 1})
	assert.Empty(t, c.Strokes())
}

func TestCanvas_UploadAnnounces(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)
	img, err := c.Upload("data:image/png;base64,AAAA", 10, 20, 200, 100)
	require.NoError(t, err)
	assert.Equal(t, "id-1", img.ID)
	assert.InDelta(t, 2.0, img.AspectRatio, 1e-9)

	sent := rec.all(ws.EvtImageUpload)
	require.Len(t, sent, 1)
	req := body[ws.ImageUploadRequest](t, sent[0])
	assert.Equal(t, "id-1", req.ImageID)
	assert.Equal(t, 200.0, req.Width)
}

func TestCanvas_RespectsOthersLocks(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)
	c.OnImage(whiteboard.Image{ID: "img", Src: "x", Width: 100, Height: 50, AspectRatio: 2})
	c.OnLock(ws.ImageLockBody{ImageID: "img", UserID: "b"})
	rec.reset()

	assert.ErrorIs(t, c.Move("img", 5, 5), whiteboard.ErrNotLockHolder)
	assert.ErrorIs(t, c.Resize("img", 300, 300, true), whiteboard.ErrNotLockHolder)
	assert.ErrorIs(t, c.Lock("img"), whiteboard.ErrImageLocked)
	assert.Empty(t, rec.events())

	img, _ := c.Image("img")
	assert.Zero(t, img.X)

	c.OnUnlock(ws.ImageLockBody{ImageID: "img", UserID: "b"})
	require.NoError(t, c.Move("img", 5, 5))
	require.NoError(t, c.Lock("img"))
	assert.Equal(t, []string{ws.EvtImageMove, ws.EvtImageLock}, rec.events())
}

func TestCanvas_DragIsThrottled(t *testing.T) {
	rec := &recorder{}
	c := newTestCanvas(rec)
	c.OnImage(whiteboard.Image{ID: "img", Src: "x", Width: 100, Height: 50, AspectRatio: 2})

	require.NoError(t, c.Move("img", 1, 1))
	require.NoError(t, c.Move("img", 2, 2))
	require.NoError(t, c.Move("img", 3, 3))
	require.NoError(t, c.Resize("img", 10, 10, true))

	img, _ := c.Image("img")
	assert.Equal(t, 3.0, img.X)
	assert.Equal(t, float64(whiteboard.MinImageSize)*2, img.Width)
	require.Len(t, rec.all(ws.EvtImageMove), 1)
	assert.Empty(t, rec.all(ws.EvtImageResize))

	require.NoError(t, c.EndDrag("img"))
	moves := rec.all(ws.EvtImageMove)
	require.Len(t, moves, 2)
	last := body[ws.ImageMoveRequest](t, moves[1])
	assert.Equal(t, 3.0, last.X)
	resizes := rec.all(ws.EvtImageResize)
	require.Len(t, resizes, 1)
	assert.Equal(t, float64(whiteboard.MinImageSize), body[ws.ImageResizeRequest](t, resizes[0]).Height)

	require.NoError(t, c.EndDrag("img"))
	assert.Len(t, rec.all(ws.EvtImageMove), 2)
}

func TestCanvas_RemoteTransforms(t *testing.T) {
	c := newTestCanvas(&recorder{})
	c.OnImage(whiteboard.Image{ID: "img", Src: "x", Width: 100, Height: 50, AspectRatio: 2})

	c.OnMove(ws.ImageMoveBody{ImageID: "img", X: 40, Y: 60, UserID: "b"})
	c.OnResize(ws.ImageResizeBody{ImageID: "img", Width: 300, Height: 150, UserID: "b"})
	c.OnMove(ws.ImageMoveBody{ImageID: "ghost", X: 1, Y: 1})

	img, ok := c.Image("img")
	require.True(t, ok)
	assert.Equal(t, 40.0, img.X)
	assert.Equal(t, 300.0, img.Width)
	assert.Len(t, c.Images(), 1)
}

func TestCanvas_OnExisting(t *testing.T) {
	c := newTestCanvas(&recorder{})
	c.OnImage(whiteboard.Image{ID: "stale", Src: "x", Width: 10, Height: 10})

	c.OnExisting(ws.ExistingImagesBody{
		Images: []whiteboard.Image{{ID: "one", Src: "x", Width: 10, Height: 10, IsLocked: true, LockedBy: "b"}},
		Strokes: []whiteboard.Stroke{
			{Seq: 1, Points: line, Color: "#111111", BrushSize: 2, Type: whiteboard.KindDraw, UserID: "b"},
			{Seq: 2, Points: line, Color: "#111111", BrushSize: 2, Type: whiteboard.KindDraw, UserID: "b"},
		},
	})

	imgs := c.Images()
	require.Len(t, imgs, 1)
	assert.Equal(t, "one", imgs[0].ID)
	assert.Len(t, c.Strokes(), 2)
	assert.ErrorIs(t, c.Move("one", 1, 1), whiteboard.ErrNotLockHolder)
}
