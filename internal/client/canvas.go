package client

import (
	"sync"
	"time"

	"studysync/internal/whiteboard"
	"studysync/internal/ws"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultDragRate caps how often a drag in progress is sent to the room.
var DefaultDragRate = rate.Every(33 * time.Millisecond)

// Snapshot is the raster layer at one point in the local history. Images are
// composited on top separately and never appear here.
type Snapshot struct {
	Strokes []whiteboard.Stroke
}

type pendingStroke struct {
	clientID string
	stroke   whiteboard.Stroke
}

// dragState is the newest transform not yet sent for an image.
type dragState struct {
	move   *ws.ImageMoveRequest
	resize *ws.ImageResizeRequest
}

// Canvas is the local view of the room whiteboard. Own strokes show up
// immediately and are reconciled with the room's sequence numbers once the
// relay acknowledges them.
type Canvas struct {
	mu      sync.Mutex
	roomID  string
	self    string
	name    string
	out     Sender
	board   *whiteboard.Board
	pending []pendingStroke
	history *whiteboard.History[Snapshot]
	limiter *rate.Limiter
	drags   map[string]*dragState
	newID   func() string
}

func NewCanvas(roomID, self, name string, out Sender, dragRate rate.Limit) *Canvas {
	return &Canvas{
		roomID:  roomID,
		self:    self,
		name:    name,
		out:     out,
		board:   whiteboard.NewBoard(0, 0),
		history: whiteboard.NewHistory(whiteboard.DefaultHistoryDepth, Snapshot{}),
		limiter: rate.NewLimiter(dragRate, 1),
		drags:   make(map[string]*dragState),
		newID:   uuid.NewString,
	}
}

func (c *Canvas) ref() ws.RoomRef { return ws.RoomRef{RoomID: c.roomID} }

// view is the raster as drawn: acknowledged strokes in room order, then own
// strokes still waiting for their sequence number.
func (c *Canvas) view() []whiteboard.Stroke {
	out := c.board.Strokes()
	for _, p := range c.pending {
		out = append(out, p.stroke)
	}
	return out
}

func (c *Canvas) commit() {
	c.history.Push(Snapshot{Strokes: c.view()})
}

// Strokes returns what the canvas currently shows.
func (c *Canvas) Strokes() []whiteboard.Stroke {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view()
}

func (c *Canvas) Images() []whiteboard.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Images()
}

func (c *Canvas) Image(id string) (whiteboard.Image, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.board.Image(id)
}

// Draw commits one finished gesture. It is shown at once and sent as a
// single whiteboardDraw.
func (c *Canvas) Draw(points []whiteboard.Point, color string, brushSize float64, kind whiteboard.Kind) error {
	s := whiteboard.Stroke{
		Points:    append([]whiteboard.Point(nil), points...),
		Color:     color,
		BrushSize: brushSize,
		Type:      kind,
		UserID:    c.self,
		UserName:  c.name,
	}
	if err := s.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	id := c.newID()
	c.pending = append(c.pending, pendingStroke{clientID: id, stroke: s})
	c.commit()
	c.mu.Unlock()

	return c.out.Send(ws.EvtWhiteboardDraw, ws.DrawRequest{
		RoomRef:        c.ref(),
		ClientStrokeID: id,
		Points:         s.Points,
		Color:          s.Color,
		BrushSize:      s.BrushSize,
		Type:           s.Type,
	})
}

// OnDrawAck moves an own stroke from pending into the room log.
func (c *Canvas) OnDrawAck(ack ws.DrawAck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p.clientID != ack.ClientStrokeID {
			continue
		}
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		p.stroke.Seq = ack.Seq
		c.board.Apply(p.stroke)
		return
	}
}

// OnStroke applies a stroke drawn by someone else.
func (c *Canvas) OnStroke(s whiteboard.Stroke) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board.Apply(s) {
		c.commit()
	}
}

// Clear wipes the raster locally and for everyone else. Images stay. Own
// strokes still waiting for an ack are dropped too; the room orders them
// before this clear.
func (c *Canvas) Clear() error {
	c.mu.Lock()
	changed := c.board.Clear() || len(c.pending) > 0
	c.pending = nil
	if changed {
		c.commit()
	}
	c.mu.Unlock()
	return c.out.Send(ws.EvtWhiteboardClear, c.ref())
}

// OnClear applies someone else's clear. Pending own strokes survive it: the
// room accepted them after the clear, and their acks are still on the way.
func (c *Canvas) OnClear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.board.Clear() {
		c.commit()
	}
}

// Undo asks the room to tombstone our latest stroke. The canvas changes when
// the room confirms it, so every participant undoes the same stroke.
func (c *Canvas) Undo() error { return c.out.Send(ws.EvtWhiteboardUndo, c.ref()) }

func (c *Canvas) Redo() error { return c.out.Send(ws.EvtWhiteboardRedo, c.ref()) }

func (c *Canvas) OnUndo(b ws.HistoryBody) { c.setUndone(b.Seq, true) }

func (c *Canvas) OnRedo(b ws.HistoryBody) { c.setUndone(b.Seq, false) }

func (c *Canvas) setUndone(seq uint64, undone bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.board.SetUndone(seq, undone); err == nil {
		c.commit()
	}
}

// Back steps the local view one snapshot back without touching the room.
func (c *Canvas) Back() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Undo()
}

func (c *Canvas) Forward() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Redo()
}

func (c *Canvas) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Current()
}

// Upload places a new image and announces it.
func (c *Canvas) Upload(src string, x, y, width, height float64) (whiteboard.Image, error) {
	c.mu.Lock()
	img, err := c.board.AddImage(whiteboard.Image{
		ID:         c.newID(),
		Src:        src,
		X:          x,
		Y:          y,
		Width:      width,
		Height:     height,
		UploadedBy: c.self,
	})
	c.mu.Unlock()
	if err != nil {
		return whiteboard.Image{}, err
	}
	return img, c.out.Send(ws.EvtImageUpload, ws.ImageUploadRequest{
		RoomRef: c.ref(),
		ImageID: img.ID,
		Src:     img.Src,
		X:       img.X,
		Y:       img.Y,
		Width:   img.Width,
		Height:  img.Height,
	})
}

func (c *Canvas) OnImage(img whiteboard.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.board.PutImage(img)
}

// Lock requests exclusive edit rights. Images held by someone else are not
// even asked for.
func (c *Canvas) Lock(id string) error {
	c.mu.Lock()
	img, ok := c.board.Image(id)
	c.mu.Unlock()
	if !ok {
		return whiteboard.ErrUnknownImage
	}
	if img.IsLocked && img.LockedBy != c.self {
		return whiteboard.ErrImageLocked
	}
	return c.out.Send(ws.EvtImageLock, ws.ImageRef{RoomRef: c.ref(), ImageID: id})
}

func (c *Canvas) Unlock(id string) error {
	if err := c.EndDrag(id); err != nil {
		return err
	}
	return c.out.Send(ws.EvtImageUnlock, ws.ImageRef{RoomRef: c.ref(), ImageID: id})
}

func (c *Canvas) OnLock(b ws.ImageLockBody) { c.setLock(b.ImageID, b.UserID, true) }

func (c *Canvas) OnUnlock(b ws.ImageLockBody) { c.setLock(b.ImageID, "", false) }

func (c *Canvas) setLock(id, by string, locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.board.Image(id)
	if !ok {
		return
	}
	img.IsLocked = locked
	img.LockedBy = by
	c.board.PutImage(img)
}

// Move drags an image. The local copy follows every call; the room only
// hears about it at the drag rate, and EndDrag sends the final position.
func (c *Canvas) Move(id string, x, y float64) error {
	c.mu.Lock()
	img, err := c.board.MoveImage(id, c.self, x, y)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	req := ws.ImageMoveRequest{RoomRef: c.ref(), ImageID: id, X: img.X, Y: img.Y}
	if !c.limiter.Allow() {
		c.drag(id).move = &req
		c.mu.Unlock()
		return nil
	}
	c.drag(id).move = nil
	c.mu.Unlock()
	return c.out.Send(ws.EvtImageMove, req)
}

func (c *Canvas) Resize(id string, width, height float64, keepAspect bool) error {
	c.mu.Lock()
	img, err := c.board.ResizeImage(id, c.self, width, height, keepAspect)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	req := ws.ImageResizeRequest{RoomRef: c.ref(), ImageID: id, Width: img.Width, Height: img.Height, KeepAspectRatio: keepAspect}
	if !c.limiter.Allow() {
		c.drag(id).resize = &req
		c.mu.Unlock()
		return nil
	}
	c.drag(id).resize = nil
	c.mu.Unlock()
	return c.out.Send(ws.EvtImageResize, req)
}

func (c *Canvas) drag(id string) *dragState {
	d, ok := c.drags[id]
	if !ok {
		d = &dragState{}
		c.drags[id] = d
	}
	return d
}

// EndDrag flushes whatever the throttle held back for the image.
func (c *Canvas) EndDrag(id string) error {
	c.mu.Lock()
	d, ok := c.drags[id]
	delete(c.drags, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if d.move != nil {
		if err := c.out.Send(ws.EvtImageMove, *d.move); err != nil {
			return err
		}
	}
	if d.resize != nil {
		return c.out.Send(ws.EvtImageResize, *d.resize)
	}
	return nil
}

func (c *Canvas) OnMove(b ws.ImageMoveBody) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.board.Image(b.ImageID)
	if !ok {
		return
	}
	img.X, img.Y = b.X, b.Y
	c.board.PutImage(img)
}

func (c *Canvas) OnResize(b ws.ImageResizeBody) {
	c.mu.Lock()
	defer c.mu.Unlock()
	img, ok := c.board.Image(b.ImageID)
	if !ok {
		return
	}
	img.Width, img.Height = b.Width, b.Height
	c.board.PutImage(img)
}

// OnExisting loads the room's images, and its strokes when the relay
// replays them.
func (c *Canvas) OnExisting(b ws.ExistingImagesBody) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.board.ReplaceImages(b.Images)
	applied := false
	for _, s := range b.Strokes {
		if c.board.Apply(s) {
			applied = true
		}
	}
	if applied {
		c.commit()
	}
}
