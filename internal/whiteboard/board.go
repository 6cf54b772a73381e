// Package whiteboard holds a room's shared canvas: an ordered stroke log with
// tombstone undo/redo, and the image layer with its locks.
package whiteboard

import (
	"errors"
	"sort"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrUnknownStroke = errors.New("unknown stroke")
)

// Board is not safe for concurrent use; the room dispatcher owns it.
type Board struct {
	strokes    []*Stroke
	bySeq      map[uint64]*Stroke
	lastSeq    uint64
	maxStrokes int

	redo map[string][]uint64

	images    map[string]*Image
	order     []string
	maxImages int

	viewers map[string]string
}

func NewBoard(maxStrokes, maxImages int) *Board {
	return &Board{
		bySeq:      make(map[uint64]*Stroke),
		maxStrokes: maxStrokes,
		redo:       make(map[string][]uint64),
		images:     make(map[string]*Image),
		maxImages:  maxImages,
		viewers:    make(map[string]string),
	}
}

// AddStroke validates s, assigns the next sequence number and appends it to
// the log. The author's redo stack is discarded.
func (b *Board) AddStroke(s Stroke) (Stroke, error) {
	if err := s.Validate(); err != nil {
		return Stroke{}, err
	}
	b.lastSeq++
	s.Seq = b.lastSeq
	s.Undone = false
	s.Points = append([]Point(nil), s.Points...)
	b.append(&s)
	delete(b.redo, s.UserID)
	return s, nil
}

// Apply inserts a stroke that already carries a sequence number, as received
// from the relay. Replays of a known seq are ignored.
func (b *Board) Apply(s Stroke) bool {
	if s.Seq == 0 {
		return false
	}
	if _, ok := b.bySeq[s.Seq]; ok {
		return false
	}
	st := s
	if s.Seq > b.lastSeq {
		b.lastSeq = s.Seq
		b.append(&st)
		return true
	}
	i := sort.Search(len(b.strokes), func(i int) bool { return b.strokes[i].Seq > s.Seq })
	b.strokes = append(b.strokes, nil)
	copy(b.strokes[i+1:], b.strokes[i:])
	b.strokes[i] = &st
	b.bySeq[st.Seq] = &st
	b.trim()
	return true
}

func (b *Board) append(s *Stroke) {
	b.strokes = append(b.strokes, s)
	b.bySeq[s.Seq] = s
	b.trim()
}

func (b *Board) trim() {
	if b.maxStrokes <= 0 {
		return
	}
	for len(b.strokes) > b.maxStrokes {
		delete(b.bySeq, b.strokes[0].Seq)
		b.strokes[0] = nil
		b.strokes = b.strokes[1:]
	}
}

// Undo tombstones userID's most recent live stroke.
func (b *Board) Undo(userID string) (uint64, error) {
	for i := len(b.strokes) - 1; i >= 0; i-- {
		s := b.strokes[i]
		if s.UserID == userID && !s.Undone {
			s.Undone = true
			b.redo[userID] = append(b.redo[userID], s.Seq)
			return s.Seq, nil
		}
	}
	return 0, ErrNothingToUndo
}

// Redo revives userID's most recently undone stroke that is still in the log.
func (b *Board) Redo(userID string) (uint64, error) {
	stack := b.redo[userID]
	for len(stack) > 0 {
		seq := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if s, ok := b.bySeq[seq]; ok && s.Undone {
			s.Undone = false
			b.redo[userID] = stack
			return seq, nil
		}
	}
	delete(b.redo, userID)
	return 0, ErrNothingToRedo
}

// SetUndone applies a tombstone decided elsewhere.
func (b *Board) SetUndone(seq uint64, undone bool) error {
	s, ok := b.bySeq[seq]
	if !ok {
		return ErrUnknownStroke
	}
	s.Undone = undone
	return nil
}

// Clear drops every stroke. Images are kept. It reports whether anything was
// removed; clearing an empty board is harmless.
func (b *Board) Clear() bool {
	had := len(b.strokes) > 0
	b.strokes = nil
	b.bySeq = make(map[uint64]*Stroke)
	b.redo = make(map[string][]uint64)
	return had
}

// Strokes returns the live strokes in sequence order.
func (b *Board) Strokes() []Stroke {
	out := make([]Stroke, 0, len(b.strokes))
	for _, s := range b.strokes {
		if !s.Undone {
			out = append(out, *s)
		}
	}
	return out
}

func (b *Board) StrokeCount() int { return len(b.strokes) }

func (b *Board) LastSeq() uint64 { return b.lastSeq }

// JoinViewer reports whether id was not already viewing.
func (b *Board) JoinViewer(id, name string) bool {
	_, ok := b.viewers[id]
	b.viewers[id] = name
	return !ok
}

func (b *Board) LeaveViewer(id string) (string, bool) {
	name, ok := b.viewers[id]
	if ok {
		delete(b.viewers, id)
	}
	return name, ok
}

func (b *Board) IsViewer(id string) bool {
	_, ok := b.viewers[id]
	return ok
}

func (b *Board) ViewerCount() int { return len(b.viewers) }
