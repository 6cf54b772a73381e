package whiteboard

// History is a bounded undo/redo stack of snapshots. The cursor points at the
// current snapshot; pushing after an undo discards the redo tail, and pushing
// past capacity drops the oldest entry.
type History[T any] struct {
	buf    []T
	start  int
	size   int
	cursor int
}

const DefaultHistoryDepth = 50

func NewHistory[T any](capacity int, initial T) *History[T] {
	if capacity < 1 {
		capacity = DefaultHistoryDepth
	}
	h := &History[T]{buf: make([]T, capacity)}
	h.buf[0] = initial
	h.size = 1
	return h
}

func (h *History[T]) at(i int) int { return (h.start + i) % len(h.buf) }

func (h *History[T]) Push(v T) {
	h.size = h.cursor + 1
	if h.size == len(h.buf) {
		h.start = h.at(1)
		h.size--
	}
	h.buf[h.at(h.size)] = v
	h.size++
	h.cursor = h.size - 1
}

func (h *History[T]) Current() T { return h.buf[h.at(h.cursor)] }

func (h *History[T]) Undo() (T, bool) {
	if h.cursor == 0 {
		var zero T
		return zero, false
	}
	h.cursor--
	return h.Current(), true
}

func (h *History[T]) Redo() (T, bool) {
	if h.cursor >= h.size-1 {
		var zero T
		return zero, false
	}
	h.cursor++
	return h.Current(), true
}

func (h *History[T]) CanUndo() bool { return h.cursor > 0 }

func (h *History[T]) CanRedo() bool { return h.cursor < h.size-1 }

func (h *History[T]) Len() int { return h.size }

func (h *History[T]) Cursor() int { return h.cursor }
