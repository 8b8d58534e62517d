package surface

// DefaultUndoDepth bounds how many canvas states are kept.
const DefaultUndoDepth = 20

// UndoStack keeps the most recent canvas states. The top entry is always the current
// canvas, so undo pops it and restores the one beneath.
type UndoStack struct {
	entries []*Buffer
	depth   int
}

func NewUndoStack(depth int) *UndoStack {
	if depth < 2 {
		depth = DefaultUndoDepth
	}
	return &UndoStack{depth: depth}
}

// Reset discards history and records b as the only state.
func (u *UndoStack) Reset(b *Buffer) {
	u.entries = append(u.entries[:0], b.Clone())
}

// Push records a copy of b, dropping the oldest entry past the depth.
func (u *UndoStack) Push(b *Buffer) {
	u.entries = append(u.entries, b.Clone())
	if over := len(u.entries) - u.depth; over > 0 {
		u.entries = append(u.entries[:0], u.entries[over:]...)
	}
}

// Undo drops the current state and returns the previous one. It reports false when
// there is nothing to go back to.
func (u *UndoStack) Undo() (*Buffer, bool) {
	if len(u.entries) < 2 {
		return nil, false
	}
	u.entries = u.entries[:len(u.entries)-1]
	return u.entries[len(u.entries)-1], true
}

func (u *UndoStack) Len() int {
	return len(u.entries)
}
