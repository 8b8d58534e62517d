package archive

import (
	"time"

	"github.com/doodlegame/doodle/go/internal/events"
)

// WordAssertion is the word a drawer declared for its turn. Empty Round/DrawerID/TurnID
// act as wildcards when matched against archive metadata.
type WordAssertion struct {
	Word       string
	Round      *int
	DrawerID   string
	TurnID     string
	ReceivedAt time.Time
}

// Matches reports whether the assertion belongs to the turn described by meta.
// A field missing on either side matches anything.
func (a WordAssertion) Matches(meta events.Metadata) bool {
	if a.Round != nil {
		if r, ok := meta.Round(); ok && r != *a.Round {
			return false
		}
	}
	if a.DrawerID != "" {
		if d, ok := meta.DrawerID(); ok && d != a.DrawerID {
			return false
		}
	}
	if a.TurnID != "" {
		if t, ok := meta.TurnID(); ok && t != a.TurnID {
			return false
		}
	}
	return true
}

// PendingWords holds at most one live assertion per room, last write wins.
// It is owned by the relay loop and is not safe for concurrent use.
type PendingWords struct {
	assertions map[string]WordAssertion
}

func NewPendingWords() *PendingWords {
	return &PendingWords{assertions: make(map[string]WordAssertion)}
}

// Put replaces whatever assertion the room had.
func (p *PendingWords) Put(roomID string, a WordAssertion) {
	p.assertions[roomID] = a
}

func (p *PendingWords) Get(roomID string) (WordAssertion, bool) {
	a, ok := p.assertions[roomID]
	return a, ok
}

// ClearIfWord drops the room's assertion only when it carries word.
func (p *PendingWords) ClearIfWord(roomID, word string) bool {
	a, ok := p.assertions[roomID]
	if !ok || word == "" || a.Word != word {
		return false
	}
	delete(p.assertions, roomID)
	return true
}

// Backfill returns meta with its word taken from the room's assertion when meta has no
// word and the assertion matches. meta itself is never modified; nil meta stays nil.
func (p *PendingWords) Backfill(roomID string, meta events.Metadata) events.Metadata {
	if meta == nil || meta.Word() != "" {
		return meta
	}
	a, ok := p.assertions[roomID]
	if !ok || a.Word == "" || !a.Matches(meta) {
		return meta
	}
	out := meta.Clone()
	out[events.MetaWord] = a.Word
	return out
}
