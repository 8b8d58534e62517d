package relay

import (
	"sort"

	"github.com/doodlegame/doodle/go/internal/archive"
)

// Peer is a connected participant the relay can write to.
type Peer interface {
	ID() string
	// Send queues data for delivery and reports false if it was dropped.
	Send(data []byte) bool
}

// Session is one connection registered in a room.
type Session struct {
	Peer       Peer
	RoomID     string
	ClientID   string
	IdentityID *int64
}

// SessionRegistry tracks which peers are in which room. A peer is in at most one room.
// It is owned by the relay loop and is not safe for concurrent use.
type SessionRegistry struct {
	rooms  map[string]map[string]*Session
	byPeer map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		rooms:  make(map[string]map[string]*Session),
		byPeer: make(map[string]*Session),
	}
}

// Join registers peer in roomID, moving it out of any room it was in before.
func (r *SessionRegistry) Join(peer Peer, roomID, clientID string, identityID *int64) *Session {
	r.Leave(peer.ID())

	s := &Session{Peer: peer, RoomID: roomID, ClientID: clientID, IdentityID: identityID}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Session)
		r.rooms[roomID] = members
	}
	members[peer.ID()] = s
	r.byPeer[peer.ID()] = s
	return s
}

// Leave removes the peer and discards the room entry once it is empty.
func (r *SessionRegistry) Leave(peerID string) (*Session, bool) {
	s, ok := r.byPeer[peerID]
	if !ok {
		return nil, false
	}
	delete(r.byPeer, peerID)

	if members, ok := r.rooms[s.RoomID]; ok {
		delete(members, peerID)
		if len(members) == 0 {
			delete(r.rooms, s.RoomID)
		}
	}
	return s, true
}

func (r *SessionRegistry) Lookup(peerID string) (*Session, bool) {
	s, ok := r.byPeer[peerID]
	return s, ok
}

// Members returns the room's sessions ordered by peer id.
func (r *SessionRegistry) Members(roomID string) []*Session {
	members := r.rooms[roomID]
	out := make([]*Session, 0, len(members))
	for _, s := range members {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer.ID() < out[j].Peer.ID() })
	return out
}

// Identities returns the distinct identity ids connected to the room.
func (r *SessionRegistry) Identities(roomID string) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, s := range r.Members(roomID) {
		if s.IdentityID == nil || seen[*s.IdentityID] {
			continue
		}
		seen[*s.IdentityID] = true
		ids = append(ids, *s.IdentityID)
	}
	return ids
}

// HasRoom reports whether any peer is registered in roomID.
func (r *SessionRegistry) HasRoom(roomID string) bool {
	_, ok := r.rooms[roomID]
	return ok
}

// Counts returns the number of sessions per room.
func (r *SessionRegistry) Counts() map[string]int {
	out := make(map[string]int, len(r.rooms))
	for room, members := range r.rooms {
		out[room] = len(members)
	}
	return out
}

// State is the per-room state the relay handler works on.
type State interface {
	Sessions() *SessionRegistry
	Canvas() CanvasStore
	PendingWords() *archive.PendingWords
}

// Registry is the process-wide State, built once at startup.
type Registry struct {
	sessions *SessionRegistry
	canvas   CanvasStore
	words    *archive.PendingWords
}

// NewRegistry uses an in-memory canvas store when canvas is nil.
func NewRegistry(canvas CanvasStore) *Registry {
	if canvas == nil {
		canvas = NewMemoryCanvasStore()
	}
	return &Registry{
		sessions: NewSessionRegistry(),
		canvas:   canvas,
		words:    archive.NewPendingWords(),
	}
}

func (r *Registry) Sessions() *SessionRegistry { return r.sessions }

func (r *Registry) Canvas() CanvasStore { return r.canvas }

func (r *Registry) PendingWords() *archive.PendingWords { return r.words }
