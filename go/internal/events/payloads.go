package events

import (
	"encoding/json"
	"fmt"
)

// Wire payload types shared between the relay, the relay client and the drawing surface.

// Type discriminates every text frame exchanged with the relay.
type Type string

// Client -> relay
const (
	TypeJoin        Type = "join"
	TypeRequestSync Type = "request_sync"
	TypeDraw        Type = "draw"
	TypeFill        Type = "fill"
	TypeClear       Type = "clear"
	TypeUndo        Type = "undo"
	TypeStrokeEnd   Type = "strokeEnd"
	TypeSnapshot    Type = "snapshot"
	TypeSetWord     Type = "set_word"
	TypePublishBlob Type = "publish_blob"
	TypeSaveHistory Type = "save_history"
	TypeGetHistory  Type = "get_history"
	TypeLeave       Type = "leave"
	TypeRegister    Type = "register"
	TypeLogin       Type = "login"
)

// Relay -> client
const (
	TypeJoined        Type = "joined"
	TypeSync          Type = "sync"
	TypeSyncClear     Type = "sync_clear"
	TypeBlobPublished Type = "blob_published"
	TypeBlobError     Type = "blob_error"
	TypeHistoryResult Type = "history_result"
	TypeHistoryError  Type = "history_error"
	TypeAuthSuccess   Type = "auth_success"
	TypeAuthError     Type = "auth_error"
)

// IsBroadcast reports whether frames of this type are relayed verbatim to the rest of the room.
func (t Type) IsBroadcast() bool {
	switch t {
	case TypeDraw, TypeFill, TypeClear, TypeUndo, TypeStrokeEnd:
		return true
	}
	return false
}

// Envelope is the minimal view of a frame used to route it.
type Envelope struct {
	Type Type `json:"type"`
}

// PeekType extracts the discriminator without decoding the rest of the frame.
func PeekType(data []byte) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", fmt.Errorf("frame has no type")
	}
	return env.Type, nil
}

// ClientMessage is the union of the fields carried by session, archive, history and
// account requests. Drawing frames are never decoded into it.
type ClientMessage struct {
	Type        Type            `json:"type"`
	RoomID      string          `json:"roomId,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	IdentityID  *int64          `json:"identityId,omitempty"`
	Image       string          `json:"image,omitempty"`
	Payload     *ArchivePayload `json:"payload,omitempty"`
	Hashes      []string        `json:"hashes,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Secret      string          `json:"secret,omitempty"`
}

// DrawPayload is one brush/eraser segment. Normalized coordinates are fractions of the
// producer's surface; pixel coordinates are kept for peers that predate normalization.
type DrawPayload struct {
	Type       Type     `json:"type"`
	RoomID     string   `json:"roomId"`
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	PrevX      float64  `json:"prevX"`
	PrevY      float64  `json:"prevY"`
	NX         *float64 `json:"nx,omitempty"`
	NY         *float64 `json:"ny,omitempty"`
	NPrevX     *float64 `json:"nprevX,omitempty"`
	NPrevY     *float64 `json:"nprevY,omitempty"`
	Color      string   `json:"color"`
	LineWidth  float64  `json:"lineWidth"`
	LineWidthN *float64 `json:"lineWidthN,omitempty"`
	DrawerID   string   `json:"drawerId"`
}

// FillPayload is a flood fill seeded at one point.
type FillPayload struct {
	Type     Type     `json:"type"`
	RoomID   string   `json:"roomId"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	NX       *float64 `json:"nx,omitempty"`
	NY       *float64 `json:"ny,omitempty"`
	Color    string   `json:"color"`
	DrawerID string   `json:"drawerId"`
}

// ControlPayload carries clear, undo and strokeEnd.
type ControlPayload struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	DrawerID string `json:"drawerId"`
}

// SnapshotPayload stores the full canvas for catch-up. It is never broadcast.
type SnapshotPayload struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	DrawerID string `json:"drawerId"`
	Image    string `json:"image"`
}

// RequestSyncPayload asks the relay to resend the room canvas.
type RequestSyncPayload struct {
	Type   Type   `json:"type"`
	RoomID string `json:"roomId"`
}

// JoinPayload registers a connection in a room.
type JoinPayload struct {
	Type       Type   `json:"type"`
	RoomID     string `json:"roomId"`
	ClientID   string `json:"clientId"`
	IdentityID *int64 `json:"identityId,omitempty"`
}

// LeavePayload deregisters a connection.
type LeavePayload struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// SetWordPayload declares the drawer's word for later archive enrichment.
type SetWordPayload struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	Word     string `json:"word"`
	Round    *int   `json:"round,omitempty"`
	DrawerID string `json:"drawerId,omitempty"`
	TurnID   string `json:"turnId,omitempty"`
}

// PublishBlobPayload requests an archive of a finished canvas.
type PublishBlobPayload struct {
	Type    Type            `json:"type"`
	Image   string          `json:"image,omitempty"`
	Payload *ArchivePayload `json:"payload,omitempty"`
}

// ArchivePayload is the enriched form of publish_blob.
type ArchivePayload struct {
	Image     string   `json:"image"`
	Meta      Metadata `json:"meta,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
}

// JoinedPayload acknowledges a join.
type JoinedPayload struct {
	Type     Type   `json:"type"`
	RoomID   string `json:"roomId"`
	ClientID string `json:"clientId"`
}

// SyncPayload carries the room's last snapshot. UpdatedAt is epoch milliseconds.
type SyncPayload struct {
	Type      Type   `json:"type"`
	Image     string `json:"image"`
	UpdatedAt int64  `json:"updatedAt"`
	DrawerID  string `json:"drawerId"`
}

// SyncClearPayload tells a client the room canvas is blank.
type SyncClearPayload struct {
	Type      Type   `json:"type"`
	UpdatedAt int64  `json:"updatedAt"`
	DrawerID  string `json:"drawerId"`
}

// BlobPublishedPayload returns the durable hash of an archive.
type BlobPublishedPayload struct {
	Type Type   `json:"type"`
	Hash string `json:"hash"`
}

// ErrorPayload is shared by blob_error, history_error and auth_error.
type ErrorPayload struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
}

// HistoryEntry is one archived drawing a participant witnessed. Timestamp is epoch milliseconds.
type HistoryEntry struct {
	ArtifactHash string `json:"artifactHash"`
	Timestamp    int64  `json:"timestamp"`
	RoomID       string `json:"roomId"`
}

// HistoryResultPayload answers get_history.
type HistoryResultPayload struct {
	Type        Type           `json:"type"`
	DisplayName string         `json:"displayName"`
	History     []HistoryEntry `json:"history"`
}

// AuthSuccessPayload answers register and login.
type AuthSuccessPayload struct {
	Type        Type   `json:"type"`
	IdentityID  int64  `json:"identityId"`
	DisplayName string `json:"displayName"`
}
