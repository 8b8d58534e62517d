package relay

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/doodlegame/doodle/go/internal/accounts"
	"github.com/doodlegame/doodle/go/internal/archive"
	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/doodlegame/doodle/go/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Archiver publishes a finished canvas and returns its content hash.
type Archiver interface {
	Archive(ctx context.Context, doc archive.Document) (string, error)
}

// HistoryStore is the append-only log of archives each identity witnessed.
type HistoryStore interface {
	AppendHistory(ctx context.Context, records []store.HistoryRecord) error
	RecordArchive(ctx context.Context, roomID, hash string, identityIDs []int64) error
	HistoryByDisplayName(ctx context.Context, displayName string) ([]store.HistoryRecord, error)
}

// Accounts handles register and login.
type Accounts interface {
	Register(ctx context.Context, displayName, secret string) (store.Identity, error)
	Login(ctx context.Context, displayName, secret string) (store.Identity, error)
}

// Announcer tells other services an archive was published.
type Announcer interface {
	Announce(ctx context.Context, ann archive.Announcement) error
}

// Handler applies client messages to the relay state. Every method must be called from
// the single relay loop; slow work is handed to async and its result re-enters the loop
// through post.
type Handler struct {
	state     State
	archiver  Archiver
	history   HistoryStore
	accounts  Accounts
	announcer Announcer
	clock     clockwork.Clock

	async func(func())
	post  func(func())
}

type HandlerOption func(*Handler)

func WithAnnouncer(a Announcer) HandlerOption {
	return func(h *Handler) { h.announcer = a }
}

func WithClock(c clockwork.Clock) HandlerOption {
	return func(h *Handler) { h.clock = c }
}

// WithExecutor sets how slow work runs and how its results get back onto the loop.
func WithExecutor(async, post func(func())) HandlerOption {
	return func(h *Handler) {
		h.async = async
		h.post = post
	}
}

// NewHandler runs slow work inline unless WithExecutor is given.
func NewHandler(state State, archiver Archiver, history HistoryStore, accts Accounts, opts ...HandlerOption) *Handler {
	inline := func(f func()) { f() }
	h := &Handler{
		state:    state,
		archiver: archiver,
		history:  history,
		accounts: accts,
		clock:    clockwork.NewRealClock(),
		async:    inline,
		post:     inline,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleMessage processes one text frame from peer. Malformed or unknown frames are
// logged and dropped; the connection stays open.
func (h *Handler) HandleMessage(ctx context.Context, peer Peer, data []byte) {
	typ, err := events.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", peer.ID()).Msg("dropping malformed message")
		return
	}

	switch {
	case typ.IsBroadcast(), typ == events.TypeSnapshot, typ == events.TypeSetWord:
		h.handleCanvasMessage(ctx, peer, typ, data)
	default:
		h.handleControlMessage(ctx, peer, typ, data)
	}
}

// handleCanvasMessage reads only the fields the relay acts on, so drawing frames are
// forwarded byte for byte whatever else they carry.
func (h *Handler) handleCanvasMessage(ctx context.Context, peer Peer, typ events.Type, data []byte) {
	fields, err := events.DecodeFields(data)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", peer.ID()).Str("type", string(typ)).Msg("dropping malformed message")
		return
	}
	roomID, _ := fields.RoomID()
	roomID = h.roomOf(peer, roomID)

	log.Debug().
		Str("connection_id", peer.ID()).
		Str("type", string(typ)).
		Str("room_id", roomID).
		Msg("relay message")

	switch typ {
	case events.TypeClear:
		h.handleClear(ctx, peer, roomID, fields, data)
	case events.TypeSnapshot:
		h.handleSnapshot(ctx, peer, roomID, fields)
	case events.TypeSetWord:
		h.handleSetWord(peer, roomID, fields)
	default:
		h.broadcast(roomID, peer, data)
	}
}

func (h *Handler) handleControlMessage(ctx context.Context, peer Peer, typ events.Type, data []byte) {
	var msg events.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("connection_id", peer.ID()).Str("type", string(typ)).Msg("dropping malformed message")
		return
	}

	log.Debug().
		Str("connection_id", peer.ID()).
		Str("type", string(typ)).
		Str("room_id", msg.RoomID).
		Msg("relay message")

	switch typ {
	case events.TypeJoin:
		h.handleJoin(ctx, peer, msg)
	case events.TypeRequestSync:
		h.handleRequestSync(ctx, peer, msg)
	case events.TypePublishBlob:
		h.handlePublish(ctx, peer, msg)
	case events.TypeSaveHistory:
		h.handleSaveHistory(ctx, peer, msg)
	case events.TypeGetHistory:
		h.handleGetHistory(ctx, peer, msg)
	case events.TypeLeave:
		h.handleLeave(peer, msg)
	case events.TypeRegister, events.TypeLogin:
		h.handleAuth(ctx, peer, msg)
	default:
		log.Warn().Str("connection_id", peer.ID()).Str("type", string(typ)).Msg("dropping unknown message type")
	}
}

// Disconnect forgets the peer. The room canvas is kept.
func (h *Handler) Disconnect(peer Peer) {
	if s, ok := h.state.Sessions().Leave(peer.ID()); ok {
		log.Info().Str("connection_id", peer.ID()).Str("room_id", s.RoomID).Msg("peer disconnected")
	}
}

func (h *Handler) roomOf(peer Peer, roomID string) string {
	if roomID != "" {
		return roomID
	}
	if s, ok := h.state.Sessions().Lookup(peer.ID()); ok {
		return s.RoomID
	}
	return ""
}

func (h *Handler) producerOf(peer Peer, drawerID string) string {
	if drawerID != "" {
		return drawerID
	}
	if s, ok := h.state.Sessions().Lookup(peer.ID()); ok && s.ClientID != "" {
		return s.ClientID
	}
	return peer.ID()
}

func (h *Handler) handleJoin(ctx context.Context, peer Peer, msg events.ClientMessage) {
	if msg.RoomID == "" {
		log.Warn().Str("connection_id", peer.ID()).Msg("join without roomId")
		return
	}

	h.state.Sessions().Join(peer, msg.RoomID, msg.ClientID, msg.IdentityID)

	state, err := h.state.Canvas().PutIfAbsent(ctx, msg.RoomID, BlankCanvas("", h.clock.Now()))
	if err != nil {
		log.Error().Err(err).Str("room_id", msg.RoomID).Msg("failed to load canvas on join")
		state = BlankCanvas("", h.clock.Now())
	}

	log.Info().
		Str("connection_id", peer.ID()).
		Str("room_id", msg.RoomID).
		Str("client_id", msg.ClientID).
		Int("members", len(h.state.Sessions().Members(msg.RoomID))).
		Msg("peer joined room")

	h.reply(peer, events.JoinedPayload{Type: events.TypeJoined, RoomID: msg.RoomID, ClientID: msg.ClientID})
	h.sendCanvas(peer, state)
}

func (h *Handler) handleRequestSync(ctx context.Context, peer Peer, msg events.ClientMessage) {
	roomID := h.roomOf(peer, msg.RoomID)
	if roomID == "" {
		log.Warn().Str("connection_id", peer.ID()).Msg("request_sync without room")
		return
	}

	state, ok, err := h.state.Canvas().Get(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to load canvas for sync")
		return
	}
	if !ok {
		state = BlankCanvas("", h.clock.Now())
	}
	h.sendCanvas(peer, state)
}

func (h *Handler) sendCanvas(peer Peer, state CanvasState) {
	if state.Kind == CanvasSnapshot && state.Image != "" {
		h.reply(peer, events.SyncPayload{
			Type:      events.TypeSync,
			Image:     state.Image,
			UpdatedAt: state.UpdatedAt.UnixMilli(),
			DrawerID:  state.ProducerID,
		})
		return
	}
	h.reply(peer, events.SyncClearPayload{
		Type:      events.TypeSyncClear,
		UpdatedAt: state.UpdatedAt.UnixMilli(),
		DrawerID:  state.ProducerID,
	})
}

func (h *Handler) handleClear(ctx context.Context, peer Peer, roomID string, fields events.Metadata, data []byte) {
	if roomID == "" {
		log.Warn().Str("connection_id", peer.ID()).Msg("clear without room")
		return
	}

	drawerID, _ := fields.DrawerID()
	if err := h.state.Canvas().Put(ctx, roomID, BlankCanvas(h.producerOf(peer, drawerID), h.clock.Now())); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to store cleared canvas")
	}
	h.broadcast(roomID, peer, data)
}

func (h *Handler) handleSnapshot(ctx context.Context, peer Peer, roomID string, fields events.Metadata) {
	image, _ := fields.Field("image")
	if roomID == "" || image == "" {
		log.Warn().Str("connection_id", peer.ID()).Msg("snapshot without room or image")
		return
	}

	drawerID, _ := fields.DrawerID()
	state := SnapshotCanvas(image, h.producerOf(peer, drawerID), h.clock.Now())
	if err := h.state.Canvas().Put(ctx, roomID, state); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to store snapshot")
		return
	}
	log.Debug().Str("room_id", roomID).Int("bytes", len(image)).Msg("snapshot stored")
}

func (h *Handler) handleSetWord(peer Peer, roomID string, fields events.Metadata) {
	word := fields.Word()
	if roomID == "" || word == "" {
		log.Warn().Str("connection_id", peer.ID()).Msg("set_word without room or word")
		return
	}

	assertion := archive.WordAssertion{Word: word, ReceivedAt: h.clock.Now()}
	if round, ok := fields.Round(); ok {
		assertion.Round = &round
	}
	assertion.DrawerID, _ = fields.DrawerID()
	assertion.TurnID, _ = fields.TurnID()

	h.state.PendingWords().Put(roomID, assertion)
	log.Info().Str("room_id", roomID).Str("drawer_id", assertion.DrawerID).Str("turn_id", assertion.TurnID).Msg("pending word recorded")
}

func (h *Handler) handlePublish(ctx context.Context, peer Peer, msg events.ClientMessage) {
	doc := archive.Document{Image: msg.Image}
	if p := msg.Payload; p != nil {
		if p.Image != "" {
			doc.Image = p.Image
		}
		doc.Meta = p.Meta
		doc.Timestamp = p.Timestamp
	}

	roomID := h.roomOf(peer, msg.RoomID)
	if roomID == "" {
		roomID, _ = doc.Meta.RoomID()
	}

	if doc.Image == "" {
		h.reply(peer, events.ErrorPayload{Type: events.TypeBlobError, Message: archive.ErrEmptyImage.Error()})
		return
	}
	if roomID != "" {
		doc.Meta = h.state.PendingWords().Backfill(roomID, doc.Meta)
	}
	word := doc.Meta.Word()

	log.Info().Str("connection_id", peer.ID()).Str("room_id", roomID).Bool("has_word", word != "").Msg("publishing archive")

	h.async(func() {
		hash, err := h.archiver.Archive(ctx, doc)
		h.post(func() {
			h.finishPublish(ctx, peer, roomID, word, hash, err)
		})
	})
}

func (h *Handler) finishPublish(ctx context.Context, peer Peer, roomID, word, hash string, err error) {
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("archive publish failed")
		h.reply(peer, events.ErrorPayload{Type: events.TypeBlobError, Message: err.Error()})
		return
	}

	h.reply(peer, events.BlobPublishedPayload{Type: events.TypeBlobPublished, Hash: hash})
	if roomID == "" {
		return
	}

	if h.state.PendingWords().ClearIfWord(roomID, word) {
		log.Debug().Str("room_id", roomID).Msg("pending word consumed")
	}

	identities := h.state.Sessions().Identities(roomID)
	publishedAt := h.clock.Now()
	h.async(func() {
		if len(identities) > 0 {
			if err := h.history.RecordArchive(ctx, roomID, hash, identities); err != nil {
				log.Error().Err(err).Str("room_id", roomID).Str("hash", hash).Msg("failed to record archive history")
			}
		}
		if h.announcer != nil {
			ann := archive.Announcement{RoomID: roomID, Hash: hash, Identities: identities, PublishedAt: publishedAt}
			if err := h.announcer.Announce(ctx, ann); err != nil {
				log.Error().Err(err).Str("room_id", roomID).Msg("failed to announce archive")
			}
		}
	})
}

func (h *Handler) handleSaveHistory(ctx context.Context, peer Peer, msg events.ClientMessage) {
	if msg.IdentityID == nil || msg.RoomID == "" || len(msg.Hashes) == 0 {
		log.Warn().Str("connection_id", peer.ID()).Msg("save_history missing identityId, roomId or hashes")
		return
	}

	records := make([]store.HistoryRecord, 0, len(msg.Hashes))
	for _, hash := range msg.Hashes {
		if hash == "" {
			continue
		}
		records = append(records, store.HistoryRecord{IdentityID: *msg.IdentityID, RoomID: msg.RoomID, ArtifactHash: hash})
	}

	identityID := *msg.IdentityID
	h.async(func() {
		if err := h.history.AppendHistory(ctx, records); err != nil {
			log.Error().Err(err).Int64("identity_id", identityID).Msg("failed to save history")
			return
		}
		log.Info().Int64("identity_id", identityID).Int("records", len(records)).Msg("history saved")
	})
}

func (h *Handler) handleGetHistory(ctx context.Context, peer Peer, msg events.ClientMessage) {
	if msg.DisplayName == "" {
		h.reply(peer, events.ErrorPayload{Type: events.TypeHistoryError, Message: "displayName is required"})
		return
	}

	name := msg.DisplayName
	h.async(func() {
		records, err := h.history.HistoryByDisplayName(ctx, name)
		h.post(func() {
			if err != nil {
				if !errors.Is(err, store.ErrIdentityNotFound) {
					log.Error().Err(err).Str("display_name", name).Msg("failed to load history")
				}
				h.reply(peer, events.ErrorPayload{Type: events.TypeHistoryError, Message: err.Error()})
				return
			}
			h.reply(peer, events.HistoryResultPayload{
				Type:        events.TypeHistoryResult,
				DisplayName: name,
				History:     HistoryEntries(records),
			})
		})
	})
}

// HistoryEntries converts store records to their wire form.
func HistoryEntries(records []store.HistoryRecord) []events.HistoryEntry {
	out := make([]events.HistoryEntry, 0, len(records))
	for _, r := range records {
		out = append(out, events.HistoryEntry{
			ArtifactHash: r.ArtifactHash,
			Timestamp:    r.Timestamp.UnixMilli(),
			RoomID:       r.RoomID,
		})
	}
	return out
}

func (h *Handler) handleLeave(peer Peer, msg events.ClientMessage) {
	s, ok := h.state.Sessions().Lookup(peer.ID())
	if !ok {
		return
	}
	if msg.RoomID != "" && msg.RoomID != s.RoomID {
		log.Warn().Str("connection_id", peer.ID()).Str("room_id", msg.RoomID).Msg("leave for a room the peer is not in")
		return
	}
	h.state.Sessions().Leave(peer.ID())
	log.Info().Str("connection_id", peer.ID()).Str("room_id", s.RoomID).Msg("peer left room")
}

func (h *Handler) handleAuth(ctx context.Context, peer Peer, msg events.ClientMessage) {
	kind, name, secret := msg.Type, msg.DisplayName, msg.Secret
	h.async(func() {
		var (
			identity store.Identity
			err      error
		)
		if kind == events.TypeRegister {
			identity, err = h.accounts.Register(ctx, name, secret)
		} else {
			identity, err = h.accounts.Login(ctx, name, secret)
		}
		h.post(func() {
			if err != nil {
				if !isCredentialError(err) {
					log.Error().Err(err).Str("type", string(kind)).Msg("auth failed")
				}
				h.reply(peer, events.ErrorPayload{Type: events.TypeAuthError, Message: err.Error()})
				return
			}
			h.reply(peer, events.AuthSuccessPayload{
				Type:        events.TypeAuthSuccess,
				IdentityID:  identity.ID,
				DisplayName: identity.DisplayName,
			})
		})
	})
}

func isCredentialError(err error) bool {
	return errors.Is(err, accounts.ErrIncorrectSecret) ||
		errors.Is(err, accounts.ErrDisplayNameTaken) ||
		errors.Is(err, accounts.ErrInvalidDisplayName) ||
		errors.Is(err, accounts.ErrEmptySecret)
}

// broadcast forwards data verbatim to everyone in the room except the sender.
func (h *Handler) broadcast(roomID string, sender Peer, data []byte) {
	if roomID == "" {
		log.Warn().Str("connection_id", sender.ID()).Msg("broadcast without room")
		return
	}

	delivered := 0
	for _, s := range h.state.Sessions().Members(roomID) {
		if s.Peer.ID() == sender.ID() {
			continue
		}
		if s.Peer.Send(data) {
			delivered++
		}
	}
	log.Debug().Str("room_id", roomID).Int("delivered", delivered).Msg("broadcast")
}

func (h *Handler) reply(peer Peer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	peer.Send(data)
}
