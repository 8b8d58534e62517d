package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventArchivePublished is the event type carried in announcement envelopes.
const EventArchivePublished = "ArchivePublished"

// Announcement describes a successfully published archive.
type Announcement struct {
	RoomID      string    `json:"roomId"`
	Hash        string    `json:"hash"`
	Identities  []int64   `json:"identities"`
	PublishedAt time.Time `json:"publishedAt"`
}

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	Replicas        int
	DuplicateWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "DOODLE_ARCHIVES",
		SubjectPrefix:   "doodle.archives",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          30 * 24 * time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// JetStreamAnnouncer publishes ArchivePublished events, one subject per room.
type JetStreamAnnouncer struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamAnnouncer(cfg JetStreamConfig) (*JetStreamAnnouncer, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	a := &JetStreamAnnouncer{nc: nc, js: js, config: cfg}
	if err := a.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return a, nil
}

func (a *JetStreamAnnouncer) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        a.config.StreamName,
		Description: "Published drawing archives",
		Subjects:    []string{a.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      a.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    a.config.Replicas,
		Duplicates:  a.config.DuplicateWindow,
	}

	if _, err := a.js.Stream(ctx, a.config.StreamName); err != nil {
		if _, err := a.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", a.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	if _, err := a.js.UpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Subject returns the subject announcements for roomID are published on.
func (a *JetStreamAnnouncer) Subject(roomID string) string {
	return SubjectFor(a.config.SubjectPrefix, roomID)
}

// SubjectFor builds prefix.room, replacing characters NATS treats as tokens.
func SubjectFor(prefix, roomID string) string {
	safe := make([]rune, 0, len(roomID))
	for _, r := range roomID {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			safe = append(safe, '_')
		default:
			safe = append(safe, r)
		}
	}
	if len(safe) == 0 {
		return prefix + "._"
	}
	return prefix + "." + string(safe)
}

func (a *JetStreamAnnouncer) Announce(ctx context.Context, ann Announcement) error {
	eventID := uuid.NewString()
	payload, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}

	env := map[string]interface{}{
		"eventId":   eventID,
		"eventType": EventArchivePublished,
		"roomId":    ann.RoomID,
		"timestamp": ann.PublishedAt.UTC(),
		"payload":   json.RawMessage(payload),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := a.Subject(ann.RoomID)
	ack, err := a.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{EventArchivePublished},
			"Room-ID":    []string{ann.RoomID},
			"Event-ID":   []string{eventID},
		},
	},
		// the hash identifies the artifact, so a repeated announcement deduplicates
		jetstream.WithMsgID(ann.RoomID+":"+ann.Hash),
		jetstream.WithExpectStream(a.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Info().
		Str("subject", subject).
		Str("hash", ann.Hash).
		Uint64("sequence", ack.Sequence).
		Msg("archive announced")
	return nil
}

func (a *JetStreamAnnouncer) Close() error {
	if a.nc != nil {
		a.nc.Close()
	}
	return nil
}
