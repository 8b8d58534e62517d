package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doodlegame/doodle/go/internal/turnclock"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// EventTurnPhaseChanged is the ledger event carrying turn phase updates.
const EventTurnPhaseChanged = "TurnPhaseChanged"

// FeedConfig holds configuration for the ledger phase consumer.
type FeedConfig struct {
	URL           string
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		URL:           nats.DefaultURL,
		StreamName:    "LEDGER_EVENTS",
		ConsumerName:  "doodle-player",
		SubjectFilter: "ledger.rooms.>",
		MaxDeliver:    5,
		AckWait:       30 * time.Second,
		MaxAckPending: 100,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// PhaseEvent is the TurnPhaseChanged payload. Timestamps are kept raw because the
// ledger sends RFC3339 strings or epoch integers.
type PhaseEvent struct {
	Phase            string   `json:"phase"`
	Round            int      `json:"round"`
	DrawerIndex      int      `json:"drawerIndex"`
	DrawerID         string   `json:"drawerId"`
	DrawerChosenAt   any      `json:"drawerChosenAt"`
	WordChosenAt     any      `json:"wordChosenAt"`
	WordOptions      []string `json:"wordOptions"`
	RoundDurationSec int      `json:"roundDurationSec"`
}

type envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// DecodeObservation turns a ledger envelope into a reconciler observation. ok is false
// for other event types.
func DecodeObservation(data []byte, localID string) (obs turnclock.Observation, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return obs, false, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	if env.EventType != EventTurnPhaseChanged {
		return obs, false, nil
	}

	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	var ev PhaseEvent
	if err := dec.Decode(&ev); err != nil {
		return obs, false, fmt.Errorf("unmarshal %s payload: %w", env.EventType, err)
	}

	obs = turnclock.Observation{
		RoomID:        env.RoomID,
		Phase:         turnclock.ParsePhase(ev.Phase),
		Round:         ev.Round,
		DrawerIndex:   ev.DrawerIndex,
		DrawerID:      ev.DrawerID,
		WordOptions:   ev.WordOptions,
		RoundDuration: time.Duration(ev.RoundDurationSec) * time.Second,
		LocalIsDrawer: localID != "" && ev.DrawerID == localID,
	}
	if t, ok := turnclock.ParseTimestamp(ev.DrawerChosenAt); ok {
		obs.DrawerChosenAt = &t
	}
	if t, ok := turnclock.ParseTimestamp(ev.WordChosenAt); ok {
		obs.WordChosenAt = &t
	}
	return obs, true, nil
}

// Feed consumes ledger phase events from JetStream.
type Feed struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   FeedConfig
	localID  string
}

func NewFeed(config FeedConfig, localID string) (*Feed, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	f := &Feed{nc: nc, js: js, config: config, localID: localID}
	if err := f.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return f, nil
}

func (f *Feed) ensureConsumer(ctx context.Context) error {
	stream, err := f.js.Stream(ctx, f.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          f.config.ConsumerName,
		Durable:       f.config.ConsumerName,
		Description:   "Doodle player turn phase consumer",
		FilterSubject: f.config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    f.config.MaxDeliver,
		AckWait:       f.config.AckWait,
		MaxAckPending: f.config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", f.config.ConsumerName).
		Str("stream", f.config.StreamName).
		Msg("ledger phase consumer ready")
	f.consumer = consumer
	return nil
}

// Start delivers observations for roomID (every room when empty) until ctx is cancelled.
func (f *Feed) Start(ctx context.Context, roomID string, out chan<- turnclock.Observation) error {
	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := f.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ledger feed shutting down")
			return nil
		case msg := <-messageCh:
			obs, ok, err := DecodeObservation(msg.Data(), f.localID)
			if err != nil {
				// Malformed events will not decode on redelivery either.
				log.Error().Err(err).Str("subject", msg.Subject()).Msg("dropping ledger event")
				_ = msg.Term()
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
			if !ok || (roomID != "" && obs.RoomID != roomID) {
				continue
			}
			select {
			case out <- obs:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (f *Feed) Close() {
	f.nc.Close()
}
