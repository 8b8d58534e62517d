package player

import (
	"context"
	"errors"
	"fmt"

	"github.com/doodlegame/doodle/go/internal/events"
	"github.com/doodlegame/doodle/go/internal/surface"
	"github.com/doodlegame/doodle/go/internal/turnclock"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Relay is the participant's connection to the drawing relay.
type Relay interface {
	surface.Emitter
	Join(roomID, clientID string, identityID *int64) error
	SetWord(roomID, word string, round *int, drawerID, turnID string) error
	PublishBlob(image string, meta events.Metadata, timestamp int64) error
	Run(ctx context.Context, handle func(data []byte)) error
}

type Config struct {
	RoomID     string
	ClientID   string
	IdentityID *int64
	IsHost     bool
	Surface    surface.Config
	TurnClock  turnclock.Config
}

// Session is one headless participant: a drawing surface mirrored through the relay
// and a turn clock driven by the ledger's phase feed.
type Session struct {
	config     Config
	relay      Relay
	ledger     turnclock.Actions
	clock      clockwork.Clock
	controller *surface.Controller
	reconciler *turnclock.Reconciler
	countdown  *turnclock.Countdown

	// owned by Run's observation loop
	turn    turnclock.Observation
	hasTurn bool
}

func NewSession(cfg Config, relay Relay, ledger turnclock.Actions, clock clockwork.Clock) (*Session, error) {
	if relay == nil || ledger == nil {
		return nil, errors.New("player session needs a relay and a ledger")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	cfg.Surface.RoomID = cfg.RoomID
	cfg.Surface.ClientID = cfg.ClientID
	cfg.TurnClock.IsHost = cfg.IsHost

	controller, err := surface.NewController(cfg.Surface, relay, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create drawing surface: %w", err)
	}

	s := &Session{
		config:     cfg,
		relay:      relay,
		ledger:     ledger,
		clock:      clock,
		controller: controller,
	}
	s.reconciler = turnclock.NewReconciler(cfg.TurnClock, &announcingActions{session: s}, clock)
	s.countdown = turnclock.NewCountdown(cfg.TurnClock, s.reconciler.Last, clock)
	return s, nil
}

func (s *Session) Controller() *surface.Controller {
	return s.controller
}

// Run joins the room and processes phase observations until ctx is cancelled or the
// relay connection ends.
func (s *Session) Run(ctx context.Context, observations <-chan turnclock.Observation) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.controller.Close()

	if err := s.relay.Join(s.config.RoomID, s.config.ClientID, s.config.IdentityID); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	relayDone := make(chan error, 1)
	go func() { relayDone <- s.relay.Run(ctx, s.handleFrame) }()

	go s.countdown.Run(ctx, func(d turnclock.Display) {
		if d.Running {
			log.Debug().Str("room_id", d.RoomID).Str("phase", string(d.Phase)).Int("seconds", d.Seconds).Msg("turn countdown")
		}
	})

	reconcilerCh := make(chan turnclock.Observation)
	go s.reconciler.Run(ctx, reconcilerCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-relayDone:
			return err
		case obs, ok := <-observations:
			if !ok {
				return nil
			}
			s.observe(obs)
			select {
			case reconcilerCh <- obs:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	typ, err := events.PeekType(data)
	if err != nil {
		log.Warn().Err(err).Msg("dropping malformed relay frame")
		return
	}

	switch typ {
	case events.TypeBlobPublished:
		log.Info().RawJSON("frame", data).Msg("turn archived")
	case events.TypeBlobError:
		log.Warn().RawJSON("frame", data).Msg("turn archive failed")
	default:
		if err := s.controller.HandleRemote(data); err != nil {
			log.Warn().Err(err).Str("type", string(typ)).Msg("failed to apply relay frame")
		}
	}
}

// observe tracks the local drawer's turn and archives the canvas once it ends.
func (s *Session) observe(obs turnclock.Observation) {
	s.controller.SetDrawer(obs.LocalIsDrawer && obs.Phase == turnclock.PhaseDrawing)

	if s.hasTurn && !sameTurn(s.turn, obs) {
		s.publishTurn()
		s.hasTurn = false
	}
	if obs.LocalIsDrawer && obs.Drawing() && !s.hasTurn {
		s.turn = obs
		s.hasTurn = true
	}
}

func sameTurn(a, b turnclock.Observation) bool {
	return b.Phase == turnclock.PhaseDrawing &&
		a.Round == b.Round &&
		a.DrawerIndex == b.DrawerIndex &&
		b.WordChosenAt != nil && a.WordChosenAt.Equal(*b.WordChosenAt)
}

func turnID(obs turnclock.Observation) string {
	return fmt.Sprintf("%d-%d", obs.Round, obs.DrawerIndex)
}

func (s *Session) publishTurn() {
	image, err := s.controller.Snapshot().DataURL()
	if err != nil {
		log.Error().Err(err).Msg("failed to encode finished canvas")
		return
	}

	// The word is left empty; the relay backfills it from the set_word for this turn.
	meta := events.Metadata{
		events.MetaRoomID:   s.config.RoomID,
		events.MetaRound:    s.turn.Round,
		events.MetaDrawerID: s.config.ClientID,
		events.MetaTurnID:   turnID(s.turn),
		events.MetaWord:     "",
	}
	if err := s.relay.PublishBlob(image, meta, s.clock.Now().UnixMilli()); err != nil {
		log.Error().Err(err).Str("room_id", s.config.RoomID).Msg("failed to request archive")
		return
	}
	log.Info().Str("room_id", s.config.RoomID).Str("turn_id", turnID(s.turn)).Msg("requested turn archive")
}

// announcingActions calls the ledger and, for word picks, tells the relay which word
// the archive should carry.
type announcingActions struct {
	session *Session
}

func (a *announcingActions) SubmitWord(ctx context.Context, roomID, word string) error {
	if err := a.session.ledger.SubmitWord(ctx, roomID, word); err != nil {
		return err
	}

	obs := a.session.reconciler.Last()
	round := obs.Round
	return a.session.relay.SetWord(roomID, word, &round, a.session.config.ClientID, turnID(obs))
}

func (a *announcingActions) AdvanceDrawer(ctx context.Context, roomID string) error {
	return a.session.ledger.AdvanceDrawer(ctx, roomID)
}
