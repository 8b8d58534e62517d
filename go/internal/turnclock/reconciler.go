package turnclock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWordPickWindow = 15 * time.Second
	DefaultRoundDuration  = 80 * time.Second

	// firedRetention bounds how long fired keys are remembered.
	firedRetention = time.Hour
)

// Actions are the ledger mutation entry points a timer may invoke.
type Actions interface {
	SubmitWord(ctx context.Context, roomID, word string) error
	AdvanceDrawer(ctx context.Context, roomID string) error
}

type Config struct {
	// IsHost enables auto-advance of the drawer.
	IsHost         bool
	WordPickWindow time.Duration
	RoundDuration  time.Duration
}

func (c Config) withDefaults() Config {
	if c.WordPickWindow <= 0 {
		c.WordPickWindow = DefaultWordPickWindow
	}
	if c.RoundDuration <= 0 {
		c.RoundDuration = DefaultRoundDuration
	}
	return c
}

type actionKind string

const (
	kindWord    actionKind = "auto_word"
	kindAdvance actionKind = "auto_advance"
)

// actionKey identifies one phase instance. Word picks are keyed by drawerChosenAt,
// drawer advances by (drawerIndex, wordChosenAt).
type actionKey struct {
	kind        actionKind
	roomID      string
	drawerIndex int
	at          int64
}

type schedule struct {
	key    actionKey
	timer  clockwork.Timer
	active bool
}

func (s *schedule) cancel() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.active = false
}

// Reconciler turns ledger phase observations into at most one auto-word and one
// auto-advance timer, each firing at most once per phase instance.
type Reconciler struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	actions Actions
	config  Config
	ctx     context.Context

	word    schedule
	advance schedule
	fired   map[actionKey]time.Time
	last    Observation
}

func NewReconciler(cfg Config, actions Actions, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{
		clock:   clock,
		actions: actions,
		config:  cfg.withDefaults(),
		ctx:     context.Background(),
		fired:   make(map[actionKey]time.Time),
	}
}

// Run applies observations until ctx is cancelled, then cancels outstanding timers.
func (r *Reconciler) Run(ctx context.Context, observations <-chan Observation) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	defer r.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case obs, ok := <-observations:
			if !ok {
				return
			}
			r.Observe(obs)
		}
	}
}

// Stop cancels any scheduled action.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.word.cancel()
	r.advance.cancel()
}

// Last returns the most recent observation.
func (r *Reconciler) Last() Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Observe reconciles timers against the latest ledger state. Redundant observations of
// the same phase instance leave the outstanding timer alone.
func (r *Reconciler) Observe(obs Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last = obs
	now := r.clock.Now()

	if obs.WaitingForWord() && obs.LocalIsDrawer && len(obs.WordOptions) > 0 {
		key := actionKey{kind: kindWord, roomID: obs.RoomID, at: obs.DrawerChosenAt.UnixNano()}
		remaining := max(0, r.config.WordPickWindow-now.Sub(*obs.DrawerChosenAt))
		word, roomID := obs.WordOptions[0], obs.RoomID
		r.reschedule(&r.word, key, remaining, func(ctx context.Context) error {
			return r.actions.SubmitWord(ctx, roomID, word)
		})
	} else if r.word.active {
		r.word.cancel()
		log.Debug().Str("room_id", obs.RoomID).Str("phase", string(obs.Phase)).Msg("auto word cancelled")
	}

	if r.config.IsHost && obs.Drawing() {
		key := actionKey{kind: kindAdvance, roomID: obs.RoomID, drawerIndex: obs.DrawerIndex, at: obs.WordChosenAt.UnixNano()}
		remaining := max(0, obs.roundDuration(r.config.RoundDuration)-now.Sub(*obs.WordChosenAt))
		roomID := obs.RoomID
		r.reschedule(&r.advance, key, remaining, func(ctx context.Context) error {
			return r.actions.AdvanceDrawer(ctx, roomID)
		})
	} else if r.advance.active {
		r.advance.cancel()
		log.Debug().Str("room_id", obs.RoomID).Str("phase", string(obs.Phase)).Msg("auto advance cancelled")
	}
}

func (r *Reconciler) reschedule(s *schedule, key actionKey, after time.Duration, action func(context.Context) error) {
	if _, done := r.fired[key]; done {
		s.cancel()
		return
	}
	if s.active && s.key == key {
		return
	}

	s.cancel()
	s.key = key
	s.active = true

	fire := func() { r.fire(s, key, action) }
	if after <= 0 {
		go fire()
	} else {
		s.timer = r.clock.AfterFunc(after, fire)
	}

	log.Debug().
		Str("room_id", key.roomID).
		Str("action", string(key.kind)).
		Int("drawer_index", key.drawerIndex).
		Dur("after", after).
		Msg("scheduled turn action")
}

func (r *Reconciler) fire(s *schedule, key actionKey, action func(context.Context) error) {
	r.mu.Lock()
	if !s.active || s.key != key {
		r.mu.Unlock()
		return
	}
	if _, done := r.fired[key]; done {
		r.mu.Unlock()
		return
	}
	now := r.clock.Now()
	r.fired[key] = now
	r.pruneFired(now)
	s.active = false
	s.timer = nil
	ctx := r.ctx
	r.mu.Unlock()

	log.Info().
		Str("room_id", key.roomID).
		Str("action", string(key.kind)).
		Int("drawer_index", key.drawerIndex).
		Msg("turn action fired")

	if err := action(ctx); err != nil {
		log.Error().Err(err).Str("room_id", key.roomID).Str("action", string(key.kind)).Msg("turn action failed")
	}
}

func (r *Reconciler) pruneFired(now time.Time) {
	for k, at := range r.fired {
		if now.Sub(at) > firedRetention {
			delete(r.fired, k)
		}
	}
}
