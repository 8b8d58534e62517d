package turnclock

import (
	"context"
	"math"
	"time"

	"github.com/jonboulle/clockwork"
)

// Display is the countdown value shown to the player.
type Display struct {
	RoomID    string
	Phase     Phase
	Remaining time.Duration
	Seconds   int
	Running   bool
}

// Countdown recomputes the displayed time left once per second. It reads observations
// but never touches the reconciler's timers.
type Countdown struct {
	clock  clockwork.Clock
	config Config
	source func() Observation
}

func NewCountdown(cfg Config, source func() Observation, clock clockwork.Clock) *Countdown {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Countdown{clock: clock, config: cfg.withDefaults(), source: source}
}

// Current computes the display value for now.
func (c *Countdown) Current() Display {
	obs := c.source()
	remaining, running := Remaining(obs, c.clock.Now(), c.config)
	return Display{
		RoomID:    obs.RoomID,
		Phase:     obs.Phase,
		Remaining: remaining,
		Seconds:   int(math.Ceil(remaining.Seconds())),
		Running:   running,
	}
}

// Run calls onTick every second until ctx is cancelled.
func (c *Countdown) Run(ctx context.Context, onTick func(Display)) {
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()

	onTick(c.Current())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			onTick(c.Current())
		}
	}
}
