package turnclock

import (
	"time"
)

// Phase is the ledger's turn phase as seen locally.
type Phase string

const (
	PhaseOther          Phase = "Other"
	PhaseWaitingForWord Phase = "WaitingForWord"
	PhaseDrawing        Phase = "Drawing"
	PhaseEnded          Phase = "Ended"
)

// ParsePhase maps ledger phase names; unknown names are PhaseOther.
func ParsePhase(s string) Phase {
	switch Phase(s) {
	case PhaseWaitingForWord, PhaseDrawing, PhaseEnded:
		return Phase(s)
	}
	switch s {
	case "ChoosingWord", "WAITING_FOR_WORD":
		return PhaseWaitingForWord
	case "DRAWING":
		return PhaseDrawing
	case "GameEnded", "ENDED":
		return PhaseEnded
	}
	return PhaseOther
}

// Observation is one read of the ledger's turn state for a room. Missing or
// unparseable timestamps are nil.
type Observation struct {
	RoomID         string
	Phase          Phase
	Round          int
	DrawerIndex    int
	DrawerID       string
	DrawerChosenAt *time.Time
	WordChosenAt   *time.Time
	WordOptions    []string
	RoundDuration  time.Duration
	LocalIsDrawer  bool
}

// WaitingForWord reports whether a drawer was picked and has not yet chosen a word.
func (o Observation) WaitingForWord() bool {
	return o.Phase == PhaseWaitingForWord && o.DrawerChosenAt != nil && o.WordChosenAt == nil
}

// Drawing reports whether a word was chosen and the drawing clock is running.
func (o Observation) Drawing() bool {
	return o.Phase == PhaseDrawing && o.WordChosenAt != nil
}

func (o Observation) roundDuration(def time.Duration) time.Duration {
	if o.RoundDuration > 0 {
		return o.RoundDuration
	}
	return def
}

// Remaining derives the time left in the current phase from the authoritative start
// timestamps. ok is false when there is no running clock.
func Remaining(o Observation, now time.Time, cfg Config) (time.Duration, bool) {
	cfg = cfg.withDefaults()
	switch {
	case o.WaitingForWord():
		return max(0, cfg.WordPickWindow-now.Sub(*o.DrawerChosenAt)), true
	case o.Drawing():
		return max(0, o.roundDuration(cfg.RoundDuration)-now.Sub(*o.WordChosenAt)), true
	}
	return 0, false
}
