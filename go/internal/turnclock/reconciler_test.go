package turnclock

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeActions struct {
	mu       sync.Mutex
	words    []string
	advances []string
}

func (f *fakeActions) SubmitWord(_ context.Context, roomID, word string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.words = append(f.words, roomID+":"+word)
	return nil
}

func (f *fakeActions) AdvanceDrawer(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advances = append(f.advances, roomID)
	return nil
}

func (f *fakeActions) wordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.words)
}

func (f *fakeActions) advanceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.advances)
}

func at(t time.Time) *time.Time { return &t }

const settle = 100 * time.Millisecond

func newReconciler(host bool) (*Reconciler, *fakeActions, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	actions := &fakeActions{}
	return NewReconciler(Config{IsHost: host}, actions, clock), actions, clock
}

func waiting(chosen time.Time) Observation {
	return Observation{
		RoomID:         "R1",
		Phase:          PhaseWaitingForWord,
		DrawerChosenAt: at(chosen),
		WordOptions:    []string{"apple", "boat", "cloud"},
		LocalIsDrawer:  true,
	}
}

func drawing(drawerIndex int, chosen time.Time) Observation {
	return Observation{
		RoomID:       "R1",
		Phase:        PhaseDrawing,
		DrawerIndex:  drawerIndex,
		WordChosenAt: at(chosen),
	}
}

func TestAutoWordFiresOnceAfterWindow(t *testing.T) {
	r, actions, clock := newReconciler(false)
	obs := waiting(clock.Now())

	r.Observe(obs)
	clock.Advance(14*time.Second + 900*time.Millisecond)
	assert.Zero(t, actions.wordCount())

	clock.Advance(100 * time.Millisecond)
	require.Eventually(t, func() bool { return actions.wordCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"R1:apple"}, actions.words)

	r.Observe(obs)
	clock.Advance(30 * time.Second)
	assert.Never(t, func() bool { return actions.wordCount() > 1 }, settle, 10*time.Millisecond)
}

func TestAutoWordCancelledWhenWordChosen(t *testing.T) {
	r, actions, clock := newReconciler(false)
	chosen := clock.Now()

	r.Observe(waiting(chosen))
	clock.Advance(10 * time.Second)

	obs := waiting(chosen)
	obs.WordChosenAt = at(clock.Now())
	r.Observe(obs)

	clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return actions.wordCount() > 0 }, settle, 10*time.Millisecond)
}

func TestAutoWordOnlyForLocalDrawer(t *testing.T) {
	r, actions, clock := newReconciler(true)
	obs := waiting(clock.Now())
	obs.LocalIsDrawer = false

	r.Observe(obs)
	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return actions.wordCount() > 0 }, settle, 10*time.Millisecond)
}

func TestAutoWordLateObservationFiresImmediately(t *testing.T) {
	r, actions, clock := newReconciler(false)

	r.Observe(waiting(clock.Now().Add(-20 * time.Second)))
	require.Eventually(t, func() bool { return actions.wordCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAutoWordNewDrawerReschedules(t *testing.T) {
	r, actions, clock := newReconciler(false)

	r.Observe(waiting(clock.Now()))
	clock.Advance(10 * time.Second)
	r.Observe(waiting(clock.Now()))

	clock.Advance(5 * time.Second)
	assert.Never(t, func() bool { return actions.wordCount() > 0 }, settle, 10*time.Millisecond, "old timer was replaced")

	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return actions.wordCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestAutoAdvanceHostOnly(t *testing.T) {
	r, actions, clock := newReconciler(false)

	r.Observe(drawing(0, clock.Now()))
	clock.Advance(2 * DefaultRoundDuration)
	assert.Never(t, func() bool { return actions.advanceCount() > 0 }, settle, 10*time.Millisecond)
}

func TestAutoAdvanceOncePerDrawerAndWordTime(t *testing.T) {
	r, actions, clock := newReconciler(true)
	obs := drawing(0, clock.Now())

	r.Observe(obs)
	clock.Advance(79 * time.Second)
	r.Observe(obs)
	assert.Zero(t, actions.advanceCount())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return actions.advanceCount() == 1 }, time.Second, 5*time.Millisecond)

	r.Observe(obs)
	clock.Advance(DefaultRoundDuration)
	assert.Never(t, func() bool { return actions.advanceCount() > 1 }, settle, 10*time.Millisecond)

	next := drawing(1, clock.Now())
	next.RoundDuration = 30 * time.Second
	r.Observe(next)
	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return actions.advanceCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestAutoAdvanceCancelledOnPhaseChange(t *testing.T) {
	r, actions, clock := newReconciler(true)

	r.Observe(drawing(0, clock.Now()))
	clock.Advance(40 * time.Second)
	r.Observe(Observation{RoomID: "R1", Phase: PhaseEnded})

	clock.Advance(time.Minute)
	assert.Never(t, func() bool { return actions.advanceCount() > 0 }, settle, 10*time.Millisecond)
}

func TestMissingTimestampsScheduleNothing(t *testing.T) {
	r, actions, clock := newReconciler(true)

	r.Observe(Observation{RoomID: "R1", Phase: PhaseWaitingForWord, LocalIsDrawer: true, WordOptions: []string{"a"}})
	r.Observe(Observation{RoomID: "R1", Phase: PhaseDrawing})
	clock.Advance(5 * time.Minute)
	assert.Never(t, func() bool { return actions.wordCount()+actions.advanceCount() > 0 }, settle, 10*time.Millisecond)
}

func TestRunStopsTimersOnCancel(t *testing.T) {
	r, actions, clock := newReconciler(true)
	ctx, cancel := context.WithCancel(context.Background())
	observations := make(chan Observation)
	done := make(chan struct{})
	go func() {
		r.Run(ctx, observations)
		close(done)
	}()

	observations <- drawing(0, clock.Now())
	cancel()
	<-done

	clock.Advance(2 * DefaultRoundDuration)
	assert.Never(t, func() bool { return actions.advanceCount() > 0 }, settle, 10*time.Millisecond)
}

func TestCountdown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	obs := waiting(clock.Now().Add(-4500 * time.Millisecond))
	c := NewCountdown(Config{}, func() Observation { return obs }, clock)

	d := c.Current()
	assert.True(t, d.Running)
	assert.Equal(t, 10500*time.Millisecond, d.Remaining)
	assert.Equal(t, 11, d.Seconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := make(chan Display, 4)
	go c.Run(ctx, func(d Display) { ticks <- d })

	first := <-ticks
	assert.Equal(t, 11, first.Seconds)
	clock.Advance(time.Second)
	select {
	case second := <-ticks:
		assert.Equal(t, 10, second.Seconds)
	case <-time.After(time.Second):
		t.Fatal("no tick after advancing the clock")
	}
}

func TestRemainingClampsAtZero(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rem, ok := Remaining(drawing(0, now.Add(-2*time.Minute)), now, Config{})
	assert.True(t, ok)
	assert.Zero(t, rem)

	_, ok = Remaining(Observation{Phase: PhaseOther}, now, Config{})
	assert.False(t, ok)
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		ok   bool
	}{
		{name: "rfc3339", in: "2023-11-14T22:13:20Z", ok: true},
		{name: "seconds string", in: "1700000000", ok: true},
		{name: "seconds int", in: int64(1700000000), ok: true},
		{name: "millis float", in: float64(1700000000000), ok: true},
		{name: "micros number", in: json.Number("1700000000000000"), ok: true},
		{name: "garbage", in: "yesterday"},
		{name: "empty", in: ""},
		{name: "nil", in: nil},
		{name: "negative", in: -5},
		{name: "fractional", in: 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTimestamp(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, want.Equal(got), "got %s", got)
			}
		})
	}
}
