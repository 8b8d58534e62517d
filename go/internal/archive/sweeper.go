package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultSweepSchedule runs every ten minutes. Schedules use the six-field cron format.
const DefaultSweepSchedule = "0 */10 * * * *"

// Sweeper removes artifacts left behind by a crash between write and cleanup.
type Sweeper struct {
	dir      string
	maxAge   time.Duration
	schedule string
	clock    clockwork.Clock
	cron     *cron.Cron
}

// NewSweeper registers the sweep on schedule. An invalid schedule is an error here so
// callers fail at startup rather than when the sweeper starts.
func NewSweeper(dir string, maxAge time.Duration, schedule string, clock clockwork.Clock) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		dir:      dir,
		maxAge:   maxAge,
		schedule: schedule,
		clock:    clock,
		cron:     cron.New(cron.WithSeconds()),
	}
	_, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			log.Error().Err(err).Str("dir", s.dir).Msg("artifact sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule artifact sweep: %w", err)
	}
	return s, nil
}

// Start runs the schedule in the background and returns immediately.
func (s *Sweeper) Start() {
	s.cron.Start()
	log.Info().Str("dir", s.dir).Str("schedule", s.schedule).Dur("max_age", s.maxAge).Msg("artifact sweeper started")
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep deletes artifacts older than maxAge and returns how many it removed.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read artifact dir: %w", err)
	}

	cutoff := s.clock.Now().Add(-s.maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ArtifactSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("artifact", path).Msg("failed to remove orphaned artifact")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Str("dir", s.dir).Int("removed", removed).Msg("orphaned artifacts swept")
	}
	return removed, nil
}
