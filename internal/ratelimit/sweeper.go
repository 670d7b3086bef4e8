package ratelimit

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/comigor/relaychat/internal/logger"
)

// Sweeper periodically drops expired windows from a FixedWindow.
type Sweeper struct {
	cron   *cron.Cron
	window *FixedWindow
}

// NewSweeper schedules sweeps of w. schedule uses cron syntax, including
// descriptors such as "@every 1m".
func NewSweeper(w *FixedWindow, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		window: w,
	}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if removed := s.window.Sweep(time.Now()); removed > 0 {
		logger.L.Debug("rate limit windows swept", "removed", removed, "remaining", s.window.Len())
	}
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	logger.L.Info("rate limit sweeper started", "entries", len(s.cron.Entries()))
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	logger.L.Info("rate limit sweeper stopped")
}
