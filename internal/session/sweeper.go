package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"gatehouse.org/internal/obs"
)

// DefaultSweepSchedule runs cleanup every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Sweeper purges expired sessions on a cron schedule.
type Sweeper struct {
	manager *Manager
	cron    *cron.Cron
}

// NewSweeper schedules m.Cleanup on spec. An empty spec uses DefaultSweepSchedule.
func NewSweeper(m *Manager, spec string) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	s := &Sweeper{manager: m, cron: cron.New()}
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("session: schedule sweeper %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce performs a single cleanup pass and returns the purged count.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	n, err := s.manager.Cleanup(ctx)
	if err != nil {
		obs.Logger().WithError(err).Warn("session sweep failed")
		return 0
	}
	if n > 0 {
		obs.Logger().WithField("purged", n).Info("session sweep complete")
	}
	return n
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
