package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/topspeed/backend/internal/metrics"
	"github.com/topspeed/backend/internal/repository"
)

// Sweeper periodically removes rows that can no longer transition:
// consumed or expired challenges, and unverified users past the
// retention window. Expiry itself is still enforced on the verify path;
// the sweeper only keeps the tables from growing.
type Sweeper struct {
	users      repository.UserRepository
	challenges repository.ChallengeRepository
	logger     *slog.Logger
	schedule   cron.Schedule
	retention  time.Duration
}

func NewSweeper(users repository.UserRepository, challenges repository.ChallengeRepository, logger *slog.Logger, cronExpr string, retention time.Duration) (*Sweeper, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cleanup schedule: %w", err)
	}
	return &Sweeper{
		users:      users,
		challenges: challenges,
		logger:     logger.With("component", "sweeper"),
		schedule:   sched,
		retention:  retention,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("sweeper started", "retention", s.retention)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("sweeper: shut down")
			return
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()

	purged, err := s.challenges.DeleteTerminalBefore(ctx, time.Now())
	if err != nil {
		s.logger.Error("sweeper: purge challenges", "error", err)
	} else if purged > 0 {
		s.logger.Info("sweeper: purged terminal challenges", "count", purged)
		metrics.SweeperPurgedTotal.WithLabelValues("challenge").Add(float64(purged))
	}

	cutoff := time.Now().Add(-s.retention)
	removed, err := s.users.DeleteUnverifiedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweeper: remove stale unverified users", "error", err)
	} else if removed > 0 {
		s.logger.Info("sweeper: removed stale unverified users", "count", removed)
		metrics.SweeperPurgedTotal.WithLabelValues("user").Add(float64(removed))
	}

	metrics.SweeperCycleDuration.Observe(time.Since(start).Seconds())
}
