package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"taskminder/internal/metrics"
)

type ReminderPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type EventPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes reminders older than the retention window regardless of
// their sent state. It never touches the lease fields.
type Sweeper struct {
	reminders ReminderPurger
	events    EventPurger
	retention time.Duration
	batchSize int
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewSweeper builds a sweeper. events may be nil.
func NewSweeper(reminders ReminderPurger, events EventPurger, retention time.Duration, batchSize int, m *metrics.Metrics, log zerolog.Logger) *Sweeper {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		reminders: reminders,
		events:    events,
		retention: retention,
		batchSize: batchSize,
		metrics:   m,
		log:       log.With().Str("comp", "sweeper").Logger(),
	}
}

// Sweep removes stale reminders and returns how many were deleted.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-s.retention)

	deleted, err := s.reminders.DeleteOlderThan(ctx, cutoff, s.batchSize)
	if s.metrics != nil && deleted > 0 {
		s.metrics.SweptReminders.Add(float64(deleted))
	}
	if err != nil {
		s.log.Error().Err(err).Int64("deleted", deleted).Msg("sweep interrupted")
		return deleted, err
	}

	if s.events != nil {
		if n, err := s.events.DeleteOlderThan(ctx, cutoff); err != nil {
			s.log.Warn().Err(err).Msg("purge processed events")
		} else if n > 0 {
			s.log.Debug().Int64("events", n).Msg("purged processed events")
		}
	}

	s.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("retention sweep finished")
	return deleted, nil
}
