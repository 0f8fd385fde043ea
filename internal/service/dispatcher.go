package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskminder/internal/metrics"
	"taskminder/internal/model"
	"taskminder/internal/repository"
)

var (
	// ErrNotClaimed is returned by ForceSend when another worker holds the lease.
	ErrNotClaimed = errors.New("reminder is leased by another worker")
	// ErrAlreadySent is returned by ForceSend for delivered reminders.
	ErrAlreadySent = errors.New("reminder already sent")
)

// Outcome is the per-reminder result of a dispatch attempt.
type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeReleased  Outcome = "released"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeStaleTask Outcome = "stale_task"
	OutcomeStaleUser Outcome = "stale_user"
	OutcomeError     Outcome = "error"
)

type ReminderStore interface {
	FindByID(ctx context.Context, id string) (*model.Reminder, error)
	QueryDueUnsent(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error)
	TryClaim(ctx context.Context, id string, now time.Time, ttl time.Duration, workerID string) (bool, error)
	MarkSent(ctx context.Context, id, channel string, now time.Time) error
	Release(ctx context.Context, id, workerID string, now time.Time) (bool, error)
}

type TaskFinder interface {
	FindByID(ctx context.Context, taskID string) (*model.Task, error)
}

type ProfileFinder interface {
	FindProfile(ctx context.Context, userID string) (*repository.Profile, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, reminder model.Reminder, task model.Task, profile repository.Profile) DeliveryResult
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	// WorkerID prefixes the lease owner of every tick; a random suffix keeps
	// overlapping ticks of one process distinct.
	WorkerID  string
	ClaimTTL  time.Duration
	BatchSize int
}

// TickReport summarizes one dispatcher tick.
type TickReport struct {
	Due      int
	Outcomes map[Outcome]int
}

// ForceResult is the outcome of a manual send.
type ForceResult struct {
	Outcome Outcome `json:"outcome"`
	Channel string  `json:"channel,omitempty"`
}

// Dispatcher pulls due reminders, claims each through the lease, delivers
// and finalizes. It holds no state between ticks.
type Dispatcher struct {
	reminders ReminderStore
	tasks     TaskFinder
	users     ProfileFinder
	router    Deliverer
	cfg       DispatcherConfig
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewDispatcher(reminders ReminderStore, tasks TaskFinder, users ProfileFinder, router Deliverer, cfg DispatcherConfig, m *metrics.Metrics, log zerolog.Logger) *Dispatcher {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "dispatcher"
	}
	return &Dispatcher{
		reminders: reminders,
		tasks:     tasks,
		users:     users,
		router:    router,
		cfg:       cfg,
		metrics:   m,
		log:       log.With().Str("comp", "dispatcher").Logger(),
	}
}

// Tick processes one batch of due reminders concurrently and returns once
// every reminder has been resolved.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	start := time.Now()
	report := TickReport{Outcomes: make(map[Outcome]int)}

	due, err := d.reminders.QueryDueUnsent(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	report.Due = len(due)
	if d.metrics != nil {
		d.metrics.DueBacklog.Set(float64(len(due)))
	}
	if len(due) == 0 {
		return report, nil
	}

	worker := d.cfg.WorkerID + "/" + uuid.NewString()[:8]
	log := d.log.With().Str("worker", worker).Logger()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, reminder := range due {
		wg.Add(1)
		go func(reminder model.Reminder) {
			defer wg.Done()
			outcome := d.process(ctx, log, reminder, now, worker)
			mu.Lock()
			report.Outcomes[outcome]++
			mu.Unlock()
		}(reminder)
	}
	wg.Wait()

	if d.metrics != nil {
		d.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	log.Info().
		Int("due", report.Due).
		Int("sent", report.Outcomes[OutcomeSent]).
		Int("released", report.Outcomes[OutcomeReleased]).
		Int("skipped", report.Outcomes[OutcomeSkipped]).
		Dur("took", time.Since(start)).
		Msg("dispatch tick finished")
	return report, nil
}

func (d *Dispatcher) process(ctx context.Context, log zerolog.Logger, reminder model.Reminder, now time.Time, worker string) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("reminder_id", reminder.ID).Interface("panic", rec).Msg("reminder processing panicked")
			outcome = OutcomeError
		}
		d.record(outcome)
	}()

	claimed, err := d.reminders.TryClaim(ctx, reminder.ID, now, d.cfg.ClaimTTL, worker)
	if err != nil {
		log.Error().Err(err).Str("reminder_id", reminder.ID).Msg("claim failed")
		return OutcomeError
	}
	if !claimed {
		return OutcomeSkipped
	}
	return d.deliverClaimed(ctx, log, reminder, now, worker)
}

// deliverClaimed runs with the lease held by worker.
func (d *Dispatcher) deliverClaimed(ctx context.Context, log zerolog.Logger, reminder model.Reminder, now time.Time, worker string) Outcome {
	log = log.With().
		Str("reminder_id", reminder.ID).
		Str("task_id", reminder.TaskID).
		Str("user_id", reminder.OwnerID).
		Logger()

	task, err := d.tasks.FindByID(ctx, reminder.TaskID)
	if err != nil {
		d.release(ctx, log, reminder.ID, worker, now)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Msg("task no longer exists")
			return OutcomeStaleTask
		}
		log.Error().Err(err).Msg("load task")
		return OutcomeError
	}

	profile, err := d.users.FindProfile(ctx, reminder.OwnerID)
	if err != nil {
		d.release(ctx, log, reminder.ID, worker, now)
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Msg("user no longer exists")
			return OutcomeStaleUser
		}
		log.Error().Err(err).Msg("load user profile")
		return OutcomeError
	}

	result := d.router.Deliver(ctx, reminder, *task, *profile)
	if !result.Delivered {
		d.release(ctx, log, reminder.ID, worker, now)
		log.Info().Msg("reminder not delivered, released for retry")
		return OutcomeReleased
	}

	if err := d.reminders.MarkSent(ctx, reminder.ID, result.Channel, now); err != nil {
		// Delivered but not recorded: the lease expires and a later tick may resend.
		log.Error().Err(err).Str("channel", result.Channel).Msg("mark reminder sent")
		return OutcomeError
	}
	log.Info().Str("channel", result.Channel).Msg("reminder sent")
	return OutcomeSent
}

func (d *Dispatcher) release(ctx context.Context, log zerolog.Logger, id, worker string, now time.Time) {
	held, err := d.reminders.Release(ctx, id, worker, now)
	if err != nil {
		log.Error().Err(err).Msg("release reminder")
		return
	}
	if !held {
		log.Warn().Msg("lease lost before release")
	}
}

func (d *Dispatcher) record(outcome Outcome) {
	if d.metrics != nil {
		d.metrics.RemindersProcessed.WithLabelValues(string(outcome)).Inc()
	}
}

// ForceSend delivers a single reminder outside the tick loop. It still goes
// through the lease and the delivery router.
func (d *Dispatcher) ForceSend(ctx context.Context, reminderID string, now time.Time) (ForceResult, error) {
	reminder, err := d.reminders.FindByID(ctx, reminderID)
	if err != nil {
		return ForceResult{}, err
	}
	if reminder.Sent {
		return ForceResult{}, ErrAlreadySent
	}

	worker := d.cfg.WorkerID + "/force-" + uuid.NewString()[:8]
	claimed, err := d.reminders.TryClaim(ctx, reminder.ID, now, d.cfg.ClaimTTL, worker)
	if err != nil {
		return ForceResult{}, fmt.Errorf("force send: %w", err)
	}
	if !claimed {
		return ForceResult{}, ErrNotClaimed
	}

	log := d.log.With().Str("worker", worker).Logger()
	outcome := d.deliverClaimed(ctx, log, *reminder, now, worker)
	d.record(outcome)

	res := ForceResult{Outcome: outcome}
	if outcome == OutcomeSent {
		if updated, err := d.reminders.FindByID(ctx, reminder.ID); err == nil {
			res.Channel = updated.DeliveryChannel
		}
	}
	return res, nil
}
