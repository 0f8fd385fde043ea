package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"taskminder/internal/metrics"
	"taskminder/internal/model"
	"taskminder/internal/repository"
)

type dispatchEnv struct {
	reminders *repository.ReminderRepository
	tasks     *repository.TaskRepository
	users     *repository.UserRepository
	push      *fakePush
	email     *fakeEmail
	metrics   *metrics.Metrics
}

func setupDispatchEnv(t *testing.T) *dispatchEnv {
	t.Helper()
	db, err := repository.NewDB(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &dispatchEnv{
		reminders: repository.NewReminderRepository(db),
		tasks:     repository.NewTaskRepository(db),
		users:     repository.NewUserRepository(db),
		push:      newFakePush(),
		email:     &fakeEmail{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}
}

func (e *dispatchEnv) dispatcher(worker string) *Dispatcher {
	router := NewDeliveryRouter(e.push, e.email, e.users, NewComposer("https://app.example.com"), time.Second, e.metrics, zerolog.Nop())
	return NewDispatcher(e.reminders, e.tasks, e.users, router,
		DispatcherConfig{WorkerID: worker, ClaimTTL: 2 * time.Minute, BatchSize: 200},
		e.metrics, zerolog.Nop())
}

// seed creates a user with the given tokens, a task and a reminder due at due.
func (e *dispatchEnv) seed(t *testing.T, tokens []string, email string, due time.Time) (*model.User, *model.Task, *model.Reminder) {
	t.Helper()
	ctx := context.Background()
	user := &model.User{Email: email, PushRemindersEnabled: len(tokens) > 0}
	if err := e.users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	for _, tok := range tokens {
		if err := e.users.AddPushToken(ctx, user.ID, tok); err != nil {
			t.Fatalf("add token: %v", err)
		}
	}
	task := &model.Task{OwnerID: user.ID, Title: "Water plants"}
	if err := e.tasks.Create(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	rem := &model.Reminder{OwnerID: user.ID, TaskID: task.ID, ReminderTime: due}
	if err := e.reminders.Create(ctx, rem); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return user, task, rem
}

func TestTickDeliversAndIsIdempotent(t *testing.T) {
	env := setupDispatchEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)
	_, _, rem := env.seed(t, []string{"tok"}, "", now.Add(-time.Minute))
	d := env.dispatcher("w1")

	report, err := d.Tick(ctx, now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Due != 1 || report.Outcomes[OutcomeSent] != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	got, _ := env.reminders.FindByID(ctx, rem.ID)
	if !got.Sent || got.DeliveryChannel != model.ChannelPush {
		t.Fatalf("expected reminder sent via push, got sent=%v channel=%q", got.Sent, got.DeliveryChannel)
	}
	if got.ProcessingAt != nil || got.ProcessingBy != "" {
		t.Errorf("lease should be cleared after send")
	}

	for i := 1; i <= 3; i++ {
		report, err = d.Tick(ctx, now.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		if report.Due != 0 {
			t.Fatalf("sent reminder was returned as due: %+v", report)
		}
	}
	if env.push.sendsFor(rem.ID) != 1 {
		t.Fatalf("expected exactly one push for %s, got %d", rem.ID, env.push.sendsFor(rem.ID))
	}
	if got := testutil.ToFloat64(env.metrics.RemindersProcessed.WithLabelValues("sent")); got != 1 {
		t.Errorf("sent counter = %v, want 1", got)
	}
}

func TestTickSkipsFutureReminders(t *testing.T) {
	env := setupDispatchEnv(t)
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)
	env.seed(t, []string{"tok"}, "", now.Add(time.Minute))

	report, err := env.dispatcher("w1").Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Due != 0 || env.push.callCount() != 0 {
		t.Fatalf("future reminder must not be dispatched: %+v", report)
	}
}

func TestTickReleasesUndeliveredForLaterRetry(t *testing.T) {
	env := setupDispatchEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)
	_, _, rem := env.seed(t, []string{"tok"}, "", now.Add(-time.Minute))
	env.push.results["tok"] = errors.New("503 from provider")
	d := env.dispatcher("w1")

	report, err := d.Tick(ctx, now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Outcomes[OutcomeReleased] != 1 {
		t.Fatalf("expected released outcome, got %+v", report)
	}
	got, _ := env.reminders.FindByID(ctx, rem.ID)
	if got.Sent {
		t.Fatal("undelivered reminder must not be marked sent")
	}
	if got.ProcessingAt == nil || !got.ProcessingAt.Equal(now) {
		t.Fatalf("lease should be re-armed at tick time, got %v", got.ProcessingAt)
	}

	// Within the TTL the next tick does not retry.
	report, _ = d.Tick(ctx, now.Add(time.Minute))
	if report.Outcomes[OutcomeSkipped] != 1 || env.push.callCount() != 1 {
		t.Fatalf("retry inside TTL: report %+v, sends %d", report, env.push.callCount())
	}

	// After the TTL it retries, and this time the provider recovers.
	delete(env.push.results, "tok")
	report, _ = d.Tick(ctx, now.Add(2*time.Minute))
	if report.Outcomes[OutcomeSent] != 1 {
		t.Fatalf("expected retry to send, got %+v", report)
	}
}

func TestTickReleasesStaleReferences(t *testing.T) {
	env := setupDispatchEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)

	_, task, staleTask := env.seed(t, []string{"tok"}, "", now.Add(-time.Minute))
	if err := env.tasks.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	_, task2, _ := env.seed(t, []string{"tok2"}, "", now.Add(-time.Minute))
	staleUser := &model.Reminder{OwnerID: "gone", TaskID: task2.ID, ReminderTime: now.Add(-time.Minute)}
	if err := env.reminders.Create(ctx, staleUser); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	report, err := env.dispatcher("w1").Tick(ctx, now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if report.Outcomes[OutcomeStaleTask] != 1 || report.Outcomes[OutcomeStaleUser] != 1 || report.Outcomes[OutcomeSent] != 1 {
		t.Fatalf("unexpected outcomes %+v", report.Outcomes)
	}
	for _, id := range []string{staleTask.ID, staleUser.ID} {
		got, _ := env.reminders.FindByID(ctx, id)
		if got.Sent {
			t.Errorf("stale reminder %s must not be marked sent", id)
		}
		if got.ProcessingAt == nil {
			t.Errorf("stale reminder %s should carry a re-armed lease", id)
		}
	}
}

func TestOverlappingTicksDeliverEachReminderOnce(t *testing.T) {
	env := setupDispatchEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 20; i++ {
		_, _, rem := env.seed(t, []string{fmt.Sprintf("tok-%d", i)}, "", now.Add(-time.Duration(i)*time.Second))
		ids = append(ids, rem.ID)
	}

	dispatchers := []*Dispatcher{env.dispatcher("a"), env.dispatcher("b"), env.dispatcher("c")}
	var wg sync.WaitGroup
	for _, d := range dispatchers {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			if _, err := d.Tick(ctx, now); err != nil {
				t.Errorf("Tick failed: %v", err)
			}
		}(d)
	}
	wg.Wait()

	for _, id := range ids {
		if n := env.push.sendsFor(id); n != 1 {
			t.Errorf("reminder %s delivered %d times, want 1", id, n)
		}
	}
}

func TestForceSend(t *testing.T) {
	env := setupDispatchEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)
	_, _, rem := env.seed(t, nil, "u@example.com", now.Add(time.Hour))
	d := env.dispatcher("ops")

	res, err := d.ForceSend(ctx, rem.ID, now)
	if err != nil {
		t.Fatalf("ForceSend failed: %v", err)
	}
	if res.Outcome != OutcomeSent || res.Channel != model.ChannelEmail {
		t.Fatalf("unexpected result %+v", res)
	}
	if env.email.count() != 1 {
		t.Fatalf("expected one email, got %d", env.email.count())
	}

	if _, err := d.ForceSend(ctx, rem.ID, now); !errors.Is(err, ErrAlreadySent) {
		t.Errorf("expected ErrAlreadySent, got %v", err)
	}
	if _, err := d.ForceSend(ctx, "missing", now); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, _, leased := env.seed(t, nil, "v@example.com", now)
	if ok, _ := env.reminders.TryClaim(ctx, leased.ID, now, 2*time.Minute, "other"); !ok {
		t.Fatal("setup claim failed")
	}
	if _, err := d.ForceSend(ctx, leased.ID, now.Add(time.Minute)); !errors.Is(err, ErrNotClaimed) {
		t.Errorf("expected ErrNotClaimed, got %v", err)
	}
}
