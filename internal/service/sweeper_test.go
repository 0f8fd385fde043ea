package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"taskminder/internal/metrics"
	"taskminder/internal/model"
	"taskminder/internal/repository"
)

func TestSweepDeletesOnlyStaleReminders(t *testing.T) {
	db, err := repository.NewDB(":memory:", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	reminders := repository.NewReminderRepository(db)
	events := repository.NewEventRepository(db)
	m := metrics.New(prometheus.NewRegistry())
	ctx := context.Background()
	now := time.Date(2026, 2, 21, 9, 0, 0, 0, time.UTC)

	var stale []string
	for _, age := range []time.Duration{49 * time.Hour, 72 * time.Hour, 30 * 24 * time.Hour} {
		r := &model.Reminder{OwnerID: "u", TaskID: "t", ReminderTime: now.Add(-age)}
		if err := reminders.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
		stale = append(stale, r.ID)
	}
	if err := reminders.MarkSent(ctx, stale[0], model.ChannelPush, now); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	keep := &model.Reminder{OwnerID: "u", TaskID: "t", ReminderTime: now.Add(-47 * time.Hour)}
	if err := reminders.Create(ctx, keep); err != nil {
		t.Fatalf("create: %v", err)
	}

	sweeper := NewSweeper(reminders, events, 48*time.Hour, 2, m, zerolog.Nop())
	deleted, err := sweeper.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	for _, id := range stale {
		if _, err := reminders.FindByID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("stale reminder %s still present: %v", id, err)
		}
	}
	if _, err := reminders.FindByID(ctx, keep.ID); err != nil {
		t.Errorf("reminder inside retention was deleted: %v", err)
	}
	if got := testutil.ToFloat64(m.SweptReminders); got != 3 {
		t.Errorf("swept counter = %v, want 3", got)
	}
}

type failingPurger struct{}

func (failingPurger) DeleteOlderThan(context.Context, time.Time, int) (int64, error) {
	return 0, errors.New("disk I/O error")
}

func TestSweepReportsStoreErrors(t *testing.T) {
	sweeper := NewSweeper(failingPurger{}, nil, time.Hour, 10, nil, zerolog.Nop())
	if _, err := sweeper.Sweep(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error from failing store")
	}
}
