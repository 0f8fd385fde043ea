package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"taskminder/internal/model"
)

// ReminderRepository is the shared reminder backlog. All mutation is scoped
// to a single record: the lease claim, the sent mark and the release.
type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Create(ctx context.Context, reminder *model.Reminder) error {
	if err := r.db.WithContext(ctx).Create(reminder).Error; err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// FindByID returns the reminder or ErrNotFound.
func (r *ReminderRepository) FindByID(ctx context.Context, id string) (*model.Reminder, error) {
	var reminder model.Reminder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reminder).Error; err != nil {
		return nil, notFound(err)
	}
	return &reminder, nil
}

// QueryDueUnsent returns up to limit unsent reminders due at or before now,
// oldest first.
func (r *ReminderRepository) QueryDueUnsent(ctx context.Context, now time.Time, limit int) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := r.db.WithContext(ctx).
		Where("sent = ? AND reminder_time <= ?", false, now.UTC()).
		Order("reminder_time ASC").
		Limit(limit).
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	return reminders, nil
}

// TryClaim grants workerID the lease on a reminder for ttl. It reports false
// without writing when the reminder is gone, already sent, or leased by
// anyone within the last ttl. A lease stamped in the future (clock skew)
// counts as held.
func (r *ReminderRepository) TryClaim(ctx context.Context, id string, now time.Time, ttl time.Duration, workerID string) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var reminder model.Reminder
		if err := tx.Where("id = ?", id).First(&reminder).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if reminder.Sent {
			return nil
		}
		if reminder.ProcessingAt != nil && leaseHeld(*reminder.ProcessingAt, now, ttl) {
			return nil
		}

		res := tx.Model(&model.Reminder{}).
			Where("id = ? AND sent = ?", id, false).
			Updates(map[string]interface{}{
				"processing_at": now.UTC(),
				"processing_by": workerID,
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("claim reminder %s: %w", id, err)
	}
	return claimed, nil
}

func leaseHeld(processingAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(processingAt) < ttl
}

// MarkSent finalizes a delivered reminder and clears its lease.
func (r *ReminderRepository) MarkSent(ctx context.Context, id, channel string, now time.Time) error {
	sentAt := now.UTC()
	err := r.db.WithContext(ctx).
		Model(&model.Reminder{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]interface{}{
			"sent":             true,
			"sent_at":          sentAt,
			"delivery_channel": channel,
			"processing_at":    nil,
			"processing_by":    "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark reminder %s sent: %w", id, err)
	}
	return nil
}

// Release re-stamps the lease of workerID at now, so the reminder becomes
// claimable again once the TTL has elapsed. It reports whether workerID
// still held the lease.
func (r *ReminderRepository) Release(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&model.Reminder{}).
		Where("id = ? AND processing_by = ? AND sent = ?", id, workerID, false).
		Update("processing_at", now.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("release reminder %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteOlderThan removes reminders whose reminder time is before cutoff,
// sent or not, batchSize rows at a time.
func (r *ReminderRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	db := r.db.WithContext(ctx)
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var ids []string
		if err := db.Model(&model.Reminder{}).
			Where("reminder_time < ?", cutoff.UTC()).
			Order("reminder_time ASC").
			Limit(batchSize).
			Pluck("id", &ids).Error; err != nil {
			return total, fmt.Errorf("select stale reminders: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}

		res := db.Where("id IN ?", ids).Delete(&model.Reminder{})
		if res.Error != nil {
			return total, fmt.Errorf("delete stale reminders: %w", res.Error)
		}
		total += res.RowsAffected

		if len(ids) < batchSize {
			return total, nil
		}
	}
}
