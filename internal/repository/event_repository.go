package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskminder/internal/model"
)

// EventRepository records processed external event keys. The unique key
// insert is the lock: the first insert wins, duplicates are skipped.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Acquire reports true for the first caller presenting key.
func (r *EventRepository) Acquire(ctx context.Context, key string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ProcessedEvent{Key: key})
	if res.Error != nil {
		return false, fmt.Errorf("record event %q: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteOlderThan drops event keys recorded before cutoff.
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&model.ProcessedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete processed events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
