package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recurrence frequencies.
const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
)

// Task represents a single user-owned item in the planner.
type Task struct {
	ID          string  `gorm:"primaryKey;size:36"`
	OwnerID     string  `gorm:"index;size:36"`
	WorkspaceID *string `gorm:"index;size:36"`
	Title       string
	Description string
	StartDate   *time.Time
	DueDate     *time.Time
	AllDay      bool `gorm:"default:false"`

	// Recurrence is absent when RecurFreq is empty.
	RecurFreq       string
	RecurInterval   int
	RecurUntil      *time.Time
	RecurExceptions []string `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Task) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// IsRecurring reports whether the task carries a recurrence rule.
func (t Task) IsRecurring() bool {
	return t.RecurFreq != ""
}
