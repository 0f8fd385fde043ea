package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Delivery channels.
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// Reminder is a pending or delivered notification for a task.
//
// ProcessingAt and ProcessingBy form the dispatch lease. Sent only ever
// flips from false to true.
type Reminder struct {
	ID              string `gorm:"primaryKey;size:36"`
	OwnerID         string `gorm:"index;size:36"`
	TaskID          string `gorm:"index;size:36"`
	DueDate         *time.Time
	ReminderTime    time.Time `gorm:"index:idx_reminder_due,priority:2"`
	Sent            bool      `gorm:"default:false;index:idx_reminder_due,priority:1"`
	SentAt          *time.Time
	DeliveryChannel string
	ProcessingAt    *time.Time
	ProcessingBy    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Reminder) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.ReminderTime = r.ReminderTime.UTC()
	return nil
}

// ProcessedEvent records an external event key that has already been handled.
type ProcessedEvent struct {
	Key       string `gorm:"primaryKey"`
	CreatedAt time.Time
}
