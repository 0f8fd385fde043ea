package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User stores the delivery profile of an account.
type User struct {
	ID                   string `gorm:"primaryKey;size:36"`
	Email                string
	Locale               string      `gorm:"default:en"`
	PushRemindersEnabled bool        `gorm:"default:false"`
	PushTokens           []PushToken `gorm:"foreignKey:UserID"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// PushToken is one registered push recipient of a user.
type PushToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:36;index:idx_user_push_token,unique"`
	Token     string `gorm:"index:idx_user_push_token,unique"`
	CreatedAt time.Time
}
