package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskminder/internal/model"
)

// Profile is the delivery view of a user.
type Profile struct {
	UserID      string
	PushEnabled bool
	Tokens      []string
	Email       string
	Locale      string
}

// UserRepository handles users and their push tokens.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindProfile loads the user's delivery profile or returns ErrNotFound.
func (r *UserRepository) FindProfile(ctx context.Context, userID string) (*Profile, error) {
	var user model.User
	err := r.db.WithContext(ctx).
		Preload("PushTokens", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}

	profile := &Profile{
		UserID:      user.ID,
		PushEnabled: user.PushRemindersEnabled,
		Email:       user.Email,
		Locale:      user.Locale,
	}
	for _, t := range user.PushTokens {
		profile.Tokens = append(profile.Tokens, t.Token)
	}
	return profile, nil
}

// AddPushToken registers a token; registering an existing token is a no-op.
func (r *UserRepository) AddPushToken(ctx context.Context, userID, token string) error {
	var count int64
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.PushToken{}).Where("user_id = ? AND token = ?", userID, token).Count(&count).Error; err != nil {
		return fmt.Errorf("find push token: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := db.Create(&model.PushToken{UserID: userID, Token: token}).Error; err != nil {
		return fmt.Errorf("create push token: %w", err)
	}
	return nil
}

// PrunePushTokens removes the given tokens from the user's set. Removing a
// token that is already gone is a no-op.
func (r *UserRepository) PrunePushTokens(ctx context.Context, userID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND token IN ?", userID, tokens).
		Delete(&model.PushToken{}).Error; err != nil {
		return fmt.Errorf("prune push tokens: %w", err)
	}
	return nil
}
