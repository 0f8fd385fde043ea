package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskminder/internal/metrics"
	"taskminder/internal/model"
	"taskminder/internal/repository"
)

// ErrInvalidToken marks a push token the provider reported as invalid or
// unregistered. Transports wrap it so that errors.Is can classify failures.
var ErrInvalidToken = errors.New("invalid push token")

type PushSender interface {
	SendPush(ctx context.Context, token string, msg PushMessage) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

type TokenPruner interface {
	PrunePushTokens(ctx context.Context, userID string, tokens []string) error
}

// DeliveryResult reports whether any channel delivered a reminder.
type DeliveryResult struct {
	Delivered bool
	Channel   string
}

// DeliveryRouter delivers a reminder by push first and falls back to email
// only when push delivered nothing.
type DeliveryRouter struct {
	push        PushSender
	email       EmailSender
	tokens      TokenPruner
	composer    *Composer
	pushTimeout time.Duration
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

// NewDeliveryRouter wires the router. push and email may be nil when the
// corresponding transport is not configured.
func NewDeliveryRouter(push PushSender, email EmailSender, tokens TokenPruner, composer *Composer, pushTimeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *DeliveryRouter {
	if pushTimeout <= 0 {
		pushTimeout = 10 * time.Second
	}
	return &DeliveryRouter{
		push:        push,
		email:       email,
		tokens:      tokens,
		composer:    composer,
		pushTimeout: pushTimeout,
		metrics:     m,
		log:         log.With().Str("comp", "delivery").Logger(),
		now:         time.Now,
	}
}

func (r *DeliveryRouter) Deliver(ctx context.Context, reminder model.Reminder, task model.Task, profile repository.Profile) DeliveryResult {
	log := r.log.With().
		Str("reminder_id", reminder.ID).
		Str("task_id", task.ID).
		Str("user_id", profile.UserID).
		Logger()
	now := r.now()

	if r.push != nil && profile.PushEnabled && len(profile.Tokens) > 0 {
		msg := r.composer.Push(reminder, task, profile.Locale, now)
		if r.fanOut(ctx, log, profile, msg) {
			return DeliveryResult{Delivered: true, Channel: model.ChannelPush}
		}
	}

	if r.email != nil && profile.Email != "" {
		mail := r.composer.Email(task, profile.Locale, now)
		if err := r.email.SendEmail(ctx, profile.Email, mail.Subject, mail.HTML); err != nil {
			log.Warn().Err(err).Msg("email delivery failed")
			r.count(model.ChannelEmail, "failed")
			return DeliveryResult{}
		}
		r.count(model.ChannelEmail, "success")
		return DeliveryResult{Delivered: true, Channel: model.ChannelEmail}
	}

	log.Debug().Msg("no deliverable channel")
	return DeliveryResult{}
}

// fanOut sends msg to every token concurrently and reports whether at least
// one send succeeded. Invalid tokens are pruned best-effort.
func (r *DeliveryRouter) fanOut(ctx context.Context, log zerolog.Logger, profile repository.Profile, msg PushMessage) bool {
	errs := make([]error, len(profile.Tokens))

	var wg sync.WaitGroup
	for i, token := range profile.Tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("push send panicked: %v", rec)
				}
			}()
			sendCtx, cancel := context.WithTimeout(ctx, r.pushTimeout)
			defer cancel()
			errs[i] = r.push.SendPush(sendCtx, token, msg)
		}(i, token)
	}
	wg.Wait()

	delivered := false
	var invalid []string
	for i, err := range errs {
		switch {
		case err == nil:
			delivered = true
			r.count(model.ChannelPush, "success")
		case errors.Is(err, ErrInvalidToken):
			invalid = append(invalid, profile.Tokens[i])
			r.count(model.ChannelPush, "invalid_token")
		default:
			log.Warn().Err(err).Int("token_index", i).Msg("push send failed")
			r.count(model.ChannelPush, "failed")
		}
	}

	if len(invalid) > 0 && r.tokens != nil {
		if err := r.tokens.PrunePushTokens(ctx, profile.UserID, invalid); err != nil {
			log.Error().Err(err).Int("tokens", len(invalid)).Msg("prune invalid push tokens")
		} else {
			log.Info().Int("tokens", len(invalid)).Msg("pruned invalid push tokens")
			if r.metrics != nil {
				r.metrics.PrunedTokens.Add(float64(len(invalid)))
			}
		}
	}

	return delivered
}

func (r *DeliveryRouter) count(channel, status string) {
	if r.metrics != nil {
		r.metrics.Deliveries.WithLabelValues(channel, status).Inc()
	}
}
