// Package telegram delivers reminder push notifications through the
// Telegram Bot API. A push token is the recipient's chat id.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskminder/internal/service"
)

// messageSender is the subset of *tgbotapi.BotAPI used here.
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender implements service.PushSender.
type Sender struct {
	api     messageSender
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New authorizes the bot token and returns a rate-limited sender.
func New(token string, ratePerSec int, log zerolog.Logger) (*Sender, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	log = log.With().Str("comp", "telegram").Logger()
	log.Info().Str("account", api.Self.UserName).Msg("bot authorized")
	return newSender(api, ratePerSec, log), nil
}

func newSender(api messageSender, ratePerSec int, log zerolog.Logger) *Sender {
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	return &Sender{
		api: api,
		// burst equals the per-second rate
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

// SendPush delivers msg to the chat identified by token. Chats that do not
// exist or have blocked the bot are reported as service.ErrInvalidToken.
func (s *Sender) SendPush(ctx context.Context, token string, msg service.PushMessage) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(token), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q is not a chat id", service.ErrInvalidToken, token)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	out := tgbotapi.NewMessage(chatID, render(msg))
	out.ParseMode = tgbotapi.ModeHTML
	out.DisableWebPagePreview = true

	// The bot API client has no context support; the caller's deadline still bounds us.
	done := make(chan error, 1)
	go func() {
		_, err := s.api.Send(out)
		done <- err
	}()

	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func render(msg service.PushMessage) string {
	var sb strings.Builder
	sb.WriteString("<b>")
	sb.WriteString(html.EscapeString(msg.Title))
	sb.WriteString("</b>\n")
	sb.WriteString(html.EscapeString(msg.Body))
	if link := msg.Data["link"]; link != "" {
		sb.WriteString(fmt.Sprintf("\n<a href=\"%s\">%s</a>", html.EscapeString(link), html.EscapeString(link)))
	}
	return sb.String()
}

// classify maps Bot API errors for dead recipients to service.ErrInvalidToken.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var code int
	var desc string
	var ptrErr *tgbotapi.Error
	var valErr tgbotapi.Error
	switch {
	case errors.As(err, &ptrErr):
		code, desc = ptrErr.Code, ptrErr.Message
	case errors.As(err, &valErr):
		code, desc = valErr.Code, valErr.Message
	default:
		return err
	}

	desc = strings.ToLower(desc)
	switch {
	case code == http.StatusForbidden:
		// bot was blocked by the user, user is deactivated, bot was kicked
		return fmt.Errorf("%w: %s", service.ErrInvalidToken, desc)
	case code == http.StatusBadRequest && (strings.Contains(desc, "chat not found") || strings.Contains(desc, "user not found")):
		return fmt.Errorf("%w: %s", service.ErrInvalidToken, desc)
	default:
		return err
	}
}
