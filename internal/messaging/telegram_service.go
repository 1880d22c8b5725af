package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ecocycle/wastebot/internal/models"
)

// DefaultPollTimeoutSeconds is the long-poll timeout passed to Telegram.
const DefaultPollTimeoutSeconds = 60

// TelegramService implements Service using the Telegram Bot API with long
// polling. Participant ids are Telegram chat ids rendered as decimal strings.
type TelegramService struct {
	api       *tgbotapi.BotAPI
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTelegramService creates a TelegramService for the given bot token.
func NewTelegramService(token string) (*TelegramService, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		slog.Error("TelegramService bot creation failed", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	slog.Info("TelegramService authorized", "username", api.Self.UserName)

	return &TelegramService{
		api:       api,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}, nil
}

// ValidateAndCanonicalizeRecipient checks that the recipient is a decimal
// Telegram chat id.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	return strconv.FormatInt(id, 10), nil
}

// Start begins long polling for updates and feeding them into Responses.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Debug("TelegramService Start invoked")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = DefaultPollTimeoutSeconds
	updates := s.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Debug("TelegramService polling loop stopping (context done)")
				return
			case <-s.done:
				slog.Debug("TelegramService polling loop stopping (service stopped)")
				return
			case update, ok := <-updates:
				if !ok {
					slog.Debug("TelegramService updates channel closed")
					return
				}
				if update.Message == nil || update.Message.Text == "" {
					continue
				}
				s.emitResponse(models.Response{
					From: strconv.FormatInt(update.Message.Chat.ID, 10),
					Body: update.Message.Text,
					Time: int64(update.Message.Date),
				})
			}
		}
	}()

	slog.Info("TelegramService polling started")
	return nil
}

// Stop stops polling and closes the responses channel.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	s.api.StopReceivingUpdates()

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	slog.Info("TelegramService stopped")
	return nil
}

// SendMessage sends a plain text message to a chat id.
func (s *TelegramService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TelegramService SendMessage validation error", "error", err, "to", to)
		return err
	}
	chatID, _ := strconv.ParseInt(canonical, 10, 64)

	msg := tgbotapi.NewMessage(chatID, body)
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	if _, err := s.api.Send(msg); err != nil {
		slog.Error("TelegramService SendMessage failed", "error", err, "to", canonical)
		return fmt.Errorf("failed to send telegram message to %s: %w", canonical, err)
	}
	slog.Debug("TelegramService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// SendChoices sends a message with a one-time reply keyboard of choices.
func (s *TelegramService) SendChoices(ctx context.Context, to string, body string, choices []string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TelegramService SendChoices validation error", "error", err, "to", to)
		return err
	}
	chatID, _ := strconv.ParseInt(canonical, 10, 64)

	rows := make([][]tgbotapi.KeyboardButton, 0, len(choices))
	for _, choice := range choices {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(choice)))
	}
	keyboard := tgbotapi.NewOneTimeReplyKeyboard(rows...)

	msg := tgbotapi.NewMessage(chatID, body)
	msg.ReplyMarkup = keyboard
	if _, err := s.api.Send(msg); err != nil {
		slog.Error("TelegramService SendChoices failed", "error", err, "to", canonical)
		return fmt.Errorf("failed to send telegram choices to %s: %w", canonical, err)
	}
	slog.Debug("TelegramService choices sent", "to", canonical, "choices", len(choices))
	return nil
}

// Responses returns the channel of incoming participant responses.
func (s *TelegramService) Responses() <-chan models.Response {
	return s.responses
}

func (s *TelegramService) emitResponse(response models.Response) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TelegramService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("TelegramService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TelegramService responses channel blocked, dropping message", "from", response.From)
	}
}
