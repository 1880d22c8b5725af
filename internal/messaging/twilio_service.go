package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/ecocycle/wastebot/internal/models"
)

// phoneNumberRegex strips everything except digits from a phone number.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// MinPhoneDigits is the minimum number of digits for a valid phone number.
const MinPhoneDigits = 6

// TwilioSMSSender is the subset of the Twilio client used for sending
// (for production and testing).
type TwilioSMSSender interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioService implements Service over SMS using the Twilio REST API.
// It has no long-lived connection: inbound messages arrive via the webhook
// handler, which emits them into the Responses channel.
type TwilioService struct {
	client    TwilioSMSSender
	from      string
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a TwilioService with a real Twilio REST client.
func NewTwilioService(accountSID, authToken, from string) *TwilioService {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return NewTwilioServiceWithClient(client.Api, from)
}

// NewTwilioServiceWithClient creates a TwilioService with an injected sender
// (used by tests).
func NewTwilioServiceWithClient(client TwilioSMSSender, from string) *TwilioService {
	return &TwilioService{
		client:    client,
		from:      from,
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
// It removes all non-numeric characters and validates the result has at least
// MinPhoneDigits digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}

	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio; inbound traffic arrives via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends an SMS via Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo("+" + canonical)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.CreateMessage(params); err != nil {
		slog.Error("TwilioService SendMessage failed", "error", err, "to", canonical)
		return fmt.Errorf("failed to send SMS to %s: %w", canonical, err)
	}
	slog.Debug("TwilioService message sent", "to", canonical, "body_length", len(body))
	return nil
}

// SendChoices sends a message with a numbered list of choices. SMS has no
// keyboard, so participants reply with the choice text.
func (s *TwilioService) SendChoices(ctx context.Context, to string, body string, choices []string) error {
	var builder strings.Builder
	builder.WriteString(body)
	for i, choice := range choices {
		builder.WriteString(fmt.Sprintf("\n%d. %s", i+1, choice))
	}
	return s.SendMessage(ctx, to, builder.String())
}

// Responses returns the channel for incoming messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// EmitInbound pushes an inbound SMS into the responses channel. The HTTP
// webhook handler that receives Twilio callbacks calls this.
func (s *TwilioService) EmitInbound(from, body string) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", from)
		return
	}

	response := models.Response{From: from, Body: body, Time: time.Now().Unix()}
	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", from)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", from)
	}
}

// WebhookHandler handles inbound Twilio webhook requests. It parses the
// posted form and emits the message into the Responses channel.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService failed to parse webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService webhook missing fields", "from_set", from != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	s.EmitInbound(from, body)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
