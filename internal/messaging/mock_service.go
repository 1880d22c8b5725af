package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ecocycle/wastebot/internal/models"
)

// SentMessage records one outbound message captured by the mock service.
type SentMessage struct {
	To      string
	Body    string
	Choices []string
}

// MockService implements Service for tests. It captures outbound messages
// and lets tests inject inbound responses.
type MockService struct {
	mu        sync.Mutex
	sent      []SentMessage
	responses chan models.Response
	// FailSendTo makes SendMessage fail for the given recipient, simulating
	// a notification delivery failure.
	FailSendTo map[string]bool
}

// NewMockService creates an empty MockService.
func NewMockService() *MockService {
	return &MockService{
		responses:  make(chan models.Response, DefaultChannelBufferSize),
		FailSendTo: make(map[string]bool),
	}
}

// ValidateAndCanonicalizeRecipient trims whitespace and rejects empty ids.
func (s *MockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return trimmed, nil
}

// SendMessage captures an outbound message.
func (s *MockService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSendTo[to] {
		return fmt.Errorf("simulated send failure to %s", to)
	}
	s.sent = append(s.sent, SentMessage{To: to, Body: body})
	return nil
}

// SendChoices captures an outbound choice prompt.
func (s *MockService) SendChoices(ctx context.Context, to string, body string, choices []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSendTo[to] {
		return fmt.Errorf("simulated send failure to %s", to)
	}
	s.sent = append(s.sent, SentMessage{To: to, Body: body, Choices: choices})
	return nil
}

// Start is a no-op.
func (s *MockService) Start(ctx context.Context) error { return nil }

// Stop closes the responses channel.
func (s *MockService) Stop() error {
	close(s.responses)
	return nil
}

// Responses returns the injectable response channel.
func (s *MockService) Responses() <-chan models.Response {
	return s.responses
}

// InjectResponse feeds an inbound response into the service, as if a
// participant had sent a message.
func (s *MockService) InjectResponse(from, body string, ts int64) {
	s.responses <- models.Response{From: from, Body: body, Time: ts}
}

// Sent returns a copy of all captured outbound messages.
func (s *MockService) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentTo returns the bodies of all messages sent to one recipient.
func (s *MockService) SentTo(to string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.sent {
		if m.To == to {
			out = append(out, m.Body)
		}
	}
	return out
}

// LastSentTo returns the most recent message body sent to the recipient, or "".
func (s *MockService) LastSentTo(to string) string {
	msgs := s.SentTo(to)
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1]
}

// Reset clears captured messages.
func (s *MockService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
