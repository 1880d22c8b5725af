// Package messaging provides the message delivery abstraction and the inbound
// response router for the wastebot.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/ecocycle/wastebot/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service is stopped")

// Notifier delivers a text message to a participant id. It is the narrow
// capability injected into the dispatcher, handshake, and flow components so
// their logic stays free of transport concerns. Delivery is best-effort.
type Notifier interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Service defines a pluggable message delivery abstraction.
// It extends Notifier with recipient validation, choice prompts, and an
// inbound response stream.
type Service interface {
	Notifier

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. This allows each service to implement its own recipient
	// validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendChoices sends a message with a fixed set of reply choices
	// (rendered as a reply keyboard where the transport supports one).
	SendChoices(ctx context.Context, to string, body string, choices []string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Responses returns a channel of incoming participant responses.
	Responses() <-chan models.Response
}
