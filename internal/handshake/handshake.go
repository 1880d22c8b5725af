// Package handshake implements the two-party verification-code protocol that
// confirms a physical handoff occurred before state is mutated.
//
// The same protocol is used for pickup completion and recycling completion:
// a one-time numeric code is issued to the verifying party, the counterpart
// retrieves it in person and keys it in, and only a byte-for-byte match
// commits the completion.
package handshake

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ecocycle/wastebot/internal/messaging"
	"github.com/ecocycle/wastebot/internal/models"
	"github.com/ecocycle/wastebot/internal/util"
)

// CodeSource produces a fresh verification code. Injected so tests can make
// codes deterministic.
type CodeSource func() string

// Opts holds configuration options for the handshake protocol.
type Opts struct {
	Codes CodeSource
}

// Option defines a configuration option for the handshake protocol.
type Option func(*Opts)

// WithCodeSource overrides the code generator.
func WithCodeSource(src CodeSource) Option {
	return func(o *Opts) {
		o.Codes = src
	}
}

// Protocol issues and checks one-time verification codes.
type Protocol struct {
	codes    CodeSource
	notifier messaging.Notifier
}

// New creates a handshake Protocol delivering codes through the notifier.
func New(notifier messaging.Notifier, opts ...Option) *Protocol {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Codes == nil {
		cfg.Codes = func() string {
			return util.GenerateVerificationCode(models.VerificationCodeLength)
		}
	}
	return &Protocol{codes: cfg.Codes, notifier: notifier}
}

// Issue generates a fresh code and delivers it to the verifying party.
// The template must contain one %s verb for the code. Delivery failure aborts
// the handshake before the counterpart is prompted; no code is considered
// issued in that case. The returned code becomes the expected value for the
// flow instance, replacing any previously issued code.
func (p *Protocol) Issue(ctx context.Context, verifierID, template string) (string, error) {
	code := p.codes()
	slog.Debug("Handshake issuing code", "verifier", verifierID)

	if err := p.notifier.SendMessage(ctx, verifierID, fmt.Sprintf(template, code)); err != nil {
		slog.Error("Handshake code delivery failed", "error", err, "verifier", verifierID)
		return "", fmt.Errorf("failed to deliver verification code: %w", err)
	}

	slog.Info("Handshake code issued", "verifier", verifierID)
	return code, nil
}

// Verify reports whether a submitted candidate matches the expected code for
// the flow instance. Comparison is byte-for-byte after trimming surrounding
// whitespace; an empty expected value never matches.
func Verify(submitted, expected string) bool {
	if expected == "" {
		return false
	}
	return strings.TrimSpace(submitted) == expected
}
