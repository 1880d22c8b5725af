// Package messaging provides inbound response routing with per-participant
// ordering guarantees.
package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ecocycle/wastebot/internal/models"
)

// DefaultMailboxSize bounds the number of queued messages per participant.
const DefaultMailboxSize = 16

// Handler processes one inbound message from a participant. Handlers for the
// same participant are never invoked concurrently; session state and
// verification-code comparison rely on that.
type Handler func(ctx context.Context, from, body string, timestamp int64) error

// Router consumes a Service's response stream and dispatches each message to
// the handler through a per-participant mailbox. Messages from the same
// participant are processed strictly in order; different participants run
// concurrently.
type Router struct {
	svc     Service
	handler Handler
	// failureMessage is sent to a participant when their handler returns an error.
	failureMessage string

	mu        sync.Mutex
	mailboxes map[string]chan models.Response
	wg        sync.WaitGroup
}

// NewRouter creates a Router over the given service and handler.
func NewRouter(svc Service, handler Handler) *Router {
	return &Router{
		svc:            svc,
		handler:        handler,
		failureMessage: "⚠️ Something went wrong processing your message. Please try again.",
		mailboxes:      make(map[string]chan models.Response),
	}
}

// Run consumes responses until the service's channel closes or the context is
// cancelled, then drains all mailboxes. It blocks, so it is usually run as
// the main loop.
func (r *Router) Run(ctx context.Context) {
	slog.Info("Router started")
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Router stopping (context done)")
			r.shutdown()
			return
		case resp, ok := <-r.svc.Responses():
			if !ok {
				slog.Debug("Router stopping (responses channel closed)")
				r.shutdown()
				return
			}
			r.route(ctx, resp)
		}
	}
}

// route delivers a response to its participant's mailbox, creating the
// mailbox worker on first contact.
func (r *Router) route(ctx context.Context, resp models.Response) {
	canonical, err := r.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Error("Router dropping response with invalid sender", "error", err, "from", resp.From)
		return
	}
	resp.From = canonical

	r.mu.Lock()
	box, exists := r.mailboxes[canonical]
	if !exists {
		box = make(chan models.Response, DefaultMailboxSize)
		r.mailboxes[canonical] = box
		r.wg.Add(1)
		go r.work(ctx, canonical, box)
	}
	r.mu.Unlock()

	select {
	case box <- resp:
	default:
		slog.Warn("Router mailbox full, dropping message", "from", canonical)
	}
}

// work processes one participant's messages sequentially.
func (r *Router) work(ctx context.Context, from string, box <-chan models.Response) {
	defer r.wg.Done()
	for resp := range box {
		if err := r.handler(ctx, resp.From, resp.Body, resp.Time); err != nil {
			slog.Error("Router handler failed", "error", err, "from", from)
			if sendErr := r.svc.SendMessage(ctx, from, r.failureMessage); sendErr != nil {
				slog.Error("Router failed to send failure message", "error", sendErr, "from", from)
			}
		}
	}
}

// shutdown closes all mailboxes and waits for in-flight handlers.
func (r *Router) shutdown() {
	r.mu.Lock()
	for _, box := range r.mailboxes {
		close(box)
	}
	r.mailboxes = make(map[string]chan models.Response)
	r.mu.Unlock()
	r.wg.Wait()
	slog.Info("Router stopped")
}
