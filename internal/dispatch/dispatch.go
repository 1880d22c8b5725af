// Package dispatch assigns pending pickup requests to the nearest online
// collector.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ecocycle/wastebot/internal/geo"
	"github.com/ecocycle/wastebot/internal/messaging"
	"github.com/ecocycle/wastebot/internal/models"
	"github.com/ecocycle/wastebot/internal/store"
)

// Dispatcher selects and assigns collectors for pickup requests.
type Dispatcher struct {
	store    store.Store
	notifier messaging.Notifier
}

// NewDispatcher creates a Dispatcher over the given store and notifier.
func NewDispatcher(st store.Store, notifier messaging.Notifier) *Dispatcher {
	return &Dispatcher{store: st, notifier: notifier}
}

// Nearest returns the candidate minimizing great-circle distance to the
// requester. Candidates without known coordinates are never selected. Ties
// resolve to the first-seen candidate; iteration order of candidates is
// preserved. Returns nil when no candidate has known coordinates.
func Nearest(requester models.Coordinates, candidates []models.Participant) *models.Participant {
	var chosen *models.Participant
	minDistance := math.Inf(1)

	for i := range candidates {
		c := &candidates[i]
		if c.Coordinates == nil {
			continue
		}
		d := geo.Distance(requester, *c.Coordinates)
		if d < minDistance {
			minDistance = d
			chosen = c
		}
	}
	return chosen
}

// Assign picks the nearest online collector for the request and commits the
// assignment. The online-collector set is read once as a snapshot; a
// collector toggling offline mid-dispatch does not affect the decision.
// When the requester's coordinates are unknown or no collector qualifies,
// the request stays pending and models.ErrNoCollector is returned.
// Notifications are sent only after the assignment is persisted; their
// failure never rolls it back.
func (d *Dispatcher) Assign(ctx context.Context, req *models.PickupRequest, requester *models.Participant) (*models.Participant, error) {
	slog.Debug("Dispatcher Assign invoked", "request", req.ID, "creator", requester.ID)

	if requester.Coordinates == nil {
		slog.Info("Dispatcher: requester has no known coordinates, request stays pending", "request", req.ID)
		return nil, models.ErrNoCollector
	}

	collectors, err := d.store.ListOnlineCollectors()
	if err != nil {
		slog.Error("Dispatcher failed to list online collectors", "error", err, "request", req.ID)
		return nil, fmt.Errorf("failed to list online collectors: %w", err)
	}

	chosen := Nearest(*requester.Coordinates, collectors)
	if chosen == nil {
		slog.Info("Dispatcher: no online collector with known coordinates", "request", req.ID, "candidates", len(collectors))
		return nil, models.ErrNoCollector
	}

	if err := d.store.AssignPickupRequest(req.ID, chosen.ID); err != nil {
		slog.Error("Dispatcher failed to persist assignment", "error", err, "request", req.ID, "collector", chosen.ID)
		return nil, fmt.Errorf("failed to assign request %s: %w", req.ID, err)
	}
	slog.Info("Dispatcher assigned collector", "request", req.ID, "collector", chosen.ID)

	// Best-effort notifications after the commit.
	creatorMsg := fmt.Sprintf("Pickup request created (ID: %s)!\nA collector has been assigned and will pick up your waste within 5 hours.", req.ID)
	if err := d.notifier.SendMessage(ctx, requester.ID, creatorMsg); err != nil {
		slog.Error("Dispatcher could not notify creator", "error", err, "creator", requester.ID, "request", req.ID)
	}
	collectorMsg := fmt.Sprintf("New pickup request (ID: %s) has been assigned to you.\nPlease complete the pickup within 5 hours.", req.ID)
	if err := d.notifier.SendMessage(ctx, chosen.ID, collectorMsg); err != nil {
		slog.Error("Dispatcher could not notify collector", "error", err, "collector", chosen.ID, "request", req.ID)
	}

	return chosen, nil
}
