// Package store provides storage backends for the wastebot ledger.
//
// It includes an in-memory store for tests and SQLite and PostgreSQL backed
// stores for deployment. All backends enforce forward-only status
// transitions on pickup requests and recycling transactions.
package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/models"
)

// Store defines persistence over participants, pickup requests, and
// recycling transactions. Lookup methods return (nil, nil) when no row
// matches; mutating methods return models sentinel errors on conflicts.
type Store interface {
	// SaveParticipant creates a participant record. Re-registration of an
	// existing id returns models.ErrAlreadyRegistered.
	SaveParticipant(p models.Participant) error

	// GetParticipant fetches a participant by platform id.
	GetParticipant(id string) (*models.Participant, error)

	// SetOnline updates the online flag for a participant.
	SetOnline(id string, online bool) error

	// SetWalletAddress records a validated wallet address for a participant.
	SetWalletAddress(id, address string) error

	// ListOnlineCollectors returns all collectors currently online, in
	// stable creation order. Dispatch treats the result as a snapshot.
	ListOnlineCollectors() ([]models.Participant, error)

	// FindRecyclerByName returns the registered recycling company whose full
	// name matches (case-insensitive), or (nil, nil).
	FindRecyclerByName(name string) (*models.Participant, error)

	// CreatePickupRequest appends a new pickup request to the ledger.
	CreatePickupRequest(r models.PickupRequest) error

	// GetPickupRequest fetches a pickup request by id.
	GetPickupRequest(id string) (*models.PickupRequest, error)

	// AssignPickupRequest moves a pending request to assigned with the given
	// collector. Any other starting status returns models.ErrInvalidTransition.
	AssignPickupRequest(id, collectorID string) error

	// CompletePickupRequest moves an assigned request to completed and
	// records the completion time.
	CompletePickupRequest(id string, completedAt time.Time) error

	// MarkPickupRewarded flips the payment status of a completed request.
	MarkPickupRewarded(id string) error

	// ListAssignedPickups returns the collector's assigned requests,
	// oldest first.
	ListAssignedPickups(collectorID string) ([]models.PickupRequest, error)

	// ListPendingPickups returns all unassigned requests, oldest first.
	ListPendingPickups() ([]models.PickupRequest, error)

	// CreateRecyclingTransaction appends a new recycling transaction.
	CreateRecyclingTransaction(tx models.RecyclingTransaction) error

	// GetRecyclingTransaction fetches a recycling transaction by id.
	GetRecyclingTransaction(id string) (*models.RecyclingTransaction, error)

	// SetRecyclingWeight records weight, computed amount, and the issued
	// verification code in one update. Reissuing replaces the stored code.
	SetRecyclingWeight(id string, weight, amount decimal.Decimal, code string) error

	// CompleteRecyclingTransaction moves a pending transaction to completed.
	CompleteRecyclingTransaction(id string) error

	// LatestPendingRecyclingForRecycler returns the most-recently-created
	// pending transaction addressed to the recycler, or (nil, nil).
	LatestPendingRecyclingForRecycler(recyclerID string) (*models.RecyclingTransaction, error)

	// Close releases backend resources.
	Close() error
}
