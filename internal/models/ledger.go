// Package models defines ledger record types for pickup requests and
// recycling transactions.
package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PickupStatus represents the lifecycle state of a pickup request.
// Status only ever advances forward: pending -> assigned -> completed.
type PickupStatus string

const (
	// PickupStatusPending indicates no collector has been assigned yet.
	PickupStatusPending PickupStatus = "pending"
	// PickupStatusAssigned indicates a collector has been dispatched.
	PickupStatusAssigned PickupStatus = "assigned"
	// PickupStatusCompleted indicates the physical handoff was verified.
	PickupStatusCompleted PickupStatus = "completed"
)

// PaymentStatus tracks whether the token reward for a pickup was paid out.
type PaymentStatus string

const (
	// PaymentStatusUnpaid indicates no reward has been sent for this request.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusRewarded indicates at least one reward payout succeeded.
	PaymentStatusRewarded PaymentStatus = "rewarded"
)

// RecyclingStatus represents the lifecycle state of a recycling transaction.
type RecyclingStatus string

const (
	// RecyclingStatusPending indicates the handoff has not been verified yet.
	RecyclingStatusPending RecyclingStatus = "pending"
	// RecyclingStatusCompleted indicates the code handshake succeeded.
	RecyclingStatusCompleted RecyclingStatus = "completed"
)

// Error variables for ledger state transitions.
var (
	ErrInvalidTransition = errors.New("status cannot move backward")
	ErrMissingCollector  = errors.New("assigned request must have a collector")
)

// PickupRequest is an append-mostly ledger record created by a waste creator.
// CollectorID is non-empty iff Status is assigned or completed.
type PickupRequest struct {
	ID               string        `json:"id"`
	CreatorID        string        `json:"creator_id"`
	CollectorID      string        `json:"collector_id,omitempty"`
	WasteDescription string        `json:"waste_description,omitempty"`
	Status           PickupStatus  `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// Validate checks the pickup request invariants.
func (r *PickupRequest) Validate() error {
	switch r.Status {
	case PickupStatusPending:
		if r.CollectorID != "" {
			return ErrInvalidTransition
		}
	case PickupStatusAssigned, PickupStatusCompleted:
		if r.CollectorID == "" {
			return ErrMissingCollector
		}
	default:
		return errors.New("invalid pickup status")
	}
	return nil
}

// RecyclingTransaction records a collector-to-recycler material handoff.
// Weight, amount, and verification code are populated by the recycler once
// the material is weighed; status flips to completed only after a code match.
type RecyclingTransaction struct {
	ID               string           `json:"id"`
	CollectorID      string           `json:"collector_id"`
	RecyclerID       string           `json:"recycler_id"`
	WeightKg         *decimal.Decimal `json:"weight_kg,omitempty"`
	AmountPaid       *decimal.Decimal `json:"amount_paid,omitempty"`
	VerificationCode string           `json:"verification_code,omitempty"`
	Status           RecyclingStatus  `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ValidateWeight parses free text into a positive decimal weight in kg.
// Non-numeric or non-positive input is rejected.
func ValidateWeight(text string) (decimal.Decimal, error) {
	w, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, errors.New("weight must be a number")
	}
	if !w.IsPositive() {
		return decimal.Zero, errors.New("weight must be positive")
	}
	return w, nil
}
