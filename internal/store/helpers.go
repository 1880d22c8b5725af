package store

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/models"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanParticipant scans a participant row in column order
// id, full_name, phone, location_text, lat, lon, role, is_online, wallet_address, created_at.
func scanParticipant(sc rowScanner) (models.Participant, error) {
	var p models.Participant
	var lat, lon sql.NullFloat64
	var wallet sql.NullString
	err := sc.Scan(&p.ID, &p.FullName, &p.Phone, &p.LocationText, &lat, &lon, &p.Role, &p.Online, &wallet, &p.CreatedAt)
	if err != nil {
		return p, fmt.Errorf("scan participant failed: %w", err)
	}
	if lat.Valid && lon.Valid {
		p.Coordinates = &models.Coordinates{Lat: lat.Float64, Lon: lon.Float64}
	}
	p.WalletAddress = wallet.String
	return p, nil
}

// scanPickupRequest scans a pickup request row in column order
// id, creator_id, collector_id, waste_description, status, payment_status, created_at, completed_at.
func scanPickupRequest(sc rowScanner) (models.PickupRequest, error) {
	var r models.PickupRequest
	var collector, description sql.NullString
	var completedAt sql.NullTime
	err := sc.Scan(&r.ID, &r.CreatorID, &collector, &description, &r.Status, &r.PaymentStatus, &r.CreatedAt, &completedAt)
	if err != nil {
		return r, fmt.Errorf("scan pickup request failed: %w", err)
	}
	r.CollectorID = collector.String
	r.WasteDescription = description.String
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

// scanRecyclingTransaction scans a recycling transaction row in column order
// id, collector_id, recycler_id, weight_kg, amount_paid, verification_code, status, created_at.
func scanRecyclingTransaction(sc rowScanner) (models.RecyclingTransaction, error) {
	var tx models.RecyclingTransaction
	var weight, amount, code sql.NullString
	err := sc.Scan(&tx.ID, &tx.CollectorID, &tx.RecyclerID, &weight, &amount, &code, &tx.Status, &tx.CreatedAt)
	if err != nil {
		return tx, fmt.Errorf("scan recycling transaction failed: %w", err)
	}
	if weight.Valid {
		w, err := decimal.NewFromString(weight.String)
		if err != nil {
			return tx, fmt.Errorf("invalid stored weight %q: %w", weight.String, err)
		}
		tx.WeightKg = &w
	}
	if amount.Valid {
		a, err := decimal.NewFromString(amount.String)
		if err != nil {
			return tx, fmt.Errorf("invalid stored amount %q: %w", amount.String, err)
		}
		tx.AmountPaid = &a
	}
	tx.VerificationCode = code.String
	return tx, nil
}
