// Package store provides storage backends for the wastebot ledger.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ecocycle/wastebot/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

const sqliteParticipantColumns = `id, full_name, phone, location_text, lat, lon, role, is_online, wallet_address, created_at`

// SaveParticipant creates a participant; duplicate ids are rejected.
func (s *SQLiteStore) SaveParticipant(p models.Participant) error {
	var lat, lon interface{}
	if p.Coordinates != nil {
		lat, lon = p.Coordinates.Lat, p.Coordinates.Lon
	}
	_, err := s.db.Exec(`INSERT INTO users (id, full_name, phone, location_text, lat, lon, role, is_online, wallet_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FullName, p.Phone, p.LocationText, lat, lon, p.Role, p.Online, nilIfEmpty(p.WalletAddress), p.CreatedAt)
	if err != nil {
		existing, getErr := s.GetParticipant(p.ID)
		if getErr == nil && existing != nil {
			slog.Debug("SQLiteStore SaveParticipant rejected duplicate", "id", p.ID)
			return models.ErrAlreadyRegistered
		}
		slog.Error("SQLiteStore SaveParticipant failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to insert participant %s: %w", p.ID, err)
	}
	slog.Debug("SQLiteStore SaveParticipant succeeded", "id", p.ID, "role", p.Role)
	return nil
}

// GetParticipant fetches a participant, or (nil, nil) when unknown.
func (s *SQLiteStore) GetParticipant(id string) (*models.Participant, error) {
	row := s.db.QueryRow(`SELECT `+sqliteParticipantColumns+` FROM users WHERE id = ?`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetParticipant failed", "error", err, "id", id)
		return nil, err
	}
	return &p, nil
}

// SetOnline updates the online flag.
func (s *SQLiteStore) SetOnline(id string, online bool) error {
	res, err := s.db.Exec(`UPDATE users SET is_online = ? WHERE id = ?`, online, id)
	if err != nil {
		slog.Error("SQLiteStore SetOnline failed", "error", err, "id", id)
		return fmt.Errorf("failed to update online flag for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotRegistered
	}
	slog.Debug("SQLiteStore SetOnline succeeded", "id", id, "online", online)
	return nil
}

// SetWalletAddress records a wallet address.
func (s *SQLiteStore) SetWalletAddress(id, address string) error {
	res, err := s.db.Exec(`UPDATE users SET wallet_address = ? WHERE id = ?`, address, id)
	if err != nil {
		slog.Error("SQLiteStore SetWalletAddress failed", "error", err, "id", id)
		return fmt.Errorf("failed to update wallet address for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotRegistered
	}
	return nil
}

// ListOnlineCollectors returns online collectors in creation order.
func (s *SQLiteStore) ListOnlineCollectors() ([]models.Participant, error) {
	rows, err := s.db.Query(`SELECT `+sqliteParticipantColumns+` FROM users
		WHERE role = ? AND is_online = 1 ORDER BY created_at, id`, models.RoleCollector)
	if err != nil {
		slog.Error("SQLiteStore ListOnlineCollectors query failed", "error", err)
		return nil, fmt.Errorf("failed to query online collectors: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collector rows: %w", err)
	}
	slog.Debug("SQLiteStore ListOnlineCollectors succeeded", "count", len(out))
	return out, nil
}

// FindRecyclerByName matches a registered recycling company case-insensitively.
func (s *SQLiteStore) FindRecyclerByName(name string) (*models.Participant, error) {
	row := s.db.QueryRow(`SELECT `+sqliteParticipantColumns+` FROM users
		WHERE role = ? AND LOWER(full_name) = LOWER(TRIM(?)) LIMIT 1`, models.RoleRecycler, name)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindRecyclerByName failed", "error", err, "name", name)
		return nil, err
	}
	return &p, nil
}

const sqlitePickupColumns = `id, creator_id, collector_id, waste_description, status, payment_status, created_at, completed_at`

// CreatePickupRequest appends a pickup request.
func (s *SQLiteStore) CreatePickupRequest(r models.PickupRequest) error {
	_, err := s.db.Exec(`INSERT INTO pickup_requests (id, creator_id, collector_id, waste_description, status, payment_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatorID, nilIfEmpty(r.CollectorID), nilIfEmpty(r.WasteDescription), r.Status, r.PaymentStatus, r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreatePickupRequest failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert pickup request %s: %w", r.ID, err)
	}
	slog.Debug("SQLiteStore CreatePickupRequest succeeded", "id", r.ID, "creator", r.CreatorID)
	return nil
}

// GetPickupRequest fetches a pickup request, or (nil, nil) when unknown.
func (s *SQLiteStore) GetPickupRequest(id string) (*models.PickupRequest, error) {
	row := s.db.QueryRow(`SELECT `+sqlitePickupColumns+` FROM pickup_requests WHERE id = ?`, id)
	r, err := scanPickupRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetPickupRequest failed", "error", err, "id", id)
		return nil, err
	}
	return &r, nil
}

// AssignPickupRequest moves pending -> assigned. The guarded UPDATE keeps the
// transition forward-only under concurrent callers.
func (s *SQLiteStore) AssignPickupRequest(id, collectorID string) error {
	res, err := s.db.Exec(`UPDATE pickup_requests SET collector_id = ?, status = ?
		WHERE id = ? AND status = ?`,
		collectorID, models.PickupStatusAssigned, id, models.PickupStatusPending)
	if err != nil {
		slog.Error("SQLiteStore AssignPickupRequest failed", "error", err, "id", id)
		return fmt.Errorf("failed to assign pickup request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(id)
	}
	slog.Debug("SQLiteStore AssignPickupRequest succeeded", "id", id, "collector", collectorID)
	return nil
}

// CompletePickupRequest moves assigned -> completed.
func (s *SQLiteStore) CompletePickupRequest(id string, completedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE pickup_requests SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		models.PickupStatusCompleted, completedAt, id, models.PickupStatusAssigned)
	if err != nil {
		slog.Error("SQLiteStore CompletePickupRequest failed", "error", err, "id", id)
		return fmt.Errorf("failed to complete pickup request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(id)
	}
	slog.Debug("SQLiteStore CompletePickupRequest succeeded", "id", id)
	return nil
}

// MarkPickupRewarded flips the payment status of a completed request.
func (s *SQLiteStore) MarkPickupRewarded(id string) error {
	res, err := s.db.Exec(`UPDATE pickup_requests SET payment_status = ?
		WHERE id = ? AND status = ?`,
		models.PaymentStatusRewarded, id, models.PickupStatusCompleted)
	if err != nil {
		slog.Error("SQLiteStore MarkPickupRewarded failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark pickup request %s rewarded: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(id)
	}
	return nil
}

// transitionError distinguishes a missing row from a disallowed transition.
func (s *SQLiteStore) transitionError(id string) error {
	existing, err := s.GetPickupRequest(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return models.ErrRequestNotFound
	}
	return models.ErrInvalidTransition
}

// ListAssignedPickups returns the collector's assigned requests, oldest first.
func (s *SQLiteStore) ListAssignedPickups(collectorID string) ([]models.PickupRequest, error) {
	return s.listPickups(`SELECT `+sqlitePickupColumns+` FROM pickup_requests
		WHERE collector_id = ? AND status = ? ORDER BY created_at, id`, collectorID, models.PickupStatusAssigned)
}

// ListPendingPickups returns unassigned requests, oldest first.
func (s *SQLiteStore) ListPendingPickups() ([]models.PickupRequest, error) {
	return s.listPickups(`SELECT `+sqlitePickupColumns+` FROM pickup_requests
		WHERE status = ? ORDER BY created_at, id`, models.PickupStatusPending)
}

func (s *SQLiteStore) listPickups(query string, args ...any) ([]models.PickupRequest, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore pickup query failed", "error", err)
		return nil, fmt.Errorf("failed to query pickup requests: %w", err)
	}
	defer rows.Close()

	var out []models.PickupRequest
	for rows.Next() {
		r, err := scanPickupRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pickup rows: %w", err)
	}
	return out, nil
}

const sqliteRecyclingColumns = `id, collector_id, recycler_id, weight_kg, amount_paid, verification_code, status, created_at`

// CreateRecyclingTransaction appends a recycling transaction.
func (s *SQLiteStore) CreateRecyclingTransaction(tx models.RecyclingTransaction) error {
	var weight, amount interface{}
	if tx.WeightKg != nil {
		weight = tx.WeightKg.String()
	}
	if tx.AmountPaid != nil {
		amount = tx.AmountPaid.String()
	}
	_, err := s.db.Exec(`INSERT INTO recycling_transactions (id, collector_id, recycler_id, weight_kg, amount_paid, verification_code, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.CollectorID, tx.RecyclerID, weight, amount, nilIfEmpty(tx.VerificationCode), tx.Status, tx.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateRecyclingTransaction failed", "error", err, "id", tx.ID)
		return fmt.Errorf("failed to insert recycling transaction %s: %w", tx.ID, err)
	}
	slog.Debug("SQLiteStore CreateRecyclingTransaction succeeded", "id", tx.ID)
	return nil
}

// GetRecyclingTransaction fetches a transaction, or (nil, nil) when unknown.
func (s *SQLiteStore) GetRecyclingTransaction(id string) (*models.RecyclingTransaction, error) {
	row := s.db.QueryRow(`SELECT `+sqliteRecyclingColumns+` FROM recycling_transactions WHERE id = ?`, id)
	tx, err := scanRecyclingTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetRecyclingTransaction failed", "error", err, "id", id)
		return nil, err
	}
	return &tx, nil
}

// SetRecyclingWeight records weight, amount, and the active verification code.
// Reissuing overwrites the previous code, invalidating it.
func (s *SQLiteStore) SetRecyclingWeight(id string, weight, amount decimal.Decimal, code string) error {
	res, err := s.db.Exec(`UPDATE recycling_transactions SET weight_kg = ?, amount_paid = ?, verification_code = ?
		WHERE id = ? AND status = ?`,
		weight.String(), amount.String(), code, id, models.RecyclingStatusPending)
	if err != nil {
		slog.Error("SQLiteStore SetRecyclingWeight failed", "error", err, "id", id)
		return fmt.Errorf("failed to set weight for transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, getErr := s.GetRecyclingTransaction(id)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return models.ErrTransactionNotFound
		}
		return models.ErrInvalidTransition
	}
	return nil
}

// CompleteRecyclingTransaction moves pending -> completed.
func (s *SQLiteStore) CompleteRecyclingTransaction(id string) error {
	res, err := s.db.Exec(`UPDATE recycling_transactions SET status = ?
		WHERE id = ? AND status = ?`,
		models.RecyclingStatusCompleted, id, models.RecyclingStatusPending)
	if err != nil {
		slog.Error("SQLiteStore CompleteRecyclingTransaction failed", "error", err, "id", id)
		return fmt.Errorf("failed to complete recycling transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, getErr := s.GetRecyclingTransaction(id)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return models.ErrTransactionNotFound
		}
		return models.ErrInvalidTransition
	}
	slog.Debug("SQLiteStore CompleteRecyclingTransaction succeeded", "id", id)
	return nil
}

// LatestPendingRecyclingForRecycler returns the newest pending transaction
// addressed to the recycler.
func (s *SQLiteStore) LatestPendingRecyclingForRecycler(recyclerID string) (*models.RecyclingTransaction, error) {
	row := s.db.QueryRow(`SELECT `+sqliteRecyclingColumns+` FROM recycling_transactions
		WHERE recycler_id = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		recyclerID, models.RecyclingStatusPending)
	tx, err := scanRecyclingTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestPendingRecyclingForRecycler failed", "error", err, "recycler", recyclerID)
		return nil, err
	}
	return &tx, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
