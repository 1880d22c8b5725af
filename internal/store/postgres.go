// Package store provides storage backends for the wastebot ledger.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"

	"github.com/ecocycle/wastebot/internal/models"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

const pgParticipantColumns = `id, full_name, phone, location_text, lat, lon, role, is_online, wallet_address, created_at`

// SaveParticipant creates a participant; duplicate ids are rejected.
func (s *PostgresStore) SaveParticipant(p models.Participant) error {
	var lat, lon interface{}
	if p.Coordinates != nil {
		lat, lon = p.Coordinates.Lat, p.Coordinates.Lon
	}
	res, err := s.db.Exec(`INSERT INTO users (id, full_name, phone, location_text, lat, lon, role, is_online, wallet_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.FullName, p.Phone, p.LocationText, lat, lon, p.Role, p.Online, nilIfEmpty(p.WalletAddress), p.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveParticipant failed", "error", err, "id", p.ID)
		return fmt.Errorf("failed to insert participant %s: %w", p.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Debug("PostgresStore SaveParticipant rejected duplicate", "id", p.ID)
		return models.ErrAlreadyRegistered
	}
	slog.Debug("PostgresStore SaveParticipant succeeded", "id", p.ID, "role", p.Role)
	return nil
}

// GetParticipant fetches a participant, or (nil, nil) when unknown.
func (s *PostgresStore) GetParticipant(id string) (*models.Participant, error) {
	row := s.db.QueryRow(`SELECT `+pgParticipantColumns+` FROM users WHERE id = $1`, id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetParticipant failed", "error", err, "id", id)
		return nil, err
	}
	return &p, nil
}

// SetOnline updates the online flag.
func (s *PostgresStore) SetOnline(id string, online bool) error {
	res, err := s.db.Exec(`UPDATE users SET is_online = $1 WHERE id = $2`, online, id)
	if err != nil {
		slog.Error("PostgresStore SetOnline failed", "error", err, "id", id)
		return fmt.Errorf("failed to update online flag for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotRegistered
	}
	return nil
}

// SetWalletAddress records a wallet address.
func (s *PostgresStore) SetWalletAddress(id, address string) error {
	res, err := s.db.Exec(`UPDATE users SET wallet_address = $1 WHERE id = $2`, address, id)
	if err != nil {
		slog.Error("PostgresStore SetWalletAddress failed", "error", err, "id", id)
		return fmt.Errorf("failed to update wallet address for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotRegistered
	}
	return nil
}

// ListOnlineCollectors returns online collectors in creation order.
func (s *PostgresStore) ListOnlineCollectors() ([]models.Participant, error) {
	rows, err := s.db.Query(`SELECT `+pgParticipantColumns+` FROM users
		WHERE role = $1 AND is_online ORDER BY created_at, id`, models.RoleCollector)
	if err != nil {
		slog.Error("PostgresStore ListOnlineCollectors query failed", "error", err)
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
	return out, nil
}

// FindRecyclerByName matches a registered recycling company case-insensitively.
func (s *PostgresStore) FindRecyclerByName(name string) (*models.Participant, error) {
	row := s.db.QueryRow(`SELECT `+pgParticipantColumns+` FROM users
		WHERE role = $1 AND LOWER(full_name) = LOWER(TRIM($2)) LIMIT 1`, models.RoleRecycler, name)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindRecyclerByName failed", "error", err, "name", name)
		return nil, err
	}
	return &p, nil
}

const pgPickupColumns = `id, creator_id, collector_id, waste_description, status, payment_status, created_at, completed_at`

// CreatePickupRequest appends a pickup request.
func (s *PostgresStore) CreatePickupRequest(r models.PickupRequest) error {
	_, err := s.db.Exec(`INSERT INTO pickup_requests (id, creator_id, collector_id, waste_description, status, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.CreatorID, nilIfEmpty(r.CollectorID), nilIfEmpty(r.WasteDescription), r.Status, r.PaymentStatus, r.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreatePickupRequest failed", "error", err, "id", r.ID)
		return fmt.Errorf("failed to insert pickup request %s: %w", r.ID, err)
	}
	return nil
}

// GetPickupRequest fetches a pickup request, or (nil, nil) when unknown.
func (s *PostgresStore) GetPickupRequest(id string) (*models.PickupRequest, error) {
	row := s.db.QueryRow(`SELECT `+pgPickupColumns+` FROM pickup_requests WHERE id = $1`, id)
	r, err := scanPickupRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetPickupRequest failed", "error", err, "id", id)
		return nil, err
	}
	return &r, nil
}

// AssignPickupRequest moves pending -> assigned.
func (s *PostgresStore) AssignPickupRequest(id, collectorID string) error {
	res, err := s.db.Exec(`UPDATE pickup_requests SET collector_id = $1, status = $2
		WHERE id = $3 AND status = $4`,
		collectorID, models.PickupStatusAssigned, id, models.PickupStatusPending)
	if err != nil {
		slog.Error("PostgresStore AssignPickupRequest failed", "error", err, "id", id)
		return fmt.Errorf("failed to assign pickup request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(id)
	}
	return nil
}

// CompletePickupRequest moves assigned -> completed.
func (s *PostgresStore) CompletePickupRequest(id string, completedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE pickup_requests SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4`,
		models.PickupStatusCompleted, completedAt, id, models.PickupStatusAssigned)
	if err != nil {
		slog.Error("PostgresStore CompletePickupRequest failed", "error", err, "id", id)
		return fmt.Errorf("failed to complete pickup request %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(id)
	}
	return nil
}

// MarkPickupRewarded flips the payment status of a completed request.
func (s *PostgresStore) MarkPickupRewarded(id string) error {
	res, err := s.db.Exec(`UPDATE pickup_requests SET payment_status = $1
		WHERE id = $2 AND status = $3`,
		models.PaymentStatusRewarded, id, models.PickupStatusCompleted)
	if err != nil {
		slog.Error("PostgresStore MarkPickupRewarded failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark pickup request %s rewarded: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.transitionError(id)
	}
	return nil
}

func (s *PostgresStore) transitionError(id string) error {
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
func (s *PostgresStore) ListAssignedPickups(collectorID string) ([]models.PickupRequest, error) {
	return s.listPickups(`SELECT `+pgPickupColumns+` FROM pickup_requests
		WHERE collector_id = $1 AND status = $2 ORDER BY created_at, id`, collectorID, models.PickupStatusAssigned)
}

// ListPendingPickups returns unassigned requests, oldest first.
func (s *PostgresStore) ListPendingPickups() ([]models.PickupRequest, error) {
	return s.listPickups(`SELECT `+pgPickupColumns+` FROM pickup_requests
		WHERE status = $1 ORDER BY created_at, id`, models.PickupStatusPending)
}

func (s *PostgresStore) listPickups(query string, args ...any) ([]models.PickupRequest, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore pickup query failed", "error", err)
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

const pgRecyclingColumns = `id, collector_id, recycler_id, weight_kg::text, amount_paid::text, verification_code, status, created_at`

// CreateRecyclingTransaction appends a recycling transaction.
func (s *PostgresStore) CreateRecyclingTransaction(tx models.RecyclingTransaction) error {
	var weight, amount interface{}
	if tx.WeightKg != nil {
		weight = tx.WeightKg.String()
	}
	if tx.AmountPaid != nil {
		amount = tx.AmountPaid.String()
	}
	_, err := s.db.Exec(`INSERT INTO recycling_transactions (id, collector_id, recycler_id, weight_kg, amount_paid, verification_code, status, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)`,
		tx.ID, tx.CollectorID, tx.RecyclerID, weight, amount, nilIfEmpty(tx.VerificationCode), tx.Status, tx.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateRecyclingTransaction failed", "error", err, "id", tx.ID)
		return fmt.Errorf("failed to insert recycling transaction %s: %w", tx.ID, err)
	}
	return nil
}

// GetRecyclingTransaction fetches a transaction, or (nil, nil) when unknown.
func (s *PostgresStore) GetRecyclingTransaction(id string) (*models.RecyclingTransaction, error) {
	row := s.db.QueryRow(`SELECT `+pgRecyclingColumns+` FROM recycling_transactions WHERE id = $1`, id)
	tx, err := scanRecyclingTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetRecyclingTransaction failed", "error", err, "id", id)
		return nil, err
	}
	return &tx, nil
}

// SetRecyclingWeight records weight, amount, and the active verification code.
func (s *PostgresStore) SetRecyclingWeight(id string, weight, amount decimal.Decimal, code string) error {
	res, err := s.db.Exec(`UPDATE recycling_transactions SET weight_kg = $1::numeric, amount_paid = $2::numeric, verification_code = $3
		WHERE id = $4 AND status = $5`,
		weight.String(), amount.String(), code, id, models.RecyclingStatusPending)
	if err != nil {
		slog.Error("PostgresStore SetRecyclingWeight failed", "error", err, "id", id)
		return fmt.Errorf("failed to set weight for transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.recyclingTransitionError(id)
	}
	return nil
}

// CompleteRecyclingTransaction moves pending -> completed.
func (s *PostgresStore) CompleteRecyclingTransaction(id string) error {
	res, err := s.db.Exec(`UPDATE recycling_transactions SET status = $1
		WHERE id = $2 AND status = $3`,
		models.RecyclingStatusCompleted, id, models.RecyclingStatusPending)
	if err != nil {
		slog.Error("PostgresStore CompleteRecyclingTransaction failed", "error", err, "id", id)
		return fmt.Errorf("failed to complete recycling transaction %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.recyclingTransitionError(id)
	}
	return nil
}

func (s *PostgresStore) recyclingTransitionError(id string) error {
	existing, err := s.GetRecyclingTransaction(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return models.ErrTransactionNotFound
	}
	return models.ErrInvalidTransition
}

// LatestPendingRecyclingForRecycler returns the newest pending transaction
// addressed to the recycler.
func (s *PostgresStore) LatestPendingRecyclingForRecycler(recyclerID string) (*models.RecyclingTransaction, error) {
	row := s.db.QueryRow(`SELECT `+pgRecyclingColumns+` FROM recycling_transactions
		WHERE recycler_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT 1`,
		recyclerID, models.RecyclingStatusPending)
	tx, err := scanRecyclingTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestPendingRecyclingForRecycler failed", "error", err, "recycler", recyclerID)
		return nil, err
	}
	return &tx, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
