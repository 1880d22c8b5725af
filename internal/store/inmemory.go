package store

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/models"
)

// InMemoryStore is a mutex-guarded Store used in tests and for ephemeral
// single-process runs. Creation order is preserved so that dispatch
// tie-breaks and oldest-first listings are deterministic.
type InMemoryStore struct {
	mu           sync.RWMutex
	participants map[string]models.Participant
	participantOrder []string
	requests     map[string]models.PickupRequest
	requestOrder []string
	transactions map[string]models.RecyclingTransaction
	txOrder      []string
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		participants: make(map[string]models.Participant),
		requests:     make(map[string]models.PickupRequest),
		transactions: make(map[string]models.RecyclingTransaction),
	}
}

// SaveParticipant creates a participant; duplicate ids are rejected.
func (s *InMemoryStore) SaveParticipant(p models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.participants[p.ID]; exists {
		return models.ErrAlreadyRegistered
	}
	s.participants[p.ID] = p
	s.participantOrder = append(s.participantOrder, p.ID)
	return nil
}

// GetParticipant fetches a participant, or (nil, nil) when unknown.
func (s *InMemoryStore) GetParticipant(id string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, exists := s.participants[id]
	if !exists {
		return nil, nil
	}
	return &p, nil
}

// SetOnline updates the online flag.
func (s *InMemoryStore) SetOnline(id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.participants[id]
	if !exists {
		return models.ErrNotRegistered
	}
	p.Online = online
	s.participants[id] = p
	return nil
}

// SetWalletAddress records a wallet address.
func (s *InMemoryStore) SetWalletAddress(id, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, exists := s.participants[id]
	if !exists {
		return models.ErrNotRegistered
	}
	p.WalletAddress = address
	s.participants[id] = p
	return nil
}

// ListOnlineCollectors returns online collectors in creation order.
func (s *InMemoryStore) ListOnlineCollectors() ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Participant
	for _, id := range s.participantOrder {
		p := s.participants[id]
		if p.Role == models.RoleCollector && p.Online {
			out = append(out, p)
		}
	}
	return out, nil
}

// FindRecyclerByName matches a registered recycling company case-insensitively.
func (s *InMemoryStore) FindRecyclerByName(name string) (*models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.participantOrder {
		p := s.participants[id]
		if p.Role == models.RoleRecycler && strings.EqualFold(p.FullName, strings.TrimSpace(name)) {
			return &p, nil
		}
	}
	return nil, nil
}

// CreatePickupRequest appends a pickup request.
func (s *InMemoryStore) CreatePickupRequest(r models.PickupRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[r.ID] = r
	s.requestOrder = append(s.requestOrder, r.ID)
	return nil
}

// GetPickupRequest fetches a pickup request, or (nil, nil) when unknown.
func (s *InMemoryStore) GetPickupRequest(id string) (*models.PickupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, exists := s.requests[id]
	if !exists {
		return nil, nil
	}
	return &r, nil
}

// AssignPickupRequest moves pending -> assigned.
func (s *InMemoryStore) AssignPickupRequest(id, collectorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.requests[id]
	if !exists {
		return models.ErrRequestNotFound
	}
	if r.Status != models.PickupStatusPending {
		return models.ErrInvalidTransition
	}
	r.CollectorID = collectorID
	r.Status = models.PickupStatusAssigned
	s.requests[id] = r
	return nil
}

// CompletePickupRequest moves assigned -> completed.
func (s *InMemoryStore) CompletePickupRequest(id string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.requests[id]
	if !exists {
		return models.ErrRequestNotFound
	}
	if r.Status != models.PickupStatusAssigned {
		return models.ErrInvalidTransition
	}
	r.Status = models.PickupStatusCompleted
	r.CompletedAt = &completedAt
	s.requests[id] = r
	return nil
}

// MarkPickupRewarded flips payment status on a completed request.
func (s *InMemoryStore) MarkPickupRewarded(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, exists := s.requests[id]
	if !exists {
		return models.ErrRequestNotFound
	}
	if r.Status != models.PickupStatusCompleted {
		return models.ErrInvalidTransition
	}
	r.PaymentStatus = models.PaymentStatusRewarded
	s.requests[id] = r
	return nil
}

// ListAssignedPickups returns the collector's assigned requests, oldest first.
func (s *InMemoryStore) ListAssignedPickups(collectorID string) ([]models.PickupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PickupRequest
	for _, id := range s.requestOrder {
		r := s.requests[id]
		if r.CollectorID == collectorID && r.Status == models.PickupStatusAssigned {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListPendingPickups returns unassigned requests, oldest first.
func (s *InMemoryStore) ListPendingPickups() ([]models.PickupRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PickupRequest
	for _, id := range s.requestOrder {
		r := s.requests[id]
		if r.Status == models.PickupStatusPending {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateRecyclingTransaction appends a recycling transaction.
func (s *InMemoryStore) CreateRecyclingTransaction(tx models.RecyclingTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = tx
	s.txOrder = append(s.txOrder, tx.ID)
	return nil
}

// GetRecyclingTransaction fetches a transaction, or (nil, nil) when unknown.
func (s *InMemoryStore) GetRecyclingTransaction(id string) (*models.RecyclingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, exists := s.transactions[id]
	if !exists {
		return nil, nil
	}
	return &tx, nil
}

// SetRecyclingWeight records weight, amount, and the active verification code.
func (s *InMemoryStore) SetRecyclingWeight(id string, weight, amount decimal.Decimal, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, exists := s.transactions[id]
	if !exists {
		return models.ErrTransactionNotFound
	}
	if tx.Status != models.RecyclingStatusPending {
		return models.ErrInvalidTransition
	}
	tx.WeightKg = &weight
	tx.AmountPaid = &amount
	tx.VerificationCode = code
	s.transactions[id] = tx
	return nil
}

// CompleteRecyclingTransaction moves pending -> completed.
func (s *InMemoryStore) CompleteRecyclingTransaction(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, exists := s.transactions[id]
	if !exists {
		return models.ErrTransactionNotFound
	}
	if tx.Status != models.RecyclingStatusPending {
		return models.ErrInvalidTransition
	}
	tx.Status = models.RecyclingStatusCompleted
	s.transactions[id] = tx
	return nil
}

// LatestPendingRecyclingForRecycler returns the newest pending transaction
// addressed to the recycler.
func (s *InMemoryStore) LatestPendingRecyclingForRecycler(recyclerID string) (*models.RecyclingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.txOrder) - 1; i >= 0; i-- {
		tx := s.transactions[s.txOrder[i]]
		if tx.RecyclerID == recyclerID && tx.Status == models.RecyclingStatusPending {
			return &tx, nil
		}
	}
	return nil, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
