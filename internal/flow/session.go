// Package flow implements the per-participant conversation state machine
// that drives registration, pickup dispatch, handshake verification, and
// reward collection.
package flow

import (
	"log/slog"
	"sync"
	"time"
)

// State identifies which input the conversation expects next from a
// participant. An empty state means no flow is active.
type State string

const (
	// StateAwaitingRole expects a role choice during registration.
	StateAwaitingRole State = "AWAITING_ROLE"
	// StateAwaitingName expects the participant's full name.
	StateAwaitingName State = "AWAITING_NAME"
	// StateAwaitingPhone expects the participant's phone number.
	StateAwaitingPhone State = "AWAITING_PHONE"
	// StateAwaitingLocation expects a geocodable free-text location.
	StateAwaitingLocation State = "AWAITING_LOCATION"
	// StateAwaitingWasteDescription expects a description for a new pickup.
	StateAwaitingWasteDescription State = "AWAITING_WASTE_DESCRIPTION"
	// StateAwaitingPickupCode expects the pickup verification code from the
	// collector.
	StateAwaitingPickupCode State = "AWAITING_PICKUP_CODE"
	// StateAwaitingRecyclerName expects the name of a recycling company.
	StateAwaitingRecyclerName State = "AWAITING_RECYCLER_NAME"
	// StateAwaitingWeight expects the recorded material weight in kg.
	StateAwaitingWeight State = "AWAITING_WEIGHT"
	// StateAwaitingRecyclingCode expects the recycling verification code from
	// the recycler.
	StateAwaitingRecyclingCode State = "AWAITING_RECYCLING_CODE"
	// StateAwaitingWalletAddress expects a wallet address for reward payout.
	StateAwaitingWalletAddress State = "AWAITING_WALLET_ADDRESS"
)

// DataKey names a value stored in a session while a flow is in progress.
type DataKey string

const (
	// DataKeyRole holds the chosen role during registration.
	DataKeyRole DataKey = "role"
	// DataKeyFullName holds the entered full name during registration.
	DataKeyFullName DataKey = "full_name"
	// DataKeyPhone holds the entered phone number during registration.
	DataKeyPhone DataKey = "phone"
	// DataKeyRequestID holds the pickup request id the flow operates on.
	DataKeyRequestID DataKey = "request_id"
	// DataKeyTransactionID holds the recycling transaction id the flow
	// operates on.
	DataKeyTransactionID DataKey = "transaction_id"
	// DataKeyExpectedCode holds the most recently issued verification code.
	// Re-issuing overwrites it, which is what invalidates older codes.
	DataKeyExpectedCode DataKey = "expected_code"
)

// session is the ephemeral conversation context for one participant.
type session struct {
	state     State
	data      map[DataKey]string
	createdAt time.Time
	updatedAt time.Time
}

// SessionManager holds in-flight conversation sessions keyed by participant
// id. Sessions live in process memory only; a restart loses them, which is
// an accepted gap. All access goes through the manager so that a session
// created on one participant's behalf by another participant's handler is
// safely published.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSessionManager creates an empty in-memory session manager.
func NewSessionManager() *SessionManager {
	slog.Debug("Creating SessionManager")
	return &SessionManager{sessions: make(map[string]*session)}
}

// Begin starts a fresh session for the participant in the given state,
// replacing any session already in progress.
func (m *SessionManager) Begin(participantID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.sessions[participantID] = &session{
		state:     state,
		data:      make(map[DataKey]string),
		createdAt: now,
		updatedAt: now,
	}
	slog.Debug("SessionManager Begin", "participantID", participantID, "state", state)
}

// State returns the participant's current state, or "" when no session is
// active.
func (m *SessionManager) State(participantID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[participantID]
	if !ok {
		return ""
	}
	return s.state
}

// SetState transitions an active session to a new state. It is a no-op when
// no session exists; callers begin sessions explicitly.
func (m *SessionManager) SetState(participantID string, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[participantID]
	if !ok {
		slog.Debug("SessionManager SetState without session", "participantID", participantID, "state", state)
		return
	}
	s.state = state
	s.updatedAt = time.Now()
	slog.Debug("SessionManager SetState", "participantID", participantID, "state", state)
}

// Data returns a stored session value, or "" when absent.
func (m *SessionManager) Data(participantID string, key DataKey) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[participantID]
	if !ok {
		return ""
	}
	return s.data[key]
}

// SetData stores a value in the participant's active session. It is a no-op
// when no session exists.
func (m *SessionManager) SetData(participantID string, key DataKey, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[participantID]
	if !ok {
		slog.Debug("SessionManager SetData without session", "participantID", participantID, "key", key)
		return
	}
	s.data[key] = value
	s.updatedAt = time.Now()
}

// End destroys the participant's session. Ending an absent session is a
// no-op.
func (m *SessionManager) End(participantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, participantID)
	slog.Debug("SessionManager End", "participantID", participantID)
}

// Active reports whether the participant has a session in progress.
func (m *SessionManager) Active(participantID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[participantID]
	return ok
}
