// Package models defines the core data structures for the waste coordination bot.
//
// It includes participant, pickup request, and recycling transaction types that
// are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// Role identifies what kind of participant a registered user is.
type Role string

const (
	// RoleCreator originates pickup requests.
	RoleCreator Role = "Waste Creator"
	// RoleCollector fulfills pickup requests and forwards material to recyclers.
	RoleCollector Role = "Waste Collector"
	// RoleRecycler receives material from collectors, weighs it, and triggers payment.
	RoleRecycler Role = "Recycling Company"
)

// Validation constants for participant input.
const (
	// MaxFullNameLength defines the maximum allowed length for a participant name.
	MaxFullNameLength = 200
	// MaxLocationTextLength defines the maximum allowed length for a free-text location.
	MaxLocationTextLength = 300
	// VerificationCodeLength is the fixed number of decimal digits in a handshake code.
	VerificationCodeLength = 4
	// MinWalletAddressLength is the shortest plausible Cardano address.
	MinWalletAddressLength = 20
	// MaxWalletAddressLength is the longest plausible Cardano address.
	MaxWalletAddressLength = 120
)

// Error variables for better error handling and testability.
var (
	ErrAlreadyRegistered  = errors.New("participant is already registered")
	ErrNotRegistered      = errors.New("participant is not registered")
	ErrWrongRole          = errors.New("participant role does not permit this operation")
	ErrInvalidRole        = errors.New("invalid role")
	ErrEmptyName          = errors.New("full name cannot be empty")
	ErrNameTooLong        = errors.New("full name exceeds maximum length")
	ErrEmptyPhone         = errors.New("phone number cannot be empty")
	ErrEmptyLocation      = errors.New("location cannot be empty")
	ErrLocationTooLong    = errors.New("location exceeds maximum length")
	ErrInvalidWallet      = errors.New("malformed wallet address")
	ErrInvalidCode        = errors.New("verification code must be exactly 4 digits")
	ErrNoActiveFlow       = errors.New("no active flow for participant")
	ErrNoCollector        = errors.New("no collector available")
	ErrRequestNotFound    = errors.New("pickup request not found")
	ErrTransactionNotFound = errors.New("recycling transaction not found")
)

// IsValidRole checks if the given role is one of the closed set.
func IsValidRole(r Role) bool {
	switch r {
	case RoleCreator, RoleCollector, RoleRecycler:
		return true
	default:
		return false
	}
}

// ParseRole converts free text (e.g. a keyboard reply) into a Role.
// Returns ErrInvalidRole when the text does not name a known role.
func ParseRole(text string) (Role, error) {
	r := Role(strings.TrimSpace(text))
	if !IsValidRole(r) {
		return "", ErrInvalidRole
	}
	return r, nil
}

// AllRoles returns the closed set of roles in presentation order.
func AllRoles() []Role {
	return []Role{RoleCreator, RoleCollector, RoleRecycler}
}

// Coordinates is a geocoded latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Participant represents a registered user of the coordination system.
// Identity is the messaging-platform-assigned id. Role is immutable after
// creation; Online and WalletAddress are the only mutable fields.
type Participant struct {
	ID            string       `json:"id"`
	FullName      string       `json:"full_name"`
	Phone         string       `json:"phone"`
	LocationText  string       `json:"location_text"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	Role          Role         `json:"role"`
	Online        bool         `json:"online"`
	WalletAddress string       `json:"wallet_address,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Validate performs field validation on a Participant prior to persistence.
func (p *Participant) Validate() error {
	if p.ID == "" {
		return errors.New("participant id cannot be empty")
	}
	if p.FullName == "" {
		return ErrEmptyName
	}
	if len(p.FullName) > MaxFullNameLength {
		return ErrNameTooLong
	}
	if p.Phone == "" {
		return ErrEmptyPhone
	}
	if p.LocationText == "" {
		return ErrEmptyLocation
	}
	if len(p.LocationText) > MaxLocationTextLength {
		return ErrLocationTooLong
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// ValidateWalletAddress checks Cardano address syntax: a bech32 mainnet
// ("addr1") or testnet ("addr_test1") prefix followed by bech32 payload
// characters. Only syntax is checked here; the payout adapter owns the rest.
func ValidateWalletAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if len(addr) < MinWalletAddressLength || len(addr) > MaxWalletAddressLength {
		return ErrInvalidWallet
	}
	var payload string
	switch {
	case strings.HasPrefix(addr, "addr_test1"):
		payload = addr[len("addr_test1"):]
	case strings.HasPrefix(addr, "addr1"):
		payload = addr[len("addr1"):]
	default:
		return ErrInvalidWallet
	}
	if payload == "" {
		return ErrInvalidWallet
	}
	for _, c := range payload {
		// bech32 charset excludes '1', 'b', 'i', 'o'
		if !strings.ContainsRune("qpzry9x8gf2tvdw0s3jn54khce6mua7l", c) {
			return ErrInvalidWallet
		}
	}
	return nil
}

// ValidateVerificationCode checks that a candidate handshake code is exactly
// four decimal digits. Leading zeros are permitted.
func ValidateVerificationCode(code string) error {
	if len(code) != VerificationCodeLength {
		return ErrInvalidCode
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return ErrInvalidCode
		}
	}
	return nil
}

// Response represents an incoming message from a participant.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Time int64  `json:"time"`
}
