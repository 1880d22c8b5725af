// Package payout provides the token reward payment boundary.
//
// The core validates address syntax and interprets success/failure; it never
// constructs, signs, or submits a payment artifact itself.
package payout

import "context"

// Service sends a fixed reward to a validated wallet address.
type Service interface {
	// SendReward transfers amount (in minor units, lovelace for Cardano) to
	// the address. A nil error means the payout was accepted by the adapter;
	// it does not guarantee on-chain settlement.
	SendReward(ctx context.Context, address string, amount int64) error
}
