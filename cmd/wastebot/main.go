package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/api"
	"github.com/ecocycle/wastebot/internal/dispatch"
	"github.com/ecocycle/wastebot/internal/flow"
	"github.com/ecocycle/wastebot/internal/geo"
	"github.com/ecocycle/wastebot/internal/handshake"
	"github.com/ecocycle/wastebot/internal/lockfile"
	"github.com/ecocycle/wastebot/internal/messaging"
	"github.com/ecocycle/wastebot/internal/payout"
	"github.com/ecocycle/wastebot/internal/store"
	"github.com/ecocycle/wastebot/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for wastebot state data
	DefaultStateDir = "/var/lib/wastebot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "wastebot.db"
	// DefaultRewardLovelace is the default reward per verified pickup
	// participant, in ADA minor units (1 ADA).
	DefaultRewardLovelace = 1_000_000
	// DefaultRatePerKg is the default recycling payment rate in dollars per kg.
	DefaultRatePerKg = "1"
	// DefaultNominatimUserAgent identifies the bot to the geocoding service.
	DefaultNominatimUserAgent = "wastebot"
	// TransportTelegram selects the Telegram long-polling transport.
	TransportTelegram = "telegram"
	// TransportTwilio selects the Twilio SMS transport.
	TransportTwilio = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Run the bot
	if err := run(flags, config); err != nil {
		slog.Error("wastebot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("wastebot exited successfully")
}

// Config holds environment configuration
type Config struct {
	Transport        string
	TelegramToken    string
	TwilioSID        string
	TwilioAuthToken  string
	TwilioFromNumber string
	DatabaseURL      string
	StateDir         string
	NominatimURL     string
	BlockfrostID     string
	CardanoSender    string
	CardanoTestnet   bool
	RewardLovelace   int64
	RatePerKg        string
	APIAddr          string
}

// Flags holds command line flag values
type Flags struct {
	transport      *string
	telegramToken  *string
	dbDSN          *string
	stateDir       *string
	nominatimURL   *string
	blockfrostID   *string
	cardanoSender  *string
	cardanoTestnet *bool
	rewardLovelace *int64
	ratePerKg      *string
	apiAddr        *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Transport:        os.Getenv("WASTEBOT_TRANSPORT"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TwilioSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		StateDir:         os.Getenv("WASTEBOT_STATE_DIR"),
		NominatimURL:     os.Getenv("NOMINATIM_URL"),
		BlockfrostID:     os.Getenv("BLOCKFROST_PROJECT_ID"),
		CardanoSender:    os.Getenv("CARDANO_SENDER_ADDRESS"),
		CardanoTestnet:   util.ParseBoolEnv("CARDANO_TESTNET", false),
		RewardLovelace:   util.ParseInt64Env("REWARD_LOVELACE", DefaultRewardLovelace),
		RatePerKg:        os.Getenv("RECYCLING_RATE_PER_KG"),
		APIAddr:          os.Getenv("API_ADDR"),
	}

	if config.Transport == "" {
		config.Transport = TransportTelegram
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No WASTEBOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.RatePerKg == "" {
		config.RatePerKg = DefaultRatePerKg
	}

	slog.Debug("environment variables loaded",
		"WASTEBOT_TRANSPORT", config.Transport,
		"TELEGRAM_BOT_TOKEN_SET", config.TelegramToken != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"WASTEBOT_STATE_DIR", config.StateDir,
		"BLOCKFROST_PROJECT_ID_SET", config.BlockfrostID != "",
		"CARDANO_SENDER_ADDRESS_SET", config.CardanoSender != "",
		"CARDANO_TESTNET", config.CardanoTestnet,
		"REWARD_LOVELACE", config.RewardLovelace,
		"RECYCLING_RATE_PER_KG", config.RatePerKg,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		transport:      flag.String("transport", config.Transport, "messaging transport: telegram or twilio (overrides $WASTEBOT_TRANSPORT)"),
		telegramToken:  flag.String("telegram-token", config.TelegramToken, "Telegram bot token (overrides $TELEGRAM_BOT_TOKEN)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for wastebot data (overrides $WASTEBOT_STATE_DIR)"),
		nominatimURL:   flag.String("nominatim-url", config.NominatimURL, "Nominatim geocoding base URL (overrides $NOMINATIM_URL)"),
		blockfrostID:   flag.String("blockfrost-project-id", config.BlockfrostID, "Blockfrost project id (overrides $BLOCKFROST_PROJECT_ID)"),
		cardanoSender:  flag.String("cardano-sender", config.CardanoSender, "Cardano funding wallet address (overrides $CARDANO_SENDER_ADDRESS)"),
		cardanoTestnet: flag.Bool("cardano-testnet", config.CardanoTestnet, "use the Cardano preprod testnet (overrides $CARDANO_TESTNET)"),
		rewardLovelace: flag.Int64("reward-lovelace", config.RewardLovelace, "reward per pickup participant in lovelace (overrides $REWARD_LOVELACE)"),
		ratePerKg:      flag.String("rate-per-kg", config.RatePerKg, "recycling payment rate per kg (overrides $RECYCLING_RATE_PER_KG)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "ops HTTP server address (overrides $API_ADDR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"transport", *flags.transport,
		"telegramTokenSet", *flags.telegramToken != "",
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"nominatimURL", *flags.nominatimURL,
		"blockfrostIDSet", *flags.blockfrostID != "",
		"cardanoSenderSet", *flags.cardanoSender != "",
		"cardanoTestnet", *flags.cardanoTestnet,
		"rewardLovelace", *flags.rewardLovelace,
		"ratePerKg", *flags.ratePerKg,
		"apiAddr", *flags.apiAddr)

	return flags
}

// buildStore selects and opens the persistence backend based on the DSN.
func buildStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService constructs the configured transport. A missing
// credential for the selected transport is a startup failure.
func buildMessagingService(flags Flags, config Config) (messaging.Service, error) {
	switch *flags.transport {
	case TransportTwilio:
		if config.TwilioSID == "" || config.TwilioAuthToken == "" || config.TwilioFromNumber == "" {
			return nil, errMissingConfig("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER are required for the twilio transport")
		}
		return messaging.NewTwilioService(config.TwilioSID, config.TwilioAuthToken, config.TwilioFromNumber), nil
	case TransportTelegram:
		if *flags.telegramToken == "" {
			return nil, errMissingConfig("TELEGRAM_BOT_TOKEN is required for the telegram transport")
		}
		return messaging.NewTelegramService(*flags.telegramToken)
	default:
		return nil, errMissingConfig("unknown transport " + *flags.transport)
	}
}

// buildGeocoderOptions constructs geocoder configuration options
func buildGeocoderOptions(flags Flags) []geo.Option {
	geoOpts := []geo.Option{geo.WithUserAgent(DefaultNominatimUserAgent)}
	if *flags.nominatimURL != "" {
		geoOpts = append(geoOpts, geo.WithBaseURL(*flags.nominatimURL))
	}
	return geoOpts
}

// buildPayoutOptions constructs Cardano payout configuration options
func buildPayoutOptions(flags Flags) []payout.Option {
	payoutOpts := []payout.Option{payout.WithSenderAddress(*flags.cardanoSender)}
	if *flags.blockfrostID != "" {
		payoutOpts = append(payoutOpts, payout.WithProjectID(*flags.blockfrostID))
	}
	if *flags.cardanoTestnet {
		payoutOpts = append(payoutOpts, payout.WithTestnet())
	}
	return payoutOpts
}

type configError string

func errMissingConfig(msg string) error { return configError(msg) }

func (e configError) Error() string { return string(e) }

// run wires the components together and blocks until shutdown.
func run(flags Flags, config Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ratePerKg, err := decimal.NewFromString(*flags.ratePerKg)
	if err != nil || !ratePerKg.IsPositive() {
		return errMissingConfig("recycling rate per kg must be a positive number")
	}

	// File-based storage gets an exclusive lock so a second instance cannot
	// share the same SQLite file or bot token.
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		lock, err := lockfile.Acquire(filepath.Dir(*flags.dbDSN))
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := buildMessagingService(flags, config)
	if err != nil {
		return err
	}

	cardano, err := payout.NewCardano(buildPayoutOptions(flags)...)
	if err != nil {
		return err
	}

	geocoder := geo.NewNominatim(buildGeocoderOptions(flags)...)
	coordinator := flow.NewCoordinator(
		st,
		geocoder,
		dispatch.NewDispatcher(st, svc),
		handshake.New(svc),
		cardano,
		svc,
		flow.Config{RewardLovelace: *flags.rewardLovelace, RatePerKg: ratePerKg},
	)

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	// The ops server carries the inbound webhook for the Twilio transport.
	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if tw, ok := svc.(*messaging.TwilioService); ok {
		apiOpts = append(apiOpts, api.WithInboundWebhook(tw.WebhookHandler))
	}
	opsServer := api.NewServer(st, apiOpts...)
	go func() {
		if err := opsServer.Run(ctx); err != nil {
			slog.Error("ops server exited with error", "error", err)
		}
	}()

	slog.Info("wastebot started", "transport", *flags.transport)
	router := messaging.NewRouter(svc, coordinator.HandleMessage)
	router.Run(ctx)
	return nil
}
