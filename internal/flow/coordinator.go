package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/dispatch"
	"github.com/ecocycle/wastebot/internal/geo"
	"github.com/ecocycle/wastebot/internal/handshake"
	"github.com/ecocycle/wastebot/internal/messaging"
	"github.com/ecocycle/wastebot/internal/models"
	"github.com/ecocycle/wastebot/internal/payout"
	"github.com/ecocycle/wastebot/internal/store"
	"github.com/ecocycle/wastebot/internal/util"
)

// skipKeyword lets a creator decline the optional waste description step.
const skipKeyword = "skip"

// commandList is appended to registration and welcome messages.
const commandList = "Available commands:\n" +
	"/status - Toggle your online status\n" +
	"/request - Create a pickup request (for Waste Creators)\n" +
	"/complete - Complete a pickup (for Waste Collectors)\n" +
	"/recycle - Hand material to a recycling company (for Waste Collectors)\n" +
	"/weight - Record received material weight (for Recycling Companies)\n" +
	"/verify_recycling - Confirm a recycling handoff (for Recycling Companies)\n" +
	"/cancel - Cancel the current operation"

// Config carries the tunables the coordinator needs at runtime.
type Config struct {
	// RewardLovelace is the fixed reward per participant after a verified
	// pickup, in lovelace (ADA minor units).
	RewardLovelace int64
	// RatePerKg is the payment rate applied to recycled material weight.
	RatePerKg decimal.Decimal
}

// Coordinator drives the conversation state machine. One inbound message
// advances at most one participant's session; the messaging router
// guarantees messages from the same participant never interleave.
type Coordinator struct {
	store      store.Store
	sessions   *SessionManager
	geocoder   geo.Geocoder
	dispatcher *dispatch.Dispatcher
	handshake  *handshake.Protocol
	payout     payout.Service
	msg        messaging.Service
	cfg        Config
}

// NewCoordinator wires the conversation state machine over its
// collaborators.
func NewCoordinator(st store.Store, gc geo.Geocoder, d *dispatch.Dispatcher, hs *handshake.Protocol, p payout.Service, svc messaging.Service, cfg Config) *Coordinator {
	slog.Debug("Creating flow Coordinator", "rewardLovelace", cfg.RewardLovelace, "ratePerKg", cfg.RatePerKg)
	return &Coordinator{
		store:      st,
		sessions:   NewSessionManager(),
		geocoder:   gc,
		dispatcher: d,
		handshake:  hs,
		payout:     p,
		msg:        svc,
		cfg:        cfg,
	}
}

// HandleMessage processes one inbound message. Commands always take effect,
// replacing any flow in progress; other text continues the active session or
// falls through to the help response.
func (c *Coordinator) HandleMessage(ctx context.Context, from, body string, timestamp int64) error {
	body = strings.TrimSpace(body)
	slog.Debug("Coordinator HandleMessage", "from", from, "state", c.sessions.State(from))

	if strings.HasPrefix(body, "/") {
		return c.handleCommand(ctx, from, body)
	}
	if c.sessions.Active(from) {
		return c.continueSession(ctx, from, body)
	}
	return c.msg.SendMessage(ctx, from, "I didn't understand that. 🤔\n"+commandList)
}

func (c *Coordinator) handleCommand(ctx context.Context, from, body string) error {
	cmd := strings.ToLower(strings.Fields(body)[0])
	// Telegram appends the bot name to commands in group chats.
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		return c.handleStart(ctx, from)
	case "/status":
		return c.handleStatus(ctx, from)
	case "/request":
		return c.handleRequest(ctx, from)
	case "/complete":
		return c.handleComplete(ctx, from)
	case "/recycle":
		return c.handleRecycle(ctx, from)
	case "/weight":
		return c.handleWeight(ctx, from)
	case "/verify_recycling":
		return c.handleVerifyRecycling(ctx, from)
	case "/cancel":
		return c.handleCancel(ctx, from)
	default:
		return c.msg.SendMessage(ctx, from, "Unknown command.\n"+commandList)
	}
}

// continueSession feeds a non-command message into the active flow.
func (c *Coordinator) continueSession(ctx context.Context, from, body string) error {
	switch c.sessions.State(from) {
	case StateAwaitingRole:
		return c.handleRoleChoice(ctx, from, body)
	case StateAwaitingName:
		return c.handleName(ctx, from, body)
	case StateAwaitingPhone:
		return c.handlePhone(ctx, from, body)
	case StateAwaitingLocation:
		return c.handleLocation(ctx, from, body)
	case StateAwaitingWasteDescription:
		return c.handleWasteDescription(ctx, from, body)
	case StateAwaitingPickupCode:
		return c.handlePickupCode(ctx, from, body)
	case StateAwaitingRecyclerName:
		return c.handleRecyclerName(ctx, from, body)
	case StateAwaitingWeight:
		return c.handleWeightEntry(ctx, from, body)
	case StateAwaitingRecyclingCode:
		return c.handleRecyclingCode(ctx, from, body)
	case StateAwaitingWalletAddress:
		return c.handleWalletAddress(ctx, from, body)
	default:
		c.sessions.End(from)
		return c.msg.SendMessage(ctx, from, "Something went wrong with your session. Please start over.")
	}
}

// Registration.

func (c *Coordinator) handleStart(ctx context.Context, from string) error {
	p, err := c.store.GetParticipant(from)
	if err != nil {
		return fmt.Errorf("failed to look up participant %s: %w", from, err)
	}
	if p != nil {
		// Re-registration short-circuits to an informational response.
		return c.msg.SendMessage(ctx, from, fmt.Sprintf("Welcome back! You are registered as a %s.\n%s", p.Role, commandList))
	}

	c.sessions.Begin(from, StateAwaitingRole)
	choices := make([]string, 0, len(models.AllRoles()))
	for _, r := range models.AllRoles() {
		choices = append(choices, string(r))
	}
	return c.msg.SendChoices(ctx, from, "Welcome to the Waste Management Bot! 🌱\nPlease choose your role:", choices)
}

func (c *Coordinator) handleRoleChoice(ctx context.Context, from, body string) error {
	role, err := models.ParseRole(body)
	if err != nil {
		choices := make([]string, 0, len(models.AllRoles()))
		for _, r := range models.AllRoles() {
			choices = append(choices, string(r))
		}
		return c.msg.SendChoices(ctx, from, "Please choose one of the listed roles:", choices)
	}
	c.sessions.SetData(from, DataKeyRole, string(role))
	c.sessions.SetState(from, StateAwaitingName)
	return c.msg.SendMessage(ctx, from, "Please enter your full name:")
}

func (c *Coordinator) handleName(ctx context.Context, from, body string) error {
	if body == "" || len(body) > models.MaxFullNameLength {
		return c.msg.SendMessage(ctx, from, "Please enter a valid full name:")
	}
	c.sessions.SetData(from, DataKeyFullName, body)
	c.sessions.SetState(from, StateAwaitingPhone)
	return c.msg.SendMessage(ctx, from, "Please enter your phone number:")
}

func (c *Coordinator) handlePhone(ctx context.Context, from, body string) error {
	if body == "" {
		return c.msg.SendMessage(ctx, from, "Please enter your phone number:")
	}
	c.sessions.SetData(from, DataKeyPhone, body)
	c.sessions.SetState(from, StateAwaitingLocation)
	return c.msg.SendMessage(ctx, from, "Please send your location (city, country):")
}

func (c *Coordinator) handleLocation(ctx context.Context, from, body string) error {
	if body == "" || len(body) > models.MaxLocationTextLength {
		return c.msg.SendMessage(ctx, from, "Please send your location (city, country):")
	}

	coords, err := c.geocoder.Geocode(ctx, body)
	if err != nil {
		slog.Error("Coordinator geocode failed", "error", err, "participant", from)
		return c.msg.SendMessage(ctx, from, "Error processing location. Please try again with a valid city and country:")
	}
	if coords == nil {
		return c.msg.SendMessage(ctx, from, "Could not find your location. Please try again with a valid city and country:")
	}

	role := models.Role(c.sessions.Data(from, DataKeyRole))
	p := models.Participant{
		ID:           from,
		FullName:     c.sessions.Data(from, DataKeyFullName),
		Phone:        c.sessions.Data(from, DataKeyPhone),
		LocationText: body,
		Coordinates:  coords,
		Role:         role,
		Online:       true,
		CreatedAt:    time.Now(),
	}
	if err := c.store.SaveParticipant(p); err != nil {
		c.sessions.End(from)
		if errors.Is(err, models.ErrAlreadyRegistered) {
			return c.msg.SendMessage(ctx, from, "You are already registered. Use /status to manage your availability.")
		}
		return fmt.Errorf("failed to save participant %s: %w", from, err)
	}
	slog.Info("Coordinator registered participant", "participant", from, "role", role)

	c.sessions.End(from)
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Registration complete! You are now registered as a %s.\n%s", role, commandList))
}

// Online status.

func (c *Coordinator) handleStatus(ctx context.Context, from string) error {
	p, err := c.store.GetParticipant(from)
	if err != nil {
		return fmt.Errorf("failed to look up participant %s: %w", from, err)
	}
	if p == nil {
		return c.msg.SendMessage(ctx, from, "You need to register first. Use /start to register.")
	}

	online := !p.Online
	if err := c.store.SetOnline(from, online); err != nil {
		return fmt.Errorf("failed to toggle status for %s: %w", from, err)
	}
	status := "offline"
	if online {
		status = "online"
	}
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Your status has been set to %s", status))
}

// Pickup request creation and dispatch.

func (c *Coordinator) handleRequest(ctx context.Context, from string) error {
	p, err := c.requireRole(ctx, from, models.RoleCreator, "Only Waste Creators can create pickup requests.")
	if err != nil || p == nil {
		return err
	}

	c.sessions.Begin(from, StateAwaitingWasteDescription)
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Please describe the waste to be collected (or reply '%s'):", skipKeyword))
}

func (c *Coordinator) handleWasteDescription(ctx context.Context, from, body string) error {
	description := body
	if strings.EqualFold(body, skipKeyword) {
		description = ""
	}
	c.sessions.End(from)

	creator, err := c.store.GetParticipant(from)
	if err != nil {
		return fmt.Errorf("failed to look up creator %s: %w", from, err)
	}
	if creator == nil {
		return c.msg.SendMessage(ctx, from, "You need to register first. Use /start to register.")
	}

	req := models.PickupRequest{
		ID:               util.GenerateRequestID(),
		CreatorID:        from,
		WasteDescription: description,
		Status:           models.PickupStatusPending,
		PaymentStatus:    models.PaymentStatusUnpaid,
		CreatedAt:        time.Now(),
	}
	if err := c.store.CreatePickupRequest(req); err != nil {
		return fmt.Errorf("failed to create pickup request: %w", err)
	}
	slog.Info("Coordinator created pickup request", "request", req.ID, "creator", from)

	_, err = c.dispatcher.Assign(ctx, &req, creator)
	if errors.Is(err, models.ErrNoCollector) {
		return c.msg.SendMessage(ctx, from, "No waste collectors are currently available.\nYour request has been saved and you will be notified when a collector becomes available.")
	}
	if err != nil {
		return fmt.Errorf("failed to dispatch request %s: %w", req.ID, err)
	}
	// The dispatcher already notified both parties.
	return nil
}

// Pickup completion handshake.

func (c *Coordinator) handleComplete(ctx context.Context, from string) error {
	p, err := c.requireRole(ctx, from, models.RoleCollector, "Only Waste Collectors can complete pickups.")
	if err != nil || p == nil {
		return err
	}

	pickups, err := c.store.ListAssignedPickups(from)
	if err != nil {
		return fmt.Errorf("failed to list assigned pickups for %s: %w", from, err)
	}
	if len(pickups) == 0 {
		return c.msg.SendMessage(ctx, from, "You have no active pickup requests.")
	}

	// Oldest assigned pickup is completed first.
	req := pickups[0]
	template := fmt.Sprintf("Your collector is completing pickup request (ID: %s).\nVerification code: %%s\nShare it with your collector to confirm the handoff.", req.ID)
	code, err := c.handshake.Issue(ctx, req.CreatorID, template)
	if err != nil {
		slog.Error("Coordinator could not deliver pickup code", "error", err, "request", req.ID, "creator", req.CreatorID)
		return c.msg.SendMessage(ctx, from, "Could not deliver the verification code to the creator. Please try again later.")
	}

	c.sessions.Begin(from, StateAwaitingPickupCode)
	c.sessions.SetData(from, DataKeyRequestID, req.ID)
	c.sessions.SetData(from, DataKeyExpectedCode, code)
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("A 4-digit verification code has been sent to the creator for pickup request (ID: %s).\nAsk them for it and enter it here:", req.ID))
}

func (c *Coordinator) handlePickupCode(ctx context.Context, from, body string) error {
	requestID := c.sessions.Data(from, DataKeyRequestID)
	expected := c.sessions.Data(from, DataKeyExpectedCode)
	if requestID == "" || expected == "" {
		c.sessions.End(from)
		return c.msg.SendMessage(ctx, from, "No active pickup completion in progress. Use /complete to restart.")
	}

	if !handshake.Verify(body, expected) {
		return c.msg.SendMessage(ctx, from, "Incorrect verification code. Please try again:")
	}

	if err := c.store.CompletePickupRequest(requestID, time.Now()); err != nil {
		c.sessions.End(from)
		return fmt.Errorf("failed to complete pickup request %s: %w", requestID, err)
	}
	slog.Info("Coordinator completed pickup request", "request", requestID, "collector", from)
	c.sessions.End(from)

	req, err := c.store.GetPickupRequest(requestID)
	if err != nil || req == nil {
		return fmt.Errorf("failed to reload pickup request %s: %w", requestID, err)
	}

	if err := c.msg.SendMessage(ctx, req.CreatorID, fmt.Sprintf("Your pickup request (ID: %s) has been completed!", requestID)); err != nil {
		slog.Error("Coordinator could not notify creator of completion", "error", err, "request", requestID, "creator", req.CreatorID)
	}
	if err := c.msg.SendMessage(ctx, from, fmt.Sprintf("Pickup request (ID: %s) marked as completed!", requestID)); err != nil {
		slog.Error("Coordinator could not confirm completion to collector", "error", err, "request", requestID, "collector", from)
	}

	// Both parties earned a reward; collect a wallet address from each.
	c.collectReward(ctx, req.CreatorID, requestID)
	c.collectReward(ctx, from, requestID)
	return nil
}

// Recycling handoff.

func (c *Coordinator) handleRecycle(ctx context.Context, from string) error {
	p, err := c.requireRole(ctx, from, models.RoleCollector, "Only Waste Collectors can start a recycling handoff.")
	if err != nil || p == nil {
		return err
	}

	c.sessions.Begin(from, StateAwaitingRecyclerName)
	return c.msg.SendMessage(ctx, from, "Please enter the name of the recycling company:")
}

func (c *Coordinator) handleRecyclerName(ctx context.Context, from, body string) error {
	recycler, err := c.store.FindRecyclerByName(body)
	if err != nil {
		return fmt.Errorf("failed to look up recycler %q: %w", body, err)
	}
	if recycler == nil {
		return c.msg.SendMessage(ctx, from, "No registered recycling company found with that name. Please try again:")
	}

	collector, err := c.store.GetParticipant(from)
	if err != nil {
		return fmt.Errorf("failed to look up collector %s: %w", from, err)
	}

	tx := models.RecyclingTransaction{
		ID:          util.GenerateTransactionID(),
		CollectorID: from,
		RecyclerID:  recycler.ID,
		Status:      models.RecyclingStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := c.store.CreateRecyclingTransaction(tx); err != nil {
		return fmt.Errorf("failed to create recycling transaction: %w", err)
	}
	slog.Info("Coordinator created recycling transaction", "transaction", tx.ID, "collector", from, "recycler", recycler.ID)
	c.sessions.End(from)

	collectorName := from
	if collector != nil {
		collectorName = collector.FullName
	}
	if err := c.msg.SendMessage(ctx, recycler.ID, fmt.Sprintf("%s wants to deliver recyclable material to you (transaction ID: %s).\nUse /weight once you have received and weighed it.", collectorName, tx.ID)); err != nil {
		slog.Error("Coordinator could not notify recycler", "error", err, "transaction", tx.ID, "recycler", recycler.ID)
	}
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Recycling transaction created (ID: %s). %s has been notified.", tx.ID, recycler.FullName))
}

func (c *Coordinator) handleWeight(ctx context.Context, from string) error {
	p, err := c.requireRole(ctx, from, models.RoleRecycler, "Only Recycling Companies can record material weight.")
	if err != nil || p == nil {
		return err
	}

	tx, err := c.store.LatestPendingRecyclingForRecycler(from)
	if err != nil {
		return fmt.Errorf("failed to look up pending recycling for %s: %w", from, err)
	}
	if tx == nil {
		return c.msg.SendMessage(ctx, from, "You have no pending recycling transactions. A collector must start one with /recycle first.")
	}

	c.sessions.Begin(from, StateAwaitingWeight)
	c.sessions.SetData(from, DataKeyTransactionID, tx.ID)
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Recording weight for transaction (ID: %s).\nPlease enter the weight in kg:", tx.ID))
}

func (c *Coordinator) handleWeightEntry(ctx context.Context, from, body string) error {
	txID := c.sessions.Data(from, DataKeyTransactionID)
	if txID == "" {
		c.sessions.End(from)
		return c.msg.SendMessage(ctx, from, "No active weight entry in progress. Use /weight to restart.")
	}

	weight, err := models.ValidateWeight(body)
	if err != nil {
		return c.msg.SendMessage(ctx, from, "Please enter a positive number for the weight in kg:")
	}

	tx, err := c.store.GetRecyclingTransaction(txID)
	if err != nil || tx == nil {
		c.sessions.End(from)
		return fmt.Errorf("failed to reload recycling transaction %s: %w", txID, err)
	}

	amount := weight.Mul(c.cfg.RatePerKg)
	template := fmt.Sprintf("The recycler recorded %s kg (payment: $%s) for transaction (ID: %s).\nVerification code: %%s\nShare it with the recycler to confirm the handoff.", weight.String(), amount.String(), txID)
	code, err := c.handshake.Issue(ctx, tx.CollectorID, template)
	if err != nil {
		slog.Error("Coordinator could not deliver recycling code", "error", err, "transaction", txID, "collector", tx.CollectorID)
		c.sessions.End(from)
		return c.msg.SendMessage(ctx, from, "Could not deliver the verification code to the collector. Please use /weight to try again.")
	}

	// Weight, amount, and the issued code are committed together so that
	// /verify_recycling can resume after a lost session.
	if err := c.store.SetRecyclingWeight(txID, weight, amount, code); err != nil {
		c.sessions.End(from)
		return fmt.Errorf("failed to record weight for transaction %s: %w", txID, err)
	}
	slog.Info("Coordinator recorded recycling weight", "transaction", txID, "weightKg", weight, "amount", amount)

	c.sessions.SetState(from, StateAwaitingRecyclingCode)
	c.sessions.SetData(from, DataKeyExpectedCode, code)
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Recorded %s kg (payment: $%s).\nA 4-digit verification code has been sent to the collector. Ask them for it and enter it here:", weight.String(), amount.String()))
}

func (c *Coordinator) handleVerifyRecycling(ctx context.Context, from string) error {
	p, err := c.requireRole(ctx, from, models.RoleRecycler, "Only Recycling Companies can verify a recycling handoff.")
	if err != nil || p == nil {
		return err
	}

	// Resume from the persisted code so a lost session is recoverable.
	tx, err := c.store.LatestPendingRecyclingForRecycler(from)
	if err != nil {
		return fmt.Errorf("failed to look up pending recycling for %s: %w", from, err)
	}
	if tx == nil || tx.VerificationCode == "" {
		return c.msg.SendMessage(ctx, from, "No recycling verification in progress. Use /weight to record the material first.")
	}

	c.sessions.Begin(from, StateAwaitingRecyclingCode)
	c.sessions.SetData(from, DataKeyTransactionID, tx.ID)
	c.sessions.SetData(from, DataKeyExpectedCode, tx.VerificationCode)
	return c.msg.SendMessage(ctx, from, fmt.Sprintf("Verifying transaction (ID: %s). Enter the code you received from the collector:", tx.ID))
}

func (c *Coordinator) handleRecyclingCode(ctx context.Context, from, body string) error {
	txID := c.sessions.Data(from, DataKeyTransactionID)
	expected := c.sessions.Data(from, DataKeyExpectedCode)
	if txID == "" || expected == "" {
		c.sessions.End(from)
		return c.msg.SendMessage(ctx, from, "No recycling verification in progress. Use /weight to record the material first.")
	}

	if !handshake.Verify(body, expected) {
		return c.msg.SendMessage(ctx, from, "Incorrect verification code. Please try again:")
	}

	if err := c.store.CompleteRecyclingTransaction(txID); err != nil {
		c.sessions.End(from)
		return fmt.Errorf("failed to complete recycling transaction %s: %w", txID, err)
	}
	slog.Info("Coordinator completed recycling transaction", "transaction", txID, "recycler", from)
	c.sessions.End(from)

	tx, err := c.store.GetRecyclingTransaction(txID)
	if err != nil || tx == nil {
		return fmt.Errorf("failed to reload recycling transaction %s: %w", txID, err)
	}

	summary := fmt.Sprintf("Recycling transaction (ID: %s) completed!", txID)
	if tx.WeightKg != nil && tx.AmountPaid != nil {
		summary = fmt.Sprintf("Recycling transaction (ID: %s) completed!\nWeight: %s kg, Payment: $%s", txID, tx.WeightKg.String(), tx.AmountPaid.String())
	}
	if err := c.msg.SendMessage(ctx, tx.CollectorID, summary); err != nil {
		slog.Error("Coordinator could not notify collector of recycling completion", "error", err, "transaction", txID, "collector", tx.CollectorID)
	}
	return c.msg.SendMessage(ctx, from, summary)
}

// Cancel.

func (c *Coordinator) handleCancel(ctx context.Context, from string) error {
	if !c.sessions.Active(from) {
		return c.msg.SendMessage(ctx, from, "No active operation to cancel.")
	}
	c.sessions.End(from)
	return c.msg.SendMessage(ctx, from, "Operation cancelled.")
}

// Reward payout.

// collectReward starts wallet-address collection for one pickup participant,
// or pays out immediately when an address is already on file. Failures are
// reported to the participant only; the pickup completion is already
// committed.
func (c *Coordinator) collectReward(ctx context.Context, participantID, requestID string) {
	p, err := c.store.GetParticipant(participantID)
	if err != nil || p == nil {
		slog.Error("Coordinator could not load reward recipient", "error", err, "participant", participantID, "request", requestID)
		return
	}

	if p.WalletAddress != "" {
		c.sendReward(ctx, participantID, requestID, p.WalletAddress)
		return
	}

	c.sessions.Begin(participantID, StateAwaitingWalletAddress)
	c.sessions.SetData(participantID, DataKeyRequestID, requestID)
	if err := c.msg.SendMessage(ctx, participantID, "🎉 You've earned a token reward!\nPlease reply with your Cardano wallet address (addr1...) to receive it:"); err != nil {
		slog.Error("Coordinator could not prompt for wallet address", "error", err, "participant", participantID, "request", requestID)
	}
}

func (c *Coordinator) handleWalletAddress(ctx context.Context, from, body string) error {
	requestID := c.sessions.Data(from, DataKeyRequestID)

	if err := models.ValidateWalletAddress(body); err != nil {
		return c.msg.SendMessage(ctx, from, "That doesn't look like a valid Cardano wallet address. Please try again:")
	}
	address := strings.TrimSpace(body)

	if err := c.store.SetWalletAddress(from, address); err != nil {
		c.sessions.End(from)
		return fmt.Errorf("failed to save wallet address for %s: %w", from, err)
	}
	c.sessions.End(from)

	c.sendReward(ctx, from, requestID, address)
	return nil
}

func (c *Coordinator) sendReward(ctx context.Context, participantID, requestID, address string) {
	if err := c.payout.SendReward(ctx, address, c.cfg.RewardLovelace); err != nil {
		slog.Error("Coordinator reward payout failed", "error", err, "participant", participantID, "request", requestID)
		if serr := c.msg.SendMessage(ctx, participantID, "⚠️ Your reward could not be sent right now. The pickup is still recorded as completed."); serr != nil {
			slog.Error("Coordinator could not report payout failure", "error", serr, "participant", participantID)
		}
		return
	}

	if requestID != "" {
		if err := c.store.MarkPickupRewarded(requestID); err != nil {
			slog.Error("Coordinator could not mark pickup rewarded", "error", err, "request", requestID)
		}
	}
	slog.Info("Coordinator sent reward", "participant", participantID, "request", requestID, "lovelace", c.cfg.RewardLovelace)
	if err := c.msg.SendMessage(ctx, participantID, "✅ Your reward is on its way to your wallet!"); err != nil {
		slog.Error("Coordinator could not confirm payout", "error", err, "participant", participantID)
	}
}

// requireRole loads the sender and checks the role gate. A nil participant
// with a nil error means the rejection message was already sent.
func (c *Coordinator) requireRole(ctx context.Context, from string, role models.Role, rejection string) (*models.Participant, error) {
	p, err := c.store.GetParticipant(from)
	if err != nil {
		return nil, fmt.Errorf("failed to look up participant %s: %w", from, err)
	}
	if p == nil {
		return nil, c.msg.SendMessage(ctx, from, "You need to register first. Use /start to register.")
	}
	if p.Role != role {
		return nil, c.msg.SendMessage(ctx, from, rejection)
	}
	return p, nil
}
