package flow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/dispatch"
	"github.com/ecocycle/wastebot/internal/handshake"
	"github.com/ecocycle/wastebot/internal/messaging"
	"github.com/ecocycle/wastebot/internal/models"
	"github.com/ecocycle/wastebot/internal/store"
)

const testWallet = "addr1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

// stubGeocoder resolves only the locations a test registers.
type stubGeocoder struct {
	coords map[string]*models.Coordinates
	err    error
}

func (g *stubGeocoder) Geocode(ctx context.Context, text string) (*models.Coordinates, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.coords[text], nil
}

// rewardCall records one payout attempt.
type rewardCall struct {
	Address string
	Amount  int64
}

// stubPayout records reward calls and can simulate failures.
type stubPayout struct {
	mu    sync.Mutex
	calls []rewardCall
	fail  bool
}

func (p *stubPayout) SendReward(ctx context.Context, address string, amount int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return context.DeadlineExceeded
	}
	p.calls = append(p.calls, rewardCall{Address: address, Amount: amount})
	return nil
}

func (p *stubPayout) Calls() []rewardCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]rewardCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// sequenceCodes yields the given codes in order, cycling at the end.
func sequenceCodes(codes ...string) handshake.CodeSource {
	i := 0
	return func() string {
		c := codes[i%len(codes)]
		i++
		return c
	}
}

type fixture struct {
	store    *store.InMemoryStore
	msg      *messaging.MockService
	payout   *stubPayout
	geocoder *stubGeocoder
	coord    *Coordinator
}

func newFixture(codes ...string) *fixture {
	if len(codes) == 0 {
		codes = []string{"4821"}
	}
	st := store.NewInMemoryStore()
	msg := messaging.NewMockService()
	pay := &stubPayout{}
	gc := &stubGeocoder{coords: map[string]*models.Coordinates{
		"Lagos, Nigeria": {Lat: 6.5244, Lon: 3.3792},
		"L1":             {Lat: 0, Lon: 0},
		"L2":             {Lat: 0.045, Lon: 0}, // ~5 km from L1
		"L3":             {Lat: 0.45, Lon: 0},  // ~50 km from L1
	}}
	coord := NewCoordinator(
		st,
		gc,
		dispatch.NewDispatcher(st, msg),
		handshake.New(msg, handshake.WithCodeSource(sequenceCodes(codes...))),
		pay,
		msg,
		Config{RewardLovelace: 1_000_000, RatePerKg: decimal.NewFromInt(1)},
	)
	return &fixture{store: st, msg: msg, payout: pay, geocoder: gc, coord: coord}
}

func (f *fixture) send(t *testing.T, from, body string) {
	t.Helper()
	if err := f.coord.HandleMessage(context.Background(), from, body, 0); err != nil {
		t.Fatalf("HandleMessage(%s, %q) failed: %v", from, body, err)
	}
}

// register walks a participant through the full registration flow.
func (f *fixture) register(t *testing.T, id, name string, role models.Role, location string) {
	t.Helper()
	f.send(t, id, "/start")
	f.send(t, id, string(role))
	f.send(t, id, name)
	f.send(t, id, "+23480000"+id)
	f.send(t, id, location)
}

func TestRegistrationFlow(t *testing.T) {
	f := newFixture()

	f.send(t, "u1", "/start")
	sent := f.msg.Sent()
	if len(sent) != 1 || len(sent[0].Choices) != 3 {
		t.Fatalf("expected role keyboard with 3 choices, got %+v", sent)
	}

	f.send(t, "u1", "Waste Creator")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "full name") {
		t.Errorf("expected name prompt, got %q", got)
	}
	f.send(t, "u1", "Ada Obi")
	f.send(t, "u1", "+2348012345678")
	f.send(t, "u1", "Lagos, Nigeria")

	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "Registration complete! You are now registered as a Waste Creator.") {
		t.Errorf("expected completion message, got %q", got)
	}
	p, err := f.store.GetParticipant("u1")
	if err != nil || p == nil {
		t.Fatalf("participant not persisted: %v", err)
	}
	if p.Role != models.RoleCreator || !p.Online || p.Coordinates == nil {
		t.Errorf("unexpected participant record: %+v", p)
	}
	if f.coord.sessions.Active("u1") {
		t.Error("session should end after registration")
	}
}

func TestReRegistrationShortCircuits(t *testing.T) {
	f := newFixture()
	f.register(t, "u1", "Ada Obi", models.RoleCreator, "Lagos, Nigeria")

	f.send(t, "u1", "/start")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "Welcome back! You are registered as a Waste Creator.") {
		t.Errorf("expected welcome-back message, got %q", got)
	}
	if f.coord.sessions.Active("u1") {
		t.Error("re-registration must not open a session")
	}
}

func TestGeocodeFailureSelfLoops(t *testing.T) {
	f := newFixture()
	f.send(t, "u1", "/start")
	f.send(t, "u1", "Waste Creator")
	f.send(t, "u1", "Ada Obi")
	f.send(t, "u1", "+2348012345678")

	f.send(t, "u1", "Atlantis")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "Could not find your location") {
		t.Errorf("expected geocode re-prompt, got %q", got)
	}
	if f.coord.sessions.State("u1") != StateAwaitingLocation {
		t.Errorf("expected to stay in location state, got %s", f.coord.sessions.State("u1"))
	}

	f.send(t, "u1", "Lagos, Nigeria")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "Registration complete") {
		t.Errorf("expected completion after valid location, got %q", got)
	}
}

func TestInvalidRoleReprompts(t *testing.T) {
	f := newFixture()
	f.send(t, "u1", "/start")
	f.send(t, "u1", "Astronaut")
	if f.coord.sessions.State("u1") != StateAwaitingRole {
		t.Errorf("expected to stay in role state, got %s", f.coord.sessions.State("u1"))
	}
	sent := f.msg.Sent()
	last := sent[len(sent)-1]
	if len(last.Choices) != 3 {
		t.Errorf("expected role keyboard re-prompt, got %+v", last)
	}
}

func TestStatusToggle(t *testing.T) {
	f := newFixture()

	f.send(t, "u1", "/status")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "register first") {
		t.Errorf("expected register-first message, got %q", got)
	}

	f.register(t, "u1", "Ada Obi", models.RoleCollector, "Lagos, Nigeria")
	f.send(t, "u1", "/status")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "offline") {
		t.Errorf("expected offline after first toggle, got %q", got)
	}
	f.send(t, "u1", "/status")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "online") {
		t.Errorf("expected online after second toggle, got %q", got)
	}
}

func TestRoleGates(t *testing.T) {
	f := newFixture()
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")

	f.send(t, "col", "/request")
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "Only Waste Creators") {
		t.Errorf("expected creator gate, got %q", got)
	}
	f.send(t, "col", "/weight")
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "Only Recycling Companies") {
		t.Errorf("expected recycler gate, got %q", got)
	}
	if f.coord.sessions.Active("col") {
		t.Error("rejected commands must not open sessions")
	}
}

func TestRequestAssignsNearestCollector(t *testing.T) {
	f := newFixture()
	f.register(t, "cre", "Ada Obi", models.RoleCreator, "L1")
	f.register(t, "near", "Bode Musa", models.RoleCollector, "L2")
	f.register(t, "far", "Chika Eze", models.RoleCollector, "L3")

	f.send(t, "cre", "/request")
	f.send(t, "cre", "old newspapers")

	reqs, err := f.store.ListAssignedPickups("near")
	if err != nil {
		t.Fatalf("ListAssignedPickups failed: %v", err)
	}
	if len(reqs) != 1 {
		t.Fatalf("expected one request assigned to nearest collector, got %d", len(reqs))
	}
	if reqs[0].WasteDescription != "old newspapers" {
		t.Errorf("expected waste description recorded, got %q", reqs[0].WasteDescription)
	}
	if got := f.msg.LastSentTo("cre"); !strings.Contains(got, "within 5 hours") {
		t.Errorf("expected assignment confirmation, got %q", got)
	}
	if got := f.msg.LastSentTo("near"); !strings.Contains(got, "assigned to you") {
		t.Errorf("expected collector notification, got %q", got)
	}
	if msgs := f.msg.SentTo("far"); len(msgs) != 0 {
		t.Errorf("far collector must not be notified, got %v", msgs)
	}
}

func TestRequestWithNoCollectorsStaysPending(t *testing.T) {
	f := newFixture()
	f.register(t, "cre", "Ada Obi", models.RoleCreator, "L1")

	f.send(t, "cre", "/request")
	f.send(t, "cre", "skip")

	if got := f.msg.LastSentTo("cre"); !strings.Contains(got, "No waste collectors are currently available") {
		t.Errorf("expected no-collectors message, got %q", got)
	}
	pending, err := f.store.ListPendingPickups()
	if err != nil {
		t.Fatalf("ListPendingPickups failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}
	if pending[0].WasteDescription != "" {
		t.Errorf("skip keyword should leave description empty, got %q", pending[0].WasteDescription)
	}
}

func TestPickupCompletionHandshake(t *testing.T) {
	f := newFixture("4821")
	f.register(t, "cre", "Ada Obi", models.RoleCreator, "L1")
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")
	f.send(t, "cre", "/request")
	f.send(t, "cre", "skip")

	f.send(t, "col", "/complete")
	creatorMsgs := f.msg.SentTo("cre")
	codeMsg := creatorMsgs[len(creatorMsgs)-1]
	if !strings.Contains(codeMsg, "4821") {
		t.Fatalf("expected code delivered to creator, got %q", codeMsg)
	}
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "enter it here") {
		t.Errorf("expected code entry prompt for collector, got %q", got)
	}

	f.send(t, "col", "1234")
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "Incorrect verification code") {
		t.Errorf("expected mismatch rejection, got %q", got)
	}
	if f.coord.sessions.State("col") != StateAwaitingPickupCode {
		t.Error("mismatch must re-prompt in the same state")
	}

	f.send(t, "col", "4821")
	reqs, err := f.store.ListAssignedPickups("col")
	if err != nil {
		t.Fatalf("ListAssignedPickups failed: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("completed request must leave the assigned list, got %d", len(reqs))
	}
	if got := f.msg.SentTo("cre"); !strings.Contains(got[len(got)-2], "has been completed") {
		t.Errorf("expected completion notification to creator, got %v", got)
	}

	// Both parties are prompted for reward wallet addresses.
	if got := f.msg.LastSentTo("cre"); !strings.Contains(got, "wallet address") {
		t.Errorf("expected wallet prompt to creator, got %q", got)
	}
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "wallet address") {
		t.Errorf("expected wallet prompt to collector, got %q", got)
	}
}

func TestWalletCollectionAndPayout(t *testing.T) {
	f := newFixture("4821")
	f.register(t, "cre", "Ada Obi", models.RoleCreator, "L1")
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")
	f.send(t, "cre", "/request")
	f.send(t, "cre", "skip")
	f.send(t, "col", "/complete")
	f.send(t, "col", "4821")

	// Malformed address self-loops.
	f.send(t, "cre", "not-a-wallet")
	if got := f.msg.LastSentTo("cre"); !strings.Contains(got, "valid Cardano wallet address") {
		t.Errorf("expected wallet re-prompt, got %q", got)
	}
	if f.coord.sessions.State("cre") != StateAwaitingWalletAddress {
		t.Error("invalid wallet must stay in wallet state")
	}

	f.send(t, "cre", testWallet)
	if got := f.msg.LastSentTo("cre"); !strings.Contains(got, "reward is on its way") {
		t.Errorf("expected payout confirmation, got %q", got)
	}
	calls := f.payout.Calls()
	if len(calls) != 1 || calls[0].Address != testWallet || calls[0].Amount != 1_000_000 {
		t.Fatalf("unexpected payout calls: %+v", calls)
	}

	p, err := f.store.GetParticipant("cre")
	if err != nil || p == nil {
		t.Fatalf("participant lookup failed: %v", err)
	}
	if p.WalletAddress != testWallet {
		t.Errorf("wallet address not persisted, got %q", p.WalletAddress)
	}

	f.send(t, "col", testWallet)
	if len(f.payout.Calls()) != 2 {
		t.Errorf("expected a payout per participant, got %d", len(f.payout.Calls()))
	}
}

func TestRecyclingFlow(t *testing.T) {
	f := newFixture("9042")
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")
	f.register(t, "rec", "GreenCycle Ltd", models.RoleRecycler, "Lagos, Nigeria")

	f.send(t, "col", "/recycle")
	f.send(t, "col", "greencycle ltd") // lookup is case-insensitive
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "deliver recyclable material") {
		t.Errorf("expected recycler notification, got %q", got)
	}
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "Recycling transaction created") {
		t.Errorf("expected creation confirmation, got %q", got)
	}

	f.send(t, "rec", "/weight")
	f.send(t, "rec", "abc")
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "positive number") {
		t.Errorf("expected weight re-prompt, got %q", got)
	}
	if f.coord.sessions.State("rec") != StateAwaitingWeight {
		t.Error("invalid weight must stay in weight state")
	}

	f.send(t, "rec", "12.5")
	colMsgs := f.msg.SentTo("col")
	codeMsg := colMsgs[len(colMsgs)-1]
	if !strings.Contains(codeMsg, "9042") || !strings.Contains(codeMsg, "12.5 kg") || !strings.Contains(codeMsg, "$12.5") {
		t.Fatalf("expected code with weight and amount sent to collector, got %q", codeMsg)
	}

	f.send(t, "rec", "0000")
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "Incorrect verification code") {
		t.Errorf("expected mismatch rejection, got %q", got)
	}

	f.send(t, "rec", "9042")
	summary := f.msg.LastSentTo("rec")
	if !strings.Contains(summary, "completed") || !strings.Contains(summary, "12.5 kg") || !strings.Contains(summary, "$12.5") {
		t.Errorf("expected completion summary with weight and amount, got %q", summary)
	}
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "completed") {
		t.Errorf("expected completion summary to collector, got %q", got)
	}
	tx, err := f.store.LatestPendingRecyclingForRecycler("rec")
	if err != nil {
		t.Fatalf("LatestPendingRecyclingForRecycler failed: %v", err)
	}
	if tx != nil {
		t.Error("completed transaction must no longer be pending")
	}
}

func TestVerifyRecyclingResumesFromStoredCode(t *testing.T) {
	f := newFixture("7310")
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")
	f.register(t, "rec", "GreenCycle Ltd", models.RoleRecycler, "Lagos, Nigeria")
	f.send(t, "col", "/recycle")
	f.send(t, "col", "GreenCycle Ltd")
	f.send(t, "rec", "/weight")
	f.send(t, "rec", "3")

	// The command replaces the live session, picking the code back up from
	// the ledger.
	f.send(t, "rec", "/verify_recycling")
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "Enter the code") {
		t.Errorf("expected resume prompt, got %q", got)
	}
	f.send(t, "rec", "7310")
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "completed") {
		t.Errorf("expected completion after resumed verification, got %q", got)
	}
}

func TestVerifyRecyclingWithoutPendingWork(t *testing.T) {
	f := newFixture()
	f.register(t, "rec", "GreenCycle Ltd", models.RoleRecycler, "Lagos, Nigeria")

	f.send(t, "rec", "/verify_recycling")
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "No recycling verification in progress") {
		t.Errorf("expected missing-context message, got %q", got)
	}
	f.send(t, "rec", "/weight")
	if got := f.msg.LastSentTo("rec"); !strings.Contains(got, "no pending recycling transactions") {
		t.Errorf("expected no-pending message, got %q", got)
	}
}

func TestCompleteWithoutAssignedPickups(t *testing.T) {
	f := newFixture()
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")

	f.send(t, "col", "/complete")
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "no active pickup requests") {
		t.Errorf("expected no-pickups message, got %q", got)
	}
}

func TestCancel(t *testing.T) {
	f := newFixture()

	f.send(t, "u1", "/cancel")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "No active operation") {
		t.Errorf("expected nothing-to-cancel message, got %q", got)
	}

	f.send(t, "u1", "/start")
	f.send(t, "u1", "/cancel")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "Operation cancelled") {
		t.Errorf("expected cancellation message, got %q", got)
	}
	if f.coord.sessions.Active("u1") {
		t.Error("cancel must tear down the session")
	}
}

func TestUnknownTextGetsHelp(t *testing.T) {
	f := newFixture()
	f.send(t, "u1", "hello there")
	if got := f.msg.LastSentTo("u1"); !strings.Contains(got, "Available commands") {
		t.Errorf("expected help response, got %q", got)
	}
}

func TestPickupCodeDeliveryFailureAborts(t *testing.T) {
	f := newFixture("4821")
	f.register(t, "cre", "Ada Obi", models.RoleCreator, "L1")
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")
	f.send(t, "cre", "/request")
	f.send(t, "cre", "skip")

	f.msg.FailSendTo["cre"] = true
	f.send(t, "col", "/complete")
	if got := f.msg.LastSentTo("col"); !strings.Contains(got, "Could not deliver the verification code") {
		t.Errorf("expected delivery-failure report, got %q", got)
	}
	if f.coord.sessions.Active("col") {
		t.Error("failed code delivery must not open a code-entry session")
	}

	// The pickup stays assigned and can be retried.
	f.msg.FailSendTo["cre"] = false
	f.send(t, "col", "/complete")
	f.send(t, "col", "4821")
	if got := f.msg.LastSentTo("col"); strings.Contains(got, "Incorrect") {
		t.Errorf("retry should succeed, got %q", got)
	}
}

func TestPayoutFailureReportedNotFatal(t *testing.T) {
	f := newFixture("4821")
	f.register(t, "cre", "Ada Obi", models.RoleCreator, "L1")
	f.register(t, "col", "Bode Musa", models.RoleCollector, "L2")
	f.send(t, "cre", "/request")
	f.send(t, "cre", "skip")
	f.send(t, "col", "/complete")
	f.send(t, "col", "4821")

	f.payout.fail = true
	f.send(t, "cre", testWallet)
	if got := f.msg.LastSentTo("cre"); !strings.Contains(got, "could not be sent") {
		t.Errorf("expected payout failure report, got %q", got)
	}
	// The completion itself stays committed.
	reqs, err := f.store.ListAssignedPickups("col")
	if err != nil {
		t.Fatalf("ListAssignedPickups failed: %v", err)
	}
	if len(reqs) != 0 {
		t.Error("payout failure must not regress the completed pickup")
	}
}
