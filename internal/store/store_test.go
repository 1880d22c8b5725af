package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ecocycle/wastebot/internal/models"
)

func newTestParticipant(id string, role models.Role, online bool) models.Participant {
	return models.Participant{
		ID:           id,
		FullName:     "Participant " + id,
		Phone:        "+234800000" + id,
		LocationText: "Lagos, Nigeria",
		Coordinates:  &models.Coordinates{Lat: 6.5244, Lon: 3.3792},
		Role:         role,
		Online:       online,
		CreatedAt:    time.Now(),
	}
}

func TestSaveParticipantRejectsDuplicate(t *testing.T) {
	s := NewInMemoryStore()
	p := newTestParticipant("1", models.RoleCreator, true)

	if err := s.SaveParticipant(p); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := s.SaveParticipant(p); err != models.ErrAlreadyRegistered {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	got, err := s.GetParticipant("1")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if got == nil || got.FullName != p.FullName {
		t.Errorf("unexpected participant %+v", got)
	}
}

func TestGetParticipantUnknown(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.GetParticipant("missing")
	if err != nil {
		t.Fatalf("GetParticipant failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for unknown participant, got %+v", got)
	}
}

func TestSetOnlineAndListCollectors(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.SaveParticipant(newTestParticipant("c1", models.RoleCollector, true)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveParticipant(newTestParticipant("c2", models.RoleCollector, false)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveParticipant(newTestParticipant("w1", models.RoleCreator, true)); err != nil {
		t.Fatal(err)
	}

	online, err := s.ListOnlineCollectors()
	if err != nil {
		t.Fatalf("ListOnlineCollectors failed: %v", err)
	}
	if len(online) != 1 || online[0].ID != "c1" {
		t.Fatalf("expected only c1 online, got %+v", online)
	}

	if err := s.SetOnline("c2", true); err != nil {
		t.Fatalf("SetOnline failed: %v", err)
	}
	online, _ = s.ListOnlineCollectors()
	if len(online) != 2 {
		t.Fatalf("expected two online collectors, got %d", len(online))
	}
	// Creation order must be stable for first-seen tie-breaks.
	if online[0].ID != "c1" || online[1].ID != "c2" {
		t.Errorf("expected creation order [c1 c2], got [%s %s]", online[0].ID, online[1].ID)
	}

	if err := s.SetOnline("ghost", true); err != models.ErrNotRegistered {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestFindRecyclerByName(t *testing.T) {
	s := NewInMemoryStore()
	r := newTestParticipant("r1", models.RoleRecycler, true)
	r.FullName = "GreenCycle Ltd"
	if err := s.SaveParticipant(r); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindRecyclerByName("greencycle ltd")
	if err != nil {
		t.Fatalf("FindRecyclerByName failed: %v", err)
	}
	if got == nil || got.ID != "r1" {
		t.Errorf("expected r1, got %+v", got)
	}

	got, _ = s.FindRecyclerByName("Unknown Co")
	if got != nil {
		t.Errorf("expected nil for unknown recycler, got %+v", got)
	}
}

func TestPickupRequestLifecycle(t *testing.T) {
	s := NewInMemoryStore()
	req := models.PickupRequest{
		ID:            "req1",
		CreatorID:     "w1",
		Status:        models.PickupStatusPending,
		PaymentStatus: models.PaymentStatusUnpaid,
		CreatedAt:     time.Now(),
	}
	if err := s.CreatePickupRequest(req); err != nil {
		t.Fatalf("CreatePickupRequest failed: %v", err)
	}

	// Completing before assignment must fail: status never skips forward.
	if err := s.CompletePickupRequest("req1", time.Now()); err != models.ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition completing a pending request, got %v", err)
	}

	if err := s.AssignPickupRequest("req1", "c1"); err != nil {
		t.Fatalf("AssignPickupRequest failed: %v", err)
	}
	got, _ := s.GetPickupRequest("req1")
	if got.Status != models.PickupStatusAssigned || got.CollectorID != "c1" {
		t.Fatalf("unexpected request after assign: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("assigned request violates invariant: %v", err)
	}

	// Re-assignment of an assigned request must fail.
	if err := s.AssignPickupRequest("req1", "c2"); err != models.ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition on double assign, got %v", err)
	}

	completedAt := time.Now()
	if err := s.CompletePickupRequest("req1", completedAt); err != nil {
		t.Fatalf("CompletePickupRequest failed: %v", err)
	}
	got, _ = s.GetPickupRequest("req1")
	if got.Status != models.PickupStatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected request after complete: %+v", got)
	}

	// No regression from completed.
	if err := s.AssignPickupRequest("req1", "c1"); err != models.ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition regressing completed request, got %v", err)
	}

	if err := s.MarkPickupRewarded("req1"); err != nil {
		t.Fatalf("MarkPickupRewarded failed: %v", err)
	}
	got, _ = s.GetPickupRequest("req1")
	if got.PaymentStatus != models.PaymentStatusRewarded {
		t.Errorf("expected rewarded payment status, got %s", got.PaymentStatus)
	}

	if err := s.AssignPickupRequest("missing", "c1"); err != models.ErrRequestNotFound {
		t.Errorf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestListAssignedPickupsOldestFirst(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		req := models.PickupRequest{
			ID:            id,
			CreatorID:     "w1",
			Status:        models.PickupStatusPending,
			PaymentStatus: models.PaymentStatusUnpaid,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreatePickupRequest(req); err != nil {
			t.Fatal(err)
		}
		if err := s.AssignPickupRequest(id, "c1"); err != nil {
			t.Fatal(err)
		}
	}

	assigned, err := s.ListAssignedPickups("c1")
	if err != nil {
		t.Fatalf("ListAssignedPickups failed: %v", err)
	}
	if len(assigned) != 3 {
		t.Fatalf("expected 3 assigned requests, got %d", len(assigned))
	}
	if assigned[0].ID != "a" {
		t.Errorf("expected oldest request first, got %s", assigned[0].ID)
	}

	none, _ := s.ListAssignedPickups("c2")
	if len(none) != 0 {
		t.Errorf("expected no requests for other collector, got %d", len(none))
	}
}

func TestRecyclingTransactionLifecycle(t *testing.T) {
	s := NewInMemoryStore()
	tx := models.RecyclingTransaction{
		ID:          "t1",
		CollectorID: "c1",
		RecyclerID:  "r1",
		Status:      models.RecyclingStatusPending,
		CreatedAt:   time.Now(),
	}
	if err := s.CreateRecyclingTransaction(tx); err != nil {
		t.Fatalf("CreateRecyclingTransaction failed: %v", err)
	}

	weight := decimal.RequireFromString("12.5")
	amount := decimal.RequireFromString("12.5")
	if err := s.SetRecyclingWeight("t1", weight, amount, "4821"); err != nil {
		t.Fatalf("SetRecyclingWeight failed: %v", err)
	}

	got, _ := s.GetRecyclingTransaction("t1")
	if got.WeightKg == nil || !got.WeightKg.Equal(weight) {
		t.Errorf("unexpected weight %+v", got.WeightKg)
	}
	if got.VerificationCode != "4821" {
		t.Errorf("unexpected code %q", got.VerificationCode)
	}

	// Reissuing replaces the previous code.
	if err := s.SetRecyclingWeight("t1", weight, amount, "9900"); err != nil {
		t.Fatalf("SetRecyclingWeight reissue failed: %v", err)
	}
	got, _ = s.GetRecyclingTransaction("t1")
	if got.VerificationCode != "9900" {
		t.Errorf("expected reissued code 9900, got %q", got.VerificationCode)
	}

	if err := s.CompleteRecyclingTransaction("t1"); err != nil {
		t.Fatalf("CompleteRecyclingTransaction failed: %v", err)
	}
	if err := s.CompleteRecyclingTransaction("t1"); err != models.ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition on double complete, got %v", err)
	}
	if err := s.SetRecyclingWeight("t1", weight, amount, "1111"); err != models.ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition setting weight on completed tx, got %v", err)
	}
}

func TestLatestPendingRecyclingForRecycler(t *testing.T) {
	s := NewInMemoryStore()
	base := time.Now()
	for i, id := range []string{"t1", "t2", "t3"} {
		tx := models.RecyclingTransaction{
			ID:          id,
			CollectorID: "c1",
			RecyclerID:  "r1",
			Status:      models.RecyclingStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateRecyclingTransaction(tx); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CompleteRecyclingTransaction("t3"); err != nil {
		t.Fatal(err)
	}

	got, err := s.LatestPendingRecyclingForRecycler("r1")
	if err != nil {
		t.Fatalf("LatestPendingRecyclingForRecycler failed: %v", err)
	}
	// t3 is completed, so the newest pending is t2.
	if got == nil || got.ID != "t2" {
		t.Errorf("expected t2, got %+v", got)
	}

	none, _ := s.LatestPendingRecyclingForRecycler("r2")
	if none != nil {
		t.Errorf("expected nil for other recycler, got %+v", none)
	}
}
