package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresType(t *testing.T) {
	repo := NewMemoryRepo(0)
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo(0)
	svc := NewService(repo)

	if err := svc.LogAdminAction(context.Background(), "ops", "admin", "1.2.3.4", "manual pulse", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs, err := repo.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeAdminAction {
		t.Fatalf("expected admin_action")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}
}

func TestService_LogGateDecision(t *testing.T) {
	repo := NewMemoryRepo(0)
	svc := NewService(repo)

	if err := svc.LogGateDecision(context.Background(), "c1", "+441234", "4412*", true, "gate opened"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogGateDecision(context.Background(), "c2", "+15550100", "", false, "no match"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs, _ := repo.Recent(context.Background(), 10)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	// Newest first.
	if evs[0].Type != EventTypeGateDenied || evs[1].Type != EventTypeGateOpened {
		t.Fatalf("unexpected order: %s, %s", evs[0].Type, evs[1].Type)
	}
	if evs[1].Pattern != "4412*" {
		t.Fatalf("pattern not captured")
	}
}

func TestMemoryRepo_CapBounds(t *testing.T) {
	repo := NewMemoryRepo(3)
	for i := 0; i < 5; i++ {
		if err := repo.Append(context.Background(), Event{Type: EventTypeGateDenied}); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	evs, _ := repo.Recent(context.Background(), 0)
	if len(evs) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(evs))
	}
}
