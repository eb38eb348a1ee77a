package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPreparing, true},
		{StatusPending, StatusCancelled, true},
		{StatusPreparing, StatusPrepared, true},
		{StatusPreparing, StatusCancelled, true},
		{StatusPrepared, StatusCompleted, true},
		{StatusPending, StatusCompleted, false},
		{StatusPrepared, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %t, want %t", c.from, c.to, got, c.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := ParseStatus("preparing"); !ok || status != StatusPreparing {
		t.Fatalf("expected preparing to parse, got %s %t", status, ok)
	}
	if _, ok := ParseStatus("shipped"); ok {
		t.Fatalf("expected unknown status to be rejected")
	}
}

func TestCancellableAndDeletable(t *testing.T) {
	if !StatusPending.Cancellable() || !StatusPreparing.Cancellable() {
		t.Fatalf("pending and preparing must be cancellable")
	}
	if StatusPrepared.Cancellable() || StatusCompleted.Cancellable() {
		t.Fatalf("prepared and completed must not be cancellable")
	}
	if StatusCompleted.Deletable() {
		t.Fatalf("completed orders must not be deletable")
	}
	if !StatusCancelled.Deletable() {
		t.Fatalf("cancelled orders must be deletable")
	}
}

func TestActorBranchScope(t *testing.T) {
	admin := Actor{Role: RoleAdmin, BranchID: "branch-1"}
	if admin.BranchScope() != "" {
		t.Fatalf("privileged actors must see the whole shop")
	}
	cashier := Actor{Role: RoleCashier, BranchID: "branch-1"}
	if cashier.BranchScope() != "branch-1" {
		t.Fatalf("cashiers must be confined to their branch")
	}
}
