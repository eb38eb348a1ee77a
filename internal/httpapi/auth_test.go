package httpapi

import (
	"context"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store/memory"
)

func newTestAuth(t *testing.T) *AuthManager {
	t.Helper()
	return NewAuthManager("0123456789abcdef0123456789abcdef", time.Hour, memory.NewSeeded())
}

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	auth := newTestAuth(t)

	resp, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "cashier",
		Password: "cashier123",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	if resp.Role != domain.RoleCashier || resp.BranchID != "branch-1" {
		t.Fatalf("expected cashier scoped to branch-1, got role=%s branch=%s", resp.Role, resp.BranchID)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "cashier" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor %+v", actor)
	}
	if actor.ShopID != "shop-1" || actor.BranchID != "branch-1" {
		t.Fatalf("expected shop/branch scope in token, got %+v", actor)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	auth := newTestAuth(t)

	_, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "wrong",
	})
	if err == nil {
		t.Fatalf("expected login to fail with wrong password")
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	auth := newTestAuth(t)

	_, err := auth.Login(context.Background(), domain.LoginRequest{
		Username: "nobody",
		Password: "whatever1",
	})
	if err == nil {
		t.Fatalf("expected login to fail for unknown user")
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	auth := newTestAuth(t)
	other := NewAuthManager("another-secret-another-secret-32", time.Hour, memory.NewSeeded())

	resp, err := other.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := auth.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with a different secret to be rejected")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	auth := newTestAuth(t)

	if _, err := auth.ParseToken("not.a.token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}
