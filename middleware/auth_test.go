package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, tokenID, expiresAt, err := IssueToken("user-42")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}
	if tokenID == "" {
		t.Error("expected non-empty token ID")
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("token expires in the past")
	}

	userID, parsedID, parsedExpiry, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken returned error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("userID = %q, want user-42", userID)
	}
	if parsedID != tokenID {
		t.Errorf("token ID = %q, want %q", parsedID, tokenID)
	}
	if parsedExpiry.Unix() != expiresAt.Unix() {
		t.Errorf("expiry = %v, want %v", parsedExpiry, expiresAt)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "first-secret")
	token, _, _, err := IssueToken("user-42")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	t.Setenv("JWT_SECRET", "second-secret")
	if _, _, _, err := ParseToken(token); err == nil {
		t.Fatal("expected error for token signed with a different secret")
	}
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	handler := RequireAuth(nil, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a token")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/songs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthPassesUserID(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, _, _, err := IssueToken("user-42")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	var gotUserID string
	handler := RequireAuth(nil, func(w http.ResponseWriter, r *http.Request) {
		gotUserID = UserID(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if gotUserID != "user-42" {
		t.Errorf("userID in context = %q, want user-42", gotUserID)
	}
}

func TestRequireAuthRejectsRevokedToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, tokenID, expiresAt, err := IssueToken("user-42")
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	store := NewMemoryRevocationStore()
	defer store.Close()
	store.Revoke(tokenID, expiresAt)

	handler := RequireAuth(store, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with a revoked token")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestRequireAuthAllowsPreflight(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	called := false
	handler := RequireAuth(nil, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodOptions, "/api/songs", nil))
	if !called {
		t.Error("preflight request should reach the handler")
	}
}
