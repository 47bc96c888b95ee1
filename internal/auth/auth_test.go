package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New(nil, "test-secret")

	tok, err := a.IssueToken("user@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := a.VerifyToken(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("email: got %q", claims.Email)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	a := New(nil, "secret-a")
	b := New(nil, "secret-b")

	tok, err := a.IssueToken("user@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.VerifyToken(tok); err == nil {
		t.Error("token signed with a different secret must not verify")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	a := New(nil, "test-secret")

	tok, err := a.IssueToken("user@example.com", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.VerifyToken(tok); err == nil {
		t.Error("expired token must not verify")
	}
}

func TestMiddleware(t *testing.T) {
	a := New(nil, "test-secret")

	var gotEmail string
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := GetClaims(r.Context()); c != nil {
			gotEmail = c.Email
		}
	}))

	// Missing token
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/file/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: got %d", rec.Code)
	}

	// Valid token
	tok, _ := a.IssueToken("user@example.com", time.Hour)
	req := httptest.NewRequest("GET", "/file/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token: got %d", rec.Code)
	}
	if gotEmail != "user@example.com" {
		t.Errorf("claims not propagated: %q", gotEmail)
	}
}
