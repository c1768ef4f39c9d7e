package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/devlens-io/devlens/internal/audit"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc123", "abc123"},
		{"bearer abc123", "abc123"},
		{"Bearer   abc123  ", "abc123"},
		{"Basic abc123", ""},
		{"", ""},
		{"Bearer", ""},
	}
	for _, tt := range tests {
		if got := ExtractBearerToken(tt.header); got != tt.want {
			t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestVerifyKeyConstantTime(t *testing.T) {
	if !VerifyKeyConstantTime("k-123", "k-123") {
		t.Error("matching key rejected")
	}
	if VerifyKeyConstantTime("k-124", "k-123") {
		t.Error("wrong key accepted")
	}
	if VerifyKeyConstantTime("", "") {
		t.Error("empty configured key must never authenticate")
	}
}

func TestAuthenticator(t *testing.T) {
	a := NewAuthenticator("k-123")

	r := httptest.NewRequest("POST", "/v1/events", nil)
	r.Header.Set("Authorization", "Bearer k-123")
	actor, ok := a.Authenticate(r)
	if !ok {
		t.Fatal("valid key rejected")
	}
	if actor.Kind != audit.ActorAPIKey || actor.APIKeyID == "" {
		t.Errorf("actor = %+v", actor)
	}

	r = httptest.NewRequest("POST", "/v1/events", nil)
	r.Header.Set("Authorization", "Bearer wrong")
	if _, ok := a.Authenticate(r); ok {
		t.Error("invalid key accepted")
	}

	r = httptest.NewRequest("POST", "/v1/events", nil)
	if _, ok := a.Authenticate(r); ok {
		t.Error("missing header accepted")
	}
}

func TestAuthenticator_Disabled(t *testing.T) {
	a := NewAuthenticator("")
	r := httptest.NewRequest("POST", "/v1/events", nil)
	actor, ok := a.Authenticate(r)
	if !ok {
		t.Fatal("disabled authenticator must admit requests")
	}
	if actor.Kind != audit.ActorAnonymous {
		t.Errorf("actor kind = %q, want anonymous", actor.Kind)
	}
}

func TestGetIPAddress(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.10:4711"
	if got := GetIPAddress(r); got != "192.0.2.10" {
		t.Errorf("remote addr ip = %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if got := GetIPAddress(r); got != "203.0.113.5" {
		t.Errorf("forwarded ip = %q", got)
	}
}

func TestKeyID_StableAndSafe(t *testing.T) {
	id := KeyID("k-123")
	if id != KeyID("k-123") {
		t.Error("key id not stable")
	}
	if id == "k-123" {
		t.Error("key id leaks the key")
	}
}
