// Package auth authenticates producers on the audit ingest surface and
// resolves the submitting actor. Failed attempts are themselves audited.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/devlens-io/devlens/internal/audit"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const contextKeyActor contextKey = "audit_actor"

// ExtractBearerToken pulls the token out of an Authorization header.
// Returns "" when the header is missing or not a bearer scheme.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// VerifyKeyConstantTime compares a presented token against the configured
// key without leaking length or prefix information through timing.
func VerifyKeyConstantTime(presented, configured string) bool {
	if configured == "" {
		return false
	}
	a := sha256.Sum256([]byte(presented))
	b := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// KeyID derives a short stable identifier for a configured key, safe to
// place in audit records.
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "k_" + hex.EncodeToString(sum[:4])
}

// Authenticator validates ingest requests against the configured API key.
// An empty key disables authentication (dev mode): requests proceed with an
// anonymous actor.
type Authenticator struct {
	ingestKey string
	keyID     string
}

// NewAuthenticator builds the ingest authenticator.
func NewAuthenticator(ingestKey string) *Authenticator {
	a := &Authenticator{ingestKey: ingestKey}
	if ingestKey != "" {
		a.keyID = KeyID(ingestKey)
	}
	return a
}

// Enabled reports whether a key is configured.
func (a *Authenticator) Enabled() bool { return a.ingestKey != "" }

// Authenticate resolves the actor for a request. ok is false only when a
// key is configured and the presented token does not match.
func (a *Authenticator) Authenticate(r *http.Request) (actor audit.Actor, ok bool) {
	if !a.Enabled() {
		return audit.Actor{Kind: audit.ActorAnonymous}, true
	}
	token := ExtractBearerToken(r.Header.Get("Authorization"))
	if token == "" || !VerifyKeyConstantTime(token, a.ingestKey) {
		return audit.Actor{Kind: audit.ActorAnonymous}, false
	}
	return audit.Actor{Kind: audit.ActorAPIKey, APIKeyID: a.keyID}, true
}

// WithActor stores the authenticated actor on the request context.
func WithActor(ctx context.Context, actor audit.Actor) context.Context {
	return context.WithValue(ctx, contextKeyActor, actor)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (audit.Actor, bool) {
	actor, ok := ctx.Value(contextKeyActor).(audit.Actor)
	return actor, ok
}

// GetIPAddress extracts the client IP, trusting X-Forwarded-For from the
// front proxy when present.
func GetIPAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
