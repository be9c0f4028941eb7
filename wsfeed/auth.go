package wsfeed

import (
	"context"
	"errors"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the authenticated user or service ID.
	Subject string `json:"subject"`

	// Scopes defines what operations are permitted.
	// Examples: "job:read", "job:write", "subscribe", "*"
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope returns true if the identity has the given scope.
// A wildcard "*" scope grants all permissions.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == ScopeAll || s == scope {
			return true
		}
	}
	return false
}

// Authenticator validates credentials and returns an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// ErrUnauthorized indicates authentication failure.
var ErrUnauthorized = errors.New("wsfeed: unauthorized")

// ── Token authenticator ─────────────────────────────

// TokenEntry maps a static token to an identity.
type TokenEntry struct {
	Token    string
	Identity Identity
}

// TokenAuthenticator validates tokens against a static list.
type TokenAuthenticator struct {
	tokens map[string]*Identity
}

// NewTokenAuthenticator creates a static token authenticator.
func NewTokenAuthenticator(entries ...TokenEntry) *TokenAuthenticator {
	tokens := make(map[string]*Identity, len(entries))
	for _, e := range entries {
		identity := e.Identity
		tokens[e.Token] = &identity
	}
	return &TokenAuthenticator{tokens: tokens}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	identity, ok := a.tokens[token]
	if !ok {
		return nil, ErrUnauthorized
	}
	return identity, nil
}

// ── No-op authenticator ─────────────────────────────

// NoopAuthenticator accepts all tokens with a wildcard identity.
// Use for development only.
type NoopAuthenticator struct{}

func (a *NoopAuthenticator) Authenticate(_ context.Context, _ string) (*Identity, error) {
	return &Identity{
		Subject: "anonymous",
		Scopes:  []string{ScopeAll},
	}, nil
}

// ── Scope constants ─────────────────────────────────

const (
	ScopeJobRead   = "job:read"
	ScopeJobWrite  = "job:write"
	ScopeStatsRead = "stats:read"
	ScopeSubscribe = "subscribe"
	ScopeAdmin     = "admin"
	ScopeAll       = "*"
)

// RequiredScope returns the minimum scope required for a method.
func RequiredScope(method string) string {
	switch method {
	case MethodAuth:
		return "" // No scope needed for auth.
	case MethodJobEnqueue:
		return ScopeJobWrite
	case MethodJobGet, MethodJobList, MethodJobCounts:
		return ScopeJobRead
	case MethodSubscribe, MethodUnsubscribe:
		return ScopeSubscribe
	case MethodStats:
		return ScopeStatsRead
	default:
		return ScopeAdmin
	}
}
