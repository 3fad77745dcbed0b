// Package handshake implements the OAuth connect and reconnect flow:
// auth URL generation with single-use state, and the callback exchange
// that turns an authorization code into a persisted channel.
package handshake

import (
	"context"
	"time"
)

// State is the ephemeral record created when an auth URL is generated
// and consumed when the callback arrives.
type State struct {
	// CodeVerifier is the PKCE verifier, or the sentinel value for
	// custom-field providers.
	CodeVerifier string `json:"code_verifier"`
	// RefreshChannelID is set when the flow re-authorizes an existing
	// channel instead of connecting a new one.
	RefreshChannelID string `json:"refresh_channel_id,omitempty"`
	// ExternalURL is the resolved instance URL for self-hosted platforms.
	ExternalURL string    `json:"external_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// StateStore persists handshake state with a TTL. Consume must be
// atomic so a state value can be redeemed at most once.
type StateStore interface {
	Save(ctx context.Context, key string, st *State, ttl time.Duration) error

	// Consume atomically reads and deletes the state. A missing, expired
	// or already consumed key returns (nil, nil).
	Consume(ctx context.Context, key string) (*State, error)

	// Get reads the state without deleting it, for providers whose
	// exchange may be retried and the state is removed at the end.
	Get(ctx context.Context, key string) (*State, error)

	Delete(ctx context.Context, key string) error
}
