// Package testutil holds configurable provider stubs shared by tests.
package testutil

import (
	"context"

	"channel-hub/internal/providers"
)

// BaseProvider is a stub implementing only the base Provider contract.
// Every behavior is overridable per test; unset funcs fall back to a
// happy-path default.
type BaseProvider struct {
	ID        string
	TraitsVal providers.Traits

	GenerateAuthURLFunc func(ctx context.Context, req providers.AuthURLRequest) (*providers.AuthDetails, error)
	AuthenticateFunc    func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error)
	RefreshTokenFunc    func(ctx context.Context, refreshToken string) (*providers.ForeignAccount, error)
}

func (p *BaseProvider) Identifier() string {
	if p.ID == "" {
		return "fake"
	}
	return p.ID
}

func (p *BaseProvider) Traits() providers.Traits {
	return p.TraitsVal
}

func (p *BaseProvider) GenerateAuthURL(ctx context.Context, req providers.AuthURLRequest) (*providers.AuthDetails, error) {
	if p.GenerateAuthURLFunc != nil {
		return p.GenerateAuthURLFunc(ctx, req)
	}
	return &providers.AuthDetails{
		URL:          "https://example.com/authorize?state=" + req.State,
		State:        req.State,
		CodeVerifier: "test-verifier",
	}, nil
}

func (p *BaseProvider) Authenticate(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
	if p.AuthenticateFunc != nil {
		return p.AuthenticateFunc(ctx, req)
	}
	return &providers.ForeignAccount{
		ID:          "42",
		Name:        "Alice",
		AccessToken: "t1",
	}, nil
}

func (p *BaseProvider) RefreshToken(ctx context.Context, refreshToken string) (*providers.ForeignAccount, error) {
	if p.RefreshTokenFunc != nil {
		return p.RefreshTokenFunc(ctx, refreshToken)
	}
	return &providers.ForeignAccount{
		AccessToken:  "refreshed-token",
		RefreshToken: "refreshed-refresh",
		ExpiresIn:    3600,
	}, nil
}

// PostProvider adds the post capability to BaseProvider.
type PostProvider struct {
	BaseProvider
	PostFunc func(ctx context.Context, ch providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error)
}

func (p *PostProvider) Post(ctx context.Context, ch providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
	if p.PostFunc != nil {
		return p.PostFunc(ctx, ch, content)
	}
	return &providers.PostResult{PostID: "post-1"}, nil
}

// SearchProvider adds the mention search capability to BaseProvider.
type SearchProvider struct {
	BaseProvider
	FetchMentionsFunc func(ctx context.Context, ch providers.ChannelContext, query string) ([]providers.Mention, error)
}

func (p *SearchProvider) FetchMentions(ctx context.Context, ch providers.ChannelContext, query string) ([]providers.Mention, error) {
	if p.FetchMentionsFunc != nil {
		return p.FetchMentionsFunc(ctx, ch, query)
	}
	return nil, nil
}

// ReconnectProvider adds continuity validation to BaseProvider.
type ReconnectProvider struct {
	BaseProvider
	ReconnectFunc func(ctx context.Context, internalID string) (string, error)
}

func (p *ReconnectProvider) Reconnect(ctx context.Context, internalID string) (string, error) {
	if p.ReconnectFunc != nil {
		return p.ReconnectFunc(ctx, internalID)
	}
	return internalID, nil
}
