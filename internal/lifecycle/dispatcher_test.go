package lifecycle

import (
	"context"
	stderrors "errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-hub/internal/channels"
	"channel-hub/internal/common/errors"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/crypto"
	"channel-hub/internal/providers"
	"channel-hub/internal/testutil"
)

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *providers.Registry
	store      *channels.SQLiteStore
}

func setupDispatcher(t *testing.T) *dispatcherFixture {
	store, err := channels.InitSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	encryptor, err := crypto.NewConfigEncryptor("test-key")
	require.NoError(t, err)

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)

	registry := providers.NewRegistry()
	dispatcher := NewDispatcher(registry, store, encryptor, nil, logger, Config{
		CallTimeout: time.Second,
		RefreshWait: 0,
	})

	return &dispatcherFixture{dispatcher: dispatcher, registry: registry, store: store}
}

func (f *dispatcherFixture) seedChannel(t *testing.T) *channels.Channel {
	ch, err := f.store.Upsert(context.Background(), &channels.Channel{
		OrganizationID:     "org1",
		ProviderIdentifier: "fake",
		InternalID:         "42",
		Name:               "Alice",
		Token:              "old-token",
		RefreshToken:       "old-refresh",
	})
	require.NoError(t, err)
	return ch
}

func TestInvoke_Success(t *testing.T) {
	f := setupDispatcher(t)
	f.registry.Register(&testutil.PostProvider{})
	ch := f.seedChannel(t)

	result, err := f.dispatcher.Invoke(context.Background(), ch, providers.CapabilityPost, providers.PostContent{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)

	post := result.Value.(*providers.PostResult)
	assert.Equal(t, "post-1", post.PostID)
}

func TestInvoke_UnknownProvider(t *testing.T) {
	f := setupDispatcher(t)
	ch := f.seedChannel(t)

	_, err := f.dispatcher.Invoke(context.Background(), ch, providers.CapabilityPost, providers.PostContent{})
	assert.True(t, errors.IsType(err, errors.ErrTypeUnknownProvider))
}

func TestInvoke_CapabilityNotFound(t *testing.T) {
	f := setupDispatcher(t)
	f.registry.Register(&testutil.BaseProvider{})
	ch := f.seedChannel(t)

	_, err := f.dispatcher.Invoke(context.Background(), ch, providers.CapabilityPost, providers.PostContent{})
	assert.True(t, errors.IsType(err, errors.ErrTypeCapabilityNotFound))
}

func TestInvoke_RefreshAndRetry(t *testing.T) {
	f := setupDispatcher(t)

	refreshCalls := 0
	provider := &testutil.PostProvider{
		PostFunc: func(ctx context.Context, cc providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
			if cc.Token == "old-token" {
				return nil, providers.ErrTokenExpired
			}
			return &providers.PostResult{PostID: "after-refresh"}, nil
		},
	}
	provider.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*providers.ForeignAccount, error) {
		refreshCalls++
		assert.Equal(t, "old-refresh", refreshToken)
		return &providers.ForeignAccount{
			AccessToken:  "new-token",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
		}, nil
	}
	f.registry.Register(provider)
	ch := f.seedChannel(t)
	ctx := context.Background()

	result, err := f.dispatcher.Invoke(ctx, ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 1, refreshCalls)

	// New credentials are persisted and carried on the in-memory channel.
	stored, err := f.store.Find(ctx, "org1", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-token", stored.Token)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
	assert.Equal(t, "new-token", ch.Token)

	// A second invoke succeeds without another refresh.
	result, err = f.dispatcher.Invoke(ctx, ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, 1, refreshCalls)
}

func TestInvoke_RefreshYieldsNoToken(t *testing.T) {
	f := setupDispatcher(t)

	postCalls := 0
	provider := &testutil.PostProvider{
		PostFunc: func(ctx context.Context, cc providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
			postCalls++
			return nil, providers.ErrTokenExpired
		},
	}
	provider.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*providers.ForeignAccount, error) {
		return &providers.ForeignAccount{}, nil
	}
	f.registry.Register(provider)
	ch := f.seedChannel(t)
	ctx := context.Background()

	result, err := f.dispatcher.Invoke(ctx, ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Equal(t, 1, postCalls)

	stored, err := f.store.Find(ctx, "org1", ch.ID)
	require.NoError(t, err)
	assert.True(t, stored.Disabled)

	// A disabled channel short-circuits without reaching the provider.
	result, err = f.dispatcher.Invoke(ctx, ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Equal(t, 1, postCalls)
}

func TestInvoke_RefreshAccountMismatch(t *testing.T) {
	f := setupDispatcher(t)

	provider := &testutil.PostProvider{
		PostFunc: func(ctx context.Context, cc providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
			return nil, providers.ErrTokenExpired
		},
	}
	provider.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*providers.ForeignAccount, error) {
		return &providers.ForeignAccount{ID: "different-account", AccessToken: "t"}, nil
	}
	f.registry.Register(provider)
	ch := f.seedChannel(t)
	ctx := context.Background()

	result, err := f.dispatcher.Invoke(ctx, ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)

	stored, err := f.store.Find(ctx, "org1", ch.ID)
	require.NoError(t, err)
	assert.True(t, stored.Disabled)
	assert.Equal(t, "old-token", stored.Token)
}

func TestInvoke_SecondExpiryAfterRefresh(t *testing.T) {
	f := setupDispatcher(t)

	postCalls := 0
	provider := &testutil.PostProvider{
		PostFunc: func(ctx context.Context, cc providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
			postCalls++
			return nil, providers.ErrTokenExpired
		},
	}
	f.registry.Register(provider)
	ch := f.seedChannel(t)

	result, err := f.dispatcher.Invoke(context.Background(), ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, result.Status)
	assert.Equal(t, 2, postCalls)
	assert.True(t, ch.Disabled)
}

func TestInvoke_SoftFailure(t *testing.T) {
	f := setupDispatcher(t)

	provider := &testutil.PostProvider{
		PostFunc: func(ctx context.Context, cc providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
			return nil, stderrors.New("rate limited")
		},
	}
	f.registry.Register(provider)
	ch := f.seedChannel(t)
	ctx := context.Background()

	result, err := f.dispatcher.Invoke(ctx, ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	stored, err := f.store.Find(ctx, "org1", ch.ID)
	require.NoError(t, err)
	assert.False(t, stored.Disabled)
	assert.Equal(t, "old-token", stored.Token)
}

func TestInvoke_NoSearchCapabilitySentinel(t *testing.T) {
	f := setupDispatcher(t)

	provider := &testutil.SearchProvider{
		FetchMentionsFunc: func(ctx context.Context, cc providers.ChannelContext, query string) ([]providers.Mention, error) {
			return nil, providers.ErrNoSearchCapability
		},
	}
	f.registry.Register(provider)
	ch := f.seedChannel(t)

	result, err := f.dispatcher.Invoke(context.Background(), ch, providers.CapabilityFetchMentions, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusUnsupported, result.Status)
}

func TestInvoke_DecryptedSettingsReachProvider(t *testing.T) {
	f := setupDispatcher(t)

	encryptor, err := crypto.NewConfigEncryptor("test-key")
	require.NoError(t, err)
	encrypted, err := encryptor.EncryptJSON(map[string]interface{}{"page_id": "p9"})
	require.NoError(t, err)

	var seenSettings map[string]interface{}
	provider := &testutil.PostProvider{
		PostFunc: func(ctx context.Context, cc providers.ChannelContext, content providers.PostContent) (*providers.PostResult, error) {
			seenSettings = cc.Settings
			return &providers.PostResult{PostID: "p"}, nil
		},
	}
	f.registry.Register(provider)

	ch, err := f.store.Upsert(context.Background(), &channels.Channel{
		OrganizationID:     "org1",
		ProviderIdentifier: "fake",
		InternalID:         "42",
		Name:               "Alice",
		Token:              "t",
		AdditionalSettings: encrypted,
	})
	require.NoError(t, err)

	_, err = f.dispatcher.Invoke(context.Background(), ch, providers.CapabilityPost, providers.PostContent{})
	require.NoError(t, err)
	assert.Equal(t, "p9", seenSettings["page_id"])
}

func TestRefresher_SweepFlagsFailures(t *testing.T) {
	f := setupDispatcher(t)

	provider := &testutil.PostProvider{}
	provider.RefreshTokenFunc = func(ctx context.Context, refreshToken string) (*providers.ForeignAccount, error) {
		return nil, stderrors.New("provider down")
	}
	f.registry.Register(provider)

	ch, err := f.store.Upsert(context.Background(), &channels.Channel{
		OrganizationID:     "org1",
		ProviderIdentifier: "fake",
		InternalID:         "42",
		Name:               "Alice",
		Token:              "t",
		RefreshToken:       "r",
		TokenExpiration:    time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)

	refresher := NewRefresher(f.dispatcher, f.store, logger)
	refresher.Sweep(context.Background())

	stored, err := f.store.Find(context.Background(), "org1", ch.ID)
	require.NoError(t, err)
	assert.True(t, stored.RefreshNeeded)
	assert.False(t, stored.Disabled)
}

func TestRefresher_SweepRefreshesExpiring(t *testing.T) {
	f := setupDispatcher(t)
	f.registry.Register(&testutil.PostProvider{})

	ch, err := f.store.Upsert(context.Background(), &channels.Channel{
		OrganizationID:     "org1",
		ProviderIdentifier: "fake",
		InternalID:         "42",
		Name:               "Alice",
		Token:              "t",
		RefreshToken:       "r",
		TokenExpiration:    time.Now().Add(10 * time.Minute),
	})
	require.NoError(t, err)

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)

	refresher := NewRefresher(f.dispatcher, f.store, logger)
	refresher.Sweep(context.Background())

	stored, err := f.store.Find(context.Background(), "org1", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", stored.Token)
	assert.False(t, stored.RefreshNeeded)
}
