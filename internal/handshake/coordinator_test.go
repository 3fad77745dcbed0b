package handshake

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-hub/internal/billing"
	"channel-hub/internal/channels"
	"channel-hub/internal/common/errors"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/crypto"
	"channel-hub/internal/providers"
	"channel-hub/internal/testutil"
)

type coordinatorFixture struct {
	coordinator *Coordinator
	registry    *providers.Registry
	store       channels.Store
	billing     *billing.StaticService
	encryptor   *crypto.ConfigEncryptor
}

func setupCoordinator(t *testing.T) *coordinatorFixture {
	store, err := channels.InitSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	encryptor, err := crypto.NewConfigEncryptor("test-key")
	require.NoError(t, err)

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)

	registry := providers.NewRegistry()
	billingSvc := billing.NewStaticService(0, false)

	return &coordinatorFixture{
		coordinator: NewCoordinator(registry, NewMemoryStateStore(), store, billingSvc, encryptor, logger),
		registry:    registry,
		store:       store,
		billing:     billingSvc,
		encryptor:   encryptor,
	}
}

func TestBegin_ReturnsURLAndState(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})

	result, err := f.coordinator.Begin(context.Background(), BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.State)
	assert.Contains(t, result.AuthorizationURL, result.State)
}

func TestBegin_UnknownProvider(t *testing.T) {
	f := setupCoordinator(t)

	_, err := f.coordinator.Begin(context.Background(), BeginRequest{Provider: "missing"})
	assert.True(t, errors.IsType(err, errors.ErrTypeUnknownProvider))
}

func TestBegin_MissingExternalURL(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{
		ID:        "mastodon",
		TraitsVal: providers.Traits{RequiresExternalURL: true},
	})

	_, err := f.coordinator.Begin(context.Background(), BeginRequest{Provider: "mastodon"})
	assert.True(t, errors.IsType(err, errors.ErrTypeMissingExternalURL))
}

func TestComplete_CreatesChannel(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)

	ch, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider:       "twitter",
		OrganizationID: "org1",
		State:          begun.State,
		Code:           "goodcode",
	})
	require.NoError(t, err)
	assert.Equal(t, "42", ch.InternalID)
	assert.Equal(t, "Alice", ch.Name)
	assert.Equal(t, "t1", ch.Token)
	assert.False(t, ch.Disabled)
}

func TestComplete_StateIsSingleUse(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)

	req := CompleteRequest{Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "goodcode"}

	_, err = f.coordinator.Complete(ctx, req)
	require.NoError(t, err)

	_, err = f.coordinator.Complete(ctx, req)
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestComplete_UnknownState(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})

	_, err := f.coordinator.Complete(context.Background(), CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: "forged", Code: "c",
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestComplete_ProviderRejection(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{
		ID: "twitter",
		AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
			return &providers.ForeignAccount{Error: "invalid_grant"}, nil
		},
	})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)

	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "badcode",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotEnoughScopes))
	assert.Contains(t, err.Error(), "invalid_grant")

	list, err := f.store.List(ctx, "org1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestComplete_EmptyForeignID(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{
		ID: "apiprov",
		AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
			return &providers.ForeignAccount{AccessToken: "t"}, nil
		},
	})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "apiprov"})
	require.NoError(t, err)

	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "apiprov", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotEnoughScopes))
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestComplete_NameFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		account providers.ForeignAccount
		want    string
	}{
		{"prefers name", providers.ForeignAccount{ID: "42", Name: "Alice", Username: "alice", AccessToken: "t"}, "Alice"},
		{"falls back to username", providers.ForeignAccount{ID: "42", Username: "alice", AccessToken: "t"}, "alice"},
		{"synthesizes from id", providers.ForeignAccount{ID: "1234567890", AccessToken: "t"}, "Channel_12345678"},
		{"short id", providers.ForeignAccount{ID: "42", AccessToken: "t"}, "Channel_42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupCoordinator(t)
			account := tt.account
			f.registry.Register(&testutil.BaseProvider{
				ID: "twitter",
				AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
					return &account, nil
				},
			})
			ctx := context.Background()

			begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
			require.NoError(t, err)

			ch, err := f.coordinator.Complete(ctx, CompleteRequest{
				Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ch.Name)
		})
	}
}

func TestComplete_ReconnectSameAccount(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	original, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)

	begun, err = f.coordinator.Begin(ctx, BeginRequest{
		Provider: "twitter", RefreshChannelID: original.ID,
	})
	require.NoError(t, err)

	refreshed, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)
	assert.Equal(t, original.ID, refreshed.ID)

	list, err := f.store.List(ctx, "org1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestComplete_ReconnectDifferentAccountRejected(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	original, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)

	// Second flow authenticates as a different foreign account.
	f.registry.Register(&testutil.BaseProvider{
		ID: "twitter",
		AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
			return &providers.ForeignAccount{ID: "99", Name: "Bob", AccessToken: "t9"}, nil
		},
	})

	begun, err = f.coordinator.Begin(ctx, BeginRequest{
		Provider: "twitter", RefreshChannelID: original.ID,
	})
	require.NoError(t, err)

	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotEnoughScopes))
	assert.Contains(t, err.Error(), "Please refresh the channel that needs to be refreshed")

	// The stored token is untouched.
	stored, err := f.store.Find(ctx, "org1", original.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", stored.Token)
}

func TestComplete_QuotaExceeded(t *testing.T) {
	f := setupCoordinator(t)
	f.billing.Quota = 1
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)

	f.registry.Register(&testutil.BaseProvider{
		ID: "twitter",
		AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
			return &providers.ForeignAccount{ID: "77", Name: "Second", AccessToken: "t"}, nil
		},
	})

	begun, err = f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeQuotaExceeded))
}

func TestComplete_TrialReconnectAbuse(t *testing.T) {
	f := setupCoordinator(t)
	f.billing.Trial = true
	f.registry.Register(&testutil.BaseProvider{ID: "twitter"})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	ch, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)

	require.NoError(t, f.store.SoftDelete(ctx, "org1", ch.ID))

	begun, err = f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	assert.True(t, errors.IsType(err, errors.ErrTypePaymentRequired))
}

func TestComplete_CustomFieldsStateDeletedAtEnd(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{
		ID:        "apiprov",
		TraitsVal: providers.Traits{CustomFields: true},
		AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
			assert.Equal(t, providers.CodeVerifierNone, req.CodeVerifier)
			return &providers.ForeignAccount{ID: "k1", Name: "Key", AccessToken: "t"}, nil
		},
	})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "apiprov"})
	require.NoError(t, err)

	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "apiprov", OrganizationID: "org1", State: begun.State, Code: "key",
	})
	require.NoError(t, err)

	// The state row is removed once the exchange finishes.
	_, err = f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "apiprov", OrganizationID: "org1", State: begun.State, Code: "key",
	})
	assert.True(t, errors.IsType(err, errors.ErrTypeInvalidState))
}

func TestComplete_EncryptsAdditionalSettings(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{
		ID: "twitter",
		AuthenticateFunc: func(ctx context.Context, req providers.AuthRequest) (*providers.ForeignAccount, error) {
			return &providers.ForeignAccount{
				ID: "42", Name: "Alice", AccessToken: "t1",
				AdditionalSettings: map[string]interface{}{"page_id": "p9"},
			}, nil
		},
	})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "twitter"})
	require.NoError(t, err)
	ch, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "twitter", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)

	require.NotEmpty(t, ch.AdditionalSettings)
	assert.NotContains(t, ch.AdditionalSettings, "page_id")

	var settings map[string]interface{}
	require.NoError(t, f.encryptor.DecryptJSON(ch.AdditionalSettings, &settings))
	assert.Equal(t, "p9", settings["page_id"])
}

func TestComplete_InBetweenStepsOnFreshConnectOnly(t *testing.T) {
	f := setupCoordinator(t)
	f.registry.Register(&testutil.BaseProvider{
		ID:        "linkedin",
		TraitsVal: providers.Traits{InBetweenSteps: true},
	})
	ctx := context.Background()

	begun, err := f.coordinator.Begin(ctx, BeginRequest{Provider: "linkedin"})
	require.NoError(t, err)
	ch, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "linkedin", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)
	assert.True(t, ch.InBetweenSteps)

	begun, err = f.coordinator.Begin(ctx, BeginRequest{Provider: "linkedin", RefreshChannelID: ch.ID})
	require.NoError(t, err)
	refreshed, err := f.coordinator.Complete(ctx, CompleteRequest{
		Provider: "linkedin", OrganizationID: "org1", State: begun.State, Code: "c",
	})
	require.NoError(t, err)
	assert.False(t, refreshed.InBetweenSteps)
}
