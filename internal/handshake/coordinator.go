package handshake

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"channel-hub/internal/billing"
	"channel-hub/internal/channels"
	"channel-hub/internal/common/errors"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/crypto"
	"channel-hub/internal/providers"
)

// DefaultStateTTL bounds how long a generated auth URL stays redeemable.
const DefaultStateTTL = 300 * time.Second

// Coordinator drives the connect and reconnect handshake. Begin issues
// the authorization URL, Complete redeems the callback code into a
// persisted channel.
type Coordinator struct {
	registry  *providers.Registry
	states    StateStore
	store     channels.Store
	billing   billing.Service
	encryptor *crypto.ConfigEncryptor
	logger    logging.Logger

	stateTTL       time.Duration
	enforceBilling bool
}

type CoordinatorOption func(*Coordinator)

// WithStateTTL overrides the handshake state TTL, mainly for tests.
func WithStateTTL(ttl time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.stateTTL = ttl }
}

// WithBillingEnforcement toggles quota and trial checks on Complete.
func WithBillingEnforcement(on bool) CoordinatorOption {
	return func(c *Coordinator) { c.enforceBilling = on }
}

func NewCoordinator(registry *providers.Registry, states StateStore, store channels.Store,
	billingSvc billing.Service, encryptor *crypto.ConfigEncryptor, logger logging.Logger,
	opts ...CoordinatorOption) *Coordinator {

	c := &Coordinator{
		registry:       registry,
		states:         states,
		store:          store,
		billing:        billingSvc,
		encryptor:      encryptor,
		logger:         logger,
		stateTTL:       DefaultStateTTL,
		enforceBilling: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginRequest carries the inputs for auth URL generation.
type BeginRequest struct {
	Provider string
	// RefreshChannelID marks this flow as a re-authorization of an
	// existing channel.
	RefreshChannelID string
	// ExternalURL is the user-supplied instance URL for self-hosted
	// platforms.
	ExternalURL string
}

// BeginResult is what the caller redirects the end user with.
type BeginResult struct {
	AuthorizationURL string `json:"url"`
	State            string `json:"state"`
}

// Begin generates the authorization URL and persists the single-use
// handshake state under its TTL.
func (c *Coordinator) Begin(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	provider, err := c.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	traits := provider.Traits()

	externalURL := req.ExternalURL
	if traits.RequiresExternalURL {
		if externalURL == "" {
			return nil, errors.MissingExternalURL(req.Provider)
		}
		if resolver, ok := provider.(providers.ExternalURLResolver); ok {
			externalURL, err = resolver.ResolveExternalURL(ctx, externalURL)
			if err != nil {
				return nil, errors.NotEnoughScopes(fmt.Sprintf("could not resolve instance url: %v", err))
			}
		}
	}

	state, err := newStateToken()
	if err != nil {
		return nil, errors.InternalError("failed to generate state", err)
	}

	details, err := provider.GenerateAuthURL(ctx, providers.AuthURLRequest{
		State:       state,
		ExternalURL: externalURL,
	})
	if err != nil {
		return nil, errors.InternalError("failed to generate auth url", err)
	}

	// Providers may substitute their own state value; the store key must
	// match whatever comes back on the callback.
	if details.State != "" {
		state = details.State
	}

	codeVerifier := details.CodeVerifier
	if codeVerifier == "" || traits.CustomFields {
		codeVerifier = providers.CodeVerifierNone
	}

	err = c.states.Save(ctx, state, &State{
		CodeVerifier:     codeVerifier,
		RefreshChannelID: req.RefreshChannelID,
		ExternalURL:      externalURL,
		CreatedAt:        time.Now(),
	}, c.stateTTL)
	if err != nil {
		return nil, errors.InternalError("failed to persist handshake state", err)
	}

	c.logger.Info("handshake started",
		logging.String("provider", req.Provider),
		logging.Bool("refresh", req.RefreshChannelID != ""))

	return &BeginResult{AuthorizationURL: details.URL, State: state}, nil
}

// CompleteRequest carries the callback inputs.
type CompleteRequest struct {
	Provider       string
	OrganizationID string
	State          string
	Code           string
	TimezoneOffset int
}

// Complete redeems the callback code. The state is consumed before the
// exchange call so a replayed callback can never redeem the same code
// twice. Custom-field providers are read without deleting, since their
// exchange validates user-typed credentials and the row is removed at
// the end regardless of outcome.
func (c *Coordinator) Complete(ctx context.Context, req CompleteRequest) (*channels.Channel, error) {
	provider, err := c.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}
	traits := provider.Traits()

	var st *State
	if traits.CustomFields {
		st, err = c.states.Get(ctx, req.State)
		defer c.states.Delete(context.WithoutCancel(ctx), req.State)
	} else {
		st, err = c.states.Consume(ctx, req.State)
	}
	if err != nil {
		return nil, errors.InternalError("failed to read handshake state", err)
	}
	if st == nil {
		return nil, errors.InvalidState()
	}

	refresh := st.RefreshChannelID != ""

	account, err := provider.Authenticate(ctx, providers.AuthRequest{
		Code:           req.Code,
		CodeVerifier:   st.CodeVerifier,
		Refresh:        refresh,
		ExternalURL:    st.ExternalURL,
		TimezoneOffset: req.TimezoneOffset,
	})
	if err != nil {
		return nil, errors.NotEnoughScopes(err.Error())
	}
	if account.Error != "" {
		return nil, errors.NotEnoughScopes(account.Error)
	}
	if account.ID == "" {
		return nil, errors.NotEnoughScopes("Invalid API key")
	}

	var existing *channels.Channel
	if refresh {
		existing, err = c.store.Find(ctx, req.OrganizationID, st.RefreshChannelID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.NotFoundError("channel")
		}

		if reconnector, ok := provider.(providers.Reconnector); ok {
			foreignID, err := reconnector.Reconnect(ctx, existing.InternalID)
			if err != nil {
				return nil, errors.NotEnoughScopes(err.Error())
			}
			if foreignID != "" {
				account.ID = foreignID
			}
		}

		if account.ID != existing.InternalID {
			return nil, errors.NotEnoughScopes("Please refresh the channel that needs to be refreshed")
		}
	}

	if !refresh && c.enforceBilling {
		if err := c.checkBilling(ctx, req, account.ID); err != nil {
			return nil, err
		}
	}

	settings := ""
	if len(account.AdditionalSettings) > 0 {
		settings, err = c.encryptor.EncryptJSON(account.AdditionalSettings)
		if err != nil {
			return nil, err
		}
	}

	ch := &channels.Channel{
		OrganizationID:     req.OrganizationID,
		ProviderIdentifier: req.Provider,
		InternalID:         account.ID,
		Name:               displayName(account),
		Picture:            account.Picture,
		Token:              account.AccessToken,
		RefreshToken:       account.RefreshToken,
		TokenExpiration:    expirationTime(account.ExpiresIn),
		InBetweenSteps:     !refresh && traits.InBetweenSteps,
		AdditionalSettings: settings,
	}
	if existing != nil {
		ch.ID = existing.ID
	}

	persisted, err := c.store.Upsert(ctx, ch)
	if err != nil {
		return nil, err
	}

	c.logger.Info("handshake completed",
		logging.String("provider", req.Provider),
		logging.String("channel_id", persisted.ID),
		logging.String("organization_id", req.OrganizationID),
		logging.Bool("refresh", refresh))

	return persisted, nil
}

// checkBilling enforces the channel allowance and the trial reconnect
// restriction on fresh connects.
func (c *Coordinator) checkBilling(ctx context.Context, req CompleteRequest, foreignID string) error {
	quota, err := c.billing.CurrentChannelQuota(ctx, req.OrganizationID)
	if err != nil {
		return errors.InternalError("failed to resolve channel quota", err)
	}
	if quota > 0 {
		// A reconnect of the same foreign account does not add a row, so
		// it never counts against the allowance.
		already, err := c.store.FindByForeignAccount(ctx, req.Provider, foreignID)
		if err != nil {
			return err
		}
		if already == nil || already.OrganizationID != req.OrganizationID {
			active, err := c.store.CountActive(ctx, req.OrganizationID)
			if err != nil {
				return err
			}
			if active >= quota {
				return errors.QuotaExceeded("channel allowance reached")
			}
		}
	}

	trial, err := c.billing.IsTrial(ctx, req.OrganizationID)
	if err != nil {
		return errors.InternalError("failed to resolve trial status", err)
	}
	if trial {
		connectedBefore, err := c.store.WasConnectedBefore(ctx, req.OrganizationID, req.Provider, foreignID)
		if err != nil {
			return err
		}
		if connectedBefore {
			return errors.PaymentRequired("this account was connected before, reconnecting requires an active subscription")
		}
	}
	return nil
}

// displayName prefers the account name, then the username, then a
// synthetic name from the foreign id.
func displayName(account *providers.ForeignAccount) string {
	if account.Name != "" {
		return account.Name
	}
	if account.Username != "" {
		return account.Username
	}
	id := account.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Channel_" + id
}

func expirationTime(expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// newStateToken returns a fresh URL-safe random token.
func newStateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
