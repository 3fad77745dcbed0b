// Package lifecycle contains the token lifecycle dispatcher: business
// calls go through Invoke, which resolves the provider, absorbs token
// expiry with a bounded refresh-and-retry, and converts provider
// failures into sentinel results so batch operations stay partial
// failure tolerant.
package lifecycle

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"channel-hub/internal/channels"
	"channel-hub/internal/common/errors"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/crypto"
	"channel-hub/internal/locks"
	"channel-hub/internal/providers"
)

// Status classifies an Invoke outcome.
type Status string

const (
	// StatusOK carries the capability's result value.
	StatusOK Status = "ok"
	// StatusDisconnected means the channel's credentials are gone for
	// good; the channel has been disabled and the user must reconnect.
	StatusDisconnected Status = "disconnected"
	// StatusFailed is a soft provider failure. Nothing about the channel
	// changed; the call may be retried later.
	StatusFailed Status = "failed"
	// StatusUnsupported means the platform has no usable implementation
	// of the requested operation (e.g. no mention search).
	StatusUnsupported Status = "unsupported"
)

// Result is what Invoke hands back for non-terminal outcomes.
type Result struct {
	Status Status
	Value  interface{}
}

// Config tunes the dispatcher's timing.
type Config struct {
	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
	// RefreshWait is the propagation pause after refresh for providers
	// declaring the RefreshWait trait.
	RefreshWait time.Duration
}

// DefaultConfig returns the production timings.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 20 * time.Second,
		RefreshWait: 10 * time.Second,
	}
}

// Dispatcher resolves capabilities and shields callers from token
// expiry. Terminal conditions (unknown provider, missing capability)
// return typed errors; everything else comes back as a Result.
type Dispatcher struct {
	registry  *providers.Registry
	store     channels.Store
	encryptor *crypto.ConfigEncryptor
	locks     *locks.Manager
	logger    logging.Logger
	config    Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewDispatcher creates a dispatcher. The lock manager may be nil for
// single-instance deployments without Redis; refresh serialization for
// single-use refresh tokens is then skipped.
func NewDispatcher(registry *providers.Registry, store channels.Store,
	encryptor *crypto.ConfigEncryptor, lockMgr *locks.Manager,
	logger logging.Logger, config Config) *Dispatcher {

	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Dispatcher{
		registry:  registry,
		store:     store,
		encryptor: encryptor,
		locks:     lockMgr,
		logger:    logger,
		config:    config,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Invoke runs the named capability against the channel. At most two
// attempts: the second only after a successful token refresh. A second
// expiry signal after a fresh refresh disables the channel.
func (d *Dispatcher) Invoke(ctx context.Context, ch *channels.Channel, capability providers.Capability, args interface{}) (*Result, error) {
	if ch.Disabled {
		return &Result{Status: StatusDisconnected}, nil
	}

	provider, err := d.registry.Resolve(ch.ProviderIdentifier)
	if err != nil {
		return nil, err
	}
	if !d.registry.Supports(ch.ProviderIdentifier, capability) {
		return nil, errors.CapabilityNotFound(ch.ProviderIdentifier, string(capability))
	}

	settings, err := d.decryptSettings(ch)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= 2; attempt++ {
		value, err := d.callCapability(ctx, provider, ch, settings, capability, args)
		if err == nil {
			return &Result{Status: StatusOK, Value: value}, nil
		}

		if stderrors.Is(err, providers.ErrNoSearchCapability) {
			return &Result{Status: StatusUnsupported}, nil
		}

		if !stderrors.Is(err, providers.ErrTokenExpired) {
			d.logger.Warn("provider call failed",
				logging.String("provider", ch.ProviderIdentifier),
				logging.String("capability", string(capability)),
				logging.String("channel_id", ch.ID),
				logging.Err(err))
			return &Result{Status: StatusFailed}, nil
		}

		if attempt == 2 {
			// The refreshed token was rejected too. Credentials are not
			// coming back without user interaction.
			d.disable(ctx, ch)
			return &Result{Status: StatusDisconnected}, nil
		}

		if err := d.RefreshChannel(ctx, ch); err != nil {
			d.logger.Warn("token refresh failed, disabling channel",
				logging.String("provider", ch.ProviderIdentifier),
				logging.String("channel_id", ch.ID),
				logging.Err(err))
			d.disable(ctx, ch)
			return &Result{Status: StatusDisconnected}, nil
		}

		if provider.Traits().RefreshWait && d.config.RefreshWait > 0 {
			select {
			case <-time.After(d.config.RefreshWait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	// Unreachable: every loop path returns.
	return &Result{Status: StatusFailed}, nil
}

// RefreshChannel exchanges the channel's refresh token for fresh
// credentials and persists them, updating ch in place. Providers whose
// refresh tokens invalidate on use are serialized per channel.
func (d *Dispatcher) RefreshChannel(ctx context.Context, ch *channels.Channel) error {
	provider, err := d.registry.Resolve(ch.ProviderIdentifier)
	if err != nil {
		return err
	}

	refresh := func() error {
		return d.doRefresh(ctx, provider, ch)
	}

	if provider.Traits().OneTimeRefreshToken && d.locks != nil {
		return d.locks.WithLock(ctx, "refresh:"+ch.ID, 30*time.Second, refresh)
	}
	return refresh()
}

func (d *Dispatcher) doRefresh(ctx context.Context, provider providers.Provider, ch *channels.Channel) error {
	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	defer cancel()

	account, err := provider.RefreshToken(callCtx, ch.RefreshToken)
	if err != nil {
		return err
	}
	if account == nil || account.AccessToken == "" {
		return errors.NotEnoughScopes("refresh yielded no access token")
	}
	// A different foreign id means the credentials now belong to another
	// account; accepting them would silently repoint the channel.
	if account.ID != "" && account.ID != ch.InternalID {
		return errors.NotEnoughScopes("refreshed credentials belong to a different account")
	}

	settings := ch.AdditionalSettings
	if len(account.AdditionalSettings) > 0 {
		settings, err = d.encryptor.EncryptJSON(account.AdditionalSettings)
		if err != nil {
			return err
		}
	}

	refreshToken := account.RefreshToken
	if refreshToken == "" {
		refreshToken = ch.RefreshToken
	}

	update := channels.TokenUpdate{
		Token:              account.AccessToken,
		RefreshToken:       refreshToken,
		Expiration:         expirationTime(account.ExpiresIn),
		AdditionalSettings: settings,
	}
	if err := d.store.UpdateTokens(ctx, ch.ID, update); err != nil {
		return err
	}

	ch.Token = update.Token
	ch.RefreshToken = update.RefreshToken
	ch.TokenExpiration = update.Expiration
	ch.AdditionalSettings = settings
	ch.RefreshNeeded = false

	d.logger.Info("token refreshed",
		logging.String("provider", ch.ProviderIdentifier),
		logging.String("channel_id", ch.ID))
	return nil
}

// callCapability runs one provider call under the per-provider circuit
// breaker and the call timeout.
func (d *Dispatcher) callCapability(ctx context.Context, provider providers.Provider,
	ch *channels.Channel, settings map[string]interface{},
	capability providers.Capability, args interface{}) (interface{}, error) {

	cc := providers.ChannelContext{
		Token:      ch.Token,
		InternalID: ch.InternalID,
		Settings:   settings,
	}

	callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
	defer cancel()

	return d.breaker(provider.Identifier()).Execute(func() (interface{}, error) {
		switch capability {
		case providers.CapabilityPost:
			content, ok := args.(providers.PostContent)
			if !ok {
				return nil, errors.ValidationError("post capability expects PostContent")
			}
			return provider.(providers.Poster).Post(callCtx, cc, content)
		case providers.CapabilityFetchMentions:
			query, ok := args.(string)
			if !ok {
				return nil, errors.ValidationError("fetchMentions capability expects a query string")
			}
			return provider.(providers.MentionSearcher).FetchMentions(callCtx, cc, query)
		case providers.CapabilityChangeNickname:
			name, ok := args.(string)
			if !ok {
				return nil, errors.ValidationError("changeNickname capability expects a name string")
			}
			return provider.(providers.NicknameChanger).ChangeNickname(callCtx, cc, name)
		case providers.CapabilityChangePicture:
			pictureURL, ok := args.(string)
			if !ok {
				return nil, errors.ValidationError("changeProfilePicture capability expects a url string")
			}
			return nil, provider.(providers.PictureChanger).ChangeProfilePicture(callCtx, cc, pictureURL)
		default:
			return nil, errors.CapabilityNotFound(provider.Identifier(), string(capability))
		}
	})
}

func (d *Dispatcher) decryptSettings(ch *channels.Channel) (map[string]interface{}, error) {
	if ch.AdditionalSettings == "" {
		return nil, nil
	}
	var settings map[string]interface{}
	if err := d.encryptor.DecryptJSON(ch.AdditionalSettings, &settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (d *Dispatcher) disable(ctx context.Context, ch *channels.Channel) {
	if err := d.store.SetDisabled(ctx, ch.ID, true); err != nil {
		d.logger.Error("failed to disable channel", err,
			logging.String("channel_id", ch.ID))
		return
	}
	ch.Disabled = true
}

// breaker returns the circuit breaker for the provider, creating it on
// first use. Expiry and no-capability signals do not count as failures.
func (d *Dispatcher) breaker(identifier string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cb, exists := d.breakers[identifier]; exists {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        identifier,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				stderrors.Is(err, providers.ErrTokenExpired) ||
				stderrors.Is(err, providers.ErrNoSearchCapability)
		},
	})
	d.breakers[identifier] = cb
	return cb
}

func expirationTime(expiresIn int64) time.Time {
	if expiresIn <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
