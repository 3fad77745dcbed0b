// Package providers defines the plugin contract for social platform
// integrations and the registry that resolves platform identifiers to
// plugin instances.
//
// Every plugin implements the base Provider interface (auth URL
// generation, code exchange, token refresh). Business capabilities such
// as posting or mention search are optional, modeled as narrow
// interfaces a plugin implements only when the platform supports them.
// The registry resolves which capabilities a plugin carries once, at
// registration time, never per call.
package providers

import (
	"context"
	"errors"
)

// Distinguished signals raised by plugins. These never escape the
// lifecycle dispatcher.
var (
	// ErrTokenExpired is raised by a plugin when the platform rejects the
	// access token as expired. It triggers exactly one refresh-and-retry.
	ErrTokenExpired = errors.New("provider: token expired")

	// ErrNoSearchCapability is returned by FetchMentions when the platform
	// has no usable search, as opposed to a search that returned nothing.
	ErrNoSearchCapability = errors.New("provider: search not supported")
)

// CodeVerifierNone is the sentinel codeVerifier used for plugins that
// authenticate with fixed or custom-field credentials instead of a
// PKCE-style exchange.
const CodeVerifierNone = "none"

// Traits declares static properties of a plugin that the coordinator and
// dispatcher consult. Resolved once per plugin, never per call.
type Traits struct {
	// RequiresCodeVerifier is true for PKCE-style flows.
	RequiresCodeVerifier bool
	// RequiresExternalURL is true for self-hosted platforms that need an
	// instance URL resolved before the handshake can start.
	RequiresExternalURL bool
	// OneTimeToken is true when the platform's authorization codes are
	// strictly single-use.
	OneTimeToken bool
	// InBetweenSteps is true when a successful connect requires an
	// intermediate manual step before the channel is fully active.
	InBetweenSteps bool
	// RefreshWait is true when the platform needs a propagation pause
	// after refresh before the new token is accepted.
	RefreshWait bool
	// CustomFields is true for plugins authenticating with user-supplied
	// credentials (API keys) rather than an OAuth redirect.
	CustomFields bool
	// OneTimeRefreshToken is true when refresh tokens invalidate on use;
	// the dispatcher serializes refresh per channel for these.
	OneTimeRefreshToken bool
}

// AuthURLRequest carries the inputs for auth URL generation.
type AuthURLRequest struct {
	// State is the opaque anti-forgery token the coordinator generated.
	// Plugins may replace it with their own value.
	State string
	// ExternalURL is the resolved instance URL for self-hosted platforms.
	ExternalURL string
}

// AuthDetails is the result of auth URL generation.
type AuthDetails struct {
	URL          string
	State        string
	CodeVerifier string
}

// AuthRequest carries the inputs for the callback code exchange.
type AuthRequest struct {
	Code           string
	CodeVerifier   string
	Refresh        bool
	ExternalURL    string
	TimezoneOffset int
}

// ForeignAccount is the normalized result of a successful exchange or
// refresh: the platform's view of the connected account plus its
// credentials.
type ForeignAccount struct {
	ID           string
	Name         string
	Username     string
	Picture      string
	AccessToken  string
	RefreshToken string
	// ExpiresIn is the access token lifetime in seconds, 0 when the
	// platform issues non-expiring tokens.
	ExpiresIn int64
	// AdditionalSettings holds provider-specific data that must be
	// encrypted before persistence.
	AdditionalSettings map[string]interface{}
	// Error carries the platform's literal rejection reason when the
	// grant was refused without a transport failure. A non-empty value
	// surfaces to the user as a not-enough-scopes condition.
	Error string
}

// Provider is the base contract every platform plugin implements.
type Provider interface {
	// Identifier returns the stable platform identifier, e.g. "twitter".
	Identifier() string
	Traits() Traits

	GenerateAuthURL(ctx context.Context, req AuthURLRequest) (*AuthDetails, error)
	Authenticate(ctx context.Context, req AuthRequest) (*ForeignAccount, error)
	RefreshToken(ctx context.Context, refreshToken string) (*ForeignAccount, error)
}

// ChannelContext is the per-call slice of channel state a capability
// invocation receives.
type ChannelContext struct {
	Token      string
	InternalID string
	// Settings holds the decrypted provider-specific settings blob.
	Settings map[string]interface{}
}

// Capability names an optional plugin operation.
type Capability string

const (
	CapabilityPost           Capability = "post"
	CapabilityFetchMentions  Capability = "fetchMentions"
	CapabilityChangeNickname Capability = "changeNickname"
	CapabilityChangePicture  Capability = "changeProfilePicture"
	CapabilityReconnect      Capability = "reConnect"
)

// PostContent is the payload for the post capability.
type PostContent struct {
	Text      string                 `json:"text"`
	MediaURLs []string               `json:"media_urls,omitempty"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
}

// PostResult is the outcome of a publish call.
type PostResult struct {
	PostID     string `json:"post_id"`
	ReleaseURL string `json:"release_url,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Mention is a single handle returned by platform search.
type Mention struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Username string `json:"username,omitempty"`
	Image    string `json:"image,omitempty"`
	// DoNotCache marks entries that must never be persisted locally.
	DoNotCache bool `json:"-"`
}

// Poster publishes content to the platform.
type Poster interface {
	Post(ctx context.Context, ch ChannelContext, content PostContent) (*PostResult, error)
}

// MentionSearcher searches platform handles matching a query.
type MentionSearcher interface {
	FetchMentions(ctx context.Context, ch ChannelContext, query string) ([]Mention, error)
}

// NicknameChanger renames the connected account on the platform.
type NicknameChanger interface {
	ChangeNickname(ctx context.Context, ch ChannelContext, name string) (*ForeignAccount, error)
}

// PictureChanger updates the connected account's profile picture.
type PictureChanger interface {
	ChangeProfilePicture(ctx context.Context, ch ChannelContext, pictureURL string) error
}

// Reconnector validates account continuity when an existing channel is
// re-authorized. It returns the foreign account id the new credentials
// resolve to.
type Reconnector interface {
	Reconnect(ctx context.Context, internalID string) (string, error)
}

// ExternalURLResolver resolves a user-supplied instance URL into the
// canonical form used for the rest of the handshake.
type ExternalURLResolver interface {
	ResolveExternalURL(ctx context.Context, raw string) (string, error)
}
