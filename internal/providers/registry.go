package providers

import (
	"sort"
	"sync"

	"channel-hub/internal/common/errors"
)

// Registry holds the set of known provider plugins. It is assembled at
// process start and is a pure lookup afterwards; Register computes each
// plugin's capability set once so dispatch never type-asserts per call.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	capabilities map[string]map[Capability]bool
	disabled     map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		providers:    make(map[string]Provider),
		capabilities: make(map[string]map[Capability]bool),
		disabled:     make(map[string]bool),
	}
}

// Register adds a plugin under its identifier, replacing any previous
// registration.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Identifier()
	r.providers[id] = p
	r.capabilities[id] = capabilitiesOf(p)
}

// Resolve returns the plugin for the identifier. Unregistered or
// administratively disabled identifiers fail with an unknown-provider
// error, which callers must treat as non-retryable.
func (r *Registry) Resolve(identifier string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.providers[identifier]
	if !exists || r.disabled[identifier] {
		return nil, errors.UnknownProvider(identifier)
	}
	return p, nil
}

// ListEnabled returns the enabled identifiers in a stable sorted order
// for UI listing.
func (r *Registry) ListEnabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		if !r.disabled[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Supports reports whether the identified plugin declared the capability
// at registration time.
func (r *Registry) Supports(identifier string, c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps, exists := r.capabilities[identifier]
	if !exists || r.disabled[identifier] {
		return false
	}
	return caps[c]
}

// SetDisabled administratively disables or re-enables an identifier
// without unregistering the plugin.
func (r *Registry) SetDisabled(identifier string, disabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[identifier] = disabled
}

// capabilitiesOf resolves the optional interfaces a plugin implements.
func capabilitiesOf(p Provider) map[Capability]bool {
	caps := make(map[Capability]bool)
	if _, ok := p.(Poster); ok {
		caps[CapabilityPost] = true
	}
	if _, ok := p.(MentionSearcher); ok {
		caps[CapabilityFetchMentions] = true
	}
	if _, ok := p.(NicknameChanger); ok {
		caps[CapabilityChangeNickname] = true
	}
	if _, ok := p.(PictureChanger); ok {
		caps[CapabilityChangePicture] = true
	}
	if _, ok := p.(Reconnector); ok {
		caps[CapabilityReconnect] = true
	}
	return caps
}
