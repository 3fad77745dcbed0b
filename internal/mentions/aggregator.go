package mentions

import (
	"context"

	"channel-hub/internal/channels"
	"channel-hub/internal/common/logging"
	"channel-hub/internal/lifecycle"
	"channel-hub/internal/providers"
)

// Entry is one handle in a search result.
type Entry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Image string `json:"image,omitempty"`
}

// SearchResult distinguishes "platform has no search" from "search
// found nothing".
type SearchResult struct {
	Unsupported bool    `json:"unsupported,omitempty"`
	Entries     []Entry `json:"entries"`
}

// Aggregator merges live search results with the local cache.
type Aggregator struct {
	dispatcher *lifecycle.Dispatcher
	cache      Cache
	logger     logging.Logger
}

func NewAggregator(dispatcher *lifecycle.Dispatcher, cache Cache, logger logging.Logger) *Aggregator {
	return &Aggregator{
		dispatcher: dispatcher,
		cache:      cache,
		logger:     logger,
	}
}

// Search fetches live handles through the lifecycle dispatcher and
// merges them with cached handles for the same (provider, query),
// deduplicating by id with live results winning. A platform without
// search returns the unsupported marker without touching the cache; a
// soft provider failure degrades to cache-only results.
func (a *Aggregator) Search(ctx context.Context, ch *channels.Channel, query string) (*SearchResult, error) {
	result, err := a.dispatcher.Invoke(ctx, ch, providers.CapabilityFetchMentions, query)
	if err != nil {
		return nil, err
	}
	if result.Status == lifecycle.StatusUnsupported {
		return &SearchResult{Unsupported: true}, nil
	}

	var live []providers.Mention
	if result.Status == lifecycle.StatusOK {
		live, _ = result.Value.([]providers.Mention)
	}

	if len(live) > 0 {
		if err := a.cache.Put(ctx, ch.ProviderIdentifier, query, live); err != nil {
			a.logger.Warn("failed to cache mentions",
				logging.String("provider", ch.ProviderIdentifier),
				logging.Err(err))
		}
	}

	cached, err := a.cache.Get(ctx, ch.ProviderIdentifier, query)
	if err != nil {
		a.logger.Warn("failed to read mention cache",
			logging.String("provider", ch.ProviderIdentifier),
			logging.Err(err))
	}

	return &SearchResult{Entries: merge(live, cached)}, nil
}

// merge deduplicates by id with live entries taking precedence and
// drops entries missing an id or label.
func merge(live, cached []providers.Mention) []Entry {
	seen := make(map[string]bool)
	entries := make([]Entry, 0, len(live)+len(cached))

	add := func(m providers.Mention) {
		if m.ID == "" || m.Label == "" || seen[m.ID] {
			return
		}
		seen[m.ID] = true
		entries = append(entries, Entry{ID: m.ID, Label: m.Label, Image: m.Image})
	}

	for _, m := range live {
		add(m)
	}
	for _, m := range cached {
		add(m)
	}
	return entries
}
