package channels

import (
	"context"
	"time"
)

// Store is the persistence contract for channels. Implementations must
// provide per-row atomic updates; no in-process locking is layered on
// top.
type Store interface {
	// Upsert creates or updates the channel keyed by
	// (OrganizationID, ProviderIdentifier, InternalID). A soft-deleted row
	// with the same identity is resurrected. Returns the persisted row.
	Upsert(ctx context.Context, ch *Channel) (*Channel, error)

	// UpdateTokens persists fresh credentials after a refresh.
	UpdateTokens(ctx context.Context, id string, update TokenUpdate) error

	SetDisabled(ctx context.Context, id string, disabled bool) error
	SetRefreshNeeded(ctx context.Context, id string, needed bool) error
	Rename(ctx context.Context, orgID, id, name string) error
	AssignGroup(ctx context.Context, orgID, id, customerID string) error

	Find(ctx context.Context, orgID, id string) (*Channel, error)
	FindByForeignAccount(ctx context.Context, provider, internalID string) (*Channel, error)
	List(ctx context.Context, orgID string) ([]*Channel, error)

	// SoftDelete marks the channel deleted. Cascading dependent resources
	// (posts) is the caller's responsibility.
	SoftDelete(ctx context.Context, orgID, id string) error

	// CountActive counts non-deleted, non-disabled channels for quota
	// enforcement.
	CountActive(ctx context.Context, orgID string) (int, error)

	// WasConnectedBefore reports whether this foreign account was
	// previously connected and later deleted under the same organization.
	WasConnectedBefore(ctx context.Context, orgID, provider, internalID string) (bool, error)

	// ListExpiring returns active channels whose tokens expire before the
	// given time, for the background refresh sweep.
	ListExpiring(ctx context.Context, before time.Time) ([]*Channel, error)

	Close() error
}
