// Package channels holds the persisted Channel model, its stores, and
// the channel lifecycle operations (enable, disable, delete, rename,
// grouping).
package channels

import (
	"time"
)

// Channel is one connected external account per organization.
//
// The identity (OrganizationID, ProviderIdentifier, InternalID) is
// unique: connecting the same external account twice updates the
// existing row instead of duplicating it.
type Channel struct {
	ID                 string    `json:"id"`
	OrganizationID     string    `json:"organization_id"`
	ProviderIdentifier string    `json:"provider_identifier"`
	InternalID         string    `json:"internal_id"`
	Name               string    `json:"name"`
	Picture            string    `json:"picture,omitempty"`
	Token              string    `json:"-"`
	RefreshToken       string    `json:"-"`
	TokenExpiration    time.Time `json:"token_expiration,omitempty"`
	Disabled           bool      `json:"disabled"`
	InBetweenSteps     bool      `json:"in_between_steps"`
	RefreshNeeded      bool      `json:"refresh_needed"`
	// PostingTimes is the schedule configuration, opaque JSON to this core.
	PostingTimes string `json:"posting_times,omitempty"`
	// CustomerID groups channels belonging to one customer of the org.
	CustomerID string `json:"customer_id,omitempty"`
	// RootInternalID links sub-accounts (pages, boards) to their root account.
	RootInternalID string `json:"root_internal_id,omitempty"`
	// AdditionalSettings is the encrypted provider-specific blob.
	AdditionalSettings string     `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"-"`
}

// TokenUpdate carries the fields the lifecycle dispatcher persists after
// a successful refresh.
type TokenUpdate struct {
	Token              string
	RefreshToken       string
	Expiration         time.Time
	AdditionalSettings string
}
