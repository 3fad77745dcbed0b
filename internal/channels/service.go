package channels

import (
	"context"

	"channel-hub/internal/billing"
	"channel-hub/internal/common/errors"
	"channel-hub/internal/common/logging"
)

// Service wraps the store with the organization-facing lifecycle
// operations and quota enforcement.
type Service struct {
	store   Store
	billing billing.Service
	logger  logging.Logger
}

func NewService(store Store, billing billing.Service, logger logging.Logger) *Service {
	return &Service{
		store:   store,
		billing: billing,
		logger:  logger,
	}
}

// List returns the organization's non-deleted channels.
func (s *Service) List(ctx context.Context, orgID string) ([]*Channel, error) {
	return s.store.List(ctx, orgID)
}

// Get returns one channel or a not-found error.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Channel, error) {
	ch, err := s.store.Find(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, errors.NotFoundError("channel")
	}
	return ch, nil
}

// Enable re-activates a disabled channel, subject to the organization's
// channel allowance.
func (s *Service) Enable(ctx context.Context, orgID, id string) error {
	ch, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if !ch.Disabled {
		return nil
	}

	quota, err := s.billing.CurrentChannelQuota(ctx, orgID)
	if err != nil {
		return errors.InternalError("failed to resolve channel quota", err)
	}
	if quota > 0 {
		active, err := s.store.CountActive(ctx, orgID)
		if err != nil {
			return err
		}
		if active >= quota {
			return errors.QuotaExceeded("channel allowance reached, disable another channel first")
		}
	}

	if err := s.store.SetDisabled(ctx, ch.ID, false); err != nil {
		return err
	}

	s.logger.Info("channel enabled",
		logging.String("channel_id", ch.ID),
		logging.String("organization_id", orgID))
	return nil
}

// Disable deactivates a channel. Disabling an already disabled channel
// is a no-op.
func (s *Service) Disable(ctx context.Context, orgID, id string) error {
	ch, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}
	if ch.Disabled {
		return nil
	}

	if err := s.store.SetDisabled(ctx, ch.ID, true); err != nil {
		return err
	}

	s.logger.Info("channel disabled",
		logging.String("channel_id", ch.ID),
		logging.String("organization_id", orgID))
	return nil
}

// Delete soft-deletes a channel. The row is kept so reconnect history
// survives for trial enforcement.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	ch, err := s.Get(ctx, orgID, id)
	if err != nil {
		return err
	}

	if err := s.store.SoftDelete(ctx, orgID, ch.ID); err != nil {
		return err
	}

	s.logger.Info("channel deleted",
		logging.String("channel_id", ch.ID),
		logging.String("organization_id", orgID))
	return nil
}

// Rename updates the channel's display name.
func (s *Service) Rename(ctx context.Context, orgID, id, name string) error {
	if name == "" {
		return errors.ValidationError("channel name is required")
	}
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	return s.store.Rename(ctx, orgID, id, name)
}

// AssignGroup moves the channel into a customer group. An empty
// customerID clears the assignment.
func (s *Service) AssignGroup(ctx context.Context, orgID, id, customerID string) error {
	if _, err := s.Get(ctx, orgID, id); err != nil {
		return err
	}
	return s.store.AssignGroup(ctx, orgID, id, customerID)
}
