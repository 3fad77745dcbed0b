// Package billing exposes the minimal billing facts the integration
// core consults: the organization's channel allowance and whether the
// organization is on a trial.
package billing

import "context"

// Service answers billing questions for an organization.
type Service interface {
	// CurrentChannelQuota returns how many active channels the
	// organization may hold. Zero or negative means unlimited.
	CurrentChannelQuota(ctx context.Context, orgID string) (int, error)

	// IsTrial reports whether the organization is on a trial plan. Trial
	// organizations may not reconnect previously deleted accounts.
	IsTrial(ctx context.Context, orgID string) (bool, error)
}

// StaticService is a fixed-policy implementation used when no billing
// backend is wired, and in tests.
type StaticService struct {
	Quota int
	Trial bool
}

func NewStaticService(quota int, trial bool) *StaticService {
	return &StaticService{Quota: quota, Trial: trial}
}

func (s *StaticService) CurrentChannelQuota(ctx context.Context, orgID string) (int, error) {
	return s.Quota, nil
}

func (s *StaticService) IsTrial(ctx context.Context, orgID string) (bool, error) {
	return s.Trial, nil
}
