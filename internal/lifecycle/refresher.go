package lifecycle

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"channel-hub/internal/channels"
	"channel-hub/internal/common/logging"
)

// Refresher proactively refreshes channels whose tokens are close to
// expiry, so interactive calls rarely hit the expiry path. Channels
// whose refresh fails are flagged refresh_needed for the UI to surface;
// disabling is left to the interactive path, which has the full
// provider response to judge by.
type Refresher struct {
	dispatcher *Dispatcher
	store      channels.Store
	logger     logging.Logger
	cron       *cron.Cron

	// Horizon is how far ahead of expiry the sweep refreshes.
	Horizon time.Duration
}

func NewRefresher(dispatcher *Dispatcher, store channels.Store, logger logging.Logger) *Refresher {
	return &Refresher{
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		cron:       cron.New(),
		Horizon:    time.Hour,
	}
}

// Start schedules the sweep with the given cron expression, e.g.
// "*/30 * * * *".
func (r *Refresher) Start(schedule string) error {
	_, err := r.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		r.Sweep(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Sweep refreshes every active channel expiring within the horizon.
func (r *Refresher) Sweep(ctx context.Context) {
	expiring, err := r.store.ListExpiring(ctx, time.Now().Add(r.Horizon))
	if err != nil {
		r.logger.Error("refresh sweep failed to list channels", err)
		return
	}
	if len(expiring) == 0 {
		return
	}

	r.logger.Info("refresh sweep started", logging.Int("channels", len(expiring)))

	for _, ch := range expiring {
		if ctx.Err() != nil {
			return
		}
		if err := r.dispatcher.RefreshChannel(ctx, ch); err != nil {
			r.logger.Warn("sweep refresh failed",
				logging.String("provider", ch.ProviderIdentifier),
				logging.String("channel_id", ch.ID),
				logging.Err(err))
			if err := r.store.SetRefreshNeeded(ctx, ch.ID, true); err != nil {
				r.logger.Error("failed to flag channel for refresh", err,
					logging.String("channel_id", ch.ID))
			}
		}
	}
}
