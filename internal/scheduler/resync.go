package scheduler

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/marks/internal/logger"
)

// Loader is anything that can refetch its data, the bookmark list here.
type Loader interface {
	Load() error
}

// Resyncer reloads the bookmark list periodically and on demand, as a
// safety net for missed change notifications.
type Resyncer struct {
	list          Loader
	logger        logger.Logger
	interval      time.Duration
	stopCh        chan struct{}
	manualTrigger chan struct{}
}

// NewResyncer creates a resyncer. An interval <= 0 disables the ticker;
// manual triggers still work.
func NewResyncer(list Loader, log logger.Logger, interval time.Duration, manualTrigger chan struct{}) *Resyncer {
	return &Resyncer{
		list:          list,
		logger:        log,
		interval:      interval,
		stopCh:        make(chan struct{}),
		manualTrigger: manualTrigger,
	}
}

// Start begins the resync loop in the background.
func (r *Resyncer) Start(ctx context.Context) {
	go func() {
		var tick <-chan time.Time
		if r.interval > 0 {
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-tick:
				r.resync("periodic")
			case <-r.manualTrigger:
				r.logger.Info("manual bookmark resync triggered")
				r.resync("manual")
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the resyncer
func (r *Resyncer) Stop() {
	close(r.stopCh)
}

func (r *Resyncer) resync(reason string) {
	if err := r.list.Load(); err != nil {
		r.logger.Error("failed to resync bookmarks",
			logger.String("reason", reason),
			logger.Error(err))
	}
}
