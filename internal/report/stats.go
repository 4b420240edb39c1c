package report

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/urbanflux/netatmo-ingest/internal/store"
)

// FleetStats periodically logs the fleet size, independent of how fast the
// poller is turning devices over.
type FleetStats struct {
	scheduler *gocron.Scheduler
	store     store.DeviceStore
	interval  time.Duration
}

func NewFleetStats(st store.DeviceStore, interval time.Duration) *FleetStats {
	return &FleetStats{
		scheduler: gocron.NewScheduler(time.UTC),
		store:     st,
		interval:  interval,
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
func (f *FleetStats) Start() error {
	minutes := int(f.interval.Minutes())
	if minutes <= 0 {
		minutes = 60
	}

	_, err := f.scheduler.Every(minutes).Minutes().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n, err := f.store.Count(ctx)
		if err != nil {
			logrus.WithError(err).Warn("failed to count devices for the fleet stats report")
			return
		}
		logrus.WithField("fleet_size", n).Info("fleet stats")
	})
	if err != nil {
		return err
	}

	f.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (f *FleetStats) Stop() {
	if f.scheduler != nil {
		f.scheduler.Stop()
	}
}
