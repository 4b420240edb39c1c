package report

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urbanflux/netatmo-ingest/internal/store"
)

// Reporter logs aggregate throughput every N fully-processed devices.
// Purely observability; it has no effect on scheduling.
type Reporter struct {
	store         store.DeviceStore
	announceEvery int
	count         int
	resetTime     time.Time
}

func NewReporter(st store.DeviceStore, announceEvery int) *Reporter {
	if announceEvery <= 0 {
		announceEvery = 100
	}
	return &Reporter{
		store:         st,
		announceEvery: announceEvery,
		resetTime:     time.Now(),
	}
}

// DeviceProcessed bumps the counter and, every announceEvery devices, logs
// how long the batch took, the fleet size, and how stale the next device
// to be checked is.
func (r *Reporter) DeviceProcessed(ctx context.Context) {
	r.count++
	if r.count < r.announceEvery {
		return
	}
	r.count = 0

	fields := logrus.Fields{
		"devices_processed": r.announceEvery,
		"elapsed":           time.Since(r.resetTime).Round(time.Second).String(),
	}

	if n, err := r.store.Count(ctx); err == nil {
		fields["fleet_size"] = n
	} else {
		logrus.WithError(err).Warn("failed to count devices for the throughput report")
	}

	if oldest, err := r.store.GetOldestLastChecked(ctx); err == nil {
		fields["next_device_last_checked"] = time.Since(oldest.LastChecked).Round(time.Second).String()
	}

	logrus.WithFields(fields).Info("ingest throughput")
	r.resetTime = time.Now()
}
