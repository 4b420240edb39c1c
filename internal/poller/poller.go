package poller

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/urbanflux/netatmo-ingest/internal/device"
	"github.com/urbanflux/netatmo-ingest/internal/netatmo"
	"github.com/urbanflux/netatmo-ingest/internal/observe"
	"github.com/urbanflux/netatmo-ingest/internal/store"
)

// TopicObservation is where every normalized observation is published.
const TopicObservation = "observation.incoming"

// VendorClient is the slice of the Netatmo client the poller needs.
type VendorClient interface {
	GetAccessToken(ctx context.Context) (string, error)
	GetAccessTokenCached(ctx context.Context) (string, error)
	GetPublicDevicesWithRetries(ctx context.Context, accessToken string, w netatmo.Window) ([]netatmo.PublicStation, int, error)
	GetMeasure(ctx context.Context, params netatmo.GetMeasureParams) ([]netatmo.Measurement, error)
}

// EventSink receives observations, best-effort.
type EventSink interface {
	Publish(topic string, payload any) error
}

// ProgressReporter is told whenever one device has been fully processed.
type ProgressReporter interface {
	DeviceProcessed(ctx context.Context)
}

// Config carries the scheduling policy.
type Config struct {
	Region netatmo.Region

	// RequestInterval is the cooperative wait in front of every vendor
	// call; the vendor enforces a global per-credential rate limit that a
	// single ordered delay satisfies.
	RequestInterval time.Duration

	// DeviceListUpdateInterval is how long a device-list refresh stays
	// fresh before the next cycle refreshes it again.
	DeviceListUpdateInterval time.Duration

	// MaxConsecutiveFails is the module eviction threshold: a module is
	// dropped once its fail count exceeds it.
	MaxConsecutiveFails int
}

// Poller is the top-level loop. Each iteration either refreshes the
// device list or polls the least-recently-checked device for new
// readings. Everything runs strictly sequentially: one window, one
// module, one observation at a time; the pacing requirement rules out
// concurrent vendor calls.
type Poller struct {
	cfg       Config
	client    VendorClient
	store     store.DeviceStore
	sink      EventSink
	reporter  ProgressReporter
	windows   []netatmo.Window
	normalize func(device.Device, device.Module, []netatmo.Measurement) ([]observe.Observation, error)

	// Owned exclusively by the loop; zero means "never refreshed", which
	// forces a refresh on the next decision.
	lastListRefresh time.Time
}

func New(cfg Config, client VendorClient, st store.DeviceStore, sink EventSink, reporter ProgressReporter) *Poller {
	if cfg.MaxConsecutiveFails <= 0 {
		cfg.MaxConsecutiveFails = 10
	}
	return &Poller{
		cfg:       cfg,
		client:    client,
		store:     st,
		sink:      sink,
		reporter:  reporter,
		windows:   netatmo.Tile(cfg.Region),
		normalize: observe.Normalize,
	}
}

// Run drives the loop until the context is cancelled. The cancellation
// check sits at the top of every iteration, so the current window or
// module finishes before the loop exits and no device is left mid-update.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		logrus.Debug("starting ingest cycle")

		if NeedsListRefresh(p.lastListRefresh, p.cfg.DeviceListUpdateInterval, time.Now()) {
			if err := p.refreshDeviceList(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// lastListRefresh is deliberately not advanced, so the
				// next cycle retries the refresh instead of falling
				// through to reading polls.
				logrus.WithError(err).Error("failed to update device list")
				continue
			}
			p.lastListRefresh = time.Now()
			continue
		}

		if err := p.pollOldestDevice(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, store.ErrDeviceNotFound) {
				logrus.Warn("no devices on record yet; nothing to poll")
				// Avoid a hot loop while the fleet is empty.
				if err := p.pace(ctx); err != nil {
					return err
				}
				continue
			}
			logrus.WithError(err).Error("failed to update the oldest checked device")
		}
	}
}

// NeedsListRefresh decides between the two states. A refresh is due when
// none has ever happened or when strictly more than the configured
// interval has elapsed; at exactly the interval the list is still
// considered fresh.
func NeedsListRefresh(lastRefresh time.Time, interval time.Duration, now time.Time) bool {
	if lastRefresh.IsZero() {
		return true
	}
	return now.Sub(lastRefresh) > interval
}

// pace is the cooperative wait in front of every vendor call.
func (p *Poller) pace(ctx context.Context) error {
	logrus.WithField("delay", p.cfg.RequestInterval.String()).Debug("delaying to respect the vendor rate limit")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.RequestInterval):
		return nil
	}
}

// refreshDeviceList walks every window of the region and merges what the
// vendor reports into the stored fleet. Readings embedded in the payload
// are ignored; only the device/module relationships matter here.
func (p *Poller) refreshDeviceList(ctx context.Context) error {
	logrus.WithField("windows", len(p.windows)).Debug("updating device list")

	if err := p.pace(ctx); err != nil {
		return err
	}

	// A fresh token rather than the cached one: a full sweep over many
	// windows can outlive a cached token's remaining lifetime.
	token, err := p.client.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	for i, window := range p.windows {
		if err := p.pace(ctx); err != nil {
			return err
		}

		wlog := logrus.WithFields(logrus.Fields{
			"window": i + 1, "of": len(p.windows),
			"north": window.North, "south": window.South,
			"east": window.East, "west": window.West,
		})
		wlog.Debug("processing window")

		stations, attempt, err := p.client.GetPublicDevicesWithRetries(ctx, token, window)
		if err != nil {
			return err
		}
		wlog.WithField("attempt", attempt).Debug("got public data")

		// The vendor includes stations just outside the requested box;
		// counting them here would double-ingest across windows.
		inWindow := make([]device.Facts, 0, len(stations))
		for _, facts := range reformatStations(stations) {
			if window.Contains(facts.Lat, facts.Lon) {
				inWindow = append(inWindow, facts)
			}
		}
		wlog.WithField("devices", len(inWindow)).Debug("devices found in window")

		for _, facts := range inWindow {
			if err := p.upsertDevice(ctx, facts); err != nil {
				return err
			}
		}
	}

	return nil
}

func (p *Poller) upsertDevice(ctx context.Context, facts device.Facts) error {
	existing, err := p.store.Get(ctx, facts.DeviceID)
	if errors.Is(err, store.ErrDeviceNotFound) {
		logrus.WithField("device_id", facts.DeviceID).Info("first time this device has been seen")
		return p.store.Create(ctx, device.New(facts, time.Now().UTC()))
	}
	if err != nil {
		return err
	}

	combined, err := device.Reconcile(existing, facts, time.Now().UTC())
	if err != nil {
		return err
	}
	_, err = p.store.Update(ctx, facts.DeviceID, combined)
	return err
}

// pollOldestDevice pulls new readings for every module of the device that
// has gone longest without a check. Per-module failures are absorbed into
// that module's fail count and never abort the device.
func (p *Poller) pollOldestDevice(ctx context.Context) error {
	dev, err := p.store.GetOldestLastChecked(ctx)
	if err != nil {
		return err
	}

	dlog := logrus.WithField("device_id", dev.DeviceID)
	dlog.Debug("updating the device which was last checked the longest time ago")

	updates := dev
	updates.Modules = make([]device.Module, len(dev.Modules))
	copy(updates.Modules, dev.Modules)

	for i := range dev.Modules {
		mod := dev.Modules[i]
		mlog := dlog.WithField("module_id", mod.ModuleID)

		if err := p.pace(ctx); err != nil {
			return err
		}

		token, err := p.client.GetAccessTokenCached(ctx)
		if err != nil {
			return err
		}

		channels := make([]netatmo.Channel, len(mod.Types))
		for j, t := range mod.Types {
			channels[j] = netatmo.Channel(t)
		}

		measurements, err := p.client.GetMeasure(ctx, netatmo.GetMeasureParams{
			DeviceID:    dev.DeviceID,
			ModuleID:    mod.ModuleID,
			AccessToken: token,
			Channels:    channels,
			Scale:       "max",
			// A minute past the watermark so the last ingested reading
			// is not pulled again; capped at now to exclude any
			// future-dated noise.
			DateBegin: mod.TimeOfLatest.Add(time.Minute),
			DateEnd:   time.Now().UTC(),
		})
		if err != nil {
			// Could be a sign this module no longer exists on the
			// device; enough of these in a row and it gets dropped.
			mlog.WithError(err).Warn("failed to get measurements")
			updates.Modules[i].ConsecutiveFails++
			continue
		}

		if len(measurements) == 0 {
			mlog.Warn("no new measurements were retrieved")
			updates.Modules[i].ConsecutiveFails++
			continue
		}

		observations, err := p.normalize(dev, mod, measurements)
		if err != nil {
			// A normalization failure is a bug in this program, not a sign
			// the module has gone away; it must not count toward eviction.
			mlog.WithError(err).Error("failed to normalize measurements")
			continue
		}
		mlog.WithFields(logrus.Fields{
			"timesteps":    len(measurements),
			"observations": len(observations),
		}).Debug("converted measurements to observations")

		for _, obs := range observations {
			if err := p.sink.Publish(TopicObservation, obs); err != nil {
				mlog.WithError(err).Error("failed to publish observation")
			}
		}

		latest := measurements[len(measurements)-1].Time
		mlog.WithField("time_of_latest", latest).Debug("advancing module watermark")
		updates.Modules[i].TimeOfLatest = latest
		updates.Modules[i].ConsecutiveFails = 0
	}

	updates.LastChecked = time.Now().UTC()

	surviving := updates.Modules[:0]
	for _, mod := range updates.Modules {
		if mod.ConsecutiveFails > p.cfg.MaxConsecutiveFails {
			dlog.WithField("module_id", mod.ModuleID).Info("module breached the consecutive-fail threshold and will be removed")
			continue
		}
		surviving = append(surviving, mod)
	}
	updates.Modules = surviving

	if len(updates.Modules) == 0 {
		dlog.Info("device no longer has any active modules and will be removed")
		if err := p.store.Delete(ctx, dev.DeviceID); err != nil {
			return err
		}
	} else {
		if _, err := p.store.Update(ctx, dev.DeviceID, updates); err != nil {
			return err
		}
	}

	if p.reporter != nil {
		p.reporter.DeviceProcessed(ctx)
	}
	return nil
}
