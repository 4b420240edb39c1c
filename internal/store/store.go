package store

import (
	"context"
	"errors"

	"github.com/urbanflux/netatmo-ingest/internal/device"
)

// ErrDeviceNotFound is returned when no record exists for a device id, or
// when the fleet is empty and the oldest-checked query has nothing to
// return.
var ErrDeviceNotFound = errors.New("no device record found")

// DeviceStore is the key-indexed document store the poller persists the
// fleet in. Update replaces the whole record, modules array included; a
// partial modules update that could leave orphaned entries is incorrect.
type DeviceStore interface {
	Create(ctx context.Context, dev device.Device) error
	Get(ctx context.Context, deviceID string) (device.Device, error)
	GetOldestLastChecked(ctx context.Context) (device.Device, error)
	Update(ctx context.Context, deviceID string, dev device.Device) (device.Device, error)
	Delete(ctx context.Context, deviceID string) error
	Count(ctx context.Context) (int, error)
}
