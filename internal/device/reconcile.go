package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDeviceIDMismatch means a refresh tried to merge facts into a record
// for a different station. That is a programmer or data error, never a
// condition to absorb.
var ErrDeviceIDMismatch = errors.New("device ids should match")

// Reconcile merges freshly polled facts into an existing device record.
//
// Extras are wholly replaced. The location keeps its synthetic id and
// validAt while the coordinates are unchanged, and gets a new id (valid
// from now) when they move. Modules seen for the first time are appended
// with a fresh watermark; modules missing from the fresh facts are left
// untouched, because removal is driven only by the fail-count threshold.
// LastChecked and the audit timestamps are not this operation's business.
func Reconcile(existing Device, fresh Facts, now time.Time) (Device, error) {
	if existing.DeviceID != fresh.DeviceID {
		return Device{}, fmt.Errorf("%w: %q vs %q", ErrDeviceIDMismatch, existing.DeviceID, fresh.DeviceID)
	}

	combined := existing
	combined.Modules = make([]Module, len(existing.Modules))
	copy(combined.Modules, existing.Modules)

	combined.Extras = fresh.Extras

	moved := existing.Location.Lat != fresh.Lat || existing.Location.Lon != fresh.Lon
	if moved {
		combined.Location = Location{
			Lat:     fresh.Lat,
			Lon:     fresh.Lon,
			ID:      uuid.NewString(),
			ValidAt: now,
		}
	}

	for _, m := range fresh.Modules {
		if hasModule(combined.Modules, m.ModuleID) {
			continue
		}
		combined.Modules = append(combined.Modules, Module{
			ModuleID:     m.ModuleID,
			Types:        m.Types,
			TimeOfLatest: now.Add(-initialWatermarkAge),
		})
	}

	return combined, nil
}

func hasModule(modules []Module, moduleID string) bool {
	for _, m := range modules {
		if m.ModuleID == moduleID {
			return true
		}
	}
	return false
}
