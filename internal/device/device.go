package device

import (
	"time"

	"github.com/google/uuid"
)

// Device represents one physical weather station. DeviceID is the
// vendor's stable identifier and uniquely keys the record. A device with
// no modules must not exist; the poller deletes it instead.
type Device struct {
	DeviceID    string    `json:"deviceId"`
	LastChecked time.Time `json:"lastChecked"`
	Location    Location  `json:"location"`
	Extras      Extras    `json:"extras"`
	Modules     []Module  `json:"modules"`

	// Audit timestamps, set by the persistence layer.
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Location is the station's position. ID is a synthetic identifier
// regenerated whenever the coordinates change; ValidAt records when the
// current location took effect.
type Location struct {
	Lat     float64   `json:"lat"`
	Lon     float64   `json:"lon"`
	ID      string    `json:"id"`
	ValidAt time.Time `json:"validAt"`
}

// Extras is descriptive station metadata, fully overwritten on every
// device-list refresh.
type Extras struct {
	Timezone string  `json:"timezone"`
	Country  string  `json:"country"`
	Altitude float64 `json:"altitude"`
	City     string  `json:"city"`
	Street   string  `json:"street"`
}

// Module is one sensor bundle on a device. TimeOfLatest is the watermark:
// readings at or before it have already been ingested. ConsecutiveFails
// counts polling attempts in a row that errored or yielded nothing; once
// it breaches the configured threshold the module is dropped for good.
type Module struct {
	ModuleID         string    `json:"moduleId"`
	Types            []string  `json:"types"`
	TimeOfLatest     time.Time `json:"timeOfLatest"`
	ConsecutiveFails int       `json:"consecutiveFails"`
}

// Facts is the subset of device state a single device-list refresh can
// observe: identity, position, metadata and which modules exist.
type Facts struct {
	DeviceID string
	Lat      float64
	Lon      float64
	Extras   Extras
	Modules  []ModuleFacts
}

// ModuleFacts identifies one module and its channel set.
type ModuleFacts struct {
	ModuleID string
	Types    []string
}

// initialWatermarkAge is how far back a brand-new module starts pulling
// readings from.
const initialWatermarkAge = time.Hour

// New builds a device record for a station seen for the first time. Its
// lastChecked is backdated a day so it is picked up for reading polls
// ahead of the rest of the fleet.
func New(facts Facts, now time.Time) Device {
	modules := make([]Module, 0, len(facts.Modules))
	for _, m := range facts.Modules {
		modules = append(modules, Module{
			ModuleID:     m.ModuleID,
			Types:        m.Types,
			TimeOfLatest: now.Add(-initialWatermarkAge),
		})
	}

	return Device{
		DeviceID:    facts.DeviceID,
		LastChecked: now.Add(-24 * time.Hour),
		Location: Location{
			Lat:     facts.Lat,
			Lon:     facts.Lon,
			ID:      uuid.NewString(),
			ValidAt: now,
		},
		Extras:  facts.Extras,
		Modules: modules,
	}
}
