package poller

import (
	"math"
	"sort"

	"github.com/urbanflux/netatmo-ingest/internal/device"
	"github.com/urbanflux/netatmo-ingest/internal/netatmo"
)

// coordPrecision trims station coordinates: beyond 7 decimal places the
// digits are noise.
const coordPrecision = 7

func reformatStations(stations []netatmo.PublicStation) []device.Facts {
	facts := make([]device.Facts, 0, len(stations))
	for _, st := range stations {
		facts = append(facts, reformatStation(st))
	}
	return facts
}

// reformatStation turns one raw getpublicdata record into device facts.
// The vendor keys the measures map by module id; module ids are walked in
// sorted order so the result is deterministic. Sensor readings embedded in
// the payload are ignored here, only the device/module relationships and
// metadata matter.
func reformatStation(st netatmo.PublicStation) device.Facts {
	var lat, lon float64
	if len(st.Place.Location) >= 2 {
		lon = roundCoord(st.Place.Location[0])
		lat = roundCoord(st.Place.Location[1])
	}

	facts := device.Facts{
		DeviceID: st.ID,
		Lat:      lat,
		Lon:      lon,
		Extras: device.Extras{
			Timezone: st.Place.Timezone,
			Country:  st.Place.Country,
			Altitude: st.Place.Altitude,
			City:     st.Place.City,
			Street:   st.Place.Street,
		},
	}

	moduleIDs := make([]string, 0, len(st.Measures))
	for id := range st.Measures {
		moduleIDs = append(moduleIDs, id)
	}
	sort.Strings(moduleIDs)

	for _, moduleID := range moduleIDs {
		raw := st.Measures[moduleID]

		// Outdoor module
		if containsString(raw.Type, "temperature") {
			facts.Modules = append(facts.Modules, device.ModuleFacts{
				ModuleID: moduleID,
				Types:    []string{string(netatmo.ChannelTemperature), string(netatmo.ChannelHumidity)},
			})
		}

		// Indoor module (the base station)
		if containsString(raw.Type, "pressure") {
			facts.Modules = append(facts.Modules, device.ModuleFacts{
				ModuleID: moduleID,
				Types:    []string{string(netatmo.ChannelPressure)},
			})
		}

		// Wind module
		if raw.WindTimeUTC != nil {
			facts.Modules = append(facts.Modules, device.ModuleFacts{
				ModuleID: moduleID,
				Types: []string{
					string(netatmo.ChannelWindStrength),
					string(netatmo.ChannelWindAngle),
					string(netatmo.ChannelGustStrength),
					string(netatmo.ChannelGustAngle),
				},
			})
		}

		// Rain gauge
		if raw.RainTimeUTC != nil {
			facts.Modules = append(facts.Modules, device.ModuleFacts{
				ModuleID: moduleID,
				Types:    []string{string(netatmo.ChannelRain)},
			})
		}
	}

	return facts
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func roundCoord(v float64) float64 {
	scale := math.Pow(10, coordPrecision)
	return math.Round(v*scale) / scale
}
