package observe

import (
	"fmt"
	"strings"
	"time"

	"github.com/urbanflux/netatmo-ingest/internal/device"
	"github.com/urbanflux/netatmo-ingest/internal/netatmo"
)

// Normalize converts one module's raw measurements, in chronological
// order, into unit-normalized observations. Instantaneous channels
// (temperature, humidity, pressure) produce one observation each; the
// windowed channels additionally carry the time window the reading covers,
// and rain produces both a depth and a derived rate.
func Normalize(dev device.Device, mod device.Module, measurements []netatmo.Measurement) ([]Observation, error) {
	location := &Location{
		ID: dev.Location.ID,
		Geometry: Geometry{
			Type:        "Point",
			Coordinates: []float64{dev.Location.Lon, dev.Location.Lat},
		},
		ValidAt: isoTime(dev.Location.ValidAt),
	}

	observations := []Observation{}

	// The gap between readings isn't always exactly 5 minutes, so the
	// previous timestep is carried forward to set each window's start.
	// For the very first measurement the module's watermark stands in,
	// if it looks sensible.
	previousTimestep := mod.TimeOfLatest

	for _, m := range measurements {
		begin := windowBeginning(previousTimestep, m.Time)

		instant := func(value float64, ch netatmo.Channel, unit, property, procedure string) {
			observations = append(observations, Observation{
				MadeBySensor:     SensorID(mod.ModuleID, ch),
				ResultTime:       isoTime(m.Time),
				Location:         location,
				HasResult:        Result{Value: value, Unit: unit},
				ObservedProperty: property,
				Aggregation:      AggregationInstant,
				UsedProcedures:   []string{procedure},
			})
		}

		windowed := func(value float64, ch netatmo.Channel, unit, property, aggregation string, procedures []string) {
			observations = append(observations, Observation{
				MadeBySensor:     SensorID(mod.ModuleID, ch),
				ResultTime:       isoTime(m.Time),
				Location:         location,
				HasResult:        Result{Value: value, Unit: unit},
				ObservedProperty: property,
				Aggregation:      aggregation,
				UsedProcedures:   procedures,
				PhenomenonTime: &PhenomenonTime{
					HasBeginning: isoTime(begin),
					HasEnd:       isoTime(m.Time),
				},
			})
		}

		if m.Temperature != nil {
			instant(*m.Temperature, netatmo.ChannelTemperature, "degree-celsius", "air-temperature", "netatmo-temperature-instantaneous")
		}
		if m.Humidity != nil {
			instant(*m.Humidity, netatmo.ChannelHumidity, "percent", "relative-humidity", "netatmo-humidity-instantaneous")
		}
		if m.Pressure != nil {
			instant(*m.Pressure, netatmo.ChannelPressure, "hectopascal", "air-pressure-at-mean-sea-level", "netatmo-pressure-instantaneous")
		}
		if m.Rain != nil {
			windowed(*m.Rain, netatmo.ChannelRain, "millimetre", "precipitation-depth", AggregationSum,
				[]string{"netatmo-rain-depth"})

			rate, err := RainRate(begin, m.Time, *m.Rain)
			if err != nil {
				return nil, fmt.Errorf("rain rate for module %s at %s: %w", mod.ModuleID, isoTime(m.Time), err)
			}
			windowed(rate, netatmo.ChannelRain, "millimetre-per-hour", "precipitation-rate", AggregationAverage,
				[]string{"netatmo-rain-depth", "rain-depth-to-rain-rate"})
		}
		if m.WindStrength != nil {
			windowed(KilometresPerHourToMetresPerSecond(*m.WindStrength), netatmo.ChannelWindStrength,
				"metre-per-second", "wind-speed", AggregationAverage,
				[]string{"netatmo-wind-speed-average", "kilometre-per-hour-to-metre-per-second"})
		}
		if m.GustStrength != nil {
			windowed(KilometresPerHourToMetresPerSecond(*m.GustStrength), netatmo.ChannelGustStrength,
				"metre-per-second", "wind-speed", AggregationMaximum,
				[]string{"netatmo-gust-speed-maximum", "kilometre-per-hour-to-metre-per-second"})
		}
		if m.WindAngle != nil {
			windowed(*m.WindAngle, netatmo.ChannelWindAngle, "degree", "wind-direction", AggregationAverage,
				[]string{"netatmo-wind-direction-average"})
		}
		if m.GustAngle != nil {
			windowed(*m.GustAngle, netatmo.ChannelGustAngle, "degree", "wind-direction", AggregationMaximum,
				[]string{"netatmo-gust-direction-maximum"})
		}

		previousTimestep = m.Time
	}

	return observations, nil
}

// windowBeginning picks the start of the window a reading covers. Readings
// arrive on a nominal 5-minute cadence with some jitter: when the previous
// timestep sits strictly between 6 and 4 minutes before this reading it is
// trusted as the window start, otherwise a stale or missing previous
// timestep would produce a wildly wrong window, so exactly 5 minutes
// before is used instead.
func windowBeginning(previousTimestep, measurementTime time.Time) time.Time {
	sixBefore := measurementTime.Add(-6 * time.Minute)
	fourBefore := measurementTime.Add(-4 * time.Minute)

	if previousTimestep.After(sixBefore) && previousTimestep.Before(fourBefore) {
		return previousTimestep
	}
	return measurementTime.Add(-5 * time.Minute)
}

// sensorFamilies maps channels onto the per-module sensor a reading is
// attributed to. All four wind channels share one sensor.
var sensorFamilies = map[netatmo.Channel]string{
	netatmo.ChannelTemperature:  "temperature",
	netatmo.ChannelHumidity:     "humidity",
	netatmo.ChannelPressure:     "pressure",
	netatmo.ChannelRain:         "rain",
	netatmo.ChannelWindStrength: "wind",
	netatmo.ChannelWindAngle:    "wind",
	netatmo.ChannelGustStrength: "wind",
	netatmo.ChannelGustAngle:    "wind",
}

// SensorID derives the synthetic sensor identifier for a module/channel
// pair, e.g. netatmo-02-00-00-17-68-62-temperature.
func SensorID(moduleID string, ch netatmo.Channel) string {
	return "netatmo-" + strings.ReplaceAll(moduleID, ":", "-") + "-" + sensorFamilies[ch]
}
