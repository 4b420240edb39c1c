package netatmo

import (
	"sort"
	"strconv"
	"time"
)

// Channel names a physical quantity a module can report. The set is fixed
// per hardware class: outdoor modules report temperature and humidity, the
// base station reports pressure, rain gauges report rain, and anemometers
// report the four wind channels.
type Channel string

const (
	ChannelTemperature  Channel = "temperature"
	ChannelHumidity     Channel = "humidity"
	ChannelPressure     Channel = "pressure"
	ChannelRain         Channel = "rain"
	ChannelWindStrength Channel = "windStrength"
	ChannelWindAngle    Channel = "windAngle"
	ChannelGustStrength Channel = "gustStrength"
	ChannelGustAngle    Channel = "gustAngle"
)

// Measurement is one vendor reading at one timestamp. Only channels the
// vendor reported a non-null value for are set.
type Measurement struct {
	Time         time.Time
	Temperature  *float64
	Humidity     *float64
	Pressure     *float64
	Rain         *float64
	WindStrength *float64
	WindAngle    *float64
	GustStrength *float64
	GustAngle    *float64
}

func (m *Measurement) set(ch Channel, v float64) {
	switch ch {
	case ChannelTemperature:
		m.Temperature = &v
	case ChannelHumidity:
		m.Humidity = &v
	case ChannelPressure:
		m.Pressure = &v
	case ChannelRain:
		m.Rain = &v
	case ChannelWindStrength:
		m.WindStrength = &v
	case ChannelWindAngle:
		m.WindAngle = &v
	case ChannelGustStrength:
		m.GustStrength = &v
	case ChannelGustAngle:
		m.GustAngle = &v
	}
}

func (m Measurement) empty() bool {
	return m.Temperature == nil && m.Humidity == nil && m.Pressure == nil &&
		m.Rain == nil && m.WindStrength == nil && m.WindAngle == nil &&
		m.GustStrength == nil && m.GustAngle == nil
}

// parseMeasureBody converts the getmeasure body, a map of epoch-second
// timestamp strings to positional numeric-or-null arrays aligned with the
// requested channel list, into chronologically ordered measurements. Null
// cells are dropped and timestamps whose whole row is null are omitted.
func parseMeasureBody(body map[string][]*float64, channels []Channel) []Measurement {
	stamps := make([]int64, 0, len(body))
	rows := make(map[int64][]*float64, len(body))
	for key, row := range body {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		stamps = append(stamps, ts)
		rows[ts] = row
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	measurements := make([]Measurement, 0, len(stamps))
	for _, ts := range stamps {
		m := Measurement{Time: time.Unix(ts, 0).UTC()}
		for idx, ch := range channels {
			row := rows[ts]
			if idx >= len(row) || row[idx] == nil {
				continue
			}
			m.set(ch, *row[idx])
		}
		if m.empty() {
			continue
		}
		measurements = append(measurements, m)
	}
	return measurements
}
