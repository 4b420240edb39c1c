package observe

import "time"

// Observation is one normalized fact derived from a raw vendor reading.
// Observations are constructed, published and forgotten; this subsystem
// never stores them.
type Observation struct {
	MadeBySensor     string          `json:"madeBySensor"`
	ResultTime       string          `json:"resultTime"`
	Location         *Location       `json:"location,omitempty"`
	HasResult        Result          `json:"hasResult"`
	ObservedProperty string          `json:"observedProperty"`
	Aggregation      string          `json:"aggregation"`
	UsedProcedures   []string        `json:"usedProcedures,omitempty"`
	PhenomenonTime   *PhenomenonTime `json:"phenomenonTime,omitempty"`
}

// Result is the observed value with its unit.
type Result struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Location is the observing device's position as a point geometry.
type Location struct {
	ID       string   `json:"id"`
	Geometry Geometry `json:"geometry"`
	ValidAt  string   `json:"validAt"`
}

// Geometry is GeoJSON-shaped; coordinates are [longitude, latitude].
type Geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// PhenomenonTime is the window a time-aggregated observation covers.
type PhenomenonTime struct {
	HasBeginning string `json:"hasBeginning"`
	HasEnd       string `json:"hasEnd"`
}

// Aggregation methods used across the channel table.
const (
	AggregationInstant = "instant"
	AggregationSum     = "sum"
	AggregationAverage = "average"
	AggregationMaximum = "maximum"
)

// isoTime formats a timestamp the way downstream consumers expect:
// millisecond-precision UTC ISO 8601.
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
