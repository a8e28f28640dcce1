// Package report defines the internal report schema, the validated
// observation types derived from it, and the sharding rules that route
// observations to their downstream queues.
package report

import (
	"encoding/json"
	"time"
)

// Position and signal windows accepted by validation. Latitude is
// clamped to the web mercator range used by the map tiles.
const (
	MinLat = -85.051
	MaxLat = 85.051
	MinLon = -180.0
	MaxLon = 180.0

	MinBlueSignal = -127
	MaxBlueSignal = -10
	MinWifiSignal = -100
	MaxWifiSignal = -10
	MinCellSignal = -150
	MaxCellSignal = -1

	MinMCC = 1
	MaxMCC = 999
	MinMNC = 0
	MaxMNC = 999
	MinLAC = 1
	MaxLAC = 65533
	MinCID = 1
	MaxCID = 268435455

	// GSM cell ids are 16 bit.
	MaxCIDGSM = 65535

	MaxPSC = 511
	MaxTA  = 63
	MaxASU = 97

	MinWifiChannel   = 1
	MaxWifiChannel   = 196
	MinWifiFrequency = 2400
	MaxWifiFrequency = 5925
)

// Nickname length bounds for contributor score credit.
const (
	MinNicknameLen = 2
	MaxNicknameLen = 128
)

// Envelope wraps one submitted report with its submission metadata. The
// report body is kept as raw JSON so queues and export sinks forward
// exactly what was submitted.
type Envelope struct {
	APIKey   string          `json:"api_key"`
	Nickname string          `json:"nickname"`
	Report   json.RawMessage `json:"report"`
}

// Report is one submission in the internal schema produced by the
// transform. Optional numeric fields are pointers so that absent values
// stay absent when re-encoded.
type Report struct {
	Lat              *float64 `json:"lat,omitempty"`
	Lon              *float64 `json:"lon,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Age              *int64   `json:"age,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitude_accuracy,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Pressure         *float64 `json:"pressure,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	Source           string   `json:"source,omitempty"`
	Timestamp        int64    `json:"timestamp,omitempty"`

	Blue []BlueEntry `json:"blue,omitempty"`
	Cell []CellEntry `json:"cell,omitempty"`
	Wifi []WifiEntry `json:"wifi,omitempty"`
}

// Empty reports whether no transmitter entries survived the transform.
func (r *Report) Empty() bool {
	return len(r.Blue) == 0 && len(r.Cell) == 0 && len(r.Wifi) == 0
}

// BlueEntry is one bluetooth beacon in the internal schema.
type BlueEntry struct {
	Mac    string `json:"mac,omitempty"`
	Age    *int64 `json:"age,omitempty"`
	Signal *int   `json:"signal,omitempty"`
}

// CellEntry is one cell tower in the internal schema.
type CellEntry struct {
	Radio   string `json:"radio,omitempty"`
	MCC     *int   `json:"mcc,omitempty"`
	MNC     *int   `json:"mnc,omitempty"`
	LAC     *int   `json:"lac,omitempty"`
	CID     *int   `json:"cid,omitempty"`
	Age     *int64 `json:"age,omitempty"`
	ASU     *int   `json:"asu,omitempty"`
	PSC     *int   `json:"psc,omitempty"`
	Serving *int   `json:"serving,omitempty"`
	Signal  *int   `json:"signal,omitempty"`
	TA      *int   `json:"ta,omitempty"`
}

// WifiEntry is one wifi access point in the internal schema. The
// signal-to-noise ratio keeps its submitted name.
type WifiEntry struct {
	Mac       string `json:"mac,omitempty"`
	Radio     string `json:"radio,omitempty"`
	Age       *int64 `json:"age,omitempty"`
	Channel   *int   `json:"channel,omitempty"`
	Frequency *int   `json:"frequency,omitempty"`
	Signal    *int   `json:"signal,omitempty"`
	SNR       *int   `json:"signalToNoiseRatio,omitempty"`
}

// Position is the validated general part shared by every observation
// derived from one report.
type Position struct {
	Lat              float64   `json:"lat"`
	Lon              float64   `json:"lon"`
	Time             time.Time `json:"time"`
	Accuracy         *float64  `json:"accuracy,omitempty"`
	Altitude         *float64  `json:"altitude,omitempty"`
	AltitudeAccuracy *float64  `json:"altitude_accuracy,omitempty"`
	Heading          *float64  `json:"heading,omitempty"`
	Pressure         *float64  `json:"pressure,omitempty"`
	Speed            *float64  `json:"speed,omitempty"`
	Source           string    `json:"source,omitempty"`
}

// Position validates the general fields of the report. The reported
// millisecond timestamp becomes a whole-second UTC instant; reports
// without one are stamped with now.
func (r *Report) Position(now time.Time) (Position, bool) {
	if r.Lat == nil || r.Lon == nil {
		return Position{}, false
	}
	lat, lon := *r.Lat, *r.Lon
	if lat < MinLat || lat > MaxLat || lon < MinLon || lon > MaxLon {
		return Position{}, false
	}

	ts := now.UTC()
	if r.Timestamp > 0 {
		ts = time.UnixMilli(r.Timestamp).UTC()
	}

	return Position{
		Lat:              lat,
		Lon:              lon,
		Time:             ts.Truncate(time.Second),
		Accuracy:         r.Accuracy,
		Altitude:         r.Altitude,
		AltitudeAccuracy: r.AltitudeAccuracy,
		Heading:          r.Heading,
		Pressure:         r.Pressure,
		Speed:            r.Speed,
		Source:           r.Source,
	}, true
}
