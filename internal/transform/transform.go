// Package transform maps the public submission schema onto the internal
// report schema: position fields are inlined at the top level and the
// transmitter arrays move to shortened field names. Absent and null
// source fields stay absent in the output.
package transform

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/geo-beacon/report-exporter/internal/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is one submission in the public schema.
type Report struct {
	Timestamp        int64             `json:"timestamp,omitempty"`
	Position         *Position         `json:"position,omitempty"`
	BluetoothBeacons []BluetoothBeacon `json:"bluetoothBeacons,omitempty"`
	CellTowers       []CellTower       `json:"cellTowers,omitempty"`
	WifiAccessPoints []WifiAccessPoint `json:"wifiAccessPoints,omitempty"`
}

// Position is the submitted device position.
type Position struct {
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	Accuracy         *float64 `json:"accuracy,omitempty"`
	Altitude         *float64 `json:"altitude,omitempty"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy,omitempty"`
	Age              *int64   `json:"age,omitempty"`
	Heading          *float64 `json:"heading,omitempty"`
	Pressure         *float64 `json:"pressure,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	Source           string   `json:"source,omitempty"`
}

// BluetoothBeacon is one observed bluetooth transmitter.
type BluetoothBeacon struct {
	MacAddress     string `json:"macAddress,omitempty"`
	Age            *int64 `json:"age,omitempty"`
	SignalStrength *int   `json:"signalStrength,omitempty"`
}

// CellTower is one observed cell transmitter.
type CellTower struct {
	RadioType             string `json:"radioType,omitempty"`
	MobileCountryCode     *int   `json:"mobileCountryCode,omitempty"`
	MobileNetworkCode     *int   `json:"mobileNetworkCode,omitempty"`
	LocationAreaCode      *int   `json:"locationAreaCode,omitempty"`
	CellID                *int   `json:"cellId,omitempty"`
	Age                   *int64 `json:"age,omitempty"`
	ASU                   *int   `json:"asu,omitempty"`
	PrimaryScramblingCode *int   `json:"primaryScramblingCode,omitempty"`
	Serving               *int   `json:"serving,omitempty"`
	SignalStrength        *int   `json:"signalStrength,omitempty"`
	TimingAdvance         *int   `json:"timingAdvance,omitempty"`
}

// WifiAccessPoint is one observed wifi transmitter.
type WifiAccessPoint struct {
	MacAddress         string `json:"macAddress,omitempty"`
	RadioType          string `json:"radioType,omitempty"`
	Age                *int64 `json:"age,omitempty"`
	Channel            *int   `json:"channel,omitempty"`
	Frequency          *int   `json:"frequency,omitempty"`
	SignalToNoiseRatio *int   `json:"signalToNoiseRatio,omitempty"`
	SignalStrength     *int   `json:"signalStrength,omitempty"`
}

// Internal produces the internal form of the report. A report without
// any surviving transmitter entry maps to an empty internal report and
// is dropped by the caller.
func (r *Report) Internal() report.Report {
	var out report.Report

	if r.Position != nil {
		out.Lat = r.Position.Latitude
		out.Lon = r.Position.Longitude
		out.Accuracy = r.Position.Accuracy
		out.Altitude = r.Position.Altitude
		out.AltitudeAccuracy = r.Position.AltitudeAccuracy
		out.Age = r.Position.Age
		out.Heading = r.Position.Heading
		out.Pressure = r.Position.Pressure
		out.Speed = r.Position.Speed
		out.Source = r.Position.Source
	}
	out.Timestamp = r.Timestamp

	for _, b := range r.BluetoothBeacons {
		entry := report.BlueEntry{
			Mac:    b.MacAddress,
			Age:    b.Age,
			Signal: b.SignalStrength,
		}
		if entry != (report.BlueEntry{}) {
			out.Blue = append(out.Blue, entry)
		}
	}

	for _, c := range r.CellTowers {
		entry := report.CellEntry{
			Radio:   c.RadioType,
			MCC:     c.MobileCountryCode,
			MNC:     c.MobileNetworkCode,
			LAC:     c.LocationAreaCode,
			CID:     c.CellID,
			Age:     c.Age,
			ASU:     c.ASU,
			PSC:     c.PrimaryScramblingCode,
			Serving: c.Serving,
			Signal:  c.SignalStrength,
			TA:      c.TimingAdvance,
		}
		if entry != (report.CellEntry{}) {
			out.Cell = append(out.Cell, entry)
		}
	}

	for _, w := range r.WifiAccessPoints {
		entry := report.WifiEntry{
			Mac:       w.MacAddress,
			Radio:     w.RadioType,
			Age:       w.Age,
			Channel:   w.Channel,
			Frequency: w.Frequency,
			Signal:    w.SignalStrength,
			SNR:       w.SignalToNoiseRatio,
		}
		if entry != (report.WifiEntry{}) {
			out.Wifi = append(out.Wifi, entry)
		}
	}

	return out
}

// FromJSON decodes a public schema report and transforms it. The error
// covers malformed JSON only; schema-empty reports come back as empty
// internal reports.
func FromJSON(data []byte) (report.Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return report.Report{}, fmt.Errorf("decoding report: %w", err)
	}
	return r.Internal(), nil
}
