package report

import (
	"fmt"
	"strings"
)

// Transmitter types processed by the pipeline, in processing order.
const (
	TypeBlue = "blue"
	TypeCell = "cell"
	TypeWifi = "wifi"
)

// Types lists the transmitter types in processing order.
var Types = []string{TypeBlue, TypeCell, TypeWifi}

// Observation is one transmitter record fused with the general position
// of the report it came from. Observations with the same unique key are
// deduplicated within a batch, keeping the better quality one.
type Observation interface {
	// UniqueKey is the natural identity of the transmitter.
	UniqueKey() string

	// ShardID routes the observation to its downstream queue.
	ShardID() string

	// Quality exposes the fields the dedup ordering inspects.
	Quality() Quality
}

// Quality orders observations sharing a unique key. A fresher age wins,
// then a stronger signal, then a smaller accuracy. A present value beats
// an absent one.
type Quality struct {
	Age      *int64
	Signal   *int
	Accuracy *float64
}

// Better reports whether q is strictly preferable to other. Equal
// quality is not better, so a later candidate replaces the held one.
func (q Quality) Better(other Quality) bool {
	if c := cmpPresent(q.Age != nil, other.Age != nil); c != 0 {
		return c > 0
	}
	if q.Age != nil && *q.Age != *other.Age {
		return abs64(*q.Age) < abs64(*other.Age)
	}
	if c := cmpPresent(q.Signal != nil, other.Signal != nil); c != 0 {
		return c > 0
	}
	if q.Signal != nil && *q.Signal != *other.Signal {
		return *q.Signal > *other.Signal
	}
	if c := cmpPresent(q.Accuracy != nil, other.Accuracy != nil); c != 0 {
		return c > 0
	}
	if q.Accuracy != nil && *q.Accuracy != *other.Accuracy {
		return *q.Accuracy < *other.Accuracy
	}
	return false
}

func cmpPresent(a, b bool) int {
	switch {
	case a && !b:
		return 1
	case !a && b:
		return -1
	}
	return 0
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// NormalizeMac lowercases a mac address and strips separator characters.
// The second return is false when the remainder is not plain hex or is
// shorter than two digits.
func NormalizeMac(mac string) (string, bool) {
	cleaned := strings.ToLower(mac)
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case ':', '-', '.':
			return -1
		}
		return r
	}, cleaned)
	if len(cleaned) < 2 || len(cleaned) > 12 {
		return "", false
	}
	for _, r := range cleaned {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", false
		}
	}
	return cleaned, true
}

// MacShardID spreads mac-keyed stations over sixteen hex shards using
// the fifth digit. Short macs fall back to their last digit.
func MacShardID(mac string) string {
	i := 4
	if len(mac) <= i {
		i = len(mac) - 1
	}
	return string(mac[i])
}

// BlueObservation is one bluetooth beacon fused with its report.
type BlueObservation struct {
	Position
	Mac    string `json:"mac"`
	Age    *int64 `json:"age,omitempty"`
	Signal *int   `json:"signal,omitempty"`
}

// MakeBlueObservation validates a beacon entry against the blue field
// windows and fuses it with the report position. ok is false when the
// entry is malformed.
func MakeBlueObservation(pos Position, e BlueEntry) (BlueObservation, bool) {
	mac, ok := NormalizeMac(e.Mac)
	if !ok {
		return BlueObservation{}, false
	}
	if e.Signal != nil && (*e.Signal < MinBlueSignal || *e.Signal > MaxBlueSignal) {
		return BlueObservation{}, false
	}
	return BlueObservation{
		Position: pos,
		Mac:      mac,
		Age:      e.Age,
		Signal:   e.Signal,
	}, true
}

func (o BlueObservation) UniqueKey() string { return o.Mac }

func (o BlueObservation) ShardID() string { return MacShardID(o.Mac) }

func (o BlueObservation) Quality() Quality {
	return Quality{Age: o.Age, Signal: o.Signal, Accuracy: o.Accuracy}
}

// Radio technologies accepted for cell observations. Each radio is its
// own downstream shard.
const (
	RadioGSM   = "gsm"
	RadioWCDMA = "wcdma"
	RadioLTE   = "lte"
)

// NormalizeRadio maps a submitted radio type to its canonical name. UMTS
// is an alias for WCDMA.
func NormalizeRadio(radio string) (string, bool) {
	switch strings.ToLower(radio) {
	case RadioGSM:
		return RadioGSM, true
	case RadioWCDMA, "umts":
		return RadioWCDMA, true
	case RadioLTE:
		return RadioLTE, true
	}
	return "", false
}

// CellObservation is one cell tower fused with its report.
type CellObservation struct {
	Position
	Radio   string `json:"radio"`
	MCC     int    `json:"mcc"`
	MNC     int    `json:"mnc"`
	LAC     int    `json:"lac"`
	CID     int    `json:"cid"`
	Age     *int64 `json:"age,omitempty"`
	ASU     *int   `json:"asu,omitempty"`
	PSC     *int   `json:"psc,omitempty"`
	Serving *int   `json:"serving,omitempty"`
	Signal  *int   `json:"signal,omitempty"`
	TA      *int   `json:"ta,omitempty"`
}

// MakeCellObservation validates a cell tower entry and fuses it with the
// report position. The radio, mcc, mnc, lac and cid fields are required;
// out-of-window optional fields make the entry malformed.
func MakeCellObservation(pos Position, e CellEntry) (CellObservation, bool) {
	radio, ok := NormalizeRadio(e.Radio)
	if !ok {
		return CellObservation{}, false
	}
	if e.MCC == nil || *e.MCC < MinMCC || *e.MCC > MaxMCC {
		return CellObservation{}, false
	}
	if e.MNC == nil || *e.MNC < MinMNC || *e.MNC > MaxMNC {
		return CellObservation{}, false
	}
	if e.LAC == nil || *e.LAC < MinLAC || *e.LAC > MaxLAC {
		return CellObservation{}, false
	}
	maxCID := MaxCID
	if radio == RadioGSM {
		maxCID = MaxCIDGSM
	}
	if e.CID == nil || *e.CID < MinCID || *e.CID > maxCID {
		return CellObservation{}, false
	}
	if e.Signal != nil && (*e.Signal < MinCellSignal || *e.Signal > MaxCellSignal) {
		return CellObservation{}, false
	}
	if e.ASU != nil && (*e.ASU < 0 || *e.ASU > MaxASU) {
		return CellObservation{}, false
	}
	if e.PSC != nil && (*e.PSC < 0 || *e.PSC > MaxPSC) {
		return CellObservation{}, false
	}
	if e.TA != nil && (*e.TA < 0 || *e.TA > MaxTA) {
		return CellObservation{}, false
	}
	return CellObservation{
		Position: pos,
		Radio:    radio,
		MCC:      *e.MCC,
		MNC:      *e.MNC,
		LAC:      *e.LAC,
		CID:      *e.CID,
		Age:      e.Age,
		ASU:      e.ASU,
		PSC:      e.PSC,
		Serving:  e.Serving,
		Signal:   e.Signal,
		TA:       e.TA,
	}, true
}

// CellID is the compound identity of the tower.
func (o CellObservation) CellID() string {
	return fmt.Sprintf("%s_%d_%d_%d_%d", o.Radio, o.MCC, o.MNC, o.LAC, o.CID)
}

func (o CellObservation) UniqueKey() string { return o.CellID() }

func (o CellObservation) ShardID() string { return o.Radio }

func (o CellObservation) Quality() Quality {
	return Quality{Age: o.Age, Signal: o.Signal, Accuracy: o.Accuracy}
}

// WifiObservation is one wifi access point fused with its report.
type WifiObservation struct {
	Position
	Mac       string `json:"mac"`
	Radio     string `json:"radio,omitempty"`
	Age       *int64 `json:"age,omitempty"`
	Channel   *int   `json:"channel,omitempty"`
	Frequency *int   `json:"frequency,omitempty"`
	Signal    *int   `json:"signal,omitempty"`
	SNR       *int   `json:"snr,omitempty"`
}

// MakeWifiObservation validates an access point entry and fuses it with
// the report position.
func MakeWifiObservation(pos Position, e WifiEntry) (WifiObservation, bool) {
	mac, ok := NormalizeMac(e.Mac)
	if !ok {
		return WifiObservation{}, false
	}
	if e.Signal != nil && (*e.Signal < MinWifiSignal || *e.Signal > MaxWifiSignal) {
		return WifiObservation{}, false
	}
	if e.Channel != nil && (*e.Channel < MinWifiChannel || *e.Channel > MaxWifiChannel) {
		return WifiObservation{}, false
	}
	if e.Frequency != nil && (*e.Frequency < MinWifiFrequency || *e.Frequency > MaxWifiFrequency) {
		return WifiObservation{}, false
	}
	return WifiObservation{
		Position:  pos,
		Mac:       mac,
		Radio:     e.Radio,
		Age:       e.Age,
		Channel:   e.Channel,
		Frequency: e.Frequency,
		Signal:    e.Signal,
		SNR:       e.SNR,
	}, true
}

func (o WifiObservation) UniqueKey() string { return o.Mac }

func (o WifiObservation) ShardID() string { return MacShardID(o.Mac) }

func (o WifiObservation) Quality() Quality {
	return Quality{Age: o.Age, Signal: o.Signal, Accuracy: o.Accuracy}
}
