package transform

import (
	"testing"
)

func TestInternalRoundTrip(t *testing.T) {
	input := []byte(`{
		"position": {"latitude": 1.5, "longitude": 2.5, "accuracy": 10, "altitudeAccuracy": 3},
		"wifiAccessPoints": [{"macAddress": "aa:bb", "signalStrength": -50}],
		"timestamp": 1500000000000
	}`)

	out, err := FromJSON(input)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("encoding internal report: %v", err)
	}
	want := `{"lat":1.5,"lon":2.5,"accuracy":10,"altitude_accuracy":3,"timestamp":1500000000000,"wifi":[{"mac":"aa:bb","signal":-50}]}`
	if string(encoded) != want {
		t.Errorf("internal form mismatch:\n got %s\nwant %s", encoded, want)
	}
}

func TestInternalFieldRenames(t *testing.T) {
	input := []byte(`{
		"bluetoothBeacons": [{"macAddress": "aa:bb:cc:dd:ee:ff", "age": 100, "signalStrength": -60}],
		"cellTowers": [{
			"radioType": "lte", "mobileCountryCode": 262, "mobileNetworkCode": 1,
			"locationAreaCode": 5, "cellId": 1234, "primaryScramblingCode": 3,
			"signalStrength": -90, "timingAdvance": 2, "asu": 15, "serving": 1, "age": 50
		}],
		"wifiAccessPoints": [{
			"macAddress": "00:11:22:33:44:55", "radioType": "802.11n",
			"channel": 11, "frequency": 2462, "signalToNoiseRatio": 13, "signalStrength": -77
		}]
	}`)

	out, err := FromJSON(input)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	if len(out.Blue) != 1 || out.Blue[0].Mac != "aa:bb:cc:dd:ee:ff" ||
		out.Blue[0].Age == nil || *out.Blue[0].Age != 100 ||
		out.Blue[0].Signal == nil || *out.Blue[0].Signal != -60 {
		t.Errorf("blue entry mismatch: %+v", out.Blue)
	}

	if len(out.Cell) != 1 {
		t.Fatalf("expected 1 cell entry, got %d", len(out.Cell))
	}
	c := out.Cell[0]
	if c.Radio != "lte" || *c.MCC != 262 || *c.MNC != 1 || *c.LAC != 5 || *c.CID != 1234 ||
		*c.PSC != 3 || *c.Signal != -90 || *c.TA != 2 || *c.ASU != 15 || *c.Serving != 1 {
		t.Errorf("cell entry mismatch: %+v", c)
	}

	if len(out.Wifi) != 1 {
		t.Fatalf("expected 1 wifi entry, got %d", len(out.Wifi))
	}
	w := out.Wifi[0]
	if w.Mac != "00:11:22:33:44:55" || w.Radio != "802.11n" ||
		*w.Channel != 11 || *w.Frequency != 2462 || *w.SNR != 13 || *w.Signal != -77 {
		t.Errorf("wifi entry mismatch: %+v", w)
	}
}

func TestInternalEmptyWhenNoTransmitters(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty object", `{}`},
		{"position only", `{"position": {"latitude": 1.5, "longitude": 2.5}}`},
		{"timestamp only", `{"timestamp": 1500000000000}`},
		{"empty arrays", `{"bluetoothBeacons": [], "cellTowers": [], "wifiAccessPoints": []}`},
		{"entries with no surviving fields", `{"wifiAccessPoints": [{}], "bluetoothBeacons": [{}]}`},
		{"null fields dropped", `{"wifiAccessPoints": [{"macAddress": null, "signalStrength": null}]}`},
	}
	for _, tt := range tests {
		out, err := FromJSON([]byte(tt.input))
		if err != nil {
			t.Fatalf("%s: transform failed: %v", tt.name, err)
		}
		if !out.Empty() {
			t.Errorf("%s: expected empty internal report, got %+v", tt.name, out)
		}
	}
}

func TestInternalNullPositionFieldsOmitted(t *testing.T) {
	input := []byte(`{
		"position": {"latitude": 1.5, "longitude": 2.5, "accuracy": null},
		"wifiAccessPoints": [{"macAddress": "aa:bb"}]
	}`)

	out, err := FromJSON(input)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if out.Accuracy != nil {
		t.Error("null accuracy survived the transform")
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("encoding internal report: %v", err)
	}
	if string(encoded) != `{"lat":1.5,"lon":2.5,"wifi":[{"mac":"aa:bb"}]}` {
		t.Errorf("unexpected internal form: %s", encoded)
	}
}

func TestFromJSONMalformed(t *testing.T) {
	if _, err := FromJSON([]byte(`{"position": [1, 2]`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
