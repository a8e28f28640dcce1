package export

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/db"
	"github.com/geo-beacon/report-exporter/internal/metrics"
	"github.com/geo-beacon/report-exporter/internal/queue"
	"github.com/geo-beacon/report-exporter/internal/report"
)

type fakeStore struct {
	users   map[string]int64
	nextID  int64
	created int
	apiKeys map[string]db.APIKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]int64),
		nextID:  1,
		apiKeys: make(map[string]db.APIKey),
	}
}

func (f *fakeStore) GetOrCreateUser(_ context.Context, nickname string) (int64, error) {
	if id, ok := f.users[nickname]; ok {
		return id, nil
	}
	id := f.nextID
	f.nextID++
	f.users[nickname] = id
	f.created++
	return id, nil
}

func (f *fakeStore) GetAPIKey(_ context.Context, key string) (*db.APIKey, error) {
	row, ok := f.apiKeys[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func newTestInternalSink(t *testing.T) (*InternalSink, *queue.Catalog, *fakeStore, *redis.Client) {
	t.Helper()
	client, _ := newTestRedis(t)
	catalog := queue.NewCatalog(client, queue.CatalogOptions{IncomingBatch: 100})
	store := newFakeStore()
	sink := NewInternalSink(catalog, client, store, zap.NewNop())
	sink.now = func() time.Time { return time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC) }
	return sink, catalog, store, client
}

func batch(envelopes ...string) []byte {
	out := "["
	for i, e := range envelopes {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return []byte(out + "]")
}

func wifiEnvelope(apiKey, nickname, mac string, signal int) string {
	return fmt.Sprintf(`{"api_key":%q,"nickname":%q,"report":{
		"position":{"latitude":51.5,"longitude":-0.12},
		"wifiAccessPoints":[{"macAddress":%q,"signalStrength":%d}],
		"timestamp":1500000000000}}`, apiKey, nickname, mac, signal)
}

func drain(t *testing.T, catalog *queue.Catalog, name string) [][]byte {
	t.Helper()
	q, ok := catalog.Get(name)
	if !ok {
		t.Fatalf("no queue %s", name)
	}
	items, err := q.Dequeue(context.Background(), 0)
	if err != nil {
		t.Fatalf("draining %s: %v", name, err)
	}
	return items
}

func TestInternalSinkShardsObservations(t *testing.T) {
	sink, catalog, _, _ := newTestInternalSink(t)

	err := sink.Process(context.Background(), batch(
		wifiEnvelope("A", "", "aa:bb:cc:dd:ee:ff", -50),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// Shard c is the fifth hex digit of the mac.
	items := drain(t, catalog, "update_wifi_c")
	if len(items) != 1 {
		t.Fatalf("expected 1 sharded observation, got %d", len(items))
	}
	var obs report.WifiObservation
	if err := json.Unmarshal(items[0], &obs); err != nil {
		t.Fatalf("decoding observation: %v", err)
	}
	if obs.Mac != "aabbccddeeff" || obs.Lat != 51.5 || obs.Lon != -0.12 {
		t.Errorf("observation = %+v", obs)
	}
	want := time.Date(2017, 7, 14, 2, 40, 0, 0, time.UTC)
	if !obs.Time.Equal(want) {
		t.Errorf("observation time = %s, want %s", obs.Time, want)
	}

	// One datamap grid for the position quadrant.
	grids := drain(t, catalog, "update_datamap_nw")
	if len(grids) != 1 {
		t.Fatalf("expected 1 grid, got %d", len(grids))
	}
	lat, lon, ok := report.DecodeGrid(grids[0])
	if !ok || lat != 51500 || lon != -120 {
		t.Errorf("grid = %d, %d, %v", lat, lon, ok)
	}
}

func TestInternalSinkDedupKeepsBetter(t *testing.T) {
	sink, catalog, _, _ := newTestInternalSink(t)

	err := sink.Process(context.Background(), batch(
		wifiEnvelope("A", "", "aa:bb", -60),
		wifiEnvelope("A", "", "aa:bb", -50),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	items := drain(t, catalog, "update_wifi_b")
	if len(items) != 1 {
		t.Fatalf("expected 1 deduplicated observation, got %d", len(items))
	}
	var obs report.WifiObservation
	if err := json.Unmarshal(items[0], &obs); err != nil {
		t.Fatalf("decoding observation: %v", err)
	}
	if obs.Signal == nil || *obs.Signal != -50 {
		t.Errorf("retained observation signal = %v, want -50", obs.Signal)
	}
}

func TestInternalSinkDedupKeepsExistingBetter(t *testing.T) {
	sink, catalog, _, _ := newTestInternalSink(t)

	// The stronger signal arrives first and must survive.
	err := sink.Process(context.Background(), batch(
		wifiEnvelope("A", "", "aa:bb", -50),
		wifiEnvelope("A", "", "aa:bb", -60),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	items := drain(t, catalog, "update_wifi_b")
	if len(items) != 1 {
		t.Fatalf("expected 1 deduplicated observation, got %d", len(items))
	}
	var obs report.WifiObservation
	if err := json.Unmarshal(items[0], &obs); err != nil {
		t.Fatalf("decoding observation: %v", err)
	}
	if obs.Signal == nil || *obs.Signal != -50 {
		t.Errorf("retained observation signal = %v, want -50", obs.Signal)
	}
}

func TestInternalSinkGridDedup(t *testing.T) {
	sink, catalog, _, _ := newTestInternalSink(t)

	// Two reports from nearby positions inside the same grid cell.
	err := sink.Process(context.Background(), batch(
		wifiEnvelope("A", "", "aa:bb:cc:dd:ee:01", -50),
		wifiEnvelope("A", "", "aa:bb:cc:dd:ee:02", -50),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	grids := drain(t, catalog, "update_datamap_nw")
	if len(grids) != 1 {
		t.Errorf("expected 1 deduplicated grid, got %d", len(grids))
	}
}

func TestInternalSinkUserCredit(t *testing.T) {
	sink, catalog, store, _ := newTestInternalSink(t)

	err := sink.Process(context.Background(), batch(
		wifiEnvelope("A", "alice", "aa:bb:cc:dd:ee:01", -50),
		wifiEnvelope("A", "alice", "aa:bb:cc:dd:ee:02", -51),
		wifiEnvelope("A", "alice", "aa:bb:cc:dd:ee:03", -52),
		wifiEnvelope("A", "alice", "aa:bb:cc:dd:ee:04", -53),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if store.created != 1 {
		t.Errorf("created %d user rows, want 1", store.created)
	}

	scores := drain(t, catalog, report.ScoreQueue)
	if len(scores) != 1 {
		t.Fatalf("expected 1 score entry, got %d", len(scores))
	}
	var score report.Score
	if err := json.Unmarshal(scores[0], &score); err != nil {
		t.Fatalf("decoding score: %v", err)
	}
	if score.Key != report.ScoreKeyLocation || score.UserID != store.users["alice"] || score.Value != 4 {
		t.Errorf("score = %+v", score)
	}
}

func TestInternalSinkShortNickname(t *testing.T) {
	sink, catalog, store, _ := newTestInternalSink(t)

	err := sink.Process(context.Background(), batch(
		wifiEnvelope("A", "a", "aa:bb:cc:dd:ee:01", -50),
		wifiEnvelope("A", "", "aa:bb:cc:dd:ee:02", -50),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if store.created != 0 {
		t.Errorf("created %d user rows, want 0", store.created)
	}
	scores := drain(t, catalog, report.ScoreQueue)
	if len(scores) != 0 {
		t.Errorf("expected no score entries, got %d", len(scores))
	}

	// Observation processing proceeds regardless.
	if items := drain(t, catalog, "update_wifi_c"); len(items) != 2 {
		t.Errorf("expected 2 observations, got %d", len(items))
	}
}

func TestInternalSinkDropsEmptyAndMalformed(t *testing.T) {
	sink, catalog, store, _ := newTestInternalSink(t)
	store.apiKeys["A"] = db.APIKey{ValidKey: "A", LogSubmit: true}

	err := sink.Process(context.Background(), batch(
		// Transforms to empty: dropped before grouping.
		`{"api_key":"A","nickname":"","report":{"position":{"latitude":1,"longitude":2}}}`,
		// No valid position: malformed report.
		`{"api_key":"A","nickname":"","report":{"wifiAccessPoints":[{"macAddress":"aa:bb"}]}}`,
		// One valid and one invalid access point.
		`{"api_key":"A","nickname":"","report":{
			"position":{"latitude":51.5,"longitude":-0.12},
			"wifiAccessPoints":[{"macAddress":"aa:bb","signalStrength":-50},
			                    {"macAddress":"zz:zz"}]}}`,
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.ReportsUploadedTotal.WithLabelValues("A")); got != 2 {
		t.Errorf("reports uploaded = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.ReportsDroppedTotal.WithLabelValues("A", "malformed")); got != 1 {
		t.Errorf("reports dropped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ObservationsUploadedTotal.WithLabelValues("A", "wifi")); got != 1 {
		t.Errorf("observations uploaded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ObservationsDroppedTotal.WithLabelValues("A", "wifi", "malformed")); got != 1 {
		t.Errorf("observations dropped = %v, want 1", got)
	}

	if items := drain(t, catalog, "update_wifi_b"); len(items) != 1 {
		t.Errorf("expected 1 observation downstream, got %d", len(items))
	}
}

func TestInternalSinkStatsGatedByAPIKey(t *testing.T) {
	sink, _, store, _ := newTestInternalSink(t)
	// Known key that opted out of submission logging.
	store.apiKeys["quiet"] = db.APIKey{ValidKey: "quiet", LogSubmit: false}

	err := sink.Process(context.Background(), batch(
		wifiEnvelope("quiet", "", "aa:bb:cc:dd:ee:01", -50),
		wifiEnvelope("unknown", "", "aa:bb:cc:dd:ee:02", -50),
	))
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.ReportsUploadedTotal.WithLabelValues("quiet")); got != 0 {
		t.Errorf("opted-out key reported %v uploads", got)
	}
	if got := testutil.ToFloat64(metrics.ReportsUploadedTotal.WithLabelValues("unknown")); got != 0 {
		t.Errorf("unknown key reported %v uploads", got)
	}
}

func TestInternalSinkRejectsBadBatch(t *testing.T) {
	sink, _, _, _ := newTestInternalSink(t)
	if err := sink.Process(context.Background(), []byte("not json")); err == nil {
		t.Error("expected error for undecodable batch")
	}
}
