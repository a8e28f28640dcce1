package export

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/geo-beacon/report-exporter/internal/db"
	"github.com/geo-beacon/report-exporter/internal/metrics"
	"github.com/geo-beacon/report-exporter/internal/queue"
	"github.com/geo-beacon/report-exporter/internal/report"
	"github.com/geo-beacon/report-exporter/internal/transform"
)

// UserStore resolves contributors and api keys. *db.Store implements it
// against Postgres.
type UserStore interface {
	GetOrCreateUser(ctx context.Context, nickname string) (int64, error)
	GetAPIKey(ctx context.Context, key string) (*db.APIKey, error)
}

// InternalSink decomposes report batches into per-transmitter
// observations, shards them onto the downstream queues, marks coverage
// map grids, and credits the submitting users.
type InternalSink struct {
	catalog *queue.Catalog
	client  *redis.Client
	store   UserStore
	logger  *zap.Logger

	// now stamps reports without a timestamp; swapped out in tests.
	now func() time.Time
}

func NewInternalSink(catalog *queue.Catalog, client *redis.Client, store UserStore,
	logger *zap.Logger) *InternalSink {
	return &InternalSink{
		catalog: catalog,
		client:  client,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *InternalSink) Upload(ctx context.Context, _ string, data []byte) error {
	return s.Process(ctx, data)
}

// Retriable covers IO, store and database errors alike.
func (s *InternalSink) Retriable(error) bool { return true }

// obsStats counts one transmitter type for one submitter.
type obsStats struct {
	Upload int
	Drop   int
}

// submitterStats collects the per-api-key counters for one batch.
type submitterStats struct {
	Reports   int
	Malformed int
	Blue      obsStats
	Cell      obsStats
	Wifi      obsStats
}

func (st *submitterStats) forType(typ string) *obsStats {
	switch typ {
	case report.TypeBlue:
		return &st.Blue
	case report.TypeCell:
		return &st.Cell
	}
	return &st.Wifi
}

// groupKey identifies one submitter group within a batch.
type groupKey struct {
	apiKey   string
	nickname string
}

// batchState accumulates one Process call. Observation dedup and grid
// dedup are scoped to this state, not beyond the batch.
type batchState struct {
	groups  map[groupKey][]report.Report
	order   []groupKey
	users   map[string]int64
	scores  map[int64]int
	stats   map[string]*submitterStats
	observs map[string]map[string]report.Observation
	grids   map[[2]int32]struct{}
}

// Process runs one internal batch: transform, validate, dedup, shard,
// and commit every downstream enqueue through one transaction.
func (s *InternalSink) Process(ctx context.Context, data []byte) error {
	var envelopes []report.Envelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return fmt.Errorf("decoding internal batch: %w", err)
	}

	state, err := s.groupEnvelopes(ctx, envelopes)
	if err != nil {
		return err
	}

	for _, key := range state.order {
		s.processGroup(state, key)
	}

	if err := s.flush(ctx, state); err != nil {
		return err
	}

	s.emitStats(ctx, state)
	return nil
}

// groupEnvelopes transforms each envelope and groups the surviving
// reports by submitter. Reports whose transform yields no transmitter
// data are dropped here, before any accounting. Users are resolved for
// every nickname inside the credit window.
func (s *InternalSink) groupEnvelopes(ctx context.Context, envelopes []report.Envelope) (*batchState, error) {
	state := &batchState{
		groups:  make(map[groupKey][]report.Report),
		users:   make(map[string]int64),
		scores:  make(map[int64]int),
		stats:   make(map[string]*submitterStats),
		observs: make(map[string]map[string]report.Observation),
		grids:   make(map[[2]int32]struct{}),
	}
	for _, typ := range report.Types {
		state.observs[typ] = make(map[string]report.Observation)
	}

	for _, env := range envelopes {
		rep, err := transform.FromJSON(env.Report)
		if err != nil {
			s.logger.Warn("dropping undecodable report",
				zap.String("api_key", env.APIKey),
				zap.Error(err),
			)
			continue
		}
		if rep.Empty() {
			continue
		}

		key := groupKey{apiKey: env.APIKey, nickname: env.Nickname}
		if _, seen := state.groups[key]; !seen {
			state.order = append(state.order, key)
		}
		state.groups[key] = append(state.groups[key], rep)

		if _, ok := state.stats[env.APIKey]; !ok {
			state.stats[env.APIKey] = &submitterStats{}
		}

		nickname := env.Nickname
		if report.ValidNickname(nickname) {
			if _, ok := state.users[nickname]; !ok {
				userid, err := s.store.GetOrCreateUser(ctx, nickname)
				if err != nil {
					return nil, fmt.Errorf("resolving user: %w", err)
				}
				state.users[nickname] = userid
				state.scores[userid] = 0
			}
		}
	}
	return state, nil
}

// processGroup validates one submitter's reports, fuses observations
// and records positions. A report counts as malformed when not a single
// transmitter entry survives validation.
func (s *InternalSink) processGroup(state *batchState, key groupKey) {
	stats := state.stats[key.apiKey]
	positions := make(map[[2]float64]struct{})
	credited := 0

	for _, rep := range state.groups[key] {
		stats.Reports++

		pos, ok := rep.Position(s.now())
		if !ok {
			stats.Malformed++
			continue
		}

		anyData := false
		for _, e := range rep.Blue {
			if obs, ok := report.MakeBlueObservation(pos, e); ok {
				s.holdObservation(state, report.TypeBlue, obs)
				stats.Blue.Upload++
				anyData = true
			} else {
				stats.Blue.Drop++
			}
		}
		for _, e := range rep.Cell {
			if obs, ok := report.MakeCellObservation(pos, e); ok {
				s.holdObservation(state, report.TypeCell, obs)
				stats.Cell.Upload++
				anyData = true
			} else {
				stats.Cell.Drop++
			}
		}
		for _, e := range rep.Wifi {
			if obs, ok := report.MakeWifiObservation(pos, e); ok {
				s.holdObservation(state, report.TypeWifi, obs)
				stats.Wifi.Upload++
				anyData = true
			} else {
				stats.Wifi.Drop++
			}
		}

		if anyData {
			positions[[2]float64{pos.Lat, pos.Lon}] = struct{}{}
			credited++
		} else {
			stats.Malformed++
		}
	}

	for p := range positions {
		lat, lon := report.ScaleGrid(p[0], p[1])
		state.grids[[2]int32{lat, lon}] = struct{}{}
	}

	// Scores count reports, not distinct positions.
	if userid, ok := state.users[key.nickname]; ok {
		state.scores[userid] += credited
	}
}

// holdObservation dedups by unique key, keeping the better quality
// observation. A candidate that is not worse replaces the held one.
func (s *InternalSink) holdObservation(state *batchState, typ string, obs report.Observation) {
	held := state.observs[typ]
	key := obs.UniqueKey()
	if existing, ok := held[key]; ok && existing.Quality().Better(obs.Quality()) {
		return
	}
	held[key] = obs
}

// flush shards the retained observations, grids and scores onto their
// downstream queues through one transaction.
func (s *InternalSink) flush(ctx context.Context, state *batchState) error {
	pending := make(map[string][]interface{})

	for _, typ := range report.Types {
		for _, obs := range state.observs[typ] {
			name := "update_" + typ + "_" + obs.ShardID()
			pending[name] = append(pending[name], obs)
		}
	}

	for userid, value := range state.scores {
		if value <= 0 {
			continue
		}
		pending[report.ScoreQueue] = append(pending[report.ScoreQueue], report.Score{
			Key:    report.ScoreKeyLocation,
			UserID: userid,
			Value:  value,
		})
	}

	queued := make(map[string][][]byte)
	for name, values := range pending {
		items, err := queue.MarshalItems(values)
		if err != nil {
			return fmt.Errorf("encoding items for %s: %w", name, err)
		}
		queued[name] = items
	}

	// Grid cells are binary-encoded, not JSON.
	for grid := range state.grids {
		name := "update_datamap_" + report.GridShardID(grid[0], grid[1])
		queued[name] = append(queued[name], report.EncodeGrid(grid[0], grid[1]))
	}

	if len(queued) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for name, items := range queued {
		q, ok := s.catalog.Get(name)
		if !ok {
			return fmt.Errorf("no downstream queue %s", name)
		}
		if err := q.Enqueue(ctx, pipe, items); err != nil {
			return fmt.Errorf("enqueueing into %s: %w", name, err)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("committing internal batch: %w", err)
	}
	return nil
}

// emitStats publishes the per-submitter counters. Only api keys that
// exist and opted into submission logging are reported, and zero counts
// stay unpublished.
func (s *InternalSink) emitStats(ctx context.Context, state *batchState) {
	for apiKey, stats := range state.stats {
		row, err := s.store.GetAPIKey(ctx, apiKey)
		if err != nil {
			s.logger.Warn("api key lookup failed", zap.String("api_key", apiKey), zap.Error(err))
			continue
		}
		if row == nil || !row.LogSubmit {
			continue
		}
		tag := row.ValidKey

		if stats.Reports > 0 {
			metrics.ReportsUploadedTotal.WithLabelValues(tag).Add(float64(stats.Reports))
		}
		if stats.Malformed > 0 {
			metrics.ReportsDroppedTotal.WithLabelValues(tag, "malformed").Add(float64(stats.Malformed))
		}
		for _, typ := range report.Types {
			counts := stats.forType(typ)
			if counts.Upload > 0 {
				metrics.ObservationsUploadedTotal.WithLabelValues(tag, typ).Add(float64(counts.Upload))
			}
			if counts.Drop > 0 {
				metrics.ObservationsDroppedTotal.WithLabelValues(tag, typ, "malformed").Add(float64(counts.Drop))
			}
		}
	}
}
