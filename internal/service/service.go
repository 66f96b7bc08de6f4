// Package service runs the sampling cycle that turns price snapshots into
// rolling sentiment series and fans the result out to subscribers.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fear-greed-watch/internal/alerting"
	"fear-greed-watch/internal/config"
	"fear-greed-watch/internal/fetcher"
	"fear-greed-watch/internal/hub"
	"fear-greed-watch/internal/leaderboard"
	"fear-greed-watch/internal/model"
	"fear-greed-watch/internal/score"
	"fear-greed-watch/internal/series"
	"fear-greed-watch/internal/storage"
)

// Service owns the rolling windows, previous-price maps, and leaderboard,
// and runs the fetch-score-store-broadcast cycle. Exactly one cycle mutates
// a basket at a time; the scheduler guarantees ticks never overlap.
type Service struct {
	cfg       *config.Config
	store     *series.Store
	prev      map[string]map[string]decimal.Decimal
	board     *leaderboard.Table
	quotes    fetcher.QuoteFetcher
	snapshots storage.SnapshotStore
	notifier  alerting.Notifier
	hub       *hub.Hub
	logger    zerolog.Logger

	interval  int64
	horizon   int64
	lastAlert map[string]time.Time
}

// New constructs the sentiment service. snapshots and notifier may be nil to
// disable persistence and alerting respectively.
func New(cfg *config.Config, quotes fetcher.QuoteFetcher, snapshots storage.SnapshotStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     series.NewStore(cfg.BasketNames(), int64(cfg.Sampler.Horizon/time.Second)),
		prev:      make(map[string]map[string]decimal.Decimal),
		board:     leaderboard.New(),
		quotes:    quotes,
		snapshots: snapshots,
		notifier:  notifier,
		logger:    logger.With().Str("component", "service").Logger(),
		interval:  int64(cfg.Sampler.Interval / time.Second),
		horizon:   int64(cfg.Sampler.Horizon / time.Second),
		lastAlert: make(map[string]time.Time),
	}
	for _, name := range cfg.BasketNames() {
		svc.prev[name] = make(map[string]decimal.Decimal)
	}
	return svc
}

// AttachHub registers the broadcast hub. Called once during wiring, before
// the first cycle runs.
func (s *Service) AttachHub(h *hub.Hub) {
	s.hub = h
}

// Store exposes the rolling windows for read paths.
func (s *Service) Store() *series.Store {
	return s.store
}

// Restore loads each basket's persisted snapshot, or seeds a synthetic
// full-horizon window when the snapshot is missing, corrupt, stale, or
// undersized. Never fails startup.
func (s *Service) Restore(ctx context.Context, now time.Time) {
	points := s.cfg.WindowPoints()
	aligned := score.AlignTime(now.Unix(), s.interval)

	for _, name := range s.store.Baskets() {
		sr := s.store.Get(name)
		if restored := s.tryRestore(ctx, name, aligned, points); restored != nil {
			sr.Reset(restored)
			sr.Evict(aligned)
			s.logger.Info().Str("basket", name).Int("samples", sr.Len()).Msg("series restored from snapshot")
			continue
		}
		sr.Seed(aligned, points, s.interval)
		s.logger.Info().Str("basket", name).Int("samples", points).Msg("series seeded")
	}
}

func (s *Service) tryRestore(ctx context.Context, basket string, now int64, points int) []model.Sample {
	if s.snapshots == nil {
		return nil
	}

	samples, savedAt, err := s.snapshots.LoadSeries(ctx, basket)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn().Err(err).Str("basket", basket).Msg("snapshot unreadable, reseeding")
		}
		return nil
	}
	if len(samples) < points {
		s.logger.Warn().Str("basket", basket).Int("samples", len(samples)).Int("expected", points).
			Msg("snapshot undersized, reseeding")
		return nil
	}
	newest := samples[len(samples)-1].Time
	if newest < now-s.horizon {
		s.logger.Warn().Str("basket", basket).Time("saved_at", savedAt).
			Msg("snapshot stale, reseeding")
		return nil
	}
	return samples
}

// RunCycle executes one sampling cycle: concurrent per-basket fetch, score
// update, append+evict, then a combined-state broadcast. A total upstream
// failure degrades that basket to a random nudge so subscribers still get a
// heartbeat; the cycle itself never fails.
func (s *Service) RunCycle(ctx context.Context, bucket time.Time) error {
	aligned := score.AlignTime(bucket.Unix(), s.interval)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Sampler.Interval)
	defer cancel()

	var wg sync.WaitGroup
	for name, ids := range s.cfg.BasketMap() {
		wg.Add(1)
		go func(name string, ids []string) {
			defer wg.Done()
			s.sampleBasket(ctx, name, ids, aligned)
		}(name, ids)
	}
	wg.Wait()

	s.checkAlerts(ctx, bucket)
	s.broadcast()
	return nil
}

func (s *Service) sampleBasket(ctx context.Context, name string, ids []string, aligned int64) {
	sr := s.store.Get(name)
	prevScore := sr.Latest()

	var sample model.Sample
	quotes, err := s.quotes.FetchCurrent(ctx, ids)
	if err != nil {
		// Degraded cycle: nudge the score at random so the series keeps
		// moving while the upstream is unavailable.
		value := prevScore
		switch rand.Intn(3) {
		case 0:
			value = min(score.Cap, value+score.Step)
		case 1:
			value = max(score.Floor, value-score.Step)
		}
		sample = model.Sample{Time: aligned, Value: value}
		s.logger.Warn().Err(err).Str("basket", name).Int("value", value).
			Msg("quote fetch failed, emitting degraded sample")
	} else {
		current := make(map[string]decimal.Decimal, len(quotes))
		var volume float64
		for id, q := range quotes {
			current[id] = q.Price
			volume += q.Volume24h
		}
		up, down := score.Tally(s.prev[name], current)
		sample = model.Sample{Time: aligned, Value: score.Next(prevScore, up, down), Volume: volume}
		s.logger.Debug().Str("basket", name).Int("up", up).Int("down", down).
			Int("value", sample.Value).Msg("cycle scored")
	}

	sr.Append(sample)
	sr.Evict(aligned)
}

func (s *Service) checkAlerts(ctx context.Context, bucket time.Time) {
	if s.notifier == nil || !s.cfg.Alerting.Enabled {
		return
	}
	for _, name := range s.store.Baskets() {
		value := s.store.Get(name).Latest()

		var zone string
		switch {
		case value <= s.cfg.Alerting.FearThreshold:
			zone = "extreme_fear"
		case value >= s.cfg.Alerting.GreedThreshold:
			zone = "extreme_greed"
		default:
			continue
		}

		if last, ok := s.lastAlert[name]; ok && bucket.Sub(last) < s.cfg.Alerting.Cooldown {
			continue
		}
		s.lastAlert[name] = bucket

		note := alerting.Notification{Basket: name, Bucket: bucket, Score: value, Zone: zone}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("basket", name).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) broadcast() {
	if s.hub == nil {
		return
	}
	s.hub.Publish(s.State())
}

// State assembles the combined payload from atomic snapshots of every window
// plus the leaderboard's top entries.
func (s *Service) State() model.CombinedState {
	return model.CombinedState{
		Chart1:      s.store.Get("basket1").Snapshot(),
		Chart2:      s.store.Get("basket2").Snapshot(),
		Leaderboard: s.board.TopK(s.cfg.Leaderboard.TopK),
	}
}

// StateJSON renders the combined state; the hub uses it as the first frame
// for every new subscriber.
func (s *Service) StateJSON() ([]byte, error) {
	return json.Marshal(s.State())
}

// SubmitClicks validates and records a leaderboard submission, then pushes
// an immediate update to all subscribers.
func (s *Service) SubmitClicks(userID string, clicks int64) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("userId is required")
	}
	if clicks < 0 {
		return errors.New("clicks must not be negative")
	}

	s.board.Upsert(userID, clicks)
	s.broadcast()
	return nil
}

// Leaderboard returns the current top entries.
func (s *Service) Leaderboard() []model.LeaderboardEntry {
	return s.board.TopK(s.cfg.Leaderboard.TopK)
}

// PersistAll snapshots every basket to durable storage. Write failures are
// logged and skipped; persistence is best-effort by design.
func (s *Service) PersistAll(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	for _, name := range s.store.Baskets() {
		if err := s.snapshots.SaveSeries(ctx, name, s.store.Get(name).Snapshot()); err != nil {
			s.logger.Error().Err(err).Str("basket", name).Msg("snapshot save failed")
			continue
		}
		s.logger.Info().Str("basket", name).Msg("snapshot saved")
	}
}

// Backfill rebuilds one basket's window from historical range data, applying
// the same vote rule over fixed steps. Assets whose history cannot be
// fetched contribute no votes; prices vote when they fall within half a step
// of the target timestamp. Votes are taken once per step, where the upstream
// actually has data, but the walk is emitted at the sampling interval so the
// rebuilt window holds a full complement of samples and restores on the next
// start instead of being rejected as undersized.
func (s *Service) Backfill(ctx context.Context, ranges fetcher.RangeFetcher, basket string, now time.Time, step time.Duration) error {
	ids, ok := s.cfg.BasketMap()[basket]
	if !ok {
		return fmt.Errorf("unknown basket %q", basket)
	}
	sr := s.store.Get(basket)

	stepSec := int64(step / time.Second)
	if stepSec <= 0 {
		return errors.New("backfill step must be positive")
	}
	if stepSec%s.interval != 0 {
		return fmt.Errorf("backfill step must be a multiple of the %ds sampling interval", s.interval)
	}

	end := score.AlignTime(now.Unix(), stepSec)
	start := end - s.horizon

	histories := make(map[string][]model.RangePoint, len(ids))
	for _, id := range ids {
		points, err := ranges.FetchRange(ctx, id, start, end)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("history fetch failed, skipping asset")
			continue
		}
		histories[id] = points
	}

	count := int(s.horizon / s.interval)
	samples := make([]model.Sample, 0, count)
	prevPrices := make(map[string]decimal.Decimal, len(ids))
	value := score.Neutral

	for i := 0; i < count; i++ {
		ts := start + int64(i)*s.interval
		if (ts-start)%stepSec == 0 {
			var up, down int
			for _, id := range ids {
				price, ok := priceNear(histories[id], ts, stepSec/2)
				if !ok {
					continue
				}
				if last, seen := prevPrices[id]; seen {
					switch price.Cmp(last) {
					case 1:
						up++
					case -1:
						down++
					}
				}
				prevPrices[id] = price
			}
			value = score.Next(value, up, down)
		}
		samples = append(samples, model.Sample{Time: ts, Value: value})
	}

	sr.Reset(samples)
	s.logger.Info().Str("basket", basket).Int("samples", len(samples)).Msg("series backfilled")
	return nil
}

// priceNear finds a price within tolerance seconds of ts.
func priceNear(points []model.RangePoint, ts, tolerance int64) (decimal.Decimal, bool) {
	for _, p := range points {
		if p.Time >= ts-tolerance && p.Time <= ts+tolerance {
			return p.Price, true
		}
	}
	return decimal.Decimal{}, false
}
