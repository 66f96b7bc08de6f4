package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fear-greed-watch/internal/alerting"
	"fear-greed-watch/internal/config"
	"fear-greed-watch/internal/model"
	"fear-greed-watch/internal/score"
	"fear-greed-watch/internal/storage"
)

type stubQuotes struct {
	prices map[string]float64
	err    error
}

func (s *stubQuotes) FetchCurrent(_ context.Context, ids []string) (map[string]model.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]model.Quote, len(ids))
	for _, id := range ids {
		if p, ok := s.prices[id]; ok {
			out[id] = model.Quote{Price: decimal.NewFromFloat(p), Volume24h: 100}
		}
	}
	return out, nil
}

type stubRanges struct {
	histories map[string][]model.RangePoint
}

func (s *stubRanges) FetchRange(_ context.Context, id string, _, _ int64) ([]model.RangePoint, error) {
	points, ok := s.histories[id]
	if !ok {
		return nil, errors.New("no history")
	}
	return points, nil
}

type fakeSnapshots struct {
	data  map[string][]model.Sample
	saved map[string]int
	fail  bool
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{data: make(map[string][]model.Sample), saved: make(map[string]int)}
}

func (f *fakeSnapshots) SaveSeries(_ context.Context, basket string, samples []model.Sample) error {
	if f.fail {
		return errors.New("disk on fire")
	}
	f.data[basket] = samples
	f.saved[basket]++
	return nil
}

func (f *fakeSnapshots) LoadSeries(_ context.Context, basket string) ([]model.Sample, time.Time, error) {
	samples, ok := f.data[basket]
	if !ok {
		return nil, time.Time{}, storage.ErrNotFound
	}
	return samples, time.Now(), nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

func (c *captureNotifier) count(basket string) int {
	n := 0
	for _, note := range c.notes {
		if note.Basket == basket {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func allPrices(cfg *config.Config, value float64) map[string]float64 {
	out := make(map[string]float64)
	for _, ids := range cfg.BasketMap() {
		for _, id := range ids {
			out[id] = value
		}
	}
	return out
}

func TestFirstCycleHoldsNeutral(t *testing.T) {
	cfg := testConfig(t)
	quotes := &stubQuotes{prices: allPrices(cfg, 100)}
	svc := New(cfg, quotes, nil, nil, zerolog.Nop())

	bucket := time.Unix(1_000_045, 0)
	if err := svc.RunCycle(context.Background(), bucket); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	state := svc.State()
	if len(state.Chart1) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(state.Chart1))
	}
	// No previous prices yet, so nothing votes and the score stays neutral.
	if state.Chart1[0].Value != score.Neutral {
		t.Fatalf("expected neutral first sample, got %d", state.Chart1[0].Value)
	}
	if state.Chart1[0].Time != 1_000_020 {
		t.Fatalf("expected aligned time 1000020, got %d", state.Chart1[0].Time)
	}
}

func TestRisingPricesMoveScoreUp(t *testing.T) {
	cfg := testConfig(t)
	quotes := &stubQuotes{prices: allPrices(cfg, 100)}
	svc := New(cfg, quotes, nil, nil, zerolog.Nop())

	base := time.Unix(2_000_010, 0)
	if err := svc.RunCycle(context.Background(), base); err != nil {
		t.Fatal(err)
	}
	quotes.prices = allPrices(cfg, 110)
	if err := svc.RunCycle(context.Background(), base.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}

	state := svc.State()
	latest := state.Chart2[len(state.Chart2)-1]
	if latest.Value != score.Neutral+score.Step {
		t.Fatalf("expected %d after a rising cycle, got %d", score.Neutral+score.Step, latest.Value)
	}
	if latest.Volume == 0 {
		t.Fatal("expected aggregated volume on scored sample")
	}
}

func TestPartialAssetFailureStillVotes(t *testing.T) {
	cfg := testConfig(t)
	quotes := &stubQuotes{prices: allPrices(cfg, 100)}
	svc := New(cfg, quotes, nil, nil, zerolog.Nop())

	base := time.Unix(3_000_000, 0)
	if err := svc.RunCycle(context.Background(), base); err != nil {
		t.Fatal(err)
	}

	// One basket2 asset disappears; the rest rise and still carry the vote.
	prices := allPrices(cfg, 110)
	delete(prices, cfg.Baskets.Basket2[0])
	quotes.prices = prices

	if err := svc.RunCycle(context.Background(), base.Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}

	state := svc.State()
	latest := state.Chart2[len(state.Chart2)-1]
	if latest.Value != score.Neutral+score.Step {
		t.Fatalf("remaining assets should still vote up, got %d", latest.Value)
	}
}

func TestDegradedCycleKeepsHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	quotes := &stubQuotes{err: errors.New("rate limited")}
	svc := New(cfg, quotes, nil, nil, zerolog.Nop())

	bucket := time.Unix(4_000_020, 0)
	if err := svc.RunCycle(context.Background(), bucket); err != nil {
		t.Fatalf("degraded cycle must not error: %v", err)
	}

	state := svc.State()
	if len(state.Chart1) != 1 || len(state.Chart2) != 1 {
		t.Fatal("both baskets should emit a degraded sample")
	}
	v := state.Chart1[0].Value
	if v < score.Neutral-score.Step || v > score.Neutral+score.Step {
		t.Fatalf("degraded sample should be a ±%d nudge of neutral, got %d", score.Step, v)
	}
}

func TestScoreStaysBoundedOverManyCycles(t *testing.T) {
	cfg := testConfig(t)
	quotes := &stubQuotes{prices: allPrices(cfg, 1)}
	svc := New(cfg, quotes, nil, nil, zerolog.Nop())

	base := time.Unix(5_000_010, 0)
	for i := 0; i < 60; i++ {
		// Strictly rising prices push the score into the cap.
		quotes.prices = allPrices(cfg, float64(i+1))
		if err := svc.RunCycle(context.Background(), base.Add(time.Duration(i)*30*time.Second)); err != nil {
			t.Fatal(err)
		}
	}
	state := svc.State()
	for _, sample := range state.Chart1 {
		if sample.Value < score.Floor || sample.Value > score.Cap {
			t.Fatalf("score escaped bounds: %d", sample.Value)
		}
	}
	if latest := state.Chart1[len(state.Chart1)-1].Value; latest != score.Cap {
		t.Fatalf("expected score pinned at cap, got %d", latest)
	}
}

func TestExtremeFearAlertRespectsCooldown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Alerting.Enabled = true
	notifier := &captureNotifier{}
	quotes := &stubQuotes{prices: allPrices(cfg, 1000)}
	svc := New(cfg, quotes, nil, notifier, zerolog.Nop())

	// Twenty falling cycles walk the score from neutral down to the fear
	// threshold; nothing alerts on the way there.
	base := time.Unix(6_000_000, 0)
	for i := 0; i < 21; i++ {
		quotes.prices = allPrices(cfg, float64(1000-i))
		if err := svc.RunCycle(context.Background(), base.Add(time.Duration(i)*30*time.Second)); err != nil {
			t.Fatal(err)
		}
		if v := svc.Store().Get("basket1").Latest(); v > cfg.Alerting.FearThreshold && len(notifier.notes) != 0 {
			t.Fatalf("alert fired at score %d, above the fear threshold", v)
		}
	}

	if got := notifier.count("basket1"); got != 1 {
		t.Fatalf("expected exactly 1 alert for basket1 at the threshold, got %d", got)
	}
	if notifier.notes[0].Zone != "extreme_fear" {
		t.Fatalf("expected extreme_fear zone, got %q", notifier.notes[0].Zone)
	}

	// Still inside the cooldown: the next sub-threshold cycle stays quiet.
	quotes.prices = allPrices(cfg, 900)
	if err := svc.RunCycle(context.Background(), base.Add(21*30*time.Second)); err != nil {
		t.Fatal(err)
	}
	if got := notifier.count("basket1"); got != 1 {
		t.Fatalf("alert re-fired within cooldown: %d", got)
	}

	// Past the cooldown the still-extreme score alerts again.
	quotes.prices = allPrices(cfg, 800)
	if err := svc.RunCycle(context.Background(), base.Add(cfg.Alerting.Cooldown+31*time.Minute)); err != nil {
		t.Fatal(err)
	}
	if got := notifier.count("basket1"); got != 2 {
		t.Fatalf("expected a second alert after the cooldown, got %d", got)
	}
}

func TestRestoreSeedsWhenNoSnapshot(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, &stubQuotes{}, newFakeSnapshots(), nil, zerolog.Nop())

	svc.Restore(context.Background(), time.Now())
	state := svc.State()
	if len(state.Chart1) != cfg.WindowPoints() {
		t.Fatalf("expected full seeded window of %d, got %d", cfg.WindowPoints(), len(state.Chart1))
	}
}

func TestRestoreSeedsWhenSnapshotStale(t *testing.T) {
	cfg := testConfig(t)
	snaps := newFakeSnapshots()

	now := time.Now()
	staleEnd := now.Add(-20 * time.Hour).Unix()
	points := cfg.WindowPoints()
	stale := make([]model.Sample, points)
	for i := range stale {
		stale[i] = model.Sample{Time: staleEnd - int64(points-1-i)*30, Value: 60}
	}
	snaps.data["basket1"] = stale
	snaps.data["basket2"] = stale

	svc := New(cfg, &stubQuotes{}, snaps, nil, zerolog.Nop())
	svc.Restore(context.Background(), now)

	state := svc.State()
	if len(state.Chart1) != points {
		t.Fatalf("stale snapshot must reseed a full window, got %d", len(state.Chart1))
	}
	// Reseeded series ends at the current aligned bucket, not the stale one.
	latest := state.Chart1[len(state.Chart1)-1].Time
	if latest <= staleEnd {
		t.Fatalf("reseeded window still ends in the past: %d", latest)
	}
}

func TestRestoreSeedsWhenSnapshotUndersized(t *testing.T) {
	cfg := testConfig(t)
	snaps := newFakeSnapshots()
	nowUnix := time.Now().Unix()
	snaps.data["basket1"] = []model.Sample{{Time: nowUnix, Value: 70}}

	svc := New(cfg, &stubQuotes{}, snaps, nil, zerolog.Nop())
	svc.Restore(context.Background(), time.Now())

	state := svc.State()
	if len(state.Chart1) != cfg.WindowPoints() {
		t.Fatalf("undersized snapshot must reseed, got %d samples", len(state.Chart1))
	}
}

func TestRestoreUsesFreshSnapshot(t *testing.T) {
	cfg := testConfig(t)
	snaps := newFakeSnapshots()

	now := time.Now()
	aligned := score.AlignTime(now.Unix(), 30)
	points := cfg.WindowPoints()
	fresh := make([]model.Sample, points)
	for i := range fresh {
		fresh[i] = model.Sample{Time: aligned - int64(points-1-i)*30, Value: 73}
	}
	snaps.data["basket1"] = fresh
	snaps.data["basket2"] = fresh

	svc := New(cfg, &stubQuotes{}, snaps, nil, zerolog.Nop())
	svc.Restore(context.Background(), now)

	state := svc.State()
	if state.Chart1[len(state.Chart1)-1].Value != 73 {
		t.Fatalf("fresh snapshot should be restored verbatim, got %d", state.Chart1[len(state.Chart1)-1].Value)
	}
}

func TestPersistAllWritesEveryBasket(t *testing.T) {
	cfg := testConfig(t)
	snaps := newFakeSnapshots()
	svc := New(cfg, &stubQuotes{prices: allPrices(cfg, 100)}, snaps, nil, zerolog.Nop())

	if err := svc.RunCycle(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	svc.PersistAll(context.Background())

	for _, name := range []string{"basket1", "basket2"} {
		if snaps.saved[name] != 1 {
			t.Fatalf("basket %s not persisted", name)
		}
	}
}

func TestPersistAllSurvivesWriteFailure(t *testing.T) {
	cfg := testConfig(t)
	snaps := newFakeSnapshots()
	snaps.fail = true
	svc := New(cfg, &stubQuotes{prices: allPrices(cfg, 100)}, snaps, nil, zerolog.Nop())

	// Must not panic or propagate.
	svc.PersistAll(context.Background())
}

func TestSubmitClicksValidation(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, &stubQuotes{}, nil, nil, zerolog.Nop())

	if err := svc.SubmitClicks("", 5); err == nil {
		t.Fatal("empty userId should be rejected")
	}
	if err := svc.SubmitClicks("alice", -1); err == nil {
		t.Fatal("negative clicks should be rejected")
	}
	if err := svc.SubmitClicks("alice", 5); err != nil {
		t.Fatalf("valid submission failed: %v", err)
	}
	if err := svc.SubmitClicks("alice", 9); err != nil {
		t.Fatal(err)
	}

	board := svc.Leaderboard()
	if len(board) != 1 || board[0].Clicks != 9 {
		t.Fatalf("unexpected leaderboard: %+v", board)
	}
}

func TestBackfillBuildsFullWindow(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, &stubQuotes{}, nil, nil, zerolog.Nop())

	now := time.Unix(1_700_000_000, 0)
	step := 5 * time.Minute
	stepSec := int64(step / time.Second)
	end := now.Unix() / stepSec * stepSec
	start := end - int64(cfg.Sampler.Horizon/time.Second)

	histories := make(map[string][]model.RangePoint)
	for i, id := range cfg.Baskets.Basket1 {
		var points []model.RangePoint
		for ts := start; ts <= end; ts += stepSec {
			// Steadily rising prices, offset per asset.
			points = append(points, model.RangePoint{Time: ts, Price: decimal.NewFromInt(int64(i*1000) + ts - start)})
		}
		histories[id] = points
	}

	ranges := &stubRanges{histories: histories}
	if err := svc.Backfill(context.Background(), ranges, "basket1", now, step); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	snap := svc.Store().Get("basket1").Snapshot()
	// The walk votes per step but is emitted at interval spacing, so the
	// window holds exactly as many samples as the live sampler would.
	if len(snap) != cfg.WindowPoints() {
		t.Fatalf("expected %d samples, got %d", cfg.WindowPoints(), len(snap))
	}
	// Monotonically rising prices drive the walk to the cap eventually.
	if latest := snap[len(snap)-1].Value; latest != score.Cap {
		t.Fatalf("expected cap with rising history, got %d", latest)
	}
	intervalSec := int64(cfg.Sampler.Interval / time.Second)
	for i := 1; i < len(snap); i++ {
		if snap[i].Time != snap[i-1].Time+intervalSec {
			t.Fatalf("uneven spacing at %d", i)
		}
	}
}

func TestBackfilledSnapshotSurvivesRestore(t *testing.T) {
	cfg := testConfig(t)
	snaps := newFakeSnapshots()
	svc := New(cfg, &stubQuotes{}, snaps, nil, zerolog.Nop())

	now := time.Now()
	step := 5 * time.Minute
	stepSec := int64(step / time.Second)
	end := score.AlignTime(now.Unix(), stepSec)
	start := end - int64(cfg.Sampler.Horizon/time.Second)

	histories := make(map[string][]model.RangePoint)
	for _, id := range cfg.Baskets.Basket1 {
		var points []model.RangePoint
		for ts := start; ts <= end; ts += stepSec {
			points = append(points, model.RangePoint{Time: ts, Price: decimal.NewFromInt(ts - start)})
		}
		histories[id] = points
	}

	if err := svc.Backfill(context.Background(), &stubRanges{histories: histories}, "basket1", now, step); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if err := snaps.SaveSeries(context.Background(), "basket1", svc.Store().Get("basket1").Snapshot()); err != nil {
		t.Fatal(err)
	}

	restored := New(cfg, &stubQuotes{}, snaps, nil, zerolog.Nop())
	restored.Restore(context.Background(), now)

	snap := restored.Store().Get("basket1").Snapshot()
	if len(snap) == 0 {
		t.Fatal("backfilled snapshot missing after restore")
	}
	// A reseeded window ends at the interval-aligned bucket; the backfilled
	// walk ends one interval before the step-aligned end. Matching the latter
	// proves the snapshot was restored, not discarded and reseeded.
	intervalSec := int64(cfg.Sampler.Interval / time.Second)
	if last := snap[len(snap)-1]; last.Time != end-intervalSec || last.Value != score.Cap {
		t.Fatalf("window was reseeded instead of restored: %+v", last)
	}
}

func TestBackfillRejectsMisalignedStep(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, &stubQuotes{}, nil, nil, zerolog.Nop())
	if err := svc.Backfill(context.Background(), &stubRanges{}, "basket1", time.Now(), 45*time.Second); err == nil {
		t.Fatal("step not a multiple of the interval should error")
	}
}

func TestBackfillUnknownBasket(t *testing.T) {
	cfg := testConfig(t)
	svc := New(cfg, &stubQuotes{}, nil, nil, zerolog.Nop())
	if err := svc.Backfill(context.Background(), &stubRanges{}, "nope", time.Now(), time.Minute); err == nil {
		t.Fatal("unknown basket should error")
	}
}
