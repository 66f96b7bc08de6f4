// Package series holds the bounded rolling sentiment windows, one per basket.
package series

import (
	"math/rand"
	"sync"

	"github.com/edwingeng/deque/v2"

	"fear-greed-watch/internal/model"
	"fear-greed-watch/internal/score"
)

// Series is an append-only, time-bounded sequence of samples for one basket.
// A single writer appends; readers take copies through Snapshot.
type Series struct {
	mu      sync.RWMutex
	samples *deque.Deque[model.Sample]
	horizon int64
}

// New creates an empty series retaining samples no older than horizon seconds
// behind the newest append.
func New(horizon int64) *Series {
	return &Series{
		samples: deque.NewDeque[model.Sample](),
		horizon: horizon,
	}
}

// Append adds a sample at the end of the window. Out-of-order or duplicate
// timestamps are accepted as-is; the sampling cycle is the only writer and
// already aligns timestamps.
func (s *Series) Append(sample model.Sample) {
	s.mu.Lock()
	s.samples.PushBack(sample)
	s.mu.Unlock()
}

// Evict drops every sample older than the retention horizon relative to now.
func (s *Series) Evict(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		front, ok := s.samples.Front()
		if !ok || front.Time >= now-s.horizon {
			return
		}
		s.samples.PopFront()
	}
}

// Snapshot returns a copy of the current window, oldest first.
func (s *Series) Snapshot() []model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Sample, 0, s.samples.Len())
	s.samples.Range(func(_ int, sample model.Sample) bool {
		out = append(out, sample)
		return true
	})
	return out
}

// Latest returns the newest sample's value, or the neutral baseline when the
// window is empty.
func (s *Series) Latest() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	back, ok := s.samples.Back()
	if !ok {
		return score.Neutral
	}
	return back.Value
}

// Len reports the number of retained samples.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples.Len()
}

// Reset replaces the window contents with the given samples, oldest first.
// Used when restoring a persisted snapshot.
func (s *Series) Reset(samples []model.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = deque.NewDeque[model.Sample]()
	for _, sample := range samples {
		s.samples.PushBack(sample)
	}
}

// Seed fills the window with count synthetic samples spaced period seconds
// apart and ending at now, walking ±2 from the neutral baseline. Subscribers
// see a fully populated chart immediately after a fresh start.
func (s *Series) Seed(now int64, count int, period int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = deque.NewDeque[model.Sample]()
	value := score.Neutral
	start := now - int64(count-1)*period
	for i := 0; i < count; i++ {
		if i > 0 {
			switch rand.Intn(3) {
			case 0:
				value = min(score.Cap, value+score.Step)
			case 1:
				value = max(score.Floor, value-score.Step)
			}
		}
		s.samples.PushBack(model.Sample{Time: start + int64(i)*period, Value: value})
	}
}

// Store maps basket names to their rolling windows. The set of baskets is
// fixed at construction; lookups never mutate.
type Store struct {
	series map[string]*Series
	order  []string
}

// NewStore creates one empty series per basket name.
func NewStore(baskets []string, horizon int64) *Store {
	st := &Store{series: make(map[string]*Series, len(baskets))}
	for _, name := range baskets {
		st.series[name] = New(horizon)
		st.order = append(st.order, name)
	}
	return st
}

// Get returns the series for a basket, or nil for an unknown basket.
func (st *Store) Get(basket string) *Series {
	return st.series[basket]
}

// Baskets returns the basket names in configuration order.
func (st *Store) Baskets() []string {
	return st.order
}
