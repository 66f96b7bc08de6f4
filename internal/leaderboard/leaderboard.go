// Package leaderboard keeps a small ranked table of click submissions.
package leaderboard

import (
	"sort"
	"sync"

	"fear-greed-watch/internal/model"
)

// DefaultTopK bounds how many entries are ever exposed externally.
const DefaultTopK = 10

// Table is a mutex-guarded ranked table. Submissions arrive from independent
// requests, so every mutation and read is serialized here.
type Table struct {
	mu      sync.Mutex
	entries []model.LeaderboardEntry
	index   map[string]int
}

// New creates an empty table.
func New() *Table {
	return &Table{index: make(map[string]int)}
}

// Upsert replaces the score for an existing identity or inserts a new entry,
// then re-sorts descending by score. Equal scores keep insertion order.
func (t *Table) Upsert(userID string, clicks int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i, ok := t.index[userID]; ok {
		t.entries[i].Clicks = clicks
	} else {
		t.entries = append(t.entries, model.LeaderboardEntry{UserID: userID, Clicks: clicks})
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		return t.entries[i].Clicks > t.entries[j].Clicks
	})
	for i, e := range t.entries {
		t.index[e.UserID] = i
	}
}

// TopK returns a copy of the first k entries, or fewer if the table is
// smaller. Non-positive k yields an empty slice.
func (t *Table) TopK(k int) []model.LeaderboardEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if k < 0 {
		k = 0
	}
	if k > len(t.entries) {
		k = len(t.entries)
	}
	out := make([]model.LeaderboardEntry, k)
	copy(out, t.entries[:k])
	return out
}

// Len reports the number of tracked identities.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
