package model

import (
	"github.com/shopspring/decimal"
)

// Sample is one sentiment observation for a basket. Time is unix seconds
// aligned to the sampling period; Value stays inside [0,100].
type Sample struct {
	Time   int64   `json:"time"`
	Value  int     `json:"value"`
	Volume float64 `json:"volume,omitempty"`
}

// Quote is the current market view of a single asset.
type Quote struct {
	Price     decimal.Decimal
	Volume24h float64
}

// RangePoint is one timestamped price inside a historical range response.
type RangePoint struct {
	Time  int64
	Price decimal.Decimal
}

// LeaderboardEntry is a ranked (identity, score) pair.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Clicks int64  `json:"clicks"`
}

// CombinedState is the full payload pushed to every subscriber and served by
// the state endpoint.
type CombinedState struct {
	Chart1      []Sample           `json:"basket1Series"`
	Chart2      []Sample           `json:"basket2Series"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
