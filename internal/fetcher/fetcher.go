package fetcher

import (
	"context"

	"fear-greed-watch/internal/model"
)

// QuoteFetcher retrieves current prices for a set of asset ids. The returned
// map may be missing ids the upstream could not quote; only a transport or
// API failure errors the whole call.
type QuoteFetcher interface {
	FetchCurrent(ctx context.Context, ids []string) (map[string]model.Quote, error)
}

// RangeFetcher retrieves a historical price series for one asset id.
type RangeFetcher interface {
	FetchRange(ctx context.Context, id string, from, to int64) ([]model.RangePoint, error)
}
