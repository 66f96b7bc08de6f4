package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fear-greed-watch/internal/service"
)

// Backfill rebuilds one basket's rolling window from upstream historical
// data and persists the result, replacing whatever snapshot was stored.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Step <= 0 {
		opts.Step = 5 * time.Minute
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot backfill")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newQuoteClient()
	svc := service.New(a.Config, client, store, nil, a.Logger)

	if err := svc.Backfill(ctx, client, opts.Basket, time.Now().UTC(), opts.Step); err != nil {
		return fmt.Errorf("backfill %s: %w", opts.Basket, err)
	}

	samples := svc.Store().Get(opts.Basket).Snapshot()
	if err := store.SaveSeries(ctx, opts.Basket, samples); err != nil {
		return fmt.Errorf("persist backfilled series: %w", err)
	}

	a.Logger.Info().Str("basket", opts.Basket).Int("samples", len(samples)).Msg("backfill complete")
	return nil
}
