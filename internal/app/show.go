package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints the tail of a basket's persisted series.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, savedAt, err := store.LoadSeries(ctx, opts.Basket)
	if err != nil {
		return fmt.Errorf("load series for %s: %w", opts.Basket, err)
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
		return nil
	}

	if opts.Limit > 0 && len(samples) > opts.Limit {
		samples = samples[len(samples)-opts.Limit:]
	}

	fmt.Fprintf(os.Stdout, "basket %s, snapshot saved %s\n", opts.Basket, savedAt.UTC().Format(time.RFC3339))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tValue\tVolume")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%.0f\n",
			time.Unix(sample.Time, 0).UTC().Format(time.RFC3339),
			sample.Value,
			sample.Volume,
		)
	}

	return writer.Flush()
}
