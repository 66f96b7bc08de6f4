package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fear-greed-watch/internal/model"
)

// Export renders a basket's persisted series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, savedAt, err := store.LoadSeries(ctx, opts.Basket)
	if err != nil {
		return fmt.Errorf("load series for %s: %w", opts.Basket, err)
	}
	if len(samples) == 0 {
		a.Logger.Info().Str("basket", opts.Basket).Msg("no samples found for export")
		return nil
	}

	a.Logger.Info().Str("basket", opts.Basket).Int("samples", len(samples)).
		Time("saved_at", savedAt).Msg("exporting series")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, samples); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, opts.Basket, samples); err != nil {
			return err
		}
	}

	return nil
}

func writeSamplesCSV(path string, samples []model.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"time", "value", "volume"}); err != nil {
		return err
	}

	for _, sample := range samples {
		record := []string{
			strconv.FormatInt(sample.Time, 10),
			strconv.Itoa(sample.Value),
			strconv.FormatFloat(sample.Volume, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSamplesPNG(path, basket string, samples []model.Sample) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	values := make([]float64, len(samples))
	for i, sample := range samples {
		x[i] = time.Unix(sample.Time, 0).UTC()
		values[i] = float64(sample.Value)
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:  "Sentiment",
			Range: &chart.ContinuousRange{Min: 0, Max: 100},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    basket,
				XValues: x,
				YValues: values,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
