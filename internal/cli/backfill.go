package cli

import (
	"time"

	"github.com/spf13/cobra"

	"fear-greed-watch/internal/app"
)

var (
	backfillBasket string
	backfillStep   time.Duration
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild a basket window from historical market data",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			Basket: backfillBasket,
			Step:   backfillStep,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillBasket, "basket", "basket1", "Basket to backfill")
	backfillCmd.Flags().DurationVar(&backfillStep, "step", 5*time.Minute, "Spacing between historical samples")
}
