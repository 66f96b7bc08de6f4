package cli

import (
	"github.com/spf13/cobra"

	"fear-greed-watch/internal/app"
)

var (
	exportBasket  string
	exportPNGPath string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a persisted sentiment series as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Basket:  exportBasket,
			PNGPath: exportPNGPath,
			CSVPath: exportCSVPath,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportBasket, "basket", "basket1", "Basket to export")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
}
