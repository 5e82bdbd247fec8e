package cli

import (
	"github.com/spf13/cobra"

	"pricewatcher/internal/app"
)

var (
	showProductID int64
	showLimit     int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show a product's recent observations and trend",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{
			ProductID: showProductID,
			Limit:     showLimit,
		})
	},
}

func init() {
	showCmd.Flags().Int64Var(&showProductID, "product", 0, "Product id to show (required)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of recent observations to print")
	_ = showCmd.MarkFlagRequired("product")
}
