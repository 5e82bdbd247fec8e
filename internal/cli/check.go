package cli

import (
	"github.com/spf13/cobra"

	"pricewatcher/internal/app"
)

var (
	checkProductID int64
	checkURL       string
	checkPersist   bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the extraction chain once against a product or URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Check(cmd.Context(), app.CheckOptions{
			ProductID: checkProductID,
			URL:       checkURL,
			Persist:   checkPersist,
		})
	},
}

func init() {
	checkCmd.Flags().Int64Var(&checkProductID, "product", 0, "Registered product id to check")
	checkCmd.Flags().StringVar(&checkURL, "url", "", "Ad-hoc URL to check instead of a product")
	checkCmd.Flags().BoolVar(&checkPersist, "persist", false, "Record the observation (product checks only)")
}
