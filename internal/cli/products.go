package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"pricewatcher/internal/app"
)

var (
	productAddURL      string
	productAddName     string
	productAddImageURL string
	productsActiveOnly bool
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Manage tracked products",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListProducts(cmd.Context(), productsActiveOnly)
	},
}

var productsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new product to track",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddProduct(cmd.Context(), app.AddProductOptions{
			URL:      productAddURL,
			Name:     productAddName,
			ImageURL: productAddImageURL,
		})
	},
}

var productsPauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause checks for a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetProductActive(cmd.Context(), id, false)
	},
}

var productsResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume checks for a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		return getApp().SetProductActive(cmd.Context(), id, true)
	},
}

var productsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a product and its observation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseProductID(args[0])
		if err != nil {
			return err
		}
		return getApp().RemoveProduct(cmd.Context(), id)
	},
}

func parseProductID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", arg)
	}
	return id, nil
}

func init() {
	productsCmd.Flags().BoolVar(&productsActiveOnly, "active", false, "List only active products")

	productsAddCmd.Flags().StringVar(&productAddURL, "url", "", "Product page URL (required)")
	productsAddCmd.Flags().StringVar(&productAddName, "name", "", "Display name")
	productsAddCmd.Flags().StringVar(&productAddImageURL, "image", "", "Product image URL")
	_ = productsAddCmd.MarkFlagRequired("url")

	productsCmd.AddCommand(productsAddCmd)
	productsCmd.AddCommand(productsPauseCmd)
	productsCmd.AddCommand(productsResumeCmd)
	productsCmd.AddCommand(productsRemoveCmd)
}
