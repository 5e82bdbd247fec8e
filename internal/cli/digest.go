package cli

import (
	"github.com/spf13/cobra"

	"pricewatcher/internal/app"
)

var digestEnqueueOnly bool

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Trigger a digest run",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Digest(cmd.Context(), app.DigestOptions{
			EnqueueOnly: digestEnqueueOnly,
		})
	},
}

func init() {
	digestCmd.Flags().BoolVar(&digestEnqueueOnly, "enqueue-only", false, "Enqueue the digest job for a running watcher instead of processing it here")
}
