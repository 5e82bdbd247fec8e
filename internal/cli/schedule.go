package cli

import (
	"github.com/spf13/cobra"

	"pricewatcher/internal/schedule"
)

var (
	scheduleFrequency string
	scheduleDay       int
	scheduleHour      int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the digest schedule and the next send slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ShowSchedule(cmd.Context())
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the digest schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SetSchedule(cmd.Context(), schedule.Settings{
			Frequency: schedule.Frequency(scheduleFrequency),
			DayOfWeek: scheduleDay,
			Hour:      scheduleHour,
		})
	},
}

func init() {
	scheduleSetCmd.Flags().StringVar(&scheduleFrequency, "frequency", "daily", "Digest frequency: daily or weekly")
	scheduleSetCmd.Flags().IntVar(&scheduleDay, "day", 1, "ISO weekday for weekly digests, 1=Monday..7=Sunday")
	scheduleSetCmd.Flags().IntVar(&scheduleHour, "hour", 9, "Send hour of day, 0..23 UTC")

	scheduleCmd.AddCommand(scheduleSetCmd)
}
