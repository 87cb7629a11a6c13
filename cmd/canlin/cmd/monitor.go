package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canlin/canlin"
	"github.com/canlin/canlin/node"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [interface]",
	Short: "Print every frame seen on the bus until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ifname string
		if len(args) > 0 {
			ifname = args[0]
		}
		interval, err := cmd.Flags().GetDuration(flagInterval)
		if err != nil {
			return err
		}
		return node.Run(cmd.Context(), node.Config{
			Interface:    ifname,
			PollInterval: interval,
		}, node.Handlers{
			Message: func(_ *node.Node, f canlin.Frame) {
				fmt.Println(f.ColorString())
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
