package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/canlin/canlin/node"
)

var interfacesCmd = &cobra.Command{
	Use:   "interfaces",
	Short: "List the CAN network interfaces on this system",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devs := node.Interfaces()
		if len(devs) == 0 {
			return fmt.Errorf("no CAN interfaces found")
		}
		for _, dev := range devs {
			fmt.Println(dev)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(interfacesCmd)
}
