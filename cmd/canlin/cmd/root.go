package cmd

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "canlin",
	Short: "CAN bus node tooling for Linux",
	Long: `Work with SocketCAN network interfaces from the command line.

The default interface is the first one found on the system, or "vcan0"
if none are found. Command 'ip addr | grep "can"' lists all available
SocketCAN network interfaces.

Press ESC or CTRL+C to exit the monitor.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

const flagInterval = "interval"

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	pf := rootCmd.PersistentFlags()
	pf.DurationP(flagInterval, "i", 500*time.Microsecond, "receive poll interval")
}
