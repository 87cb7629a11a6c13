package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/canlin/canlin"
)

var sendCmd = &cobra.Command{
	Use:   "send <interface> <id>#<hexdata>",
	Short: "Transmit a single frame",
	Long: `Transmit one frame on the given interface. The frame is written in
cansend notation: a hex identifier, '#', and the payload as hex bytes.
Identifiers longer than 3 hex digits use extended (29-bit) addressing.

  canlin send vcan0 123#DEADBEEF
  canlin send vcan0 00003f1#00ff`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := parseFrame(args[1])
		if err != nil {
			return err
		}
		bus := canlin.New(canlin.OnTransmit(func(f canlin.Frame) {
			fmt.Println(f.String())
		}))
		if err := bus.Connect(args[0]); err != nil {
			return err
		}
		defer bus.Close()
		return bus.Send(f)
	},
}

// parseFrame decodes cansend notation: "<id>#<hexdata>", with more than 3
// identifier digits meaning extended addressing.
func parseFrame(s string) (canlin.Frame, error) {
	idPart, dataPart, found := strings.Cut(s, "#")
	if !found {
		return canlin.Frame{}, fmt.Errorf("missing '#' in frame %q", s)
	}
	id, err := strconv.ParseUint(idPart, 16, 32)
	if err != nil {
		return canlin.Frame{}, fmt.Errorf("bad identifier in frame %q: %w", s, err)
	}
	data, err := hex.DecodeString(dataPart)
	if err != nil {
		return canlin.Frame{}, fmt.Errorf("bad data in frame %q: %w", s, err)
	}
	if len(data) > canlin.MaxDataLen {
		return canlin.Frame{}, fmt.Errorf("frame %q carries more than %d data bytes", s, canlin.MaxDataLen)
	}
	if len(idPart) > 3 {
		if id > canlin.MaxExtendedID {
			return canlin.Frame{}, fmt.Errorf("identifier %#x out of 29-bit range", id)
		}
		return canlin.NewExtendedFrame(uint32(id), data), nil
	}
	if id > canlin.MaxStandardID {
		return canlin.Frame{}, fmt.Errorf("identifier %#x out of 11-bit range", id)
	}
	return canlin.NewFrame(uint32(id), data), nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
