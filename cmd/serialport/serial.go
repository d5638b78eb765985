package serialport

import (
	"github.com/flowy2k/kvm-manager-v2/cmd/root"

	"github.com/spf13/cobra"
)

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Serial port operations (list/test)",
}

const serialExample = `  # list USB serial adapters
  kvm-keeper serial list
  # open a device and send a test switch
  kvm-keeper serial test /dev/ttyUSB0 --send`

func init() {
	root.RootCmd.AddCommand(serialCmd)

	serialCmd.Example = serialExample
}
