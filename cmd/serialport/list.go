package serialport

import (
	"fmt"
	"os"

	"github.com/flowy2k/kvm-manager-v2/internal/serial"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var listAll bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "列出可用串口",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serial.List(listAll)
		if err != nil {
			return fmt.Errorf("enumerate serial ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		def := serial.DefaultDevice(ports)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Device", "Description", "Default"})
		for _, p := range ports {
			mark := ""
			if p.Device == def {
				mark = "*"
			}
			t.AppendRow(table.Row{p.Device, p.Description, mark})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

func init() {
	serialCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include ports that do not look like USB serial adapters")
}
