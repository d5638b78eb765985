package kvm

import (
	"os"
	"strconv"

	"github.com/flowy2k/kvm-manager-v2/cmd/root"
	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/services"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "列出KVM端口、名称和切换命令",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := services.NewGateway(config.Get(), services.GatewayOptions{})
		if err != nil {
			return err
		}
		ports := gw.Ports()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle("KVM model: " + ports.Model)
		t.AppendHeader(table.Row{"Port", "Name", "Command"})
		for _, port := range ports.AvailablePorts {
			key := strconv.Itoa(port)
			t.AppendRow(table.Row{port, ports.PortNames[key], ports.Commands[key]})
		}
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	},
}

func init() {
	root.RootCmd.AddCommand(portsCmd)
}
