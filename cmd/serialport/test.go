package serialport

import (
	"context"
	"fmt"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/services"

	"github.com/spf13/cobra"
)

var sendTest bool

var testCmd = &cobra.Command{
	Use:   "test [device]",
	Short: "测试串口连接",
	Long:  "Open the device with the configured line settings; --send also switches to kvm.test_port",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Get()
		device := ""
		if len(args) > 0 {
			device = args[0]
		}
		gw, err := services.NewGateway(cfg, services.GatewayOptions{})
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		resp := gw.TestSerial(ctx, device, sendTest)
		if !resp.Success {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Println(resp.Message)
		fmt.Printf("  baudrate: %d, read timeout: %s\n", resp.PortInfo.BaudRate, resp.PortInfo.Timeout)
		if sendTest {
			fmt.Printf("  test switch to port %d sent\n", cfg.KVM.TestPort)
		}
		return nil
	},
}

func init() {
	serialCmd.AddCommand(testCmd)

	testCmd.Flags().BoolVar(&sendTest, "send", false, "send a switch command to kvm.test_port")
}
