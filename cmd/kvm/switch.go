package kvm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/flowy2k/kvm-manager-v2/cmd/root"
	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/rpc"
	"github.com/flowy2k/kvm-manager-v2/services"

	"github.com/spf13/cobra"
)

var (
	serialDevice string
	localOnly    bool
)

var switchCmd = &cobra.Command{
	Use:   "switch <port>",
	Short: "切换KVM到指定端口",
	Long: `Ask the running kvm-keeper server to switch the KVM. When no server answers,
or with --local, the serial command is sent directly from this process.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid port '%s': must be a number", args[0])
		}
		return runSwitch(cmd.Context(), config.Get(), port)
	},
}

/**
 * Switch through the server, falling back to a local switch
 * @param {context.Context} ctx - Bounds the local switch
 * @param {*config.AppConfig} cfg - Application configuration
 * @param {int} port - Target port
 * @returns {error} Non-nil when the switch did not succeed
 */
func runSwitch(ctx context.Context, cfg *config.AppConfig, port int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !localOnly {
		resp, err := remoteSwitch(cfg, port)
		if err == nil {
			return printSwitchResponse(resp)
		}
		fmt.Printf("kvm-keeper server not reachable (%v), switching locally\n", err)
	}

	gw, err := services.NewGateway(cfg, services.GatewayOptions{})
	if err != nil {
		return err
	}
	result, err := gw.HandleSwitch(ctx, serialDevice, port)
	if err != nil {
		return err
	}
	return printSwitchResponse(result.ToResponse())
}

func remoteSwitch(cfg *config.AppConfig, port int) (models.SwitchResponse, error) {
	var resp models.SwitchResponse
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig(cfg))
	defer client.Close()

	params := map[string]interface{}{"port": port}
	if serialDevice != "" {
		params["serial_port"] = serialDevice
	}
	httpResp, err := client.Get("/switch", params)
	if err != nil {
		return resp, err
	}
	if err := httpResp.Decode(&resp); err != nil {
		return resp, fmt.Errorf("unexpected response (%d): %s", httpResp.StatusCode, httpResp.Error)
	}
	return resp, nil
}

func printSwitchResponse(resp models.SwitchResponse) error {
	if !resp.Success {
		return fmt.Errorf("switch to port %d failed [%s]: %s", resp.Port, resp.Code, resp.Error)
	}
	fmt.Printf("Switched to port %d (command %s, %dms)\n", resp.Port, resp.Command, resp.ElapsedMs)
	if resp.Response != "" {
		fmt.Printf("Response: %s\n", resp.Response)
	}
	return nil
}

func init() {
	root.RootCmd.AddCommand(switchCmd)

	switchCmd.Flags().StringVarP(&serialDevice, "serial", "s", "", "serial device (default serial.device)")
	switchCmd.Flags().BoolVar(&localOnly, "local", false, "switch directly without asking the server")
	switchCmd.Example = `  kvm-keeper switch 3
  kvm-keeper switch 10 --serial /dev/ttyUSB1 --local`
}
