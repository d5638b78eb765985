package backend

import (
	"fmt"

	"github.com/flowy2k/kvm-manager-v2/cmd/root"
	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/rpc"

	"github.com/spf13/cobra"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Backend process operations (start/stop/restart)",
	Long:  "Control the backend process supervised by the running kvm-keeper server",
}

func newControlCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return control(config.Get(), verb)
		},
	}
}

func control(cfg *config.AppConfig, verb string) error {
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig(cfg))
	defer client.Close()

	resp, err := client.Post("/backend/"+verb, nil)
	if err != nil {
		return fmt.Errorf("kvm-keeper server not reachable: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("%s backend failed [%s]: %s", verb, resp.Code, resp.Error)
	}
	var status models.StatusResponse
	if err := resp.Decode(&status); err != nil {
		return err
	}
	fmt.Printf("Backend '%s' is %s (PID %d)\n", status.Process.Title, status.ProcessState, status.Process.Pid)
	return nil
}

func init() {
	root.RootCmd.AddCommand(backendCmd)

	backendCmd.AddCommand(newControlCmd("start", "启动后端进程"))
	backendCmd.AddCommand(newControlCmd("stop", "停止后端进程"))
	backendCmd.AddCommand(newControlCmd("restart", "重启后端进程"))
}
