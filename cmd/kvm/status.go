package kvm

import (
	"fmt"
	"os"
	"time"

	"github.com/flowy2k/kvm-manager-v2/cmd/root"
	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/rpc"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看后端进程状态",
	Long:  "Query /status of the running kvm-keeper server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := fetchStatus(config.Get())
		if err != nil {
			return err
		}
		printStatus(status)
		return nil
	},
}

func fetchStatus(cfg *config.AppConfig) (models.StatusResponse, error) {
	var status models.StatusResponse
	client := rpc.NewHTTPClient(rpc.DefaultHTTPConfig(cfg))
	defer client.Close()

	resp, err := client.Get("/status", nil)
	if err != nil {
		return status, fmt.Errorf("kvm-keeper server not reachable: %w", err)
	}
	if resp.Error != "" {
		return status, fmt.Errorf("status request failed: %s", resp.Error)
	}
	if err := resp.Decode(&status); err != nil {
		return status, err
	}
	return status, nil
}

// printStatus 以表格形式输出后端状态
func printStatus(status models.StatusResponse) {
	p := status.Process
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendRows([]table.Row{
		{"Backend", p.Title},
		{"State", status.ProcessState},
		{"Health", status.HealthState},
		{"PID", p.Pid},
		{"Command", fmt.Sprintf("%s %v", p.Command, p.Args)},
		{"Started", formatTime(p.StartTime)},
		{"Ready", formatTime(p.ReadyTime)},
		{"Restarts", p.RestartCount},
	})
	if !p.LastExitTime.IsZero() {
		t.AppendRow(table.Row{"Last exit", fmt.Sprintf("%s, code %d (%s)", formatTime(p.LastExitTime), p.LastExitCode, p.LastExitReason)})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func init() {
	root.RootCmd.AddCommand(statusCmd)
}
