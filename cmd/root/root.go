package root

import (
	"fmt"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"

	"github.com/spf13/cobra"
)

var configFile string

var RootCmd = &cobra.Command{
	Use:   "kvm-keeper",
	Short: "KVM切换器串口网关",
	Long: `kvm-keeper drives a serial-controlled KVM switch, exposes port switching over HTTP
and keeps the kvm-mgr-service backend process alive`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(configFile); err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg := config.Get()
		// 服务器模式同时输出到控制台，命令行模式只写日志文件
		logger.InitLogger(cfg.Log.Path, cfg.Log.Level, cmd.Name() == "server", cfg.Log.MaxSize)
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./kvm-keeper.yaml or $HOME/.kvm-keeper/kvm-keeper.yaml)")
}
