package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowy2k/kvm-manager-v2/cmd/root"
	"github.com/flowy2k/kvm-manager-v2/controllers"
	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/env"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/middleware"
	"github.com/flowy2k/kvm-manager-v2/internal/utils"
	"github.com/flowy2k/kvm-manager-v2/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动HTTP服务并守护后端进程",
	RunE: func(cmd *cobra.Command, args []string) error {
		return startServer(context.Background())
	},
}

func startServer(ctx context.Context) error {
	cfg := config.Get()
	logger.Infof("kvm-keeper %s starting, model %s, default serial port %s", env.Version, cfg.KVM.Model, cfg.Serial.Device)

	if cfg.Server.Address != "" {
		if err := utils.CheckAddrListenable(cfg.Server.Address); err != nil {
			return fmt.Errorf("address %s is not available: %w", cfg.Server.Address, err)
		}
	}

	server, err := services.NewServer(cfg)
	if err != nil {
		return err
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.CORSMiddleware(), middleware.MetricsMiddleware())
	controllers.NewAPIController(server.Gateway(), cfg).RegisterRoutes(router)

	var addrs []ListenAddr
	if cfg.Server.Address != "" {
		addrs = append(addrs, ListenAddr{Network: "tcp", Address: cfg.Server.Address})
	}
	if cfg.Server.Socket != "" && IsUnixSocketSupported() {
		addrs = append(addrs, ListenAddr{Network: "unix", Address: cfg.Server.Socket})
	}
	listeners, err := CreateListeners(addrs)
	if len(listeners) == 0 {
		if err == nil {
			return errors.New("no listen address configured")
		}
		return fmt.Errorf("no listener available: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server.Start(ctx)

	httpServer := &http.Server{Handler: router}
	serveErr := make(chan error, len(listeners))
	for _, l := range listeners {
		l := l
		go func() {
			if err := httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	reason := "signal"
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-serveErr:
		reason = "listener failure"
		logger.Errorf("HTTP server failed: %v", runErr)
	}

	// 先停止后端进程，再关闭HTTP服务
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Backend.StopGrace+5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx, reason)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("HTTP server shutdown: %v", err)
	}
	if cfg.Server.Socket != "" {
		os.Remove(cfg.Server.Socket)
	}
	logger.Info("kvm-keeper stopped")
	return runErr
}

func init() {
	root.RootCmd.AddCommand(serverCmd)

	serverCmd.Example = `  kvm-keeper server
  KVM_SERIAL_PORT=/dev/ttyUSB1 kvm-keeper server --config /etc/kvm-keeper.yaml`
}
