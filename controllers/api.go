package controllers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/env"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIController struct {
	gateway *services.Gateway
	cfg     *config.AppConfig
}

/**
 * Create new API controller instance
 * @param {*services.Gateway} gateway - Operation surface shared with the CLI
 * @param {*config.AppConfig} cfg - Application configuration
 * @returns {*APIController} New API controller instance
 */
func NewAPIController(gateway *services.Gateway, cfg *config.AppConfig) *APIController {
	return &APIController{
		gateway: gateway,
		cfg:     cfg,
	}
}

/**
 * Register all API routes to Gin engine
 * @param {*gin.Engine} r - Gin router instance
 * @description
 * - Switching and discovery routes keep the paths the web UI already uses
 * - /metrics is only registered when metrics.enabled is true
 */
func (a *APIController) RegisterRoutes(r *gin.Engine) {
	r.GET("/", a.Root)
	r.GET("/health", a.Health)
	r.GET("/healthz", a.Health)
	r.GET("/status", a.Status)
	r.GET("/ports", a.Ports)
	r.GET("/serial_ports", a.SerialPorts)
	r.GET("/switch", a.Switch)
	r.GET("/test_serial", a.TestSerial)
	r.GET("/test_serial/:device", a.TestSerial)

	backend := r.Group("/backend")
	backend.POST("/start", a.StartBackend)
	backend.POST("/stop", a.StopBackend)
	backend.POST("/restart", a.RestartBackend)

	if a.cfg.Metrics.Enabled {
		r.GET(a.cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}
}

// @Summary 服务信息
// @Tags System
// @Produce json
// @Router / [get]
func (a *APIController) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "KVM Manager Service",
		"version":     env.Version,
		"description": "REST API for controlling KVM switches via serial port",
		"model":       a.gateway.Switcher().Model().Name(),
		"endpoints": gin.H{
			"health":       "/health",
			"status":       "/status",
			"serial_ports": "/serial_ports",
			"ports":        "/ports",
			"switch":       "/switch?serial_port={device}&port={1-" + strconv.Itoa(a.gateway.Switcher().MaxPorts()) + "}",
			"test_serial":  "/test_serial?serial_port={device}",
		},
	})
}

// @Summary 业务就绪探针
// @Description 返回服务版本、启动时间、串口数量、后端状态和关键指标统计结果
// @Tags System
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Router /healthz [get]
func (a *APIController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.Health())
}

// @Summary 后端进程状态
// @Tags Backend
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /status [get]
func (a *APIController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.HandleStatus())
}

// @Summary KVM端口列表
// @Tags KVM
// @Produce json
// @Success 200 {object} models.PortsResponse
// @Router /ports [get]
func (a *APIController) Ports(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.Ports())
}

// @Summary 可用串口列表
// @Tags Serial
// @Produce json
// @Description 枚举失败时返回空列表
// @Success 200 {object} models.SerialPortsResponse
// @Router /serial_ports [get]
func (a *APIController) SerialPorts(c *gin.Context) {
	c.JSON(http.StatusOK, a.gateway.SerialPorts())
}

// @Summary 切换KVM端口
// @Description 失败的切换也返回200，由success和code字段区分；端口非法返回400，后端未就绪返回503
// @Tags KVM
// @Produce json
// @Param serial_port query string false "串口设备路径"
// @Param port query int true "目标端口"
// @Success 200 {object} models.SwitchResponse
// @Failure 400 {object} models.SwitchResponse
// @Failure 503 {object} models.SwitchResponse
// @Router /switch [get]
func (a *APIController) Switch(c *gin.Context) {
	port, err := strconv.Atoi(c.Query("port"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Code:  models.KindInvalidPort.Code(),
			Error: "port must be an integer",
		})
		return
	}

	result, err := a.gateway.HandleSwitch(c.Request.Context(), c.Query("serial_port"), port)
	resp := result.ToResponse()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, resp)
	case errors.Is(err, models.ErrInvalidPort):
		c.JSON(http.StatusBadRequest, resp)
	case errors.Is(err, models.ErrServiceUnavailable):
		c.Header("Retry-After", strconv.Itoa(a.retryAfter()))
		c.JSON(http.StatusServiceUnavailable, resp)
	default:
		c.JSON(http.StatusInternalServerError, resp)
	}
}

// retryAfter 建议的重试秒数，取后端启动宽限期
func (a *APIController) retryAfter() int {
	secs := int(math.Ceil(a.cfg.Backend.StartGrace.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// @Summary 测试串口连接
// @Tags Serial
// @Produce json
// @Param serial_port query string false "串口设备路径"
// @Param send_test query bool false "同时切换到kvm.test_port"
// @Success 200 {object} models.SerialTestResponse
// @Router /test_serial [get]
func (a *APIController) TestSerial(c *gin.Context) {
	device := c.Param("device")
	if device == "" {
		device = c.Query("serial_port")
	} else if !filepath.IsAbs(device) {
		device = filepath.Join("/dev", device)
	}
	sendTest, _ := strconv.ParseBool(c.Query("send_test"))
	c.JSON(http.StatusOK, a.gateway.TestSerial(c.Request.Context(), device, sendTest))
}

// @Summary 启动后端进程
// @Tags Backend
// @Success 200 {object} models.StatusResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /backend/start [post]
func (a *APIController) StartBackend(c *gin.Context) {
	a.controlBackend(c, "start", services.Backend.Start)
}

// @Summary 停止后端进程
// @Tags Backend
// @Router /backend/stop [post]
func (a *APIController) StopBackend(c *gin.Context) {
	a.controlBackend(c, "stop", services.Backend.Stop)
}

// @Summary 重启后端进程
// @Tags Backend
// @Router /backend/restart [post]
func (a *APIController) RestartBackend(c *gin.Context) {
	a.controlBackend(c, "restart", services.Backend.Restart)
}

func (a *APIController) controlBackend(c *gin.Context, verb string, op func(services.Backend, context.Context) error) {
	backend := a.gateway.Backend()
	if backend == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Code:  "backend.disabled",
			Error: "no backend process is configured",
		})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), a.cfg.Backend.StopGrace+5*time.Second)
	defer cancel()
	if err := op(backend, ctx); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Code:  "backend." + verb + "_failed",
			Error: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, a.gateway.HandleStatus())
}
