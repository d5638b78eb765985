package models

// HealthState 健康探测的三态结果
type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthUnhealthy   HealthState = "unhealthy"
	HealthUnreachable HealthState = "unreachable"
)

// HealthResponse 健康检查响应结构
// @Description 健康检查API响应数据结构
type HealthResponse struct {
	Status           string       `json:"status" example:"healthy" description:"健康状态"`
	Service          string       `json:"service" example:"KVM Manager Service" description:"服务名称"`
	Version          string       `json:"version" example:"1.0.0" description:"服务版本"`
	GoVersion        string       `json:"go_version" example:"go1.24.5" description:"运行时版本"`
	StartTime        string       `json:"startTime" example:"2024-01-01T10:00:00Z" description:"启动时间"`
	Uptime           string       `json:"uptime" example:"1h30m45s" description:"运行时长"`
	SerialPortsCount int          `json:"serial_ports_count" example:"1" description:"可用串口数量"`
	Backend          ServiceState `json:"backend" example:"ready" description:"后端进程状态"`
	Metrics          Metrics      `json:"metrics" description:"关键指标"`
}

// Metrics 关键指标结构
// @Description 系统关键指标数据结构
type Metrics struct {
	TotalRequests   int64 `json:"totalRequests" example:"1000" description:"总请求数"`
	ErrorRequests   int64 `json:"errorRequests" example:"5" description:"出错请求数"`
	TotalSwitches   int64 `json:"totalSwitches" example:"42" description:"切换次数"`
	FailedSwitches  int64 `json:"failedSwitches" example:"1" description:"失败的切换次数"`
	BackendRestarts int64 `json:"backendRestarts" example:"0" description:"后端重启次数"`
}

// StatusResponse 后端进程状态
type StatusResponse struct {
	ProcessState ServiceState  `json:"process_state"`
	HealthState  HealthState   `json:"health_state"`
	Process      ProcessDetail `json:"process"`
}
