package models

import "time"

// SwitchResult 一次切换尝试的结果，构造后不再修改
type SwitchResult struct {
	Success  bool
	Port     int
	Command  string
	Response string
	Error    ErrorKind
	Message  string
	Elapsed  time.Duration
}

// SwitchResponse 切换接口的响应
type SwitchResponse struct {
	Success   bool   `json:"success"`
	Port      int    `json:"port"`
	Command   string `json:"command"`
	Response  string `json:"response"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func (r SwitchResult) ToResponse() SwitchResponse {
	return SwitchResponse{
		Success:   r.Success,
		Port:      r.Port,
		Command:   r.Command,
		Response:  r.Response,
		Code:      r.Error.Code(),
		Error:     r.Message,
		ElapsedMs: r.Elapsed.Milliseconds(),
	}
}

// SerialPortInfo 一个可用的串口设备
type SerialPortInfo struct {
	Device      string `json:"device"`
	Description string `json:"description"`
}

type SerialPortsResponse struct {
	SerialPorts []SerialPortInfo `json:"serial_ports"`
	DefaultPort string           `json:"default_port,omitempty"`
}

// PortsResponse KVM端口、命令和显示名称
type PortsResponse struct {
	Model          string            `json:"model"`
	AvailablePorts []int             `json:"available_ports"`
	Commands       map[string]string `json:"commands"`
	PortNames      map[string]string `json:"port_names"`
}

type SerialTestResponse struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message,omitempty"`
	Error    string          `json:"error,omitempty"`
	PortInfo *SerialPortMode `json:"port_info,omitempty"`
}

type SerialPortMode struct {
	Name     string `json:"name"`
	BaudRate int    `json:"baudrate"`
	Timeout  string `json:"timeout"`
}
