package models

import "time"

// ServiceState 后端进程的生命周期状态，只有Supervisor可以修改
type ServiceState string

const (
	// 尚未启动，或者被用户停止
	StateNotStarted ServiceState = "not_started"
	// 进程已经拉起，还没有看到就绪标记
	StateStarting ServiceState = "starting"
	// 已经就绪，可以处理请求
	StateReady ServiceState = "ready"
	// 进程还在，但健康检查失败
	StateUnhealthy ServiceState = "unhealthy"
	// 进程已经退出(不区分正常退出和崩溃)，等待巡检流程重启
	StateCrashed ServiceState = "crashed"
)

// Running reports whether a process is expected to be alive in this state.
func (s ServiceState) Running() bool {
	return s == StateStarting || s == StateReady || s == StateUnhealthy
}

type ProcessDetail struct {
	Title           string       `json:"title"`           //显示用的名字
	Command         string       `json:"command"`         //进程启动命令
	Args            []string     `json:"args"`            //进程参数
	WorkDir         string       `json:"workDir"`         //工作目录
	MaxRestartCount int          `json:"maxRestartCount"` //最大重启次数, 0表示不限制
	AutoRestart     bool         `json:"autoRestart"`     //是否自动重启
	Pid             int          `json:"pid"`             //进程PID
	State           ServiceState `json:"state"`           //状态
	RestartCount    int          `json:"restartCount"`    //重启次数
	StartTime       time.Time    `json:"startTime"`       //启动时间
	ReadyTime       time.Time    `json:"readyTime"`       //进入ready状态的时间
	LastExitTime    time.Time    `json:"lastExitTime"`    //最后一次退出的时间
	LastExitCode    int          `json:"lastExitCode"`    //最后一次退出码
	LastExitReason  string       `json:"lastExitReason"`  //最后一次退出的原因
}
