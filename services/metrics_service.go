package services

import (
	"sync/atomic"

	"github.com/flowy2k/kvm-manager-v2/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvm_keeper_request_total",
			Help: "Total HTTP requests",
		},
		[]string{"path"},
	)

	requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvm_keeper_request_errors_total",
			Help: "HTTP requests answered with status >= 400",
		},
		[]string{"path"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvm_keeper_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	switchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvm_keeper_switch_total",
			Help: "Switch attempts by result",
		},
		[]string{"result"},
	)

	switchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kvm_keeper_switch_duration_seconds",
			Help:    "Duration of switch attempts including the settle delay",
			Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 2, 5},
		},
	)

	backendRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kvm_keeper_backend_restarts_total",
			Help: "Automatic restarts of the backend process",
		},
	)

	backendState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvm_keeper_backend_state",
			Help: "1 for the current state of the backend process, 0 otherwise",
		},
		[]string{"state"},
	)
)

// 本地计数器，健康检查接口使用
var (
	totalRequests   atomic.Int64
	errorRequests   atomic.Int64
	totalSwitches   atomic.Int64
	failedSwitches  atomic.Int64
	restartsCounter atomic.Int64
)

var allStates = []models.ServiceState{
	models.StateNotStarted,
	models.StateStarting,
	models.StateReady,
	models.StateUnhealthy,
	models.StateCrashed,
}

func init() {
	prometheus.MustRegister(requestCount)
	prometheus.MustRegister(requestErrors)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(switchCount)
	prometheus.MustRegister(switchDuration)
	prometheus.MustRegister(backendRestarts)
	prometheus.MustRegister(backendState)
	setBackendStateGauge(models.StateNotStarted)
}

func IncrementRequestCount(path string) {
	requestCount.WithLabelValues(path).Inc()
	totalRequests.Add(1)
}

func IncrementErrorCount(path string) {
	requestErrors.WithLabelValues(path).Inc()
	errorRequests.Add(1)
}

func RecordRequestDuration(path string, seconds float64) {
	requestDuration.WithLabelValues(path).Observe(seconds)
}

// RecordSwitch 记录一次切换结果，result为"success"或错误类型
func RecordSwitch(result models.SwitchResult) {
	label := "success"
	if !result.Success {
		label = string(result.Error)
		failedSwitches.Add(1)
	}
	switchCount.WithLabelValues(label).Inc()
	switchDuration.Observe(result.Elapsed.Seconds())
	totalSwitches.Add(1)
}

// ObserveBackendState 作为Supervisor的状态回调，更新状态和重启指标
func ObserveBackendState(from, to models.ServiceState) {
	setBackendStateGauge(to)
	if from == models.StateCrashed && to == models.StateStarting {
		backendRestarts.Inc()
		restartsCounter.Add(1)
	}
}

func setBackendStateGauge(current models.ServiceState) {
	for _, st := range allStates {
		v := 0.0
		if st == current {
			v = 1
		}
		backendState.WithLabelValues(string(st)).Set(v)
	}
}

// GetMetrics 返回健康检查使用的关键指标
func GetMetrics() models.Metrics {
	return models.Metrics{
		TotalRequests:   totalRequests.Load(),
		ErrorRequests:   errorRequests.Load(),
		TotalSwitches:   totalSwitches.Load(),
		FailedSwitches:  failedSwitches.Load(),
		BackendRestarts: restartsCounter.Load(),
	}
}
