package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/env"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

/**
 * Server configuration parameters
 * @property {string} address - TCP listening address (e.g. "0.0.0.0:8080")
 * @property {string} socket - Optional unix socket path for local CLI access
 * @property {string} mode - gin mode (debug/release/test)
 */
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Socket  string `mapstructure:"socket"`
	Mode    string `mapstructure:"mode"`
}

/**
 * Logging configuration
 * @property {string} level - Log level (debug/info/warn/error)
 * @property {string} path - Log file path, "console" for stdout only
 * @property {int} max_size - Rotate the log file after this many megabytes
 */
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Path    string `mapstructure:"path"`
	MaxSize int    `mapstructure:"max_size"`
}

// SerialConfig 串口参数，MLEEDA KVM1001A 使用 115200 8N1
type SerialConfig struct {
	Device       string        `mapstructure:"device"`
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	Parity       string        `mapstructure:"parity"`
	StopBits     string        `mapstructure:"stop_bits"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	ReadResponse bool          `mapstructure:"read_response"`
}

// KVMConfig 切换器型号和端口配置
type KVMConfig struct {
	Model       string            `mapstructure:"model"`
	MaxPorts    int               `mapstructure:"max_ports"`
	SettleDelay time.Duration     `mapstructure:"settle_delay"`
	TestPort    int               `mapstructure:"test_port"`
	PortNames   map[string]string `mapstructure:"port_names"`
}

// PortName returns the display name of a port, "Server N" when none is configured.
func (k *KVMConfig) PortName(port int) string {
	if name, ok := k.PortNames[strconv.Itoa(port)]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("Server %d", port)
}

/**
 * Supervised backend process configuration
 * @property {string} command - Runtime to execute (e.g. "python3")
 * @property {[]string} args - Arguments, usually the entrypoint script
 * @property {string} work_dir - Working directory, the backend project root
 * @property {string} readiness_marker - Substring in the output that means "listening"
 * @property {string} readiness_mode - "marker" (scan output) or "probe" (poll health_url)
 * @property {string} health_url - Liveness endpoint, http(s):// or tcp://
 */
type BackendConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	Name               string        `mapstructure:"name"`
	Command            string        `mapstructure:"command"`
	Args               []string      `mapstructure:"args"`
	WorkDir            string        `mapstructure:"work_dir"`
	ReadinessMarker    string        `mapstructure:"readiness_marker"`
	ReadinessMode      string        `mapstructure:"readiness_mode"`
	HealthURL          string        `mapstructure:"health_url"`
	HealthTimeout      time.Duration `mapstructure:"health_timeout"`
	StartGrace         time.Duration `mapstructure:"start_grace"`
	StopGrace          time.Duration `mapstructure:"stop_grace"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	AutoStart          bool          `mapstructure:"auto_start"`
	AutoRestart        bool          `mapstructure:"auto_restart"`
	MaxRestartCount    int           `mapstructure:"max_restart_count"`
	MinRestartInterval time.Duration `mapstructure:"min_restart_interval"`
}

const (
	ReadinessMarker = "marker"
	ReadinessProbe  = "probe"
)

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// EventsConfig NATS事件发布，url为空表示不发布
type EventsConfig struct {
	URL           string `mapstructure:"url"`
	Subject       string `mapstructure:"subject"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Serial  SerialConfig  `mapstructure:"serial"`
	KVM     KVMConfig     `mapstructure:"kvm"`
	Backend BackendConfig `mapstructure:"backend"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Events  EventsConfig  `mapstructure:"events"`
}

var (
	Config AppConfig
	lock   sync.RWMutex
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", "0.0.0.0:8080")
	v.SetDefault("server.socket", "")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", filepath.Join(env.KeeperDir, "logs", "kvm-keeper.log"))
	v.SetDefault("log.max_size", 50)

	v.SetDefault("serial.device", "/dev/ttyUSB0")
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.stop_bits", "1")
	v.SetDefault("serial.read_timeout", 100*time.Millisecond)
	v.SetDefault("serial.write_timeout", time.Second)
	v.SetDefault("serial.read_response", true)

	v.SetDefault("kvm.model", "mleeda-kvm1001a")
	v.SetDefault("kvm.max_ports", 10)
	v.SetDefault("kvm.settle_delay", 500*time.Millisecond)
	v.SetDefault("kvm.test_port", 1)
	v.SetDefault("kvm.port_names", map[string]string{})

	v.SetDefault("backend.enabled", true)
	v.SetDefault("backend.name", "kvm-mgr-service")
	v.SetDefault("backend.command", "python3")
	v.SetDefault("backend.args", []string{"main.py"})
	v.SetDefault("backend.work_dir", "kvm-mgr-service")
	v.SetDefault("backend.readiness_marker", "Uvicorn running on")
	v.SetDefault("backend.readiness_mode", ReadinessMarker)
	v.SetDefault("backend.health_url", "http://127.0.0.1:8081/health")
	v.SetDefault("backend.health_timeout", 2*time.Second)
	v.SetDefault("backend.start_grace", 3*time.Second)
	v.SetDefault("backend.stop_grace", 5*time.Second)
	v.SetDefault("backend.sweep_interval", 5*time.Second)
	v.SetDefault("backend.auto_start", true)
	v.SetDefault("backend.auto_restart", true)
	v.SetDefault("backend.max_restart_count", 0)
	v.SetDefault("backend.min_restart_interval", 2*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("events.url", "")
	v.SetDefault("events.subject", "kvm.events")
	v.SetDefault("events.max_reconnects", 10)
}

// bindEnv 绑定历史遗留的环境变量名，其他key使用 KVM_<SECTION>_<KEY>
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("KVM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("serial.device", "KVM_SERIAL_DEVICE", "KVM_SERIAL_PORT")
	v.BindEnv("serial.baud_rate", "KVM_SERIAL_BAUD_RATE", "KVM_BAUD_RATE")
	v.BindEnv("kvm.max_ports", "KVM_KVM_MAX_PORTS", "KVM_MAX_PORTS")
	v.BindEnv("backend.auto_restart", "KVM_BACKEND_AUTO_RESTART", "KVM_AUTO_RESTART")
}

// loadDotEnv 加载.env文件，已经存在的环境变量不会被覆盖
func loadDotEnv(cfgPath string) {
	candidates := []string{".env"}
	if cfgPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(cfgPath), ".env"))
	}
	for _, fname := range candidates {
		if _, err := os.Stat(fname); err != nil {
			continue
		}
		// gotenv.Load never overrides variables that are already set
		gotenv.Load(fname)
	}
}

/**
 * Load application configuration
 * @param {string} path - Explicit config file, "" searches ./kvm-keeper.yaml and the keeper dir
 * @returns {*AppConfig} Loaded and validated configuration
 * @returns {error} Error when the file is unreadable or a value is invalid
 * @description
 * - Precedence: environment > config file > defaults
 * - A missing config file is not an error unless it was given explicitly
 * - KVM_PORT_<n>_NAME overrides kvm.port_names
 */
func Load(path string) (*AppConfig, error) {
	loadDotEnv(path)

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("kvm-keeper")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(env.KeeperDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.loadPortNames()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *AppConfig) loadPortNames() {
	if c.KVM.PortNames == nil {
		c.KVM.PortNames = make(map[string]string)
	}
	for port := 1; port <= c.KVM.MaxPorts; port++ {
		if name := os.Getenv(fmt.Sprintf("KVM_PORT_%d_NAME", port)); name != "" {
			c.KVM.PortNames[strconv.Itoa(port)] = name
		}
	}
}

// Init 加载配置并保存为全局配置
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	lock.Lock()
	Config = *cfg
	lock.Unlock()
	return nil
}

// Get 返回全局配置
func Get() *AppConfig {
	lock.RLock()
	defer lock.RUnlock()
	return &Config
}
