package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/env"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/utils"

	"golang.org/x/time/rate"
)

const (
	// 探测模式下检查就绪的间隔
	readinessPollInterval = 250 * time.Millisecond
	// 进程退出后等待输出管道关闭的最长时间
	outputWaitDelay = 2 * time.Second
	// 单行输出的最大长度，超过后强制换行
	maxLineLength = 64 * 1024
)

// StateChangeFunc 状态变化回调，在锁外调用
type StateChangeFunc func(from, to models.ServiceState)

type stateChange struct {
	from, to models.ServiceState
}

/**
 * Supervisor owns the backend process and its ServiceState
 * @property {config.BackendConfig} cfg - Command, readiness and restart policy
 * @property {models.ServiceState} state - Only changed through setStateLocked
 * @property {bool} desired - Whether the process should be running
 * @property {uint64} gen - Incremented on every spawn, stale watchers compare against it
 * @description
 * - All fields are guarded by mutex
 * - changed is closed and replaced on every transition, WaitReady blocks on it
 */
type Supervisor struct {
	cfg     config.BackendConfig
	health  *HealthMonitor
	limiter *rate.Limiter

	mutex          sync.Mutex
	state          models.ServiceState
	desired        bool
	gen            uint64
	process        *os.Process
	exited         chan struct{}
	changed        chan struct{}
	restartCount   int
	startTime      time.Time
	readyTime      time.Time
	lastExitTime   time.Time
	lastExitCode   int
	lastExitReason string
	limitWarned    bool

	listeners []StateChangeFunc
	pending   []stateChange
}

/**
 * Create a supervisor in state NotStarted
 * @param {config.BackendConfig} cfg - Backend configuration
 * @param {*HealthMonitor} health - Probe used by probe readiness and the sweep, may be nil
 */
func NewSupervisor(cfg config.BackendConfig, health *HealthMonitor) *Supervisor {
	limit := rate.Inf
	if cfg.MinRestartInterval > 0 {
		limit = rate.Every(cfg.MinRestartInterval)
	}
	if cfg.Name == "" {
		cfg.Name = utils.Path2ProcessName(cfg.Command)
	}
	if health == nil {
		health = NewHealthMonitor()
	}
	return &Supervisor{
		cfg:     cfg,
		health:  health,
		limiter: rate.NewLimiter(limit, 1),
		state:   models.StateNotStarted,
		changed: make(chan struct{}),
	}
}

func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// OnStateChange registers fn for every later transition
func (s *Supervisor) OnStateChange(fn StateChangeFunc) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.listeners = append(s.listeners, fn)
}

// unlock releases the mutex and then notifies listeners of queued transitions
func (s *Supervisor) unlock() {
	pending := s.pending
	s.pending = nil
	listeners := s.listeners
	s.mutex.Unlock()

	for _, ch := range pending {
		for _, fn := range listeners {
			fn(ch.from, ch.to)
		}
	}
}

func (s *Supervisor) setStateLocked(to models.ServiceState) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if to == models.StateReady {
		s.readyTime = time.Now()
	}
	close(s.changed)
	s.changed = make(chan struct{})
	s.pending = append(s.pending, stateChange{from: from, to: to})
	logger.Infof("Backend '%s' state: %s -> %s", s.cfg.Name, from, to)
}

func (s *Supervisor) State() models.ServiceState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Supervisor) Detail() models.ProcessDetail {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	pid := 0
	if s.process != nil {
		pid = s.process.Pid
	}
	return models.ProcessDetail{
		Title:           s.cfg.Name,
		Command:         s.cfg.Command,
		Args:            s.cfg.Args,
		WorkDir:         s.cfg.WorkDir,
		MaxRestartCount: s.cfg.MaxRestartCount,
		AutoRestart:     s.cfg.AutoRestart,
		Pid:             pid,
		State:           s.state,
		RestartCount:    s.restartCount,
		StartTime:       s.startTime,
		ReadyTime:       s.readyTime,
		LastExitTime:    s.lastExitTime,
		LastExitCode:    s.lastExitCode,
		LastExitReason:  s.lastExitReason,
	}
}

/**
 * Start the backend on operator request
 * @param {context.Context} ctx - Only checked before spawning, the process outlives it
 * @returns {error} Spawn failure, the state is then Crashed and the sweep retries
 * @description
 * - No-op while a process is already Starting/Ready/Unhealthy
 * - Not throttled, a start from Crashed still counts as a restart
 */
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.unlock()

	if s.state.Running() {
		return nil
	}
	if s.state == models.StateCrashed {
		s.restartCount++
	}
	s.desired = true
	s.limitWarned = false
	return s.spawnLocked()
}

/**
 * Start the backend on behalf of a request that needs it
 * @param {context.Context} ctx - Only checked before spawning
 * @returns {error} ServiceUnavailable when a restart is denied, or the spawn failure
 * @description
 * - NotStarted spawns right away
 * - Crashed respawns only within max_restart_count and min_restart_interval,
 *   the same budget the sweep uses
 */
func (s *Supervisor) EnsureStarted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.unlock()

	switch {
	case s.state.Running():
		return nil
	case s.state == models.StateCrashed:
		if err := s.allowRestartLocked(); err != nil {
			return err
		}
		s.restartCount++
		logger.Infof("Restarting backend '%s' on demand (restart: %d/%d)", s.cfg.Name, s.restartCount, s.cfg.MaxRestartCount)
	}
	s.desired = true
	return s.spawnLocked()
}

// allowRestartLocked 检查重启次数上限和最小重启间隔，通过时消耗一次重启配额
func (s *Supervisor) allowRestartLocked() error {
	if s.cfg.MaxRestartCount > 0 && s.restartCount >= s.cfg.MaxRestartCount {
		if !s.limitWarned {
			logger.Warnf("Backend '%s' has reached maximum restart count (%d), not restarting",
				s.cfg.Name, s.cfg.MaxRestartCount)
			s.limitWarned = true
		}
		return models.NewKindError(models.KindServiceUnavailable, nil,
			"backend reached maximum restart count (%d)", s.cfg.MaxRestartCount)
	}
	if !s.limiter.Allow() {
		logger.Debugf("Backend '%s' restart throttled", s.cfg.Name)
		return models.NewKindError(models.KindServiceUnavailable, nil,
			"backend restart throttled, at most one restart every %s", s.cfg.MinRestartInterval)
	}
	return nil
}

func (s *Supervisor) spawnLocked() error {
	vars := map[string]string{
		"WorkDir":   s.cfg.WorkDir,
		"KeeperDir": env.KeeperDir,
	}
	command, args, err := utils.GetCommandLine(s.cfg.Command, s.cfg.Args, vars)
	if err != nil {
		s.lastExitReason = fmt.Sprintf("invalid command line: %v", err)
		s.setStateLocked(models.StateCrashed)
		return err
	}

	s.gen++
	gen := s.gen

	stdout := newLineWriter(func(line string) { s.onOutput(gen, line, false) })
	stderr := newLineWriter(func(line string) { s.onOutput(gen, line, true) })

	cmd := exec.Command(command, args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = outputWaitDelay
	utils.SetNewPG(cmd)

	logger.Infof("Executing command: %s %s (dir: %s)", command, strings.Join(args, " "), s.cfg.WorkDir)
	if err := cmd.Start(); err != nil {
		s.process = nil
		s.lastExitTime = time.Now()
		s.lastExitCode = -1
		s.lastExitReason = fmt.Sprintf("start failed: %v", err)
		logger.Errorf("Failed to start backend '%s': %v", s.cfg.Name, err)
		s.setStateLocked(models.StateCrashed)
		return err
	}

	exited := make(chan struct{})
	s.process = cmd.Process
	s.exited = exited
	s.startTime = time.Now()
	s.readyTime = time.Time{}
	logger.Infof("Backend '%s' started (PID: %d)", s.cfg.Name, cmd.Process.Pid)

	if s.cfg.ReadinessMode != config.ReadinessProbe && s.cfg.ReadinessMarker == "" {
		// 没有就绪标记时，启动即就绪
		s.setStateLocked(models.StateReady)
	} else {
		s.setStateLocked(models.StateStarting)
	}

	go s.watchProcess(gen, cmd, exited, stdout, stderr)
	if s.cfg.ReadinessMode == config.ReadinessProbe {
		go s.pollReadiness(gen, exited)
	}
	return nil
}

// onOutput 转发子进程输出到日志，并检查就绪标记
func (s *Supervisor) onOutput(gen uint64, line string, isStderr bool) {
	if isStderr {
		logger.Errorf("[%s] %s", s.cfg.Name, line)
	} else {
		logger.Infof("[%s] %s", s.cfg.Name, line)
	}

	if s.cfg.ReadinessMode == config.ReadinessProbe || s.cfg.ReadinessMarker == "" {
		return
	}
	if !strings.Contains(line, s.cfg.ReadinessMarker) {
		return
	}
	s.mutex.Lock()
	defer s.unlock()
	if gen == s.gen && s.state == models.StateStarting {
		s.setStateLocked(models.StateReady)
	}
}

// pollReadiness 探测模式下轮询健康地址，直到就绪或进程退出
func (s *Supervisor) pollReadiness(gen uint64, exited chan struct{}) {
	ticker := time.NewTicker(readinessPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-exited:
			return
		case <-ticker.C:
		}
		if s.State() != models.StateStarting {
			return
		}
		if s.health.Probe(context.Background(), s.cfg.HealthURL, s.cfg.HealthTimeout) != models.HealthHealthy {
			continue
		}
		s.mutex.Lock()
		if gen == s.gen && s.state == models.StateStarting {
			s.setStateLocked(models.StateReady)
		}
		s.unlock()
		return
	}
}

/**
 * watchProcess 等待进程退出
 * @description
 * - Any exit moves the state to Crashed, unless the exit was requested by Stop
 * - A watcher of an older generation only closes its exited channel
 */
func (s *Supervisor) watchProcess(gen uint64, cmd *exec.Cmd, exited chan struct{}, outputs ...*lineWriter) {
	err := cmd.Wait()
	for _, w := range outputs {
		w.Flush()
	}

	s.mutex.Lock()
	defer s.unlock()
	close(exited)

	if gen != s.gen {
		return
	}
	s.process = nil
	s.lastExitTime = time.Now()
	s.lastExitCode = -1
	if cmd.ProcessState != nil {
		s.lastExitCode = cmd.ProcessState.ExitCode()
	}

	if !s.desired {
		s.lastExitReason = "stopped by user"
		logger.Infof("Backend '%s' stopped by user", s.cfg.Name)
		return
	}
	if err != nil {
		s.lastExitReason = fmt.Sprintf("exited with error: %v", err)
		logger.Errorf("Backend '%s' exited with error: %v", s.cfg.Name, err)
	} else {
		s.lastExitReason = "exited normally"
		logger.Warnf("Backend '%s' exited normally", s.cfg.Name)
	}
	s.setStateLocked(models.StateCrashed)
}

/**
 * Stop the backend
 * @param {context.Context} ctx - Cancelling skips the rest of the grace period
 * @returns {error} Returns error if the process could not be signalled
 * @description
 * - SIGTERM to the process group, SIGKILL after stop_grace
 * - Ends in NotStarted, the sweep will not restart it
 */
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mutex.Lock()
	s.desired = false
	proc := s.process
	exited := s.exited
	if proc == nil {
		s.setStateLocked(models.StateNotStarted)
		s.unlock()
		return nil
	}
	s.unlock()

	logger.Infof("Stopping backend '%s' (PID: %d)", s.cfg.Name, proc.Pid)
	var stopErr error
	if err := utils.StopProcess(proc, false); err != nil {
		logger.Warnf("Failed to terminate backend '%s' gracefully: %v", s.cfg.Name, err)
	}

	grace := time.NewTimer(s.cfg.StopGrace)
	defer grace.Stop()
	select {
	case <-exited:
	case <-grace.C:
		logger.Warnf("Backend '%s' did not exit within %s, killing it", s.cfg.Name, s.cfg.StopGrace)
		stopErr = utils.StopProcess(proc, true)
		<-exited
	case <-ctx.Done():
		stopErr = utils.StopProcess(proc, true)
		<-exited
	}

	s.mutex.Lock()
	defer s.unlock()
	if !s.desired {
		s.setStateLocked(models.StateNotStarted)
	}
	logger.Infof("Backend '%s' stopped", s.cfg.Name)
	return stopErr
}

// Restart stops the backend and starts it again
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		logger.Warnf("Stop backend '%s' before restart: %v", s.cfg.Name, err)
	}
	return s.Start(ctx)
}

/**
 * Wait until the backend is Ready
 * @param {context.Context} ctx - Bounds the wait
 * @returns {error} ctx error on timeout, ServiceUnavailable when the backend is not running
 */
func (s *Supervisor) WaitReady(ctx context.Context) error {
	for {
		s.mutex.Lock()
		state := s.state
		changed := s.changed
		s.mutex.Unlock()

		switch state {
		case models.StateReady:
			return nil
		case models.StateNotStarted, models.StateCrashed:
			return models.NewKindError(models.KindServiceUnavailable, nil, "backend is %s", state)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

/**
 * Run the liveness sweep until ctx is cancelled
 * @description
 * - Checks the PID of a running process is alive
 * - Respawns a Crashed process when it should be running and auto restart is on
 * - Probes the health URL of a Ready/Unhealthy process
 */
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context) {
	s.mutex.Lock()

	if s.state.Running() && s.process != nil {
		if running, _ := utils.IsProcessRunning(s.process.Pid); !running {
			logger.Warnf("Backend '%s' (PID: %d) isn't running", s.cfg.Name, s.process.Pid)
			// 让旧的watcher失效
			s.gen++
			s.process = nil
			s.lastExitTime = time.Now()
			s.lastExitReason = "process disappeared"
			s.setStateLocked(models.StateCrashed)
		}
	}

	if s.state == models.StateCrashed && s.desired {
		s.restartLocked()
	}

	state := s.state
	gen := s.gen
	s.unlock()

	if s.cfg.HealthURL == "" || (state != models.StateReady && state != models.StateUnhealthy) {
		return
	}
	health := s.health.Probe(ctx, s.cfg.HealthURL, s.cfg.HealthTimeout)

	s.mutex.Lock()
	defer s.unlock()
	if gen != s.gen {
		return
	}
	switch {
	case s.state == models.StateReady && health != models.HealthHealthy:
		s.setStateLocked(models.StateUnhealthy)
	case s.state == models.StateUnhealthy && health == models.HealthHealthy:
		s.setStateLocked(models.StateReady)
	}
}

func (s *Supervisor) restartLocked() {
	if !s.cfg.AutoRestart {
		return
	}
	if s.allowRestartLocked() != nil {
		return
	}
	s.restartCount++
	logger.Infof("Restarting backend '%s' (restart: %d/%d)", s.cfg.Name, s.restartCount, s.cfg.MaxRestartCount)
	s.spawnLocked()
}

/**
 * lineWriter splits a byte stream into lines
 * @description
 * - \r\n and \n both end a line, lines longer than maxLineLength are split
 */
type lineWriter struct {
	mutex sync.Mutex
	buf   []byte
	emit  func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(w.buf[:i]), "\r")
		w.buf = w.buf[i+1:]
		w.emit(line)
	}
	if len(w.buf) > maxLineLength {
		w.emit(string(w.buf))
		w.buf = nil
	}
	return len(p), nil
}

// Flush emits a trailing line without newline
func (w *lineWriter) Flush() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if len(w.buf) > 0 {
		w.emit(strings.TrimRight(string(w.buf), "\r"))
		w.buf = nil
	}
}
