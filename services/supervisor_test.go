//go:build !windows

package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sweepInterval = 100 * time.Millisecond

func shellBackend(script string) config.BackendConfig {
	return config.BackendConfig{
		Enabled:            true,
		Name:               "test-backend",
		Command:            "/bin/sh",
		Args:               []string{"-c", script},
		ReadinessMarker:    "Uvicorn running on",
		ReadinessMode:      config.ReadinessMarker,
		HealthTimeout:      500 * time.Millisecond,
		StartGrace:         2 * time.Second,
		StopGrace:          2 * time.Second,
		SweepInterval:      sweepInterval,
		AutoRestart:        true,
		MinRestartInterval: 0,
	}
}

func runSweep(t *testing.T, s *Supervisor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop(context.Background())
	})
}

func TestSupervisorInitialState(t *testing.T) {
	s := NewSupervisor(shellBackend("true"), nil)
	assert.Equal(t, models.StateNotStarted, s.State())
	assert.Equal(t, 0, s.Detail().Pid)
}

func TestSupervisorStaysStartingWithoutMarker(t *testing.T) {
	s := NewSupervisor(shellBackend("echo booting; echo still booting >&2; sleep 30"), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Equal(t, models.StateStarting, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := s.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StateStarting, s.State())
}

func TestSupervisorMarkerMakesReady(t *testing.T) {
	s := NewSupervisor(shellBackend("sleep 0.1; echo 'INFO:     Uvicorn running on http://0.0.0.0:8081'; sleep 30"), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))
	assert.Equal(t, models.StateReady, s.State())
	assert.False(t, s.Detail().ReadyTime.IsZero())
}

func TestSupervisorMarkerOnStderr(t *testing.T) {
	s := NewSupervisor(shellBackend("echo 'INFO: Uvicorn running on http://127.0.0.1:8081' >&2; sleep 30"), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.WaitReady(ctx))
}

func TestSupervisorEmptyMarkerIsReadyImmediately(t *testing.T) {
	cfg := shellBackend("sleep 30")
	cfg.ReadinessMarker = ""
	s := NewSupervisor(cfg, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Equal(t, models.StateReady, s.State())
}

func TestSupervisorStartIsIdempotent(t *testing.T) {
	s := NewSupervisor(shellBackend("sleep 30"), nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	pid := s.Detail().Pid

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, pid, s.Detail().Pid)
}

func TestSupervisorStopEndsNotStarted(t *testing.T) {
	s := NewSupervisor(shellBackend("echo Uvicorn running on; sleep 30"), nil)
	runSweep(t, s)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, models.StateNotStarted, s.State())
	assert.Equal(t, "stopped by user", s.Detail().LastExitReason)

	// the sweep must not bring it back
	time.Sleep(3 * sweepInterval)
	assert.Equal(t, models.StateNotStarted, s.State())
}

func TestSupervisorStopKillsAfterGrace(t *testing.T) {
	cfg := shellBackend("trap '' TERM; echo Uvicorn running on; sleep 30")
	cfg.StopGrace = 200 * time.Millisecond
	s := NewSupervisor(cfg, nil)
	require.NoError(t, s.Start(context.Background()))

	start := time.Now()
	s.Stop(context.Background())
	assert.Equal(t, models.StateNotStarted, s.State())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSupervisorKillCrashesThenRestarts(t *testing.T) {
	s := NewSupervisor(shellBackend("echo Uvicorn running on; exec sleep 30"), nil)

	var mu sync.Mutex
	var transitions []models.ServiceState
	s.OnStateChange(func(from, to models.ServiceState) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	runSweep(t, s)
	require.NoError(t, s.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.WaitReady(ctx))

	pid := s.Detail().Pid
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, st := range transitions {
			if st == models.StateCrashed {
				return true
			}
		}
		return false
	}, 2*sweepInterval, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		st := s.State()
		return st == models.StateStarting || st == models.StateReady
	}, 3*sweepInterval, 10*time.Millisecond)

	detail := s.Detail()
	assert.Equal(t, 1, detail.RestartCount)
	assert.NotEqual(t, pid, detail.Pid)
	assert.NotEmpty(t, detail.LastExitReason)
}

func TestSupervisorNoAutoRestart(t *testing.T) {
	cfg := shellBackend("exit 3")
	cfg.AutoRestart = false
	s := NewSupervisor(cfg, nil)
	runSweep(t, s)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return s.State() == models.StateCrashed }, time.Second, 10*time.Millisecond)
	time.Sleep(3 * sweepInterval)
	assert.Equal(t, models.StateCrashed, s.State())
	assert.Equal(t, 3, s.Detail().LastExitCode)
	assert.Equal(t, 0, s.Detail().RestartCount)
}

func TestSupervisorMaxRestartCount(t *testing.T) {
	cfg := shellBackend("exit 1")
	cfg.MaxRestartCount = 2
	s := NewSupervisor(cfg, nil)
	runSweep(t, s)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		d := s.Detail()
		return d.RestartCount == 2 && d.State == models.StateCrashed
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(3 * sweepInterval)
	assert.Equal(t, 2, s.Detail().RestartCount)
}

func TestSupervisorRestartRateLimited(t *testing.T) {
	cfg := shellBackend("exit 1")
	cfg.MinRestartInterval = time.Hour
	s := NewSupervisor(cfg, nil)
	runSweep(t, s)
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(8 * sweepInterval)
	// the first restart uses the single token, later ones are throttled
	assert.Equal(t, 1, s.Detail().RestartCount)
}

func TestSupervisorStartFailure(t *testing.T) {
	cfg := shellBackend("")
	cfg.Command = "/nonexistent/kvm-backend"
	cfg.Args = nil
	s := NewSupervisor(cfg, nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.StateCrashed, s.State())
	assert.Contains(t, s.Detail().LastExitReason, "start failed")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = s.WaitReady(ctx)
	assert.Equal(t, models.KindServiceUnavailable, models.KindOf(err))
}

func TestSupervisorProbeReadiness(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := shellBackend("sleep 30")
	cfg.ReadinessMode = config.ReadinessProbe
	cfg.HealthURL = srv.URL
	s := NewSupervisor(cfg, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())
	assert.Equal(t, models.StateStarting, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	assert.NoError(t, s.WaitReady(ctx))
}

func TestSupervisorSweepTracksHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := shellBackend("sleep 30")
	cfg.ReadinessMarker = ""
	cfg.HealthURL = srv.URL
	s := NewSupervisor(cfg, nil)
	runSweep(t, s)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, models.StateReady, s.State())

	healthy.Store(false)
	assert.Eventually(t, func() bool { return s.State() == models.StateUnhealthy }, time.Second, 10*time.Millisecond)

	healthy.Store(true)
	assert.Eventually(t, func() bool { return s.State() == models.StateReady }, time.Second, 10*time.Millisecond)
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := newLineWriter(func(l string) { lines = append(lines, l) })

	w.Write([]byte("first\r\nsec"))
	w.Write([]byte("ond\nthird"))
	assert.Equal(t, []string{"first", "second"}, lines)

	w.Flush()
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func countSpawns(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "x")
}

func TestSupervisorEnsureStartedHonoursRestartBudget(t *testing.T) {
	cfg := shellBackend("exit 1")
	cfg.MaxRestartCount = 1
	s := NewSupervisor(cfg, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })

	require.NoError(t, s.EnsureStarted(context.Background()))
	assert.Eventually(t, func() bool { return s.State() == models.StateCrashed }, time.Second, 10*time.Millisecond)

	require.NoError(t, s.EnsureStarted(context.Background()))
	assert.Eventually(t, func() bool { return s.State() == models.StateCrashed }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.Detail().RestartCount)

	err := s.EnsureStarted(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.KindServiceUnavailable, models.KindOf(err))
	assert.Equal(t, models.StateCrashed, s.State())
	assert.Equal(t, 1, s.Detail().RestartCount)

	// an operator start is not throttled but still counted
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 2, s.Detail().RestartCount)
}

func TestGatewayCrashLoopIsThrottled(t *testing.T) {
	spawns := filepath.Join(t.TempDir(), "spawns")
	cfg := shellBackend("echo x >> " + spawns + "; exit 1")
	cfg.MinRestartInterval = time.Hour
	s := NewSupervisor(cfg, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })

	f := newGatewayFixture(t, s)
	for i := 0; i < 20; i++ {
		result, err := f.gateway.HandleSwitch(context.Background(), "", 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrServiceUnavailable))
		assert.Equal(t, models.KindServiceUnavailable, result.Error)
		time.Sleep(20 * time.Millisecond)
	}
	assert.Eventually(t, func() bool { return s.State() == models.StateCrashed }, time.Second, 10*time.Millisecond)

	// first start plus the one restart the limiter allows
	assert.Equal(t, 2, countSpawns(t, spawns))
	assert.Equal(t, 1, s.Detail().RestartCount)
	assert.Equal(t, 0, f.Opens())

	start := time.Now()
	_, err := f.gateway.HandleSwitch(context.Background(), "", 3)
	require.Error(t, err)
	assert.Contains(t, models.MessageOf(err), "throttled")
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
