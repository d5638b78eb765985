package services

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"
	"github.com/flowy2k/kvm-manager-v2/internal/utils"
)

/**
 * HealthMonitor probes liveness endpoints
 * @description
 * - Probe never returns an error, every failure maps to a HealthState
 * - The last result per URL is kept for status queries
 */
type HealthMonitor struct {
	client *http.Client
	mutex  sync.RWMutex
	last   map[string]models.HealthState
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		client: &http.Client{
			// 探测不跟随重定向，3xx按不健康处理
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		last: make(map[string]models.HealthState),
	}
}

/**
 * Probe a liveness endpoint
 * @param {context.Context} ctx - Caller context, cancellation counts as unreachable
 * @param {string} target - http(s):// URL or tcp://host:port
 * @param {time.Duration} timeout - Upper bound for the whole probe
 * @returns {models.HealthState} Healthy, Unhealthy or Unreachable
 * @description
 * - http: 2xx is Healthy, any other status Unhealthy, transport errors Unreachable
 * - tcp: a successful dial is Healthy, anything else Unreachable
 */
func (h *HealthMonitor) Probe(ctx context.Context, target string, timeout time.Duration) models.HealthState {
	state := h.probe(ctx, target, timeout)

	h.mutex.Lock()
	prev, seen := h.last[target]
	h.last[target] = state
	h.mutex.Unlock()

	if !seen || prev != state {
		logger.Infof("Health of %s: %s", target, state)
	}
	return state
}

func (h *HealthMonitor) probe(ctx context.Context, target string, timeout time.Duration) models.HealthState {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(target)
	if err != nil {
		logger.Warnf("Invalid health URL '%s': %v", target, err)
		return models.HealthUnreachable
	}

	switch u.Scheme {
	case "tcp":
		if err := utils.CheckAddrConnectable(ctx, u.Host, timeout); err != nil {
			logger.Debugf("Health probe %s failed: %v", target, err)
			return models.HealthUnreachable
		}
		return models.HealthHealthy
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return models.HealthUnreachable
		}
		resp, err := h.client.Do(req)
		if err != nil {
			logger.Debugf("Health probe %s failed: %v", target, err)
			return models.HealthUnreachable
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return models.HealthHealthy
		}
		logger.Debugf("Health probe %s returned %d", target, resp.StatusCode)
		return models.HealthUnhealthy
	default:
		logger.Warnf("Unsupported health URL scheme '%s' in %s", u.Scheme, target)
		return models.HealthUnreachable
	}
}

// Last returns the latest probe result of target, Unreachable if never probed
func (h *HealthMonitor) Last(target string) (models.HealthState, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	state, ok := h.last[target]
	if !ok {
		return models.HealthUnreachable, false
	}
	return state, true
}
