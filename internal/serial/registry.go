package serial

import (
	"context"
	"sync"

	"github.com/flowy2k/kvm-manager-v2/internal/models"
)

/**
 * Registry serializes access per device path
 * @description
 * - Exactly one Do runs per device at a time, different devices run concurrently
 * - Waiting for a busy device honours ctx, an exchange that started is never cancelled
 */
type Registry struct {
	settings Settings
	opener   Opener
	mu       sync.Mutex
	slots    map[string]chan struct{}
}

func NewRegistry(settings Settings, opener Opener) *Registry {
	if opener == nil {
		opener = DefaultOpener
	}
	return &Registry{
		settings: settings,
		opener:   opener,
		slots:    make(map[string]chan struct{}),
	}
}

// Settings returns the line settings used for every device
func (r *Registry) Settings() Settings {
	return r.settings
}

func (r *Registry) slot(path string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[path]
	if !ok {
		s = make(chan struct{}, 1)
		r.slots[path] = s
	}
	return s
}

/**
 * Run fn with an open channel on path
 * @param {context.Context} ctx - Cancels the wait for the device, not fn itself
 * @param {string} path - Device path
 * @param {func(*Channel) error} fn - Work done while holding the device
 * @returns {error} ctx error, DeviceUnavailable from open, or fn's error
 * @description
 * - The channel is opened before fn and closed after it
 */
func (r *Registry) Do(ctx context.Context, path string, fn func(ch *Channel) error) error {
	s := r.slot(path)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return models.NewKindError(models.KindDeviceUnavailable, ctx.Err(), "serial port %s is busy", path)
	}
	defer func() { <-s }()

	ch, err := Open(path, r.settings, r.opener)
	if err != nil {
		return err
	}
	defer ch.Close()
	return fn(ch)
}
