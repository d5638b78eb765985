package serial

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/config"
	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port a Channel needs
type Port interface {
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
	Write(p []byte) (int, error)
	Drain() error
	Read(p []byte) (int, error)
	Close() error
}

// DefaultReadTimeout bounds reads when no read timeout is configured
const DefaultReadTimeout = 100 * time.Millisecond

// Opener opens a device, replaced by fakes in tests
type Opener func(path string, mode *serial.Mode) (Port, error)

// DefaultOpener opens a real device through go.bug.st/serial
func DefaultOpener(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Settings line parameters and timeouts for one channel
type Settings struct {
	BaudRate     int
	DataBits     int
	Parity       string
	StopBits     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ReadResponse bool
}

// SettingsFromConfig converts the serial section of the configuration
func SettingsFromConfig(c config.SerialConfig) Settings {
	return Settings{
		BaudRate:     c.BaudRate,
		DataBits:     c.DataBits,
		Parity:       c.Parity,
		StopBits:     c.StopBits,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		ReadResponse: c.ReadResponse,
	}
}

// Mode builds the go.bug.st/serial mode for these settings
func (s Settings) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
	}
	switch s.Parity {
	case "", "none":
		mode.Parity = serial.NoParity
	case "odd":
		mode.Parity = serial.OddParity
	case "even":
		mode.Parity = serial.EvenParity
	case "mark":
		mode.Parity = serial.MarkParity
	case "space":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("unsupported parity %q", s.Parity)
	}
	switch s.StopBits {
	case "", "1":
		mode.StopBits = serial.OneStopBit
	case "1.5":
		mode.StopBits = serial.OnePointFiveStopBits
	case "2":
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("unsupported stop bits %q", s.StopBits)
	}
	return mode, nil
}

/**
 * Channel owns one open serial device
 * @description
 * - Exchanges on one channel are serialized by mu
 * - Once closed (explicitly or after a stuck write) every exchange fails with IoError
 */
type Channel struct {
	device   string
	port     Port
	settings Settings
	mu       sync.Mutex
	closed   bool
}

/**
 * Open a serial device
 * @param {string} path - Device node or COM identifier
 * @param {Settings} settings - Line parameters and timeouts
 * @param {Opener} open - Device opener, nil for the real driver
 * @returns {*Channel} Open channel
 * @returns {error} DeviceUnavailable when the device cannot be opened
 */
func Open(path string, settings Settings, open Opener) (*Channel, error) {
	if open == nil {
		open = DefaultOpener
	}
	mode, err := settings.Mode()
	if err != nil {
		return nil, models.NewKindError(models.KindDeviceUnavailable, err, "invalid serial settings for %s", path)
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, models.NewKindError(models.KindDeviceUnavailable, err, "cannot open serial port %s: %s", path, describeOpenError(err))
	}
	// 读超时必须有界，否则没有应答的设备会让Read永久阻塞
	readTimeout := settings.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, models.NewKindError(models.KindDeviceUnavailable, err, "cannot configure serial port %s", path)
	}
	logger.Debugf("Opened serial port %s (%d baud)", path, settings.BaudRate)
	return &Channel{
		device:   path,
		port:     port,
		settings: settings,
	}, nil
}

func describeOpenError(err error) string {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound:
			return "device not found"
		case serial.PermissionDenied:
			return "permission denied"
		case serial.PortBusy:
			return "device busy"
		case serial.InvalidSerialPort:
			return "not a serial port"
		}
	}
	return "open failed"
}

// Device returns the device path
func (c *Channel) Device() string {
	return c.device
}

/**
 * Write one command and wait for the hardware to settle
 * @param {[]byte} payload - Complete command frame
 * @param {time.Duration} delay - Settle time after the write
 * @returns {[]byte} Bytes the device sent back, possibly empty
 * @returns {error} IoError when the write failed, was short or timed out
 * @description
 * - One physical attempt, never retried
 * - Always waits at least delay before returning, on failure too
 * - A write stuck past WriteTimeout closes the channel
 */
func (c *Channel) Exchange(payload []byte, delay time.Duration) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() {
		if rest := delay - time.Since(start); rest > 0 {
			time.Sleep(rest)
		}
	}()

	if c.closed {
		return nil, models.NewKindError(models.KindIoError, nil, "serial port %s is closed", c.device)
	}

	// 清空残留数据，避免读到上一次的应答
	if err := c.port.ResetInputBuffer(); err != nil {
		logger.Debugf("Reset input buffer of %s failed: %v", c.device, err)
	}
	if err := c.port.ResetOutputBuffer(); err != nil {
		logger.Debugf("Reset output buffer of %s failed: %v", c.device, err)
	}

	if err := c.write(payload); err != nil {
		return nil, err
	}

	if rest := delay - time.Since(start); rest > 0 {
		time.Sleep(rest)
	}

	if !c.settings.ReadResponse {
		return nil, nil
	}
	// 该硬件没有应答帧，读到的内容只用于诊断
	buf := make([]byte, 1024)
	n, err := c.port.Read(buf)
	if err != nil {
		logger.Debugf("Read response from %s failed: %v", c.device, err)
		return nil, nil
	}
	return buf[:n], nil
}

type writeResult struct {
	n   int
	err error
}

func (c *Channel) write(payload []byte) error {
	done := make(chan writeResult, 1)
	go func() {
		n, err := c.port.Write(payload)
		if err == nil {
			err = c.port.Drain()
		}
		done <- writeResult{n: n, err: err}
	}()

	var timeout <-chan time.Time
	if c.settings.WriteTimeout > 0 {
		timer := time.NewTimer(c.settings.WriteTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			return models.NewKindError(models.KindIoError, res.err, "serial write to %s failed", c.device)
		}
		if res.n != len(payload) {
			return models.NewKindError(models.KindIoError, nil, "short write to %s: %d of %d bytes", c.device, res.n, len(payload))
		}
		return nil
	case <-timeout:
		// closing the port unblocks the pending write
		c.closeLocked()
		return models.NewKindError(models.KindIoError, nil, "serial write to %s timed out after %s", c.device, c.settings.WriteTimeout)
	}
}

// Close releases the device, safe to call more than once
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Channel) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.port.Close()
	logger.Debugf("Closed serial port %s", c.device)
	return err
}
