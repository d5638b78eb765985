package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/flowy2k/kvm-manager-v2/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyChannel records every exchange
type spyChannel struct {
	device    string
	exchanges [][]byte
	delays    []time.Duration
	response  []byte
	err       error
}

func (s *spyChannel) Exchange(payload []byte, delay time.Duration) ([]byte, error) {
	s.exchanges = append(s.exchanges, append([]byte(nil), payload...))
	s.delays = append(s.delays, delay)
	return s.response, s.err
}

func (s *spyChannel) Device() string {
	return s.device
}

func mleeda(t *testing.T) *Switcher {
	t.Helper()
	model, err := LookupModel("mleeda-kvm1001a")
	require.NoError(t, err)
	sw, err := NewSwitcher(model, 10, 500*time.Millisecond)
	require.NoError(t, err)
	return sw
}

func TestEncodeIsInjective(t *testing.T) {
	model, err := LookupModel("MLEEDA-KVM1001A")
	require.NoError(t, err)

	seen := map[string]int{}
	for port := 1; port <= model.Capacity(); port++ {
		cmd, ok := model.Encode(port)
		require.True(t, ok)
		_, dup := seen[cmd]
		assert.False(t, dup, "port %d reuses %s", port, cmd)
		seen[cmd] = port

		back, ok := model.Decode(cmd)
		require.True(t, ok)
		assert.Equal(t, port, back)
	}
	assert.Len(t, seen, 10)
}

func TestEncodeBoundaryUsesSubstitution(t *testing.T) {
	model, err := LookupModel("mleeda-kvm1001a")
	require.NoError(t, err)

	cmd, ok := model.Encode(10)
	require.True(t, ok)
	assert.Equal(t, "XA,1$", cmd)

	cmd, _ = model.Encode(3)
	assert.Equal(t, "X3,1$", cmd)

	_, ok = model.Encode(11)
	assert.False(t, ok)
	_, ok = model.Encode(0)
	assert.False(t, ok)
}

func TestNewModelRejectsCollisions(t *testing.T) {
	_, err := NewModel("broken", 12, map[int]string{11: "1"})
	assert.Error(t, err)

	_, err = NewModel("broken", 4, map[int]string{5: "B"})
	assert.Error(t, err)

	_, err = NewModel("broken", 4, map[int]string{2: "$"})
	assert.Error(t, err)

	_, err = NewModel("broken", 0, nil)
	assert.Error(t, err)

	m, err := NewModel("wide", 16, map[int]string{10: "A", 11: "B", 12: "C", 13: "D", 14: "E", 15: "F", 16: "G"})
	require.NoError(t, err)
	cmd, _ := m.Encode(12)
	assert.Equal(t, "XC,1$", cmd)
}

func TestLookupUnknownModel(t *testing.T) {
	_, err := LookupModel("acme-9000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mleeda-kvm1001a")
}

func TestCommandsHonoursMaxPorts(t *testing.T) {
	model, _ := LookupModel("mleeda-kvm1001a")
	assert.Len(t, model.Commands(4), 4)
	assert.Len(t, model.Commands(0), 10)
	assert.Equal(t, "XA,1$", model.Commands(0)[10])
}

func TestNewSwitcherRejectsTooManyPorts(t *testing.T) {
	model, _ := LookupModel("mleeda-kvm1001a")
	_, err := NewSwitcher(model, 11, 0)
	assert.Error(t, err)

	sw, err := NewSwitcher(model, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, sw.MaxPorts())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, sw.Ports())
}

func TestSwitchWritesCommand(t *testing.T) {
	sw := mleeda(t)
	spy := &spyChannel{device: "/dev/ttyUSB0", response: []byte(" ok\r\n")}

	result, err := sw.Switch(spy, 10)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 10, result.Port)
	assert.Equal(t, "XA,1$", result.Command)
	assert.Equal(t, "ok", result.Response)
	assert.Equal(t, models.KindNone, result.Error)
	require.Len(t, spy.exchanges, 1)
	assert.Equal(t, []byte("XA,1$"), spy.exchanges[0])
	assert.Equal(t, 500*time.Millisecond, spy.delays[0])

	result, err = sw.Switch(spy, 3)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []byte("X3,1$"), spy.exchanges[1])
}

func TestSwitchInvalidPortPerformsNoIO(t *testing.T) {
	sw := mleeda(t)
	spy := &spyChannel{device: "/dev/ttyUSB0"}

	for _, port := range []int{0, -1, 11, 100} {
		result, err := sw.Switch(spy, port)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInvalidPort)
		assert.False(t, result.Success)
		assert.Equal(t, models.KindInvalidPort, result.Error)
		assert.Contains(t, result.Message, "Must be 1-10")
	}
	assert.Empty(t, spy.exchanges)
}

func TestSwitchChannelFailure(t *testing.T) {
	sw := mleeda(t)
	spy := &spyChannel{
		device: "/dev/ttyUSB0",
		err:    models.NewKindError(models.KindIoError, errors.New("EIO"), "serial write to /dev/ttyUSB0 failed"),
	}

	result, err := sw.Switch(spy, 2)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.KindIoError, result.Error)
	assert.Equal(t, "X2,1$", result.Command)
	assert.Equal(t, "serial write to /dev/ttyUSB0 failed", result.Message)
	assert.Len(t, spy.exchanges, 1)
}

func TestSwitchUnclassifiedFailureIsIoError(t *testing.T) {
	sw := mleeda(t)
	spy := &spyChannel{device: "/dev/ttyUSB0", err: errors.New("unexpected")}

	result, err := sw.Switch(spy, 1)
	require.NoError(t, err)
	assert.Equal(t, models.KindIoError, result.Error)
}

func TestTestConnection(t *testing.T) {
	sw := mleeda(t)
	assert.True(t, sw.TestConnection(&spyChannel{device: "d"}, 1))
	assert.False(t, sw.TestConnection(&spyChannel{device: "d", err: errors.New("x")}, 1))
	assert.False(t, sw.TestConnection(&spyChannel{device: "d"}, 42))
}

func TestSwitchSinceMeasuresFromStart(t *testing.T) {
	sw := mleeda(t)
	start := time.Now().Add(-300 * time.Millisecond)

	result, err := sw.SwitchSince(&spyChannel{device: "/dev/ttyUSB0"}, 2, start)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.Elapsed, 300*time.Millisecond)

	result, err = sw.SwitchSince(&spyChannel{device: "/dev/ttyUSB0", err: errors.New("io")}, 2, start)
	require.NoError(t, err)
	assert.Equal(t, models.KindIoError, result.Error)
	assert.GreaterOrEqual(t, result.Elapsed, 300*time.Millisecond)

	result, err = sw.SwitchSince(&spyChannel{device: "/dev/ttyUSB0"}, 0, start)
	require.Error(t, err)
	assert.GreaterOrEqual(t, result.Elapsed, 300*time.Millisecond)
}
