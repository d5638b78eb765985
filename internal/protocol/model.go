package protocol

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

/**
 * Model describes how one KVM hardware model encodes port numbers
 * @description
 * - Ports without an override encode as their decimal number
 * - Overrides carry the hardware's substitution tokens (e.g. 10 -> "A")
 * - Encoding is injective over [1, capacity], checked by NewModel
 */
type Model struct {
	name      string
	capacity  int
	overrides map[int]string
	commands  map[int]string
	ports     map[string]int
}

const (
	framePrefix = "X"
	frameSuffix = ",1$"
)

func NewModel(name string, capacity int, overrides map[int]string) (*Model, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("model %s: capacity must be at least 1", name)
	}
	m := &Model{
		name:      name,
		capacity:  capacity,
		overrides: make(map[int]string, len(overrides)),
		commands:  make(map[int]string, capacity),
		ports:     make(map[string]int, capacity),
	}
	for port, token := range overrides {
		if port < 1 || port > capacity {
			return nil, fmt.Errorf("model %s: override for port %d outside 1-%d", name, port, capacity)
		}
		if token == "" || strings.ContainsAny(token, ",$") {
			return nil, fmt.Errorf("model %s: invalid token %q for port %d", name, token, port)
		}
		m.overrides[port] = token
	}
	for port := 1; port <= capacity; port++ {
		cmd := framePrefix + m.token(port) + frameSuffix
		if other, dup := m.ports[cmd]; dup {
			return nil, fmt.Errorf("model %s: ports %d and %d share command %s", name, other, port, cmd)
		}
		m.commands[port] = cmd
		m.ports[cmd] = port
	}
	return m, nil
}

func (m *Model) token(port int) string {
	if t, ok := m.overrides[port]; ok {
		return t
	}
	return strconv.Itoa(port)
}

func (m *Model) Name() string {
	return m.name
}

// Capacity is the number of ports the hardware has
func (m *Model) Capacity() int {
	return m.capacity
}

// Encode returns the command frame for port, false when the port is out of range
func (m *Model) Encode(port int) (string, bool) {
	cmd, ok := m.commands[port]
	return cmd, ok
}

// Decode maps a command frame back to its port, used for diagnostics
func (m *Model) Decode(cmd string) (int, bool) {
	port, ok := m.ports[cmd]
	return port, ok
}

// Commands returns the command of every port up to maxPorts
func (m *Model) Commands(maxPorts int) map[int]string {
	if maxPorts <= 0 || maxPorts > m.capacity {
		maxPorts = m.capacity
	}
	result := make(map[int]string, maxPorts)
	for port := 1; port <= maxPorts; port++ {
		result[port] = m.commands[port]
	}
	return result
}

var builtinModels = map[string]*Model{}

func mustRegister(name string, capacity int, overrides map[int]string) {
	m, err := NewModel(name, capacity, overrides)
	if err != nil {
		panic(err)
	}
	builtinModels[name] = m
}

func init() {
	// MLEEDA KVM1001A: 端口10用字母A代替
	mustRegister("mleeda-kvm1001a", 10, map[int]string{10: "A"})
}

// LookupModel finds a built-in model by name, case insensitive
func LookupModel(name string) (*Model, error) {
	if m, ok := builtinModels[strings.ToLower(name)]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("unknown kvm model %q, supported: %s", name, strings.Join(ModelNames(), ", "))
}

func ModelNames() []string {
	names := make([]string, 0, len(builtinModels))
	for name := range builtinModels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
