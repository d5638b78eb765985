package serial

import (
	"fmt"
	"sort"
	"strings"

	"github.com/flowy2k/kvm-manager-v2/internal/logger"
	"github.com/flowy2k/kvm-manager-v2/internal/models"

	"go.bug.st/serial/enumerator"
)

// 可替换，便于测试
var detailedPorts = enumerator.GetDetailedPortsList

var serialKeywords = []string{"usb", "serial", "ch340", "ftdi", "cp210"}

func describe(p *enumerator.PortDetails) string {
	switch {
	case p.Product != "":
		return p.Product
	case p.IsUSB:
		return fmt.Sprintf("USB Serial Device (%s:%s)", p.VID, p.PID)
	default:
		return fmt.Sprintf("Serial Port %s", p.Name)
	}
}

// isSerialAdapter 只用系统上报的描述匹配关键字，不用describe生成的显示文本
func isSerialAdapter(p *enumerator.PortDetails) bool {
	if p.IsUSB {
		return true
	}
	name := strings.ToLower(p.Name)
	if strings.Contains(name, "ttyusb") || strings.Contains(name, "ttyacm") {
		return true
	}
	lower := strings.ToLower(p.Product)
	for _, kw := range serialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

/**
 * List serial devices that look like USB serial adapters
 * @param {bool} all - Include every device the OS reports, not only adapters
 * @returns {[]models.SerialPortInfo} Devices sorted by path
 * @returns {error} Enumeration failure
 */
func List(all bool) ([]models.SerialPortInfo, error) {
	ports, err := detailedPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	result := []models.SerialPortInfo{}
	for _, p := range ports {
		if !all && !isSerialAdapter(p) {
			continue
		}
		result = append(result, models.SerialPortInfo{
			Device:      p.Name,
			Description: describe(p),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Device < result[j].Device
	})
	logger.Debugf("Found %d serial ports", len(result))
	return result, nil
}

// DefaultDevice picks /dev/ttyUSB0 if present, then the first USB device, then the first device
func DefaultDevice(ports []models.SerialPortInfo) string {
	if len(ports) == 0 {
		return ""
	}
	for _, p := range ports {
		if p.Device == "/dev/ttyUSB0" {
			return p.Device
		}
	}
	for _, p := range ports {
		if strings.Contains(p.Device, "ttyUSB") || strings.Contains(p.Description, "USB") {
			return p.Device
		}
	}
	return ports[0].Device
}
