package serial

import (
	"fmt"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (usb %s:%s serial=%s %s)", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
}

// enumerate is replaced in tests.
var enumerate = enumerator.GetDetailedPortsList

// ListPorts returns the serial ports known to the OS, sorted by name.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerate()
	if err != nil {
		return nil, fmt.Errorf("serial: enumerate ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

// Discover returns the device path of the USB port whose serial number
// matches usbSerial (case-insensitive).
func Discover(usbSerial string) (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.SerialNumber, usbSerial) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("serial: no USB port with serial number %q among %d ports", usbSerial, len(ports))
}

// ResolveDevice picks the device to open: the discovered port when a USB
// serial number is configured, otherwise the configured path.
func ResolveDevice(device, usbSerial string) (string, error) {
	if usbSerial == "" {
		return device, nil
	}
	return Discover(usbSerial)
}
