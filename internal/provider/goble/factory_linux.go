//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// NewDeviceFn creates the platform ble.Device. A variable so tests can
// substitute a mock transport.
var NewDeviceFn = func() (ble.Device, error) {
	return linux.NewDevice()
}
