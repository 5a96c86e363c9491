//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// NewDeviceFn creates the platform ble.Device. A variable so tests can
// substitute a mock transport.
var NewDeviceFn = func() (ble.Device, error) {
	return darwin.NewDevice()
}
