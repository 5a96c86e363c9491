package goble

import (
	"fmt"
	"strings"

	"github.com/srg/bletrack/internal/provider"
)

// NormalizeError maps known go-ble error strings to the core's typed state
// errors. It ensures consistent handling even if the upstream library
// changes messages slightly. Returns wrapped errors to preserve original
// context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"):
		return fmt.Errorf("%w: %v", provider.ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", provider.ErrAlreadyStarted, err)
	case containsIgnoreCase(msg, "not initialized"):
		return fmt.Errorf("%w: %v", provider.ErrNotInitialized, err)
	default:
		return err
	}
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
