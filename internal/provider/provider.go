// Package provider defines the contract every Bluetooth transport must
// satisfy to feed the core, together with the event union those transports
// emit and the typed errors they report.
package provider

import (
	"context"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/queue"
)

// AdapterInfo describes the local adapter backing a provider.
type AdapterInfo struct {
	Address bleid.Address
	Name    string
	State   AdapterState
}

// Provider abstracts a Bluetooth transport. One implementation exists per
// transport (system daemon, raw socket, simulated); each owns exactly one
// background activity that is the sole producer into its event queue.
//
// Lifecycle: Init acquires resources, Close releases them. Start enters the
// running state and launches the background activity; Start while already
// running returns ErrAlreadyStarted. Stop leaves the running state and is a
// no-op while not running; once Stop has returned, the provider must not
// push another event.
type Provider interface {
	// Init acquires transport resources. Must be called before Start.
	Init() error
	// Close releases all resources. The provider is unusable afterwards.
	Close() error

	// Start enters the running state and launches the background producer.
	Start() error
	// Stop leaves the running state. No events are pushed after it returns.
	Stop() error

	// Events exposes the queue the background activity feeds. The queue
	// instance is stable across the provider's lifetime.
	Events() *queue.Queue[Event]

	// AdapterInfo reports the local adapter backing this provider.
	AdapterInfo() (AdapterInfo, error)

	// StartDiscovery begins scanning; discovered devices surface as
	// DeviceDiscovered events.
	StartDiscovery() error
	// StopDiscovery ends scanning.
	StopDiscovery() error

	// Connect establishes a connection to the device at addr.
	Connect(ctx context.Context, addr bleid.Address) error
	// Disconnect tears down the connection to the device at addr.
	Disconnect(addr bleid.Address) error

	// DiscoverServices runs GATT discovery on a connected device; the
	// resulting tree surfaces as a ServicesDiscovered event.
	DiscoverServices(ctx context.Context, addr bleid.Address) error

	// ReadCharacteristic reads a characteristic value.
	ReadCharacteristic(ctx context.Context, addr bleid.Address, svc, chr bleid.UUID) ([]byte, error)
	// WriteCharacteristic writes a characteristic value.
	WriteCharacteristic(ctx context.Context, addr bleid.Address, svc, chr bleid.UUID, data []byte, withResponse bool) error

	// EnableNotifications subscribes to server-initiated value updates;
	// updates surface as CharacteristicChanged events.
	EnableNotifications(addr bleid.Address, svc, chr bleid.UUID) error
	// DisableNotifications cancels a subscription.
	DisableNotifications(addr bleid.Address, svc, chr bleid.UUID) error
}
