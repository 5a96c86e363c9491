package provider

import (
	"fmt"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
)

// RSSINoReading is the sentinel RSSI value meaning "no reading available".
// It is never recorded as a sample.
const RSSINoReading = -127

// AddressType classifies a device address.
type AddressType int

const (
	AddressTypeUnknown AddressType = iota
	AddressTypePublic
	AddressTypeRandom
)

// String returns the address type name.
func (t AddressType) String() string {
	switch t {
	case AddressTypePublic:
		return "public"
	case AddressTypeRandom:
		return "random"
	default:
		return "unknown"
	}
}

// DeviceType classifies the transport capabilities of a device.
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeClassic
	DeviceTypeLE
	DeviceTypeDual
)

// String returns the device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceTypeClassic:
		return "classic"
	case DeviceTypeLE:
		return "le"
	case DeviceTypeDual:
		return "dual"
	default:
		return "unknown"
	}
}

// ConnectionState is the per-device connection lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

// String returns the connection state name.
func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "disconnected"
	}
}

// AdapterState is the power state of the local adapter.
type AdapterState int

const (
	AdapterOff AdapterState = iota
	AdapterOn
)

// String returns the adapter state name.
func (s AdapterState) String() string {
	if s == AdapterOn {
		return "on"
	}
	return "off"
}

// EventKind discriminates the event union.
type EventKind int

const (
	KindDeviceDiscovered EventKind = iota
	KindDeviceConnected
	KindAdapterStateChanged
	KindServicesDiscovered
	KindCharacteristicChanged
	KindRawTransport
	KindProviderError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case KindDeviceDiscovered:
		return "device_discovered"
	case KindDeviceConnected:
		return "device_connected"
	case KindAdapterStateChanged:
		return "adapter_state_changed"
	case KindServicesDiscovered:
		return "services_discovered"
	case KindCharacteristicChanged:
		return "characteristic_changed"
	case KindRawTransport:
		return "raw_transport"
	case KindProviderError:
		return "provider_error"
	}
	return fmt.Sprintf("eventkind(%d)", int(k))
}

// Event is the union of everything a provider can report. Buffer ownership:
// the registry deep-copies every owned buffer (names, byte slices, UUID
// lists, GATT trees) out of the event while folding, so a provider may reuse
// or pool its buffers as soon as the event has been consumed.
type Event interface {
	Kind() EventKind
}

// DeviceDiscovered reports an advertisement or inquiry result.
type DeviceDiscovered struct {
	Address          bleid.Address
	AddressType      AddressType
	DeviceType       DeviceType
	Name             string
	RSSI             int // RSSINoReading when absent
	TxPower          *int
	Appearance       *uint16
	ClassOfDevice    *uint32
	ManufacturerData []byte
	ServiceUUIDs     []bleid.UUID // nil when the advertisement carried none
}

// Kind implements Event.
func (DeviceDiscovered) Kind() EventKind { return KindDeviceDiscovered }

// DeviceConnected reports a connection state transition.
type DeviceConnected struct {
	Address bleid.Address
	State   ConnectionState
}

// Kind implements Event.
func (DeviceConnected) Kind() EventKind { return KindDeviceConnected }

// AdapterStateChanged reports a local adapter power transition. It carries
// no per-device effect.
type AdapterStateChanged struct {
	State AdapterState
}

// Kind implements Event.
func (AdapterStateChanged) Kind() EventKind { return KindAdapterStateChanged }

// ServicesDiscovered reports a completed GATT discovery. The tree replaces
// the device's previous snapshot wholesale.
type ServicesDiscovered struct {
	Address  bleid.Address
	Services []gatt.Service
}

// Kind implements Event.
func (ServicesDiscovered) Kind() EventKind { return KindServicesDiscovered }

// CharacteristicChanged reports a notification, indication or read result
// for a single characteristic value.
type CharacteristicChanged struct {
	Address            bleid.Address
	ServiceUUID        bleid.UUID
	CharacteristicUUID bleid.UUID
	Value              []byte
}

// Kind implements Event.
func (CharacteristicChanged) Kind() EventKind { return KindCharacteristicChanged }

// RawTransport carries an opaque transport frame the provider chose not to
// decode. It has no per-device effect.
type RawTransport struct {
	TypeTag uint16
	Data    []byte
}

// Kind implements Event.
func (RawTransport) Kind() EventKind { return KindRawTransport }

// ProviderError reports a transport-level failure. It flows through the
// queue like any other event but triggers no device mutation.
type ProviderError struct {
	Message string
	Code    *int
}

// Kind implements Event.
func (ProviderError) Kind() EventKind { return KindProviderError }

// Error renders the failure for logging.
func (e ProviderError) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s (code %d)", e.Message, *e.Code)
	}
	return e.Message
}
