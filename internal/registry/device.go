package registry

import (
	"time"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/provider"
)

const (
	// RSSIHistoryCap bounds the per-device RSSI sample history.
	RSSIHistoryCap = 100
	// CharacteristicUpdateCap bounds the per-device characteristic update
	// history.
	CharacteristicUpdateCap = 1000
)

// RSSISample is one received signal strength reading.
type RSSISample struct {
	Time time.Time
	RSSI int
}

// CharacteristicUpdate records one characteristic value change.
type CharacteristicUpdate struct {
	Time               time.Time
	ServiceUUID        bleid.UUID
	CharacteristicUUID bleid.UUID
	Value              []byte
}

// Device is the per-device aggregate, built exclusively by the registry
// folding events. Every variable-length field is owned by the device; event
// payloads are deep-copied in, never aliased.
type Device struct {
	address          bleid.Address
	name             string // "" when unknown
	addressType      provider.AddressType
	deviceType       provider.DeviceType
	classOfDevice    *uint32
	appearance       *uint16
	connectionState  provider.ConnectionState
	txPower          *int
	manufacturerData []byte
	serviceUUIDs     []bleid.UUID
	rssiHistory      boundedLog[RSSISample]
	services         []gatt.Service
	charUpdates      boundedLog[CharacteristicUpdate]
	firstSeen        time.Time
	lastSeen         time.Time
	lastConnected    time.Time
	eventCount       uint64
}

func newDevice(addr bleid.Address, now time.Time) *Device {
	return &Device{
		address:     addr,
		rssiHistory: newBoundedLog[RSSISample](RSSIHistoryCap),
		charUpdates: newBoundedLog[CharacteristicUpdate](CharacteristicUpdateCap),
		firstSeen:   now,
		lastSeen:    now,
	}
}

// Address returns the aggregate key.
func (d *Device) Address() bleid.Address { return d.address }

// Name returns the advertised name, or "" when unknown.
func (d *Device) Name() string { return d.name }

// AddressType returns the address classification.
func (d *Device) AddressType() provider.AddressType { return d.addressType }

// DeviceType returns the transport classification.
func (d *Device) DeviceType() provider.DeviceType { return d.deviceType }

// ClassOfDevice returns the class-of-device field, nil when unknown.
func (d *Device) ClassOfDevice() *uint32 { return d.classOfDevice }

// Appearance returns the appearance field, nil when unknown.
func (d *Device) Appearance() *uint16 { return d.appearance }

// ConnectionState returns the current connection state.
func (d *Device) ConnectionState() provider.ConnectionState { return d.connectionState }

// TxPower returns the advertised TX power, nil when unknown.
func (d *Device) TxPower() *int { return d.txPower }

// ManufacturerData returns the latest manufacturer payload, nil when absent.
func (d *Device) ManufacturerData() []byte { return d.manufacturerData }

// ServiceUUIDs returns the advertised service UUID list, nil when absent.
func (d *Device) ServiceUUIDs() []bleid.UUID { return d.serviceUUIDs }

// Services returns the current GATT tree snapshot.
func (d *Device) Services() []gatt.Service { return d.services }

// CurrentRSSI returns the most recent RSSI sample; ok is false when no
// sample has been recorded.
func (d *Device) CurrentRSSI() (int, bool) {
	s, ok := d.rssiHistory.last()
	if !ok {
		return 0, false
	}
	return s.RSSI, true
}

// RSSIHistory returns the bounded sample history in arrival order.
func (d *Device) RSSIHistory() []RSSISample {
	return d.rssiHistory.snapshot()
}

// CharacteristicUpdates returns the bounded update history in arrival order.
func (d *Device) CharacteristicUpdates() []CharacteristicUpdate {
	return d.charUpdates.snapshot()
}

// FirstSeen returns when the device was first discovered.
func (d *Device) FirstSeen() time.Time { return d.firstSeen }

// LastSeen returns when the last event targeting this device was applied.
// Monotonically non-decreasing under normal operation.
func (d *Device) LastSeen() time.Time { return d.lastSeen }

// LastConnected returns when the device last entered the connected state;
// zero when it never has.
func (d *Device) LastConnected() time.Time { return d.lastConnected }

// EventCount returns the number of successfully applied events targeting
// this device.
func (d *Device) EventCount() uint64 { return d.eventCount }

// IsConnected reports whether the device is currently connected.
func (d *Device) IsConnected() bool {
	return d.connectionState == provider.Connected
}

// Clone returns a deep copy sharing no mutable state with the original.
func (d *Device) Clone() Device {
	out := *d
	out.classOfDevice = clonePtr(d.classOfDevice)
	out.appearance = clonePtr(d.appearance)
	out.txPower = clonePtr(d.txPower)
	out.manufacturerData = cloneBytes(d.manufacturerData)
	out.serviceUUIDs = cloneUUIDs(d.serviceUUIDs)
	out.services = gatt.CloneServices(d.services)
	out.rssiHistory = d.rssiHistory.clone()
	out.charUpdates = d.charUpdates.clone()
	for i := range out.charUpdates.items {
		out.charUpdates.items[i].Value = cloneBytes(out.charUpdates.items[i].Value)
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneUUIDs(u []bleid.UUID) []bleid.UUID {
	if u == nil {
		return nil
	}
	out := make([]bleid.UUID, len(u))
	copy(out, u)
	return out
}
