package testutils

import (
	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/provider"
)

// DiscoveryBuilder assembles DeviceDiscovered events for tests.
type DiscoveryBuilder struct {
	ev provider.DeviceDiscovered
}

// NewDiscovery starts a builder for addr with no RSSI reading.
func NewDiscovery(addr string) *DiscoveryBuilder {
	return &DiscoveryBuilder{ev: provider.DeviceDiscovered{
		Address: bleid.MustParseAddress(addr),
		RSSI:    provider.RSSINoReading,
	}}
}

// Name sets the advertised name.
func (b *DiscoveryBuilder) Name(name string) *DiscoveryBuilder {
	b.ev.Name = name
	return b
}

// RSSI sets the signal reading.
func (b *DiscoveryBuilder) RSSI(rssi int) *DiscoveryBuilder {
	b.ev.RSSI = rssi
	return b
}

// TxPower sets the advertised TX power.
func (b *DiscoveryBuilder) TxPower(tx int) *DiscoveryBuilder {
	b.ev.TxPower = &tx
	return b
}

// ManufacturerData sets the manufacturer payload.
func (b *DiscoveryBuilder) ManufacturerData(data []byte) *DiscoveryBuilder {
	b.ev.ManufacturerData = data
	return b
}

// ServiceUUIDs sets the advertised service UUID list from text forms.
func (b *DiscoveryBuilder) ServiceUUIDs(uuids ...string) *DiscoveryBuilder {
	b.ev.ServiceUUIDs = make([]bleid.UUID, len(uuids))
	for i, u := range uuids {
		b.ev.ServiceUUIDs[i] = bleid.MustParseUUID(u)
	}
	return b
}

// Build returns the event.
func (b *DiscoveryBuilder) Build() provider.DeviceDiscovered {
	return b.ev
}

// Connected builds a DeviceConnected event from text forms.
func Connected(addr string, state provider.ConnectionState) provider.DeviceConnected {
	return provider.DeviceConnected{
		Address: bleid.MustParseAddress(addr),
		State:   state,
	}
}

// CharChanged builds a CharacteristicChanged event from text forms.
func CharChanged(addr, svc, chr string, value []byte) provider.CharacteristicChanged {
	return provider.CharacteristicChanged{
		Address:            bleid.MustParseAddress(addr),
		ServiceUUID:        bleid.MustParseUUID(svc),
		CharacteristicUUID: bleid.MustParseUUID(chr),
		Value:              value,
	}
}

// ServicesFor builds a ServicesDiscovered event carrying a single service
// with the given characteristics, each readable and notifiable.
func ServicesFor(addr, svcUUID string, charUUIDs ...string) provider.ServicesDiscovered {
	svc := gatt.Service{UUID: bleid.MustParseUUID(svcUUID), Primary: true}
	for _, cu := range charUUIDs {
		svc.Characteristics = append(svc.Characteristics, gatt.Characteristic{
			UUID:       bleid.MustParseUUID(cu),
			Properties: gatt.Read | gatt.Notify,
		})
	}
	return provider.ServicesDiscovered{
		Address:  bleid.MustParseAddress(addr),
		Services: []gatt.Service{svc},
	}
}
