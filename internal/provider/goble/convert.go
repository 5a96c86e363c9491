package goble

import (
	"encoding/binary"
	"strings"

	"github.com/go-ble/ble"

	"github.com/srg/bletrack/internal/bleid"
	"github.com/srg/bletrack/internal/gatt"
	"github.com/srg/bletrack/internal/provider"
)

// txPowerNotAvailable is the advertisement value meaning TX power was not
// reported.
const txPowerNotAvailable = 127

// uuidFromBLE converts a little-endian ble.UUID into the core tagged union.
func uuidFromBLE(u ble.UUID) (bleid.UUID, bool) {
	switch len(u) {
	case 2:
		return bleid.UUID16(binary.LittleEndian.Uint16(u)), true
	case 4:
		return bleid.UUID32(binary.LittleEndian.Uint32(u)), true
	case 16:
		var b [16]byte
		for i := 0; i < 16; i++ {
			b[i] = u[15-i]
		}
		return bleid.UUID128(b), true
	default:
		return bleid.UUID{}, false
	}
}

// uuidToBLE converts the core tagged union into a little-endian ble.UUID.
func uuidToBLE(u bleid.UUID) ble.UUID {
	switch u.Kind() {
	case bleid.Kind16:
		return ble.UUID16(u.Uint16())
	case bleid.Kind32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, u.Uint32())
		return ble.UUID(b)
	default:
		big := u.Bytes128()
		b := make([]byte, 16)
		for i := 0; i < 16; i++ {
			b[i] = big[15-i]
		}
		return ble.UUID(b)
	}
}

// addressFromBLE parses a transport address string. Platforms that expose
// opaque identifiers instead of hardware addresses fail here and the caller
// drops the advertisement.
func addressFromBLE(a ble.Addr) (bleid.Address, bool) {
	addr, err := bleid.ParseAddress(strings.ToUpper(a.String()))
	if err != nil {
		return bleid.Address{}, false
	}
	return addr, true
}

// propertiesFromBLE maps the transport property bits onto the core bit-set.
func propertiesFromBLE(p ble.Property) gatt.Property {
	var out gatt.Property
	if p&ble.CharBroadcast != 0 {
		out |= gatt.Broadcast
	}
	if p&ble.CharRead != 0 {
		out |= gatt.Read
	}
	if p&ble.CharWriteNR != 0 {
		out |= gatt.WriteWithoutResponse
	}
	if p&ble.CharWrite != 0 {
		out |= gatt.Write
	}
	if p&ble.CharNotify != 0 {
		out |= gatt.Notify
	}
	if p&ble.CharIndicate != 0 {
		out |= gatt.Indicate
	}
	if p&ble.CharSignedWrite != 0 {
		out |= gatt.AuthenticatedSignedWrites
	}
	if p&ble.CharExtended != 0 {
		out |= gatt.ExtendedProperties
	}
	return out
}

// discoveredFromAdvertisement converts a scan result into the event the
// registry folds.
func discoveredFromAdvertisement(addr bleid.Address, adv ble.Advertisement) provider.DeviceDiscovered {
	ev := provider.DeviceDiscovered{
		Address:          addr,
		AddressType:      provider.AddressTypeUnknown,
		DeviceType:       provider.DeviceTypeLE,
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		ManufacturerData: adv.ManufacturerData(),
	}
	if tx := adv.TxPowerLevel(); tx != txPowerNotAvailable {
		ev.TxPower = &tx
	}
	if svcs := adv.Services(); len(svcs) > 0 {
		uuids := make([]bleid.UUID, 0, len(svcs))
		for _, s := range svcs {
			if u, ok := uuidFromBLE(s); ok {
				uuids = append(uuids, u)
			}
		}
		ev.ServiceUUIDs = uuids
	}
	return ev
}

// servicesFromProfile converts a discovered GATT profile into the core tree.
func servicesFromProfile(profile *ble.Profile) []gatt.Service {
	services := make([]gatt.Service, 0, len(profile.Services))
	for _, bleSvc := range profile.Services {
		svcUUID, ok := uuidFromBLE(bleSvc.UUID)
		if !ok {
			continue
		}
		svc := gatt.Service{UUID: svcUUID, Primary: true}
		for _, bleChr := range bleSvc.Characteristics {
			chrUUID, ok := uuidFromBLE(bleChr.UUID)
			if !ok {
				continue
			}
			chr := gatt.Characteristic{
				UUID:       chrUUID,
				Properties: propertiesFromBLE(bleChr.Property),
			}
			for _, bleDesc := range bleChr.Descriptors {
				if dUUID, ok := uuidFromBLE(bleDesc.UUID); ok {
					chr.Descriptors = append(chr.Descriptors, gatt.Descriptor{UUID: dUUID})
				}
			}
			svc.Characteristics = append(svc.Characteristics, chr)
		}
		services = append(services, svc)
	}
	return services
}
