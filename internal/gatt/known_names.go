package gatt

import "github.com/srg/bletrack/internal/bleid"

// Known Bluetooth SIG assigned numbers for the services and characteristics
// that commonly show up during discovery. Lookup is best effort; unknown
// UUIDs return "".

var knownServiceNames = map[uint16]string{
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x180A: "Device Information",
	0x180D: "Heart Rate",
	0x180F: "Battery Service",
	0x1810: "Blood Pressure",
	0x1816: "Cycling Speed and Cadence",
	0x181A: "Environmental Sensing",
	0x1826: "Fitness Machine",
}

var knownCharacteristicNames = map[uint16]string{
	0x2A00: "Device Name",
	0x2A01: "Appearance",
	0x2A05: "Service Changed",
	0x2A19: "Battery Level",
	0x2A24: "Model Number String",
	0x2A25: "Serial Number String",
	0x2A29: "Manufacturer Name String",
	0x2A37: "Heart Rate Measurement",
	0x2A38: "Body Sensor Location",
	0x2A6E: "Temperature",
	0x2A6F: "Humidity",
}

// KnownServiceName returns the SIG name for a 16-bit service UUID, or "".
func KnownServiceName(u bleid.UUID) string {
	if u.Kind() != bleid.Kind16 {
		return ""
	}
	return knownServiceNames[u.Uint16()]
}

// KnownCharacteristicName returns the SIG name for a 16-bit characteristic
// UUID, or "".
func KnownCharacteristicName(u bleid.UUID) string {
	if u.Kind() != bleid.Kind16 {
		return ""
	}
	return knownCharacteristicNames[u.Uint16()]
}
