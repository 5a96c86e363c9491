// Package gatt models the generic attribute hierarchy a connected device
// exposes: services containing characteristics containing descriptors. The
// tree is always owned exclusively by one aggregate; replacing it is a full
// deep copy.
package gatt

import "strings"

// Property is the characteristic property bit-set as defined by the
// Bluetooth core specification.
type Property uint8

const (
	// Broadcast permits broadcasting the value in advertisements.
	Broadcast Property = 1 << iota
	// Read permits reads of the value.
	Read
	// WriteWithoutResponse permits unacknowledged writes.
	WriteWithoutResponse
	// Write permits acknowledged writes.
	Write
	// Notify permits unacknowledged server-initiated value updates.
	Notify
	// Indicate permits acknowledged server-initiated value updates.
	Indicate
	// AuthenticatedSignedWrites permits signed unacknowledged writes.
	AuthenticatedSignedWrites
	// ExtendedProperties signals additional properties in a descriptor.
	ExtendedProperties
)

// propertyNames maps single bits to their human-readable names, in bit order.
var propertyNames = []struct {
	bit  Property
	name string
}{
	{Broadcast, "Broadcast"},
	{Read, "Read"},
	{WriteWithoutResponse, "WriteWithoutResponse"},
	{Write, "Write"},
	{Notify, "Notify"},
	{Indicate, "Indicate"},
	{AuthenticatedSignedWrites, "AuthenticatedSignedWrites"},
	{ExtendedProperties, "ExtendedProperties"},
}

// Has reports whether all bits of p2 are set in p.
func (p Property) Has(p2 Property) bool {
	return p&p2 == p2
}

// Names returns the human-readable names of all set bits, in bit order.
func (p Property) Names() []string {
	var names []string
	for _, pn := range propertyNames {
		if p&pn.bit != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

// String returns the set bit names joined by "|", or "None".
func (p Property) String() string {
	names := p.Names()
	if len(names) == 0 {
		return "None"
	}
	return strings.Join(names, "|")
}
