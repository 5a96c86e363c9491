package gatt

import "github.com/srg/bletrack/internal/bleid"

// Descriptor is a single GATT descriptor. Value is nil when the descriptor
// has not been read.
type Descriptor struct {
	UUID  bleid.UUID
	Value []byte
}

// Clone returns a deep copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	return Descriptor{UUID: d.UUID, Value: cloneBytes(d.Value)}
}

// Characteristic is a single GATT characteristic with its property bit-set,
// an optional cached value, and its descriptors.
type Characteristic struct {
	UUID        bleid.UUID
	Properties  Property
	Value       []byte
	Descriptors []Descriptor
}

// Clone returns a deep copy of the characteristic subtree.
func (c Characteristic) Clone() Characteristic {
	out := Characteristic{
		UUID:       c.UUID,
		Properties: c.Properties,
		Value:      cloneBytes(c.Value),
	}
	if c.Descriptors != nil {
		out.Descriptors = make([]Descriptor, len(c.Descriptors))
		for i, d := range c.Descriptors {
			out.Descriptors[i] = d.Clone()
		}
	}
	return out
}

// Service is a single GATT service with its characteristics.
type Service struct {
	UUID            bleid.UUID
	Primary         bool
	Characteristics []Characteristic
}

// Clone returns a deep copy of the service subtree.
func (s Service) Clone() Service {
	out := Service{UUID: s.UUID, Primary: s.Primary}
	if s.Characteristics != nil {
		out.Characteristics = make([]Characteristic, len(s.Characteristics))
		for i, c := range s.Characteristics {
			out.Characteristics[i] = c.Clone()
		}
	}
	return out
}

// CloneServices returns a deep copy of a whole tree. A nil input stays nil.
func CloneServices(services []Service) []Service {
	if services == nil {
		return nil
	}
	out := make([]Service, len(services))
	for i, s := range services {
		out[i] = s.Clone()
	}
	return out
}

// FindCharacteristic locates a characteristic by service and characteristic
// UUID within a tree. It returns a pointer into the tree so the caller can
// patch the cached value in place, or nil when either UUID is absent.
func FindCharacteristic(services []Service, svcUUID, chrUUID bleid.UUID) *Characteristic {
	for i := range services {
		if !services[i].UUID.Equal(svcUUID) {
			continue
		}
		chars := services[i].Characteristics
		for j := range chars {
			if chars[j].UUID.Equal(chrUUID) {
				return &chars[j]
			}
		}
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
