package bleid

import "fmt"

// UUIDKind tags which encoding a UUID value carries.
type UUIDKind uint8

const (
	// Kind16 is a 16-bit Bluetooth SIG assigned UUID.
	Kind16 UUIDKind = iota
	// Kind32 is a 32-bit Bluetooth SIG assigned UUID.
	Kind32
	// Kind128 is a full 128-bit UUID.
	Kind128
)

// String returns the kind name for logging.
func (k UUIDKind) String() string {
	switch k {
	case Kind16:
		return "uuid16"
	case Kind32:
		return "uuid32"
	case Kind128:
		return "uuid128"
	}
	return fmt.Sprintf("uuidkind(%d)", uint8(k))
}

// UUID is a tagged union over the three Bluetooth UUID encodings. Two UUIDs
// are equal only when both kind and value match; a 16-bit UUID never equals
// the 128-bit UUID it aliases. UUID is comparable and usable as a map key.
type UUID struct {
	kind UUIDKind
	u16  uint16
	u32  uint32
	u128 [16]byte
}

// UUID16 constructs a 16-bit UUID.
func UUID16(v uint16) UUID {
	return UUID{kind: Kind16, u16: v}
}

// UUID32 constructs a 32-bit UUID.
func UUID32(v uint32) UUID {
	return UUID{kind: Kind32, u32: v}
}

// UUID128 constructs a 128-bit UUID from big-endian bytes.
func UUID128(v [16]byte) UUID {
	return UUID{kind: Kind128, u128: v}
}

// Kind returns the encoding tag.
func (u UUID) Kind() UUIDKind { return u.kind }

// Uint16 returns the 16-bit value; valid only when Kind() == Kind16.
func (u UUID) Uint16() uint16 { return u.u16 }

// Uint32 returns the 32-bit value; valid only when Kind() == Kind32.
func (u UUID) Uint32() uint32 { return u.u32 }

// Bytes128 returns the big-endian 128-bit value; valid only when
// Kind() == Kind128.
func (u UUID) Bytes128() [16]byte { return u.u128 }

// Equal reports value equality within the same kind.
func (u UUID) Equal(other UUID) bool { return u == other }

// String returns the canonical uppercase text form: 4 hex digits for 16-bit,
// 8 for 32-bit, and the grouped 8-4-4-4-12 form for 128-bit.
func (u UUID) String() string {
	switch u.kind {
	case Kind16:
		return fmt.Sprintf("%04X", u.u16)
	case Kind32:
		return fmt.Sprintf("%08X", u.u32)
	default:
		b := u.u128
		return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
			b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7],
			b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
	}
}

// ParseUUID parses a UUID text form, dispatching on length: 4 hex digits for
// 16-bit, 8 for 32-bit, 36 characters (8-4-4-4-12, dash-separated) for
// 128-bit. Hex digits may be upper or lower case.
func ParseUUID(s string) (UUID, error) {
	switch len(s) {
	case 4:
		v, err := parseHex(s, "uuid")
		if err != nil {
			return UUID{}, err
		}
		return UUID16(uint16(v)), nil
	case 8:
		v, err := parseHex(s, "uuid")
		if err != nil {
			return UUID{}, err
		}
		return UUID32(uint32(v)), nil
	case 36:
		return parseUUID128(s)
	default:
		return UUID{}, &ParseError{Kind: "uuid", Input: s,
			Msg: fmt.Sprintf("unsupported length %d (want 4, 8 or 36)", len(s))}
	}
}

// MustParseUUID is ParseUUID that panics on error. Intended for constants
// and tests only.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

func parseHex(s, kind string) (uint64, error) {
	var v uint64
	for i := 0; i < len(s); i++ {
		d, ok := hexVal(s[i])
		if !ok {
			return 0, &ParseError{Kind: kind, Input: s,
				Msg: fmt.Sprintf("invalid hex digit at position %d", i)}
		}
		v = v<<4 | uint64(d)
	}
	return v, nil
}

// group boundaries of the 8-4-4-4-12 form
var (
	uuidDashPositions = [...]int{8, 13, 18, 23}
	uuidHexGroups     = [...][2]int{{0, 8}, {9, 13}, {14, 18}, {19, 23}, {24, 36}}
)

func parseUUID128(s string) (UUID, error) {
	for _, p := range uuidDashPositions {
		if s[p] != '-' {
			return UUID{}, &ParseError{Kind: "uuid", Input: s,
				Msg: fmt.Sprintf("expected '-' at position %d", p)}
		}
	}
	// The groups are fixed-width, so every character outside the four dash
	// positions must be a hex digit; a stray dash inside a group is rejected
	// here rather than skipped.
	var b [16]byte
	bi := 0
	for _, g := range uuidHexGroups {
		for i := g[0]; i < g[1]; i += 2 {
			hi, ok1 := hexVal(s[i])
			lo, ok2 := hexVal(s[i+1])
			if !ok1 || !ok2 {
				return UUID{}, &ParseError{Kind: "uuid", Input: s,
					Msg: fmt.Sprintf("invalid hex pair at position %d", i)}
			}
			b[bi] = hi<<4 | lo
			bi++
		}
	}
	return UUID128(b), nil
}
