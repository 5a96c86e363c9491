// Package bleid holds the identity primitives shared across the core:
// hardware addresses and Bluetooth UUIDs in their three encodings.
package bleid

import "fmt"

// AddressLen is the number of bytes in a hardware address.
const AddressLen = 6

// addressTextLen is the canonical text length: six hex pairs plus five colons.
const addressTextLen = 17

// Address is a 6-byte hardware identifier, most-significant byte first.
// The zero value is the all-zero address. Address is comparable and usable
// as a map key.
type Address [AddressLen]byte

// ParseError reports a malformed Address or UUID text form.
type ParseError struct {
	Kind  string // "address", "uuid", "object id"
	Input string
	Msg   string
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Input, e.Msg)
}

// String returns the canonical colon-separated uppercase hex form,
// e.g. "AA:BB:CC:DD:EE:FF".
func (a Address) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		a[0], a[1], a[2], a[3], a[4], a[5])
}

// ParseAddress parses the canonical "XX:XX:XX:XX:XX:XX" form. Hex digits may
// be upper or lower case; any other length or separator is rejected.
func ParseAddress(s string) (Address, error) {
	var a Address
	if len(s) != addressTextLen {
		return a, &ParseError{Kind: "address", Input: s,
			Msg: fmt.Sprintf("expected %d characters, got %d", addressTextLen, len(s))}
	}
	for i := 0; i < AddressLen; i++ {
		if i > 0 && s[i*3-1] != ':' {
			return a, &ParseError{Kind: "address", Input: s,
				Msg: fmt.Sprintf("expected ':' at position %d", i*3-1)}
		}
		hi, ok1 := hexVal(s[i*3])
		lo, ok2 := hexVal(s[i*3+1])
		if !ok1 || !ok2 {
			return a, &ParseError{Kind: "address", Input: s,
				Msg: fmt.Sprintf("invalid hex pair at position %d", i*3)}
		}
		a[i] = hi<<4 | lo
	}
	return a, nil
}

// MustParseAddress is ParseAddress that panics on error. Intended for
// constants and tests only.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
