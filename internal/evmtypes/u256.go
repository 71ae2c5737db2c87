// Package evmtypes holds the wire-level EVM value types shared by every
// scheme: 256-bit unsigned integers, addresses, hashes, and signatures, all
// JSON round-tripping as: addresses/hashes as hex, u256 as decimal strings,
// signatures as 65-byte hex.
package evmtypes

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// U256 is a 256-bit unsigned integer that marshals to/from a decimal string,
// never a JSON number, to avoid float64 precision loss on values above 2^53.
type U256 struct {
	uint256.Int
}

// NewU256FromUint64 builds a U256 from a native uint64.
func NewU256FromUint64(v uint64) U256 {
	var u U256
	u.Int.SetUint64(v)
	return u
}

// ParseU256 parses a base-10 decimal string into a U256.
func ParseU256(s string) (U256, error) {
	var u U256
	if err := u.Int.SetFromDecimal(s); err != nil {
		return U256{}, fmt.Errorf("evmtypes: invalid u256 %q: %w", s, err)
	}
	return u, nil
}

// MarshalJSON implements json.Marshaler, emitting the value as a decimal
// string so values above 2^53 survive round-tripping through JSON.
func (u U256) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Int.ToBig().String())
}

// String renders the decimal representation, used in log fields.
func (u U256) String() string {
	return u.Int.ToBig().String()
}

// UnmarshalJSON implements json.Unmarshaler, accepting a decimal string.
func (u *U256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("evmtypes: u256 must be a JSON string: %w", err)
	}
	parsed, err := ParseU256(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Cmp compares two U256 values the way callers expect from sort.Interface-
// style code: negative, zero, or positive.
func (u U256) Cmp(other U256) int {
	return u.Int.Cmp(&other.Int)
}

// Add returns u + other without mutating either operand.
func (u U256) Add(other U256) U256 {
	var out U256
	out.Int.Add(&u.Int, &other.Int)
	return out
}

// Sub returns u - other without mutating either operand. Callers must
// ensure u >= other; every call site checks the balance before decrementing.
func (u U256) Sub(other U256) U256 {
	var out U256
	out.Int.Sub(&u.Int, &other.Int)
	return out
}

// Mul returns u * other without mutating either operand.
func (u U256) Mul(other U256) U256 {
	var out U256
	out.Int.Mul(&u.Int, &other.Int)
	return out
}

// Div returns u / other (integer division, truncating) without mutating
// either operand.
func (u U256) Div(other U256) U256 {
	var out U256
	out.Int.Div(&u.Int, &other.Int)
	return out
}

// IsZero reports whether u is the zero value.
func (u U256) IsZero() bool {
	return u.Int.IsZero()
}

// U256FromBytes interprets b as a big-endian unsigned integer, the layout an
// ABI-encoded uint256 return value or event field uses. b may be shorter
// than 32 bytes (it is left-padded with zeros) but not longer.
func U256FromBytes(b []byte) (U256, error) {
	if len(b) > 32 {
		return U256{}, fmt.Errorf("evmtypes: %d bytes overflows u256", len(b))
	}
	var u U256
	u.Int.SetBytes(b)
	return u, nil
}
