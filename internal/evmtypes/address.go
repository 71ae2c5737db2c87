package evmtypes

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Address is a 20-byte EVM address. It reuses go-ethereum's common.Address
// layout but marshals lowercase on output (common.Address itself emits
// EIP-55 checksummed mixed case, which callers of this gateway don't expect).
type Address struct {
	common.Address
}

// ParseAddress accepts a 20-byte hex address with or without a 0x prefix.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("evmtypes: invalid address %q", s)
	}
	return Address{common.HexToAddress(s)}, nil
}

// MarshalJSON emits the address as a lowercase 0x-prefixed hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", a.Address[:]))
}

// UnmarshalJSON parses a hex address with or without a 0x prefix.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("evmtypes: address must be a JSON string: %w", err)
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// String renders the lowercase 0x-prefixed form.
func (a Address) String() string {
	return fmt.Sprintf("0x%x", a.Address[:])
}

// Hash is a 32-byte value: a keccak256 digest or a transaction hash.
type Hash struct {
	common.Hash
}

// ParseHash accepts a 32-byte hex value with or without a 0x prefix.
func ParseHash(s string) (Hash, error) {
	b, err := decodeHexFlexible(s)
	if err != nil {
		return Hash{}, fmt.Errorf("evmtypes: invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("evmtypes: hash %q is %d bytes, want 32", s, len(b))
	}
	var h Hash
	h.Hash.SetBytes(b)
	return h, nil
}

// MarshalJSON emits the hash as a lowercase 0x-prefixed hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", h.Hash[:]))
}

// UnmarshalJSON parses a hex hash with or without a 0x prefix.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("evmtypes: hash must be a JSON string: %w", err)
	}
	parsed, err := ParseHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h.Hash[:])
}
