package evmtypes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// SignatureLength is the wire size of an r‖s‖v secp256k1 signature.
const SignatureLength = 65

// Signature is a 65-byte r‖s‖v secp256k1 signature, hex round-tripped with
// an optional 0x prefix.
type Signature [SignatureLength]byte

// ParseSignature decodes a hex-encoded 65-byte signature, with or without a
// 0x prefix.
func ParseSignature(s string) (Signature, error) {
	b, err := decodeHexFlexible(s)
	if err != nil {
		return Signature{}, fmt.Errorf("evmtypes: invalid signature hex: %w", err)
	}
	if len(b) != SignatureLength {
		return Signature{}, fmt.Errorf("evmtypes: signature is %d bytes, want %d", len(b), SignatureLength)
	}
	var sig Signature
	copy(sig[:], b)
	return sig, nil
}

// MarshalJSON emits the signature as a 0x-prefixed hex string.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%x", s[:]))
}

// UnmarshalJSON parses a hex signature with or without a 0x prefix.
func (s *Signature) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("evmtypes: signature must be a JSON string: %w", err)
	}
	parsed, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// String renders the 0x-prefixed hex form.
func (s Signature) String() string {
	return fmt.Sprintf("0x%x", s[:])
}

// decodeHexFlexible decodes a hex string after trimming an optional 0x
// prefix.
func decodeHexFlexible(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
