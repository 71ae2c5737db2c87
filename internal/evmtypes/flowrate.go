package evmtypes

import (
	"fmt"
	"math/big"
)

// FlowRate is a signed 96-bit integer: tokens-per-second in base units, the
// unit Superfluid's CFA uses for continuous streams. Go has no native int96,
// so this is a plain int64 validated at the decode boundary — int64
// comfortably holds every value a real flow-rate config produces, while
// keeping the record comparable and cheap to copy on the stream hot path.
type FlowRate int64

// Signed 96-bit bounds, as big.Int because they exceed int64.
var (
	maxInt96 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 95), big.NewInt(1))
	minInt96 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 95))
)

// NewFlowRate wraps a native int64, which always fits in 96 bits.
func NewFlowRate(v int64) FlowRate { return FlowRate(v) }

// FlowRateFromBig validates an ABI-decoded int96 value. Values inside the
// 96-bit range but beyond int64 are rejected too: no real token stream gets
// anywhere near 2^63 base units per second, and accepting them would force
// big.Int onto every cache record.
func FlowRateFromBig(v *big.Int) (FlowRate, error) {
	if v.Cmp(minInt96) < 0 || v.Cmp(maxInt96) > 0 {
		return 0, fmt.Errorf("evmtypes: flow rate %s overflows int96", v)
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("evmtypes: flow rate %s exceeds the supported range", v)
	}
	return FlowRate(v.Int64()), nil
}

// Int64 returns the underlying value.
func (f FlowRate) Int64() int64 { return int64(f) }
