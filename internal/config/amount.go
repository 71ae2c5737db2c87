package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/evmx402/gateway/internal/evmtypes"
)

// secondsPerMonth is 365 days / 12 months in seconds, computed in the order
// that keeps it an exact integer (365*86400 is divisible by 12): the
// average month length the monthly-to-per-second flow-rate conversion uses.
const secondsPerMonth = 365 * 86400 / 12

// BaseUnits converts a's decimal Amount (e.g. "1.50") to base units using
// a.Decimals, via exact string-to-integer arithmetic — never a float
// multiplication — so the conversion loses no precision regardless of
// magnitude.
func (a Acceptance) BaseUnits() (evmtypes.U256, error) {
	return decimalToBaseUnits(a.Amount, a.Decimals)
}

// MonthlyFlowRate converts a's decimal monthly Amount into a per-second
// signed-96-bit flow rate: amount * 10^decimals / secondsPerMonth,
// truncated. Used only for Scheme == SchemeStream acceptances, where Amount
// is a monthly price rather than a one-shot price.
func (a Acceptance) MonthlyFlowRate() (evmtypes.FlowRate, error) {
	base, err := decimalToBaseUnits(a.Amount, a.Decimals)
	if err != nil {
		return 0, err
	}
	divisor := evmtypes.NewU256FromUint64(secondsPerMonth)
	perSecond := base.Div(divisor)
	if !perSecond.Int.IsUint64() || perSecond.Int.Uint64() > math.MaxInt64 {
		return 0, fmt.Errorf("config: monthly amount %q yields a per-second rate outside the flow-rate range", a.Amount)
	}
	return evmtypes.NewFlowRate(int64(perSecond.Int.Uint64())), nil
}

// decimalToBaseUnits scales a non-negative decimal string by 10^decimals
// using plain string manipulation: split on the decimal point, right-pad
// (or reject) the fractional part to exactly `decimals` digits, concatenate,
// and parse the result as an integer. No float ever enters the computation.
func decimalToBaseUnits(amount string, decimals int) (evmtypes.U256, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return evmtypes.U256{}, fmt.Errorf("config: empty amount")
	}
	if strings.HasPrefix(amount, "-") {
		return evmtypes.U256{}, fmt.Errorf("config: amount %q must not be negative", amount)
	}

	intPart, fracPart, hasFrac := strings.Cut(amount, ".")
	if !hasFrac {
		fracPart = ""
	}
	if len(fracPart) > decimals {
		return evmtypes.U256{}, fmt.Errorf(
			"config: amount %q has more fractional digits than the configured %d decimals", amount, decimals)
	}
	fracPart += strings.Repeat("0", decimals-len(fracPart))

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		combined = "0"
	}
	return evmtypes.ParseU256(combined)
}
