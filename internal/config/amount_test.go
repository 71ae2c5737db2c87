package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseUnits_ScalesByDecimals(t *testing.T) {
	a := Acceptance{Amount: "1.50", Decimals: 6}
	u, err := a.BaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "1500000", u.String())
}

func TestBaseUnits_WholeNumberAmount(t *testing.T) {
	a := Acceptance{Amount: "5", Decimals: 6}
	u, err := a.BaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "5000000", u.String())
}

func TestBaseUnits_ZeroDecimals(t *testing.T) {
	a := Acceptance{Amount: "42", Decimals: 0}
	u, err := a.BaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "42", u.String())
}

func TestBaseUnits_RejectsNegativeAmount(t *testing.T) {
	a := Acceptance{Amount: "-1.00", Decimals: 6}
	_, err := a.BaseUnits()
	assert.Error(t, err)
}

func TestBaseUnits_RejectsTooManyFractionalDigits(t *testing.T) {
	a := Acceptance{Amount: "1.1234567", Decimals: 6}
	_, err := a.BaseUnits()
	assert.Error(t, err)
}

func TestBaseUnits_RejectsEmptyAmount(t *testing.T) {
	a := Acceptance{Amount: "", Decimals: 6}
	_, err := a.BaseUnits()
	assert.Error(t, err)
}

func TestBaseUnits_LargeAmount_NoPrecisionLoss(t *testing.T) {
	// Well above float64's 2^53 exact-integer ceiling; must round-trip exactly.
	a := Acceptance{Amount: "123456789012.123456", Decimals: 6}
	u, err := a.BaseUnits()
	require.NoError(t, err)
	assert.Equal(t, "123456789012123456", u.String())
}

func TestMonthlyFlowRate_DividesExactly(t *testing.T) {
	// secondsPerMonth = 2,628,000; pick an amount whose base units divide
	// evenly so the exact truncation is easy to hand-verify.
	a := Acceptance{Amount: "2628", Decimals: 6} // 2,628,000,000 base units
	rate, err := a.MonthlyFlowRate()
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), rate.Int64())
}

func TestMonthlyFlowRate_TruncatesRemainder(t *testing.T) {
	a := Acceptance{Amount: "1", Decimals: 0} // 1 base unit over 2,628,000 seconds
	rate, err := a.MonthlyFlowRate()
	require.NoError(t, err)
	assert.Equal(t, int64(0), rate.Int64(), "sub-unit flow rates truncate toward zero, never round up")
}

func TestAcceptance_Validate_RequiresWSURLForStream(t *testing.T) {
	a := Acceptance{Scheme: SchemeStream, RPCURL: "http://x", Amount: "1", Decimals: 6}
	assert.Error(t, a.Validate())

	a.WSURL = "ws://x"
	assert.NoError(t, a.Validate())
}

func TestAcceptance_Validate_RejectsUnknownScheme(t *testing.T) {
	a := Acceptance{Scheme: "bogus", RPCURL: "http://x", Amount: "1"}
	assert.Error(t, a.Validate())
}

func TestAcceptance_Validate_RejectsImplausibleDecimals(t *testing.T) {
	a := Acceptance{Scheme: SchemeOneTime, RPCURL: "http://x", Amount: "1", Decimals: 78}
	assert.Error(t, a.Validate())
}

func TestRouteAcceptances_MatchAndFor(t *testing.T) {
	routes := RouteAcceptances{
		"/premium": {
			{Scheme: SchemeOneTime},
			{Scheme: SchemeStream},
		},
	}

	a, ok := routes.Match("/premium", SchemeStream)
	require.True(t, ok)
	assert.Equal(t, SchemeStream, a.Scheme)

	_, ok = routes.Match("/premium", SchemeChannel)
	assert.False(t, ok)

	list, ok := routes.For("/premium")
	require.True(t, ok)
	assert.Len(t, list, 2)

	_, ok = routes.For("/unknown")
	assert.False(t, ok)
}
