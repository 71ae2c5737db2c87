package evmtypes

import (
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignature_RoundTrip(t *testing.T) {
	hex65 := "0x" + strings.Repeat("ab", SignatureLength)
	sig, err := ParseSignature(hex65)
	require.NoError(t, err)
	assert.Equal(t, hex65, sig.String())
}

func TestParseSignature_RejectsWrongLength(t *testing.T) {
	_, err := ParseSignature("0x1234")
	assert.Error(t, err)
}

func TestSignature_JSONRoundTrip(t *testing.T) {
	hex65 := "0x" + strings.Repeat("cd", SignatureLength)
	sig, err := ParseSignature(hex65)
	require.NoError(t, err)

	out, err := json.Marshal(sig)
	require.NoError(t, err)

	var back Signature
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, sig, back)
}

func TestFlowRateFromBig_RejectsInt96Overflow(t *testing.T) {
	over := new(big.Int).Add(maxInt96, big.NewInt(1))
	_, err := FlowRateFromBig(over)
	assert.Error(t, err)

	under := new(big.Int).Sub(minInt96, big.NewInt(1))
	_, err = FlowRateFromBig(under)
	assert.Error(t, err)
}

func TestFlowRateFromBig_RejectsBeyondInt64(t *testing.T) {
	// Inside the int96 range but outside int64's: valid on the wire, outside
	// the range this gateway supports.
	v := new(big.Int).Lsh(big.NewInt(1), 70)
	_, err := FlowRateFromBig(v)
	assert.Error(t, err)
}

func TestFlowRateFromBig_AcceptsOrdinaryRates(t *testing.T) {
	rate, err := FlowRateFromBig(big.NewInt(380_517_503_805))
	require.NoError(t, err)
	assert.Equal(t, int64(380_517_503_805), rate.Int64())

	rate, err = FlowRateFromBig(big.NewInt(-1))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), rate.Int64())
}
