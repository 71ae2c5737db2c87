package evmtypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU256_JSONRoundTrip_DecimalString(t *testing.T) {
	u, err := ParseU256("123456789012345678901234567890")
	require.NoError(t, err)

	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.Equal(t, `"123456789012345678901234567890"`, string(out))

	var back U256
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, 0, u.Cmp(back))
}

func TestU256_UnmarshalJSON_RejectsNumber(t *testing.T) {
	var u U256
	err := json.Unmarshal([]byte("123"), &u)
	assert.Error(t, err, "a bare JSON number must not silently become a u256")
}

func TestU256_ArithmeticDoesNotMutateOperands(t *testing.T) {
	a := NewU256FromUint64(10)
	b := NewU256FromUint64(3)

	sum := a.Add(b)
	diff := a.Sub(b)
	prod := a.Mul(b)
	quot := a.Div(b)

	assert.Equal(t, "13", sum.String())
	assert.Equal(t, "7", diff.String())
	assert.Equal(t, "30", prod.String())
	assert.Equal(t, "3", quot.String())
	assert.Equal(t, "10", a.String(), "operand a must be unchanged after Add/Sub/Mul/Div")
	assert.Equal(t, "3", b.String(), "operand b must be unchanged")
}

func TestU256FromBytes_LeftPadsShortInput(t *testing.T) {
	u, err := U256FromBytes([]byte{0x01, 0x00})
	require.NoError(t, err)
	assert.Equal(t, "256", u.String())
}

func TestU256FromBytes_RejectsOversizeInput(t *testing.T) {
	_, err := U256FromBytes(make([]byte, 33))
	assert.Error(t, err)
}

func TestU256_IsZero(t *testing.T) {
	assert.True(t, NewU256FromUint64(0).IsZero())
	assert.False(t, NewU256FromUint64(1).IsZero())
}
