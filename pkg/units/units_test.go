package units

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEther(t *testing.T) {
	v, err := Ether("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	_, err = Ether("abc")
	assert.Error(t, err)

	_, err = ToBase(decimal.RequireFromString("0.001"), 2)
	assert.Error(t, err)
}

func TestFromBase(t *testing.T) {
	assert.Equal(t, "1.7", FromBase(MustEther("1.7"), EtherDecimals).String())
	assert.Equal(t, "0.05", FromBase(big.NewInt(5), 2).String())
}

func TestBps(t *testing.T) {
	assert.Equal(t, MustEther("0.085"), Bps(MustEther("1.7"), big.NewInt(500)))
	assert.EqualValues(t, 0, Bps(big.NewInt(1), big.NewInt(1)).Int64())
}
