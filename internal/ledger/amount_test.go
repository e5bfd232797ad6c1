package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.5", "1.5"},
		{" 0.00000001 ", "0.00000001"},
		{"0.123456785", "0.12345679"},
		{"0.000000004", "0"},
		{"-2", "-2"},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.Truef(t, dec(tt.want).Equal(got), "%q: want %s, got %s", tt.in, tt.want, got)
	}

	_, err := ParseAmount("one")
	assert.Error(t, err)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.50000000", FormatAmount(dec("1.5")))
	assert.Equal(t, "0.00000000", FormatAmount(dec("0")))
}

func TestCompareWithinEpsilon(t *testing.T) {
	assert.Equal(t, 0, compare(dec("1"), dec("1.000000009")))
	assert.Equal(t, 0, compare(dec("1"), dec("1")))
	assert.Equal(t, -1, compare(dec("1"), dec("1.00000001")))
	assert.Equal(t, 1, compare(dec("1.00000001"), dec("1")))
}

func TestValidAmount(t *testing.T) {
	for _, in := range []string{"0", "-0.1", "0.000000004"} {
		_, err := validAmount(dec(in))
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
	got, err := validAmount(dec("0.000000005"))
	require.NoError(t, err)
	assert.True(t, got.Equal(dec("0.00000001")))

	got, err = validAmount(dec("999999999999.99999999"))
	require.NoError(t, err)
	assert.True(t, got.Equal(MaxAmount))
	for _, in := range []string{"1000000000000", "1e13"} {
		_, err := validAmount(dec(in))
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestWalletHasEnough(t *testing.T) {
	w := Wallet{Balance: dec("1"), LockedBalance: dec("0.4")}

	assert.True(t, w.Available().Equal(dec("0.6")))
	assert.True(t, w.HasEnough(dec("0.6")))
	assert.True(t, w.HasEnough(dec("0.5")))
	assert.False(t, w.HasEnough(dec("0.60000001")))
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "BTC", NormalizeCurrency(" btc"))
	assert.Equal(t, "", NormalizeCurrency("  "))
}
