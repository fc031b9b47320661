package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	t.Run("two decimal currency", func(t *testing.T) {
		v, err := ToMinor(decimal.RequireFromString("9.99"), "usd")
		require.NoError(t, err)
		require.Equal(t, int64(999), v)
	})

	t.Run("zero decimal currency", func(t *testing.T) {
		v, err := ToMinor(decimal.RequireFromString("1200"), "JPY")
		require.NoError(t, err)
		require.Equal(t, int64(1200), v)
	})

	t.Run("rejects excess precision", func(t *testing.T) {
		_, err := ToMinor(decimal.RequireFromString("9.999"), "USD")
		require.Error(t, err)
	})

	t.Run("rejects unknown currency", func(t *testing.T) {
		_, err := ToMinor(decimal.RequireFromString("1"), "XXX")
		require.Error(t, err)
	})
}

func TestFromMinorAgreesWithDecimal(t *testing.T) {
	d, err := FromMinor(2000, "EUR")
	require.NoError(t, err)
	require.True(t, d.Equal(decimal.RequireFromString("20.00")))

	s, err := Format(d, "EUR")
	require.NoError(t, err)
	require.Equal(t, "20.00", s)
}

func TestSupported(t *testing.T) {
	require.True(t, IsSupported(" eur "))
	require.False(t, IsSupported("BTC"))
}
