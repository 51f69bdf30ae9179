package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"500", 50000},
		{"0.01", 1},
		{"12.5", 1250},
		{"12.50", 1250},
		{"-3.25", -325},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := ToMinor(decimal.RequireFromString(tc.in))
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestToMinor_Rejects(t *testing.T) {
	_, err := ToMinor(decimal.RequireFromString("0.001"))
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = ToMinor(decimal.RequireFromString("100000000000000000000"))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestFromMinorRoundTrip(t *testing.T) {
	d := FromMinor(70000)
	assert.True(t, d.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, "700.00", Format(d))
	assert.Equal(t, "0.05", FormatMinor(5))

	// 0.1 + 0.2 类累积误差不应出现
	sum := int64(0)
	for i := 0; i < 10; i++ {
		v, err := ToMinor(decimal.RequireFromString("0.1"))
		require.NoError(t, err)
		sum += v
	}
	assert.Equal(t, "1.00", FormatMinor(sum))
}
