package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToMinorUnits(t *testing.T) {
	t.Parallel()

	cases := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"19.99", 1999},
		{"86.80", 8680},
		{"3.195", 320},
		{"0.005", 1},
		{"100", 10000},
	}
	for _, tc := range cases {
		if got := ToMinorUnits(decimal.RequireFromString(tc.amount)); got != tc.want {
			t.Fatalf("ToMinorUnits(%s) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

func TestFromMinorUnits(t *testing.T) {
	t.Parallel()

	if got := FromMinorUnits(8680); !got.Equal(decimal.RequireFromString("86.80")) {
		t.Fatalf("FromMinorUnits(8680) = %s, want 86.80", got)
	}
	if got := FromMinorUnits(0); !got.Equal(decimal.Zero) {
		t.Fatalf("FromMinorUnits(0) = %s, want 0", got)
	}
}
