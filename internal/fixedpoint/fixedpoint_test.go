package fixedpoint_test

import (
	"math/big"
	"testing"

	"PerpClear/internal/fixedpoint"
)

func TestMulDiv_RoundDown(t *testing.T) {
	// 7 * 3 / 2 = 10.5 -> 10
	got := fixedpoint.MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2), fixedpoint.RoundDown)
	if got.Int64() != 10 {
		t.Errorf("got %d, want 10", got.Int64())
	}
}

func TestMulDiv_RoundUp(t *testing.T) {
	got := fixedpoint.MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2), fixedpoint.RoundUp)
	if got.Int64() != 11 {
		t.Errorf("got %d, want 11", got.Int64())
	}
}

func TestMulDiv_NegativeRoundsTowardZero(t *testing.T) {
	// -21 / 2 = -10.5: Down truncates toward zero, Up rounds away
	down := fixedpoint.MulDiv(big.NewInt(-7), big.NewInt(3), big.NewInt(2), fixedpoint.RoundDown)
	if down.Int64() != -10 {
		t.Errorf("RoundDown: got %d, want -10", down.Int64())
	}
	up := fixedpoint.MulDiv(big.NewInt(-7), big.NewInt(3), big.NewInt(2), fixedpoint.RoundUp)
	if up.Int64() != -11 {
		t.Errorf("RoundUp: got %d, want -11", up.Int64())
	}
}

func TestMulDiv_ExactNoRounding(t *testing.T) {
	down := fixedpoint.MulDiv(big.NewInt(6), big.NewInt(3), big.NewInt(2), fixedpoint.RoundDown)
	up := fixedpoint.MulDiv(big.NewInt(6), big.NewInt(3), big.NewInt(2), fixedpoint.RoundUp)
	if down.Int64() != 9 || up.Int64() != 9 {
		t.Errorf("exact division should not round: down=%d up=%d", down.Int64(), up.Int64())
	}
}

func TestMulX18_Identity(t *testing.T) {
	a := fixedpoint.FromInt(5)
	got := fixedpoint.MulX18(a, fixedpoint.One(), fixedpoint.RoundDown)
	if got.Cmp(a) != 0 {
		t.Errorf("a * 1.0 should equal a, got %s", got)
	}
}

func TestDivX18_Reciprocal(t *testing.T) {
	// 10 / 4 = 2.5
	got := fixedpoint.DivX18(fixedpoint.FromInt(10), fixedpoint.FromInt(4), fixedpoint.RoundDown)
	want := new(big.Int).Mul(big.NewInt(25), big.NewInt(fixedpoint.ScaleX18/10))
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestApplyBps(t *testing.T) {
	// 30 bps of 1_000_000 = 3_000
	got := fixedpoint.ApplyBps(big.NewInt(1_000_000), 30, fixedpoint.RoundDown)
	if got.Int64() != 3_000 {
		t.Errorf("got %d, want 3000", got.Int64())
	}
}

func TestApplyBps_RoundUpCollectsResidual(t *testing.T) {
	// 1 bps of 10_001 = 1.0001 -> 2 when collecting
	got := fixedpoint.ApplyBps(big.NewInt(10_001), 1, fixedpoint.RoundUp)
	if got.Int64() != 2 {
		t.Errorf("got %d, want 2", got.Int64())
	}
}

func TestTokenScaleRoundTrip(t *testing.T) {
	baseUnit := big.NewInt(1_000_000) // 6-decimal token
	x18 := fixedpoint.FromInt(123)

	units := fixedpoint.ScaleToToken(x18, baseUnit, fixedpoint.RoundDown)
	if units.Int64() != 123_000_000 {
		t.Fatalf("units: got %d", units.Int64())
	}

	back := fixedpoint.ScaleFromToken(units, baseUnit, fixedpoint.RoundDown)
	if back.Cmp(x18) != 0 {
		t.Errorf("round trip: got %s, want %s", back, x18)
	}
}

func TestScaleToToken_SubUnitDust(t *testing.T) {
	baseUnit := big.NewInt(1_000_000)
	dust := big.NewInt(1) // 1e-18 quote

	paid := fixedpoint.ScaleToToken(dust, baseUnit, fixedpoint.RoundDown)
	if paid.Sign() != 0 {
		t.Errorf("paying out dust should round to zero, got %s", paid)
	}

	collected := fixedpoint.ScaleToToken(dust, baseUnit, fixedpoint.RoundUp)
	if collected.Int64() != 1 {
		t.Errorf("collecting dust should round to one unit, got %s", collected)
	}
}

func TestMinMaxCopySemantics(t *testing.T) {
	a, b := big.NewInt(1), big.NewInt(2)
	m := fixedpoint.Min(a, b)
	m.SetInt64(99)
	if a.Int64() != 1 {
		t.Error("Min must return a copy")
	}
	x := fixedpoint.Max(a, b)
	x.SetInt64(77)
	if b.Int64() != 2 {
		t.Error("Max must return a copy")
	}
}
