package insurance_test

import (
	"testing"

	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/insurance"
)

func TestPayout_CapsAtBalance(t *testing.T) {
	f := insurance.NewFund(fixedpoint.FromInt(100))

	covered := f.Payout(fixedpoint.FromInt(130))
	if covered.Cmp(fixedpoint.FromInt(100)) != 0 {
		t.Errorf("covered: got %s, want 100e18", covered)
	}
	if f.Balance().Sign() != 0 {
		t.Errorf("balance after drain: %s", f.Balance())
	}

	// A drained fund covers nothing.
	if f.Payout(fixedpoint.FromInt(1)).Sign() != 0 {
		t.Error("empty fund must cover zero")
	}
}

func TestContribute_IgnoresNonPositive(t *testing.T) {
	f := insurance.NewFund(nil)
	f.Contribute(nil)
	f.Contribute(fixedpoint.FromInt(-3))
	if f.Balance().Sign() != 0 {
		t.Errorf("balance: %s", f.Balance())
	}

	f.Contribute(fixedpoint.FromInt(42))
	if f.Balance().Cmp(fixedpoint.FromInt(42)) != 0 {
		t.Errorf("balance: %s", f.Balance())
	}
}

func TestStats_TracksLifetimeTotals(t *testing.T) {
	f := insurance.NewFund(fixedpoint.FromInt(10))
	f.Contribute(fixedpoint.FromInt(5))
	f.Payout(fixedpoint.FromInt(8))

	contributed, paidOut := f.Stats()
	if contributed.Cmp(fixedpoint.FromInt(15)) != 0 {
		t.Errorf("contributed: %s", contributed)
	}
	if paidOut.Cmp(fixedpoint.FromInt(8)) != 0 {
		t.Errorf("paid out: %s", paidOut)
	}
}
