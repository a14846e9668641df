package risk_test

import (
	"testing"

	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/risk"
)

func validParams() *risk.Params {
	return &risk.Params{
		MarketID:              "ETH-USD-PERP",
		IMRBps:                1_000,
		MMRBps:                500,
		LiquidationPenaltyBps: 250,
		PenaltyCapX18:         fixedpoint.FromInt(10_000),
		LiquidatorShareBps:    5_000,
	}
}

func TestValidate_Accepts(t *testing.T) {
	if err := risk.Validate(validParams()); err != nil {
		t.Errorf("valid params rejected: %v", err)
	}
}

func TestValidate_ZeroMMR(t *testing.T) {
	p := validParams()
	p.MMRBps = 0
	if err := risk.Validate(p); err == nil {
		t.Error("mmr_bps=0 must be rejected")
	}
}

func TestValidate_IMRBelowMMR(t *testing.T) {
	p := validParams()
	p.IMRBps = 400
	if err := risk.Validate(p); err == nil {
		t.Error("imr < mmr must be rejected")
	}
}

func TestValidate_IMREqualsMMRAllowed(t *testing.T) {
	p := validParams()
	p.IMRBps = p.MMRBps
	if err := risk.Validate(p); err != nil {
		t.Errorf("imr == mmr must be allowed: %v", err)
	}
}

func TestValidate_MinAboveMax(t *testing.T) {
	p := validParams()
	p.MinPositionSizeX18 = fixedpoint.FromInt(10)
	p.MaxPositionSizeX18 = fixedpoint.FromInt(5)
	if err := risk.Validate(p); err == nil {
		t.Error("min > max must be rejected")
	}
}

func TestRegistry_SetAndGet(t *testing.T) {
	r := risk.NewRegistry()

	if _, ok := r.Get("ETH-USD-PERP"); ok {
		t.Fatal("unset market must not resolve")
	}

	if err := r.Set(validParams()); err != nil {
		t.Fatalf("Set: %v", err)
	}

	p, ok := r.Get("ETH-USD-PERP")
	if !ok {
		t.Fatal("params must resolve after Set")
	}
	if p.PenaltyCapX18 == nil || p.MinPositionSizeX18 == nil || p.MaxPositionSizeX18 == nil {
		t.Error("nil bounds must be normalized to zero")
	}
}

func TestRegistry_SetRejectsInvalid(t *testing.T) {
	r := risk.NewRegistry()
	p := validParams()
	p.MMRBps = -1
	if err := r.Set(p); err == nil {
		t.Error("invalid params must not be installed")
	}
	if _, ok := r.Get(p.MarketID); ok {
		t.Error("rejected params must not be visible")
	}
}
