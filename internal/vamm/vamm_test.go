package vamm_test

import (
	"errors"
	"math/big"
	"testing"

	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/vamm"
)

const t0 = int64(1_700_000_000)

func newEngine(t *testing.T, feeBps int64) *vamm.Engine {
	t.Helper()
	e, err := vamm.New(vamm.Config{
		FeeBps:               feeBps,
		MinReserveBase:       fixedpoint.FromInt(10),
		MinReserveQuote:      fixedpoint.FromInt(10),
		FundingMaxBpsPerHour: 75,
		FundingTwapWindowSec: 3600,
	}, fixedpoint.FromInt(2_000), fixedpoint.FromInt(1_000), t0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestNew_RejectsFeeAboveCap(t *testing.T) {
	_, err := vamm.New(vamm.Config{FeeBps: 301},
		fixedpoint.FromInt(2_000), fixedpoint.FromInt(1_000), t0)
	if !errors.Is(err, vamm.ErrFeeTooHigh) {
		t.Errorf("expected ErrFeeTooHigh, got %v", err)
	}

	if _, err := vamm.New(vamm.Config{FeeBps: 300},
		fixedpoint.FromInt(2_000), fixedpoint.FromInt(1_000), t0); err != nil {
		t.Errorf("300 bps must be accepted: %v", err)
	}
}

func TestMarkPrice_Initial(t *testing.T) {
	e := newEngine(t, 0)
	mark, err := e.MarkPrice()
	if err != nil {
		t.Fatal(err)
	}
	if mark.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("mark: got %s, want 2000e18", mark)
	}
}

func TestBuy_PriceImpactAndMarkIncrease(t *testing.T) {
	e := newEngine(t, 0)
	before, _ := e.MarkPrice()

	res, err := e.Buy(fixedpoint.FromInt(1), nil, t0+1)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}

	if res.AvgPriceX18.Cmp(fixedpoint.FromInt(2_000)) <= 0 {
		t.Errorf("avg price must exceed 2000 due to impact, got %s", res.AvgPriceX18)
	}
	after, _ := e.MarkPrice()
	if after.Cmp(before) <= 0 {
		t.Errorf("mark must increase after a buy: %s -> %s", before, after)
	}
	if res.BaseDelta.Sign() <= 0 || res.QuoteDelta.Sign() >= 0 {
		t.Errorf("buy deltas must be +base/-quote, got %s/%s", res.BaseDelta, res.QuoteDelta)
	}
}

func TestSell_DeltasAndMarkDecrease(t *testing.T) {
	e := newEngine(t, 0)
	before, _ := e.MarkPrice()

	res, err := e.Sell(fixedpoint.FromInt(1), nil, t0+1)
	if err != nil {
		t.Fatalf("Sell: %v", err)
	}

	if res.BaseDelta.Sign() >= 0 || res.QuoteDelta.Sign() <= 0 {
		t.Errorf("sell deltas must be -base/+quote, got %s/%s", res.BaseDelta, res.QuoteDelta)
	}
	if res.AvgPriceX18.Cmp(fixedpoint.FromInt(2_000)) >= 0 {
		t.Errorf("sell avg price must be below 2000, got %s", res.AvgPriceX18)
	}
	after, _ := e.MarkPrice()
	if after.Cmp(before) >= 0 {
		t.Errorf("mark must decrease after a sell: %s -> %s", before, after)
	}
}

func TestBuy_SlippageLimit(t *testing.T) {
	e := newEngine(t, 0)

	// Limit below the unavoidable impact price.
	_, err := e.Buy(fixedpoint.FromInt(1), fixedpoint.FromInt(2_000), t0+1)
	if !errors.Is(err, vamm.ErrSlippage) {
		t.Errorf("expected ErrSlippage, got %v", err)
	}

	// Generous limit passes.
	if _, err := e.Buy(fixedpoint.FromInt(1), fixedpoint.FromInt(2_100), t0+1); err != nil {
		t.Errorf("buy within limit: %v", err)
	}
}

func TestSell_SlippageLimit(t *testing.T) {
	e := newEngine(t, 0)

	_, err := e.Sell(fixedpoint.FromInt(1), fixedpoint.FromInt(2_000), t0+1)
	if !errors.Is(err, vamm.ErrSlippage) {
		t.Errorf("expected ErrSlippage, got %v", err)
	}
	if _, err := e.Sell(fixedpoint.FromInt(1), fixedpoint.FromInt(1_900), t0+1); err != nil {
		t.Errorf("sell within limit: %v", err)
	}
}

func TestBuy_ReserveFloor(t *testing.T) {
	e := newEngine(t, 0)

	// 991 would leave 9 < min 10.
	_, err := e.Buy(fixedpoint.FromInt(991), nil, t0+1)
	if !errors.Is(err, vamm.ErrReserveFloor) {
		t.Errorf("expected ErrReserveFloor, got %v", err)
	}

	if _, err := e.Buy(fixedpoint.FromInt(990), nil, t0+1); err != nil {
		t.Errorf("buy to exactly the floor must pass: %v", err)
	}
}

func TestSwap_ZeroAmount(t *testing.T) {
	e := newEngine(t, 0)
	if _, err := e.Buy(new(big.Int), nil, t0+1); !errors.Is(err, vamm.ErrZeroAmount) {
		t.Errorf("buy zero: got %v", err)
	}
	if _, err := e.Sell(new(big.Int), nil, t0+1); !errors.Is(err, vamm.ErrZeroAmount) {
		t.Errorf("sell zero: got %v", err)
	}
}

func TestPause_BlocksSwapsUntilUnpause(t *testing.T) {
	e := newEngine(t, 0)
	e.Pause(t0 + 1)

	if _, err := e.Buy(fixedpoint.FromInt(1), nil, t0+2); !errors.Is(err, vamm.ErrPaused) {
		t.Errorf("expected ErrPaused, got %v", err)
	}

	e.Unpause(t0 + 10)
	if _, err := e.Buy(fixedpoint.FromInt(1), nil, t0+11); err != nil {
		t.Errorf("buy after unpause: %v", err)
	}
}

func TestFee_AccruesToGrowthAccumulator(t *testing.T) {
	e := newEngine(t, 30)
	if e.FeeGrowth().Sign() != 0 {
		t.Fatal("fee growth must start at zero")
	}
	if _, err := e.Buy(fixedpoint.FromInt(1), nil, t0+1); err != nil {
		t.Fatal(err)
	}
	if e.FeeGrowth().Sign() <= 0 {
		t.Error("fee growth must accrue on swap")
	}
}

func TestBuy_FeeChargedOnQuoteInput(t *testing.T) {
	free := newEngine(t, 0)
	taxed := newEngine(t, 100)

	net, err := free.QuoteBuy(fixedpoint.FromInt(1), nil)
	if err != nil {
		t.Fatalf("QuoteBuy fee-free: %v", err)
	}
	gross, err := taxed.QuoteBuy(fixedpoint.FromInt(1), nil)
	if err != nil {
		t.Fatalf("QuoteBuy with fee: %v", err)
	}

	if gross.FeeX18.Sign() <= 0 {
		t.Fatal("buy with fee must quote a positive fee")
	}
	// The trader owes the product-formula quote input plus the fee.
	want := new(big.Int).Sub(net.QuoteDelta, gross.FeeX18)
	if gross.QuoteDelta.Cmp(want) != 0 {
		t.Errorf("gross quote owed: got %s, want %s (net %s + fee %s)",
			gross.QuoteDelta, want, net.QuoteDelta, gross.FeeX18)
	}
	// The average price is computed from the gross amount.
	if gross.AvgPriceX18.Cmp(net.AvgPriceX18) <= 0 {
		t.Errorf("avg price with fee (%s) must exceed fee-free avg (%s)",
			gross.AvgPriceX18, net.AvgPriceX18)
	}

	// Reserves move by the net amount only: the fee never inflates the pool.
	free.Apply(net, t0+1)
	taxed.Apply(gross, t0+1)
	freeMark, _ := free.MarkPrice()
	taxedMark, _ := taxed.MarkPrice()
	if freeMark.Cmp(taxedMark) != 0 {
		t.Errorf("post-swap marks diverge: %s vs %s", freeMark, taxedMark)
	}
}

func TestSell_FeeReducesProceeds(t *testing.T) {
	free := newEngine(t, 0)
	taxed := newEngine(t, 100)

	net, err := free.QuoteSell(fixedpoint.FromInt(1), nil)
	if err != nil {
		t.Fatalf("QuoteSell fee-free: %v", err)
	}
	gross, err := taxed.QuoteSell(fixedpoint.FromInt(1), nil)
	if err != nil {
		t.Fatalf("QuoteSell with fee: %v", err)
	}
	if gross.QuoteDelta.Cmp(net.QuoteDelta) >= 0 {
		t.Errorf("sell proceeds with fee (%s) must be below fee-free proceeds (%s)",
			gross.QuoteDelta, net.QuoteDelta)
	}
}

func TestTWAP_InsufficientHistoryFails(t *testing.T) {
	e := newEngine(t, 0)

	// Single observation only 10s old; window 3600 requires an anchor at
	// least 1800s old.
	if _, err := e.TWAP(t0+10, 3_600); !errors.Is(err, vamm.ErrInsufficientHistory) {
		t.Errorf("expected ErrInsufficientHistory, got %v", err)
	}

	// A smaller explicit window succeeds.
	avg, err := e.TWAP(t0+10, 10)
	if err != nil {
		t.Fatalf("small window: %v", err)
	}
	if avg.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("flat-price twap: got %s", avg)
	}
}

func TestTWAP_ClampsWindowToAge(t *testing.T) {
	e := newEngine(t, 0)

	// Contract is 3000s old; window 4000 clamps to 3000 and the seed
	// observation (3000s old >= 2000s half-window) anchors it.
	avg, err := e.TWAP(t0+3_000, 4_000)
	if err != nil {
		t.Fatalf("clamped window: %v", err)
	}
	if avg.Cmp(fixedpoint.FromInt(2_000)) != 0 {
		t.Errorf("got %s, want 2000e18", avg)
	}
}

func TestTWAP_WeightsPriceByTime(t *testing.T) {
	e := newEngine(t, 0)

	// 100s at 2000, then shift price and sit for 100s.
	if _, err := e.Buy(fixedpoint.FromInt(100), nil, t0+100); err != nil {
		t.Fatal(err)
	}
	after, _ := e.MarkPrice()

	avg, err := e.TWAP(t0+200, 200)
	if err != nil {
		t.Fatal(err)
	}
	if avg.Cmp(fixedpoint.FromInt(2_000)) <= 0 || avg.Cmp(after) >= 0 {
		t.Errorf("twap %s must lie between 2000e18 and %s", avg, after)
	}
}

func TestTWAP_ExcludesPausedSpan(t *testing.T) {
	e := newEngine(t, 0)

	// Move price at t0+100, pause from t0+200 to t0+800, read at t0+1000.
	if _, err := e.Buy(fixedpoint.FromInt(200), nil, t0+100); err != nil {
		t.Fatal(err)
	}
	shifted, _ := e.MarkPrice()
	e.Pause(t0 + 200)
	e.Unpause(t0 + 800)

	avg, err := e.TWAP(t0+1_000, 1_000)
	if err != nil {
		t.Fatal(err)
	}

	// Active time: 100s at 2000 + 300s at shifted price. With the paused
	// 600s excluded, the average must sit well above the midpoint it would
	// have if the pre-move price dominated the denominator.
	want := fixedpoint.MulDiv(
		new(big.Int).Add(
			new(big.Int).Mul(fixedpoint.FromInt(2_000), big.NewInt(100)),
			new(big.Int).Mul(shifted, big.NewInt(300)),
		),
		big.NewInt(1), big.NewInt(400), fixedpoint.RoundDown)

	diff := fixedpoint.Abs(new(big.Int).Sub(avg, want))
	if diff.Cmp(fixedpoint.FromInt(1)) > 0 {
		t.Errorf("paused span must carry no weight: got %s, want ~%s", avg, want)
	}
}

func TestPokeFunding_IdempotentPerTimestamp(t *testing.T) {
	e := newEngine(t, 0)
	index := fixedpoint.FromInt(1_990)

	if err := e.PokeFunding(t0+100, index); err != nil {
		t.Fatal(err)
	}
	first := e.FundingIndex()

	if err := e.PokeFunding(t0+100, index); err != nil {
		t.Fatal(err)
	}
	if e.FundingIndex().Cmp(first) != 0 {
		t.Error("same-timestamp poke must be a no-op")
	}
}

func TestPokeFunding_PositivePremiumRaisesIndex(t *testing.T) {
	e := newEngine(t, 0)

	// Mark 2000 vs index 1990: longs pay, index advances upward.
	if err := e.PokeFunding(t0+600, fixedpoint.FromInt(1_990)); err != nil {
		t.Fatal(err)
	}
	if e.FundingIndex().Sign() <= 0 {
		t.Errorf("positive premium must raise funding index, got %s", e.FundingIndex())
	}
}

func TestPokeFunding_ZeroIndexAdvancesClockOnly(t *testing.T) {
	e := newEngine(t, 0)

	if err := e.PokeFunding(t0+600, new(big.Int)); err != nil {
		t.Fatalf("zero index price must not error: %v", err)
	}
	if e.FundingIndex().Sign() != 0 {
		t.Error("zero index price must not move the funding index")
	}

	// Oracle recovers: accrual resumes from the advanced clock, so only
	// 600 further seconds count.
	if err := e.PokeFunding(t0+1_200, fixedpoint.FromInt(1_000)); err != nil {
		t.Fatal(err)
	}
	moved := e.FundingIndex()

	// Compare with an engine that never saw the outage but pokes with the
	// same elapsed span.
	ref := newEngine(t, 0)
	if err := ref.PokeFunding(t0+600, fixedpoint.FromInt(1_000)); err != nil {
		t.Fatal(err)
	}
	if moved.Cmp(ref.FundingIndex()) != 0 {
		t.Errorf("post-outage accrual mismatch: %s vs %s", moved, ref.FundingIndex())
	}
}

func TestPokeFunding_RateClamped(t *testing.T) {
	e := newEngine(t, 0)

	// Huge divergence (index 1000 vs mark 2000) over one hour: the advance
	// is clamped to 75 bps of index price.
	index := fixedpoint.FromInt(1_000)
	if err := e.PokeFunding(t0+3_600, index); err != nil {
		t.Fatal(err)
	}

	cap := fixedpoint.ApplyBps(index, 75, fixedpoint.RoundDown)
	if e.FundingIndex().Cmp(cap) != 0 {
		t.Errorf("rate must clamp to cap %s, got %s", cap, e.FundingIndex())
	}
}

func TestPokeFunding_ElapsedCappedAtOneHour(t *testing.T) {
	a := newEngine(t, 0)
	b := newEngine(t, 0)
	index := fixedpoint.FromInt(1_999)

	if err := a.PokeFunding(t0+3_600, index); err != nil {
		t.Fatal(err)
	}
	// 10x the wall-clock gap accrues no more than one hour's worth.
	if err := b.PokeFunding(t0+36_000, index); err != nil {
		t.Fatal(err)
	}
	if b.FundingIndex().Cmp(a.FundingIndex()) != 0 {
		t.Errorf("elapsed must cap at 1h: %s vs %s", b.FundingIndex(), a.FundingIndex())
	}
}

func TestResetReserves_BoundedPriceMove(t *testing.T) {
	e := newEngine(t, 0)

	// 11% move rejected.
	if err := e.ResetReserves(fixedpoint.FromInt(2_220), fixedpoint.FromInt(500), t0+1); !errors.Is(err, vamm.ErrResetOutOfRange) {
		t.Errorf("expected ErrResetOutOfRange, got %v", err)
	}

	// 10% move accepted, reserves re-seeded.
	if err := e.ResetReserves(fixedpoint.FromInt(2_200), fixedpoint.FromInt(500), t0+1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	mark, _ := e.MarkPrice()
	if mark.Cmp(fixedpoint.FromInt(2_200)) != 0 {
		t.Errorf("mark after reset: got %s", mark)
	}
	base, _ := e.Reserves()
	if base.Cmp(fixedpoint.FromInt(500)) != 0 {
		t.Errorf("base after reset: got %s", base)
	}
}

func TestQuoteDoesNotMutate(t *testing.T) {
	e := newEngine(t, 10)
	before, _ := e.MarkPrice()

	if _, err := e.QuoteBuy(fixedpoint.FromInt(5), nil); err != nil {
		t.Fatal(err)
	}
	after, _ := e.MarkPrice()
	if before.Cmp(after) != 0 {
		t.Error("QuoteBuy must not move reserves")
	}
	if e.FeeGrowth().Sign() != 0 {
		t.Error("QuoteBuy must not accrue fees")
	}
}
