// Package vamm implements the virtual constant-product pricing engine behind
// each perpetual market: virtual base/quote reserves, swap execution with an
// input-side fee, mark-price derivation, a time-weighted average price over a
// ring of observations, and the cumulative funding index derived from
// mark/index divergence.
//
// The engine is a pure pricing primitive: it never calls into the clearing
// engine and holds no account state. Swaps are split into a pure Quote step
// and a mutating Apply step so the clearing engine can run every risk check
// before committing anything.
package vamm

import (
	"errors"
	"fmt"
	"math/big"

	"PerpClear/internal/fixedpoint"
)

var (
	// ErrPaused is returned when a swap is attempted on a paused market.
	ErrPaused = errors.New("vamm: market is paused")

	// ErrZeroAmount is returned for zero or negative swap amounts.
	ErrZeroAmount = errors.New("vamm: amount must be positive")

	// ErrSlippage is returned when the average execution price violates the
	// caller's price limit.
	ErrSlippage = errors.New("vamm: price limit exceeded")

	// ErrReserveFloor is returned when a swap would push a virtual reserve
	// below its configured minimum.
	ErrReserveFloor = errors.New("vamm: swap would breach minimum reserves")

	// ErrInsufficientHistory is returned by TWAP when no observation at
	// least half the requested window old exists.
	ErrInsufficientHistory = errors.New("vamm: insufficient twap history for window")

	// ErrInvalidWindow is returned for a non-positive TWAP window.
	ErrInvalidWindow = errors.New("vamm: twap window must be positive")

	// ErrZeroReserve is returned when the base reserve is zero; the minimum
	// reserve floor makes this unreachable in normal operation.
	ErrZeroReserve = errors.New("vamm: zero base reserve")

	// ErrFeeTooHigh is returned when feeBps exceeds MaxFeeBps.
	ErrFeeTooHigh = errors.New("vamm: fee exceeds maximum")

	// ErrResetOutOfRange is returned when a reserve reset would move the
	// mark price by more than MaxResetMoveBps.
	ErrResetOutOfRange = errors.New("vamm: reset would move price beyond limit")
)

const (
	// MaxFeeBps caps the swap fee at 3%.
	MaxFeeBps = int64(300)

	// MaxResetMoveBps caps the mark-price move of a reserve reset at 10%.
	MaxResetMoveBps = int64(1_000)

	fundingElapsedCapSec = int64(3_600)
	fundingPeriodSec     = int64(86_400)
)

// Config holds the static pricing parameters of a market.
type Config struct {
	FeeBps          int64
	MinReserveBase  *big.Int
	MinReserveQuote *big.Int

	// FundingKX18 scales the mark/index premium into the funding rate
	// (1e18 = 1.0). Nil defaults to 1.0.
	FundingKX18 *big.Int

	// FundingMaxBpsPerHour clamps the funding index advance, in basis
	// points of the index price per hour of elapsed time.
	FundingMaxBpsPerHour int64

	// FundingTwapWindowSec is the lookback used when deriving the premium.
	FundingTwapWindowSec int64
}

// Engine is the per-market pricing and funding engine. It is not safe for
// concurrent use; the clearing engine serializes all access.
type Engine struct {
	cfg Config

	reserveBase  *big.Int
	reserveQuote *big.Int
	feeGrowthX18 *big.Int
	paused       bool

	ring *twapRing

	fundingIndexX18 *big.Int
	lastFundingAt   int64
}

// SwapResult describes a quoted swap. BaseDelta and QuoteDelta are from the
// trader's perspective: base positive means base received, quote negative
// means quote paid. FeeX18 is the quote-denominated fee accrued to the fee
// growth accumulator when the swap is applied.
type SwapResult struct {
	BaseDelta    *big.Int
	QuoteDelta   *big.Int
	AvgPriceX18  *big.Int
	FeeX18       *big.Int
	MarkAfterX18 *big.Int

	newBase  *big.Int
	newQuote *big.Int
}

// New creates a pricing engine seeded at the given mark price and base
// reserve. The quote reserve is derived so that quote/base equals the price.
func New(cfg Config, initialPriceX18, initialBase *big.Int, now int64) (*Engine, error) {
	if cfg.FeeBps < 0 || cfg.FeeBps > MaxFeeBps {
		return nil, fmt.Errorf("%w: %d bps", ErrFeeTooHigh, cfg.FeeBps)
	}
	if fixedpoint.IsZero(initialPriceX18) || initialPriceX18.Sign() < 0 {
		return nil, fmt.Errorf("vamm: initial price must be positive")
	}
	if fixedpoint.IsZero(initialBase) || initialBase.Sign() < 0 {
		return nil, fmt.Errorf("vamm: initial base reserve must be positive")
	}
	if cfg.MinReserveBase == nil {
		cfg.MinReserveBase = new(big.Int)
	}
	if cfg.MinReserveQuote == nil {
		cfg.MinReserveQuote = new(big.Int)
	}
	if cfg.FundingKX18 == nil {
		cfg.FundingKX18 = fixedpoint.One()
	}
	if cfg.FundingTwapWindowSec <= 0 {
		cfg.FundingTwapWindowSec = 3_600
	}

	quote := fixedpoint.MulX18(initialBase, initialPriceX18, fixedpoint.RoundDown)
	if initialBase.Cmp(cfg.MinReserveBase) < 0 || quote.Cmp(cfg.MinReserveQuote) < 0 {
		return nil, fmt.Errorf("vamm: initial reserves below configured minimums")
	}

	return &Engine{
		cfg:             cfg,
		reserveBase:     fixedpoint.Clone(initialBase),
		reserveQuote:    quote,
		feeGrowthX18:    new(big.Int),
		ring:            newTwapRing(now),
		fundingIndexX18: new(big.Int),
		lastFundingAt:   now,
	}, nil
}

// MarkPrice returns reserveQuote/reserveBase.
func (e *Engine) MarkPrice() (*big.Int, error) {
	if e.reserveBase.Sign() == 0 {
		return nil, ErrZeroReserve
	}
	return fixedpoint.DivX18(e.reserveQuote, e.reserveBase, fixedpoint.RoundDown), nil
}

// QuoteBuy prices a swap delivering amountBaseOut to the trader. The net
// quote input is solved from the constant product and rounded up, then the
// input-side fee is added on top, so the trader owes the gross amount and the
// average execution price is biased in the protocol's favor.
// priceLimitX18 == 0 disables the slippage check.
func (e *Engine) QuoteBuy(amountBaseOut, priceLimitX18 *big.Int) (*SwapResult, error) {
	if e.paused {
		return nil, ErrPaused
	}
	if fixedpoint.IsZero(amountBaseOut) || amountBaseOut.Sign() < 0 {
		return nil, ErrZeroAmount
	}

	newBase := new(big.Int).Sub(e.reserveBase, amountBaseOut)
	if newBase.Sign() <= 0 || newBase.Cmp(e.cfg.MinReserveBase) < 0 {
		return nil, ErrReserveFloor
	}

	k := new(big.Int).Mul(e.reserveBase, e.reserveQuote)
	newQuote := fixedpoint.MulDiv(k, big.NewInt(1), newBase, fixedpoint.RoundUp)
	quoteIn := new(big.Int).Sub(newQuote, e.reserveQuote)

	fee := fixedpoint.ApplyBps(quoteIn, e.cfg.FeeBps, fixedpoint.RoundUp)
	grossIn := new(big.Int).Add(quoteIn, fee)

	avgPrice := fixedpoint.DivX18(grossIn, amountBaseOut, fixedpoint.RoundUp)
	if priceLimitX18 != nil && priceLimitX18.Sign() > 0 && avgPrice.Cmp(priceLimitX18) > 0 {
		return nil, fmt.Errorf("%w: avg %s > limit %s", ErrSlippage, avgPrice, priceLimitX18)
	}

	return &SwapResult{
		BaseDelta:    fixedpoint.Clone(amountBaseOut),
		QuoteDelta:   fixedpoint.Neg(grossIn),
		AvgPriceX18:  avgPrice,
		FeeX18:       fee,
		MarkAfterX18: fixedpoint.DivX18(newQuote, newBase, fixedpoint.RoundDown),
		newBase:      newBase,
		newQuote:     newQuote,
	}, nil
}

// QuoteSell prices a swap taking amountBaseIn from the trader. The fee share
// of the input is excluded before applying the product formula; the quote
// output is rounded down. priceLimitX18 == 0 disables the slippage check.
func (e *Engine) QuoteSell(amountBaseIn, priceLimitX18 *big.Int) (*SwapResult, error) {
	if e.paused {
		return nil, ErrPaused
	}
	if fixedpoint.IsZero(amountBaseIn) || amountBaseIn.Sign() < 0 {
		return nil, ErrZeroAmount
	}

	feeBase := fixedpoint.ApplyBps(amountBaseIn, e.cfg.FeeBps, fixedpoint.RoundUp)
	netBase := new(big.Int).Sub(amountBaseIn, feeBase)
	if netBase.Sign() <= 0 {
		return nil, ErrZeroAmount
	}

	newBase := new(big.Int).Add(e.reserveBase, netBase)
	k := new(big.Int).Mul(e.reserveBase, e.reserveQuote)
	newQuote := fixedpoint.MulDiv(k, big.NewInt(1), newBase, fixedpoint.RoundUp)
	if newQuote.Cmp(e.cfg.MinReserveQuote) < 0 {
		return nil, ErrReserveFloor
	}

	quoteOut := new(big.Int).Sub(e.reserveQuote, newQuote)
	if quoteOut.Sign() < 0 {
		quoteOut.SetInt64(0)
	}

	avgPrice := fixedpoint.DivX18(quoteOut, amountBaseIn, fixedpoint.RoundDown)
	if priceLimitX18 != nil && priceLimitX18.Sign() > 0 && avgPrice.Cmp(priceLimitX18) < 0 {
		return nil, fmt.Errorf("%w: avg %s < limit %s", ErrSlippage, avgPrice, priceLimitX18)
	}

	return &SwapResult{
		BaseDelta:    fixedpoint.Neg(amountBaseIn),
		QuoteDelta:   quoteOut,
		AvgPriceX18:  avgPrice,
		FeeX18:       fixedpoint.ApplyBps(quoteOut, e.cfg.FeeBps, fixedpoint.RoundUp),
		MarkAfterX18: fixedpoint.DivX18(newQuote, newBase, fixedpoint.RoundDown),
		newBase:      newBase,
		newQuote:     newQuote,
	}, nil
}

// Apply commits a quoted swap: the TWAP accumulator is checkpointed at the
// pre-swap price, then reserves move and the fee accrues.
func (e *Engine) Apply(res *SwapResult, now int64) {
	mark := fixedpoint.DivX18(e.reserveQuote, e.reserveBase, fixedpoint.RoundDown)
	e.ring.observe(now, mark, !e.paused)

	e.reserveBase = res.newBase
	e.reserveQuote = res.newQuote
	e.feeGrowthX18.Add(e.feeGrowthX18, res.FeeX18)
}

// Buy quotes and immediately applies a buy swap.
func (e *Engine) Buy(amountBaseOut, priceLimitX18 *big.Int, now int64) (*SwapResult, error) {
	res, err := e.QuoteBuy(amountBaseOut, priceLimitX18)
	if err != nil {
		return nil, err
	}
	e.Apply(res, now)
	return res, nil
}

// Sell quotes and immediately applies a sell swap.
func (e *Engine) Sell(amountBaseIn, priceLimitX18 *big.Int, now int64) (*SwapResult, error) {
	res, err := e.QuoteSell(amountBaseIn, priceLimitX18)
	if err != nil {
		return nil, err
	}
	e.Apply(res, now)
	return res, nil
}

// TWAP returns the time-weighted average mark price over the trailing window
// (seconds). Paused spans carry no weight.
func (e *Engine) TWAP(now, windowSec int64) (*big.Int, error) {
	mark, err := e.MarkPrice()
	if err != nil {
		return nil, err
	}
	return e.ring.average(now, windowSec, mark, !e.paused)
}

// PokeFunding advances the cumulative funding index. It is idempotent per
// timestamp and caps the effective elapsed time at one hour. A nil or zero
// index price advances the clock without moving the index, deferring accrual
// until the oracle recovers.
func (e *Engine) PokeFunding(now int64, indexPriceX18 *big.Int) error {
	if now <= e.lastFundingAt {
		return nil
	}

	if fixedpoint.IsZero(indexPriceX18) {
		e.lastFundingAt = now
		return nil
	}

	elapsed := now - e.lastFundingAt
	if elapsed > fundingElapsedCapSec {
		elapsed = fundingElapsedCapSec
	}

	ref, err := e.TWAP(now, e.cfg.FundingTwapWindowSec)
	if err != nil {
		// Young market: fall back to the instantaneous mark price.
		ref, err = e.MarkPrice()
		if err != nil {
			return err
		}
	}

	premium := new(big.Int).Sub(ref, indexPriceX18)
	rate := fixedpoint.MulX18(premium, e.cfg.FundingKX18, fixedpoint.RoundDown)
	rate = fixedpoint.MulDiv(rate, big.NewInt(elapsed), big.NewInt(fundingPeriodSec), fixedpoint.RoundDown)

	maxMove := fixedpoint.ApplyBps(indexPriceX18, e.cfg.FundingMaxBpsPerHour, fixedpoint.RoundDown)
	maxMove = fixedpoint.MulDiv(maxMove, big.NewInt(elapsed), big.NewInt(fundingElapsedCapSec), fixedpoint.RoundDown)
	if fixedpoint.Abs(rate).Cmp(maxMove) > 0 {
		if rate.Sign() > 0 {
			rate = maxMove
		} else {
			rate = fixedpoint.Neg(maxMove)
		}
	}

	e.fundingIndexX18.Add(e.fundingIndexX18, rate)
	e.lastFundingAt = now
	return nil
}

// FundingIndex returns the cumulative funding per base unit (quote, X18).
func (e *Engine) FundingIndex() *big.Int {
	return fixedpoint.Clone(e.fundingIndexX18)
}

// FeeGrowth returns the cumulative quote-denominated fee accumulator.
func (e *Engine) FeeGrowth() *big.Int {
	return fixedpoint.Clone(e.feeGrowthX18)
}

// Reserves returns copies of the current virtual reserves.
func (e *Engine) Reserves() (base, quote *big.Int) {
	return fixedpoint.Clone(e.reserveBase), fixedpoint.Clone(e.reserveQuote)
}

// FeeBps returns the configured swap fee.
func (e *Engine) FeeBps() int64 {
	return e.cfg.FeeBps
}

// Paused reports whether swaps are suspended.
func (e *Engine) Paused() bool {
	return e.paused
}

// Pause suspends swaps and checkpoints the TWAP so the paused span is
// excluded from averages.
func (e *Engine) Pause(now int64) {
	if e.paused {
		return
	}
	mark := fixedpoint.DivX18(e.reserveQuote, e.reserveBase, fixedpoint.RoundDown)
	e.ring.observe(now, mark, true)
	e.paused = true
}

// Unpause resumes swaps; the span since Pause carries no TWAP weight.
func (e *Engine) Unpause(now int64) {
	if !e.paused {
		return
	}
	mark := fixedpoint.DivX18(e.reserveQuote, e.reserveBase, fixedpoint.RoundDown)
	e.ring.observe(now, mark, false)
	e.paused = false
}

// FundingClock returns the timestamp of the last funding index advance.
func (e *Engine) FundingClock() int64 {
	return e.lastFundingAt
}

// RestoreState overwrites reserves and funding state from a snapshot. TWAP
// history is not snapshotted; the ring restarts empty at the restore time and
// averages fail until enough history accumulates again.
func (e *Engine) RestoreState(reserveBase, reserveQuote, fundingIndexX18 *big.Int, lastFundingAt, now int64) {
	e.reserveBase = fixedpoint.Clone(reserveBase)
	e.reserveQuote = fixedpoint.Clone(reserveQuote)
	e.fundingIndexX18 = fixedpoint.Clone(fundingIndexX18)
	e.lastFundingAt = lastFundingAt
	e.ring = newTwapRing(now)
}

// ResetReserves re-seeds depleted reserves at a new (price, base) pair.
// The resulting mark price must stay within MaxResetMoveBps of the current
// mark so open positions are not shoved into liquidation by the reset.
func (e *Engine) ResetReserves(newPriceX18, newBase *big.Int, now int64) error {
	if fixedpoint.IsZero(newPriceX18) || newPriceX18.Sign() < 0 ||
		fixedpoint.IsZero(newBase) || newBase.Sign() < 0 {
		return ErrZeroAmount
	}
	if newBase.Cmp(e.cfg.MinReserveBase) < 0 {
		return ErrReserveFloor
	}

	oldMark, err := e.MarkPrice()
	if err != nil {
		return err
	}

	diff := fixedpoint.Abs(new(big.Int).Sub(newPriceX18, oldMark))
	limit := fixedpoint.ApplyBps(oldMark, MaxResetMoveBps, fixedpoint.RoundDown)
	if diff.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s -> %s", ErrResetOutOfRange, oldMark, newPriceX18)
	}

	e.ring.observe(now, oldMark, !e.paused)
	e.reserveBase = fixedpoint.Clone(newBase)
	e.reserveQuote = fixedpoint.MulX18(newBase, newPriceX18, fixedpoint.RoundDown)
	return nil
}
