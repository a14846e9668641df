package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/event"
	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/market"
	"PerpClear/internal/position"
	"PerpClear/internal/risk"
	"PerpClear/internal/vamm"
)

// TradeRequest is an open/close command. SizeDeltaX18 is signed base:
// positive buys (long), negative sells (short). PriceLimitX18 bounds the
// average execution price; zero or nil disables the check. RequestID is an
// optional idempotency key.
type TradeRequest struct {
	Account       uuid.UUID
	MarketID      string
	SizeDeltaX18  *big.Int
	PriceLimitX18 *big.Int
	RequestID     string
}

// OpenPosition executes a signed trade against the market's pricing engine:
// open, increase, reduce, close or flip, depending on the current position.
func (ch *Clearinghouse) OpenPosition(req TradeRequest) (*event.TradeExecuted, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.executeTrade(req)
}

// ClosePosition reduces the account's position by sizeX18 (absolute base;
// zero closes the whole position), trading in the offsetting direction.
func (ch *Clearinghouse) ClosePosition(account uuid.UUID, marketID string, sizeX18, priceLimitX18 *big.Int, requestID string) (*event.TradeExecuted, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	pos := ch.book.Get(account, marketID)
	if pos == nil || pos.IsFlat() {
		return nil, ErrNoPosition
	}

	abs := fixedpoint.Abs(pos.SizeX18)
	if sizeX18 != nil && sizeX18.Sign() > 0 {
		abs = fixedpoint.Min(abs, sizeX18)
	}
	delta := fixedpoint.Neg(abs)
	if pos.SizeX18.Sign() < 0 {
		delta = abs
	}

	return ch.executeTrade(TradeRequest{
		Account:       account,
		MarketID:      marketID,
		SizeDeltaX18:  delta,
		PriceLimitX18: priceLimitX18,
		RequestID:     requestID,
	})
}

// executeTrade is the core trade pipeline. Caller holds the lock.
func (ch *Clearinghouse) executeTrade(req TradeRequest) (*event.TradeExecuted, error) {
	if req.SizeDeltaX18 == nil || req.SizeDeltaX18.Sign() == 0 {
		return nil, ErrZeroSize
	}
	if ch.idempotency.seen(req.RequestID) {
		return nil, ErrDuplicateRequest
	}

	m, err := ch.markets.Get(req.MarketID)
	if err != nil {
		return nil, err
	}
	if !ch.markets.IsActive(req.MarketID) {
		return nil, fmt.Errorf("%w: %s", ErrMarketInactive, req.MarketID)
	}
	params, ok := ch.risk.Get(req.MarketID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRiskParams, req.MarketID)
	}

	ch.pokeFundingLocked(m)
	ch.settleAccountFunding(req.Account)

	// Trades that add exposure are blocked while the account is liquidatable
	// anywhere; reductions stay allowed so risk can always be unwound.
	existing := ch.book.Get(req.Account, req.MarketID)
	if addsExposure(existing, req.SizeDeltaX18) && ch.anyLiquidatableLocked(req.Account) {
		return nil, ErrAccountUnderwater
	}

	var swap *vamm.SwapResult
	if req.SizeDeltaX18.Sign() > 0 {
		swap, err = m.Pricing.QuoteBuy(req.SizeDeltaX18, req.PriceLimitX18)
	} else {
		swap, err = m.Pricing.QuoteSell(fixedpoint.Abs(req.SizeDeltaX18), req.PriceLimitX18)
	}
	if err != nil {
		return nil, err
	}

	// The position must exist before the checkpoint so rollback restores a
	// fresh position to its flat state.
	pos := ch.book.GetOrCreate(req.Account, req.MarketID, m.Pricing.FundingIndex())
	cp := ch.checkpointAccount(req.Account)

	outcome := ch.book.ApplyTrade(pos, req.SizeDeltaX18, swap.AvgPriceX18)

	newAbs := fixedpoint.Abs(outcome.SizeAfterX18)
	if newAbs.Sign() > 0 {
		if params.MinPositionSizeX18.Sign() > 0 && newAbs.Cmp(params.MinPositionSizeX18) < 0 {
			ch.rollback(cp)
			return nil, ErrPositionBelowMin
		}
		if params.MaxPositionSizeX18.Sign() > 0 && newAbs.Cmp(params.MaxPositionSizeX18) > 0 {
			ch.rollback(cp)
			return nil, ErrPositionAboveMax
		}
	}
	if outcome.PrevAbsX18.Sign() == 0 && ch.book.ActiveCount(req.Account) > ch.maxActiveMarkets {
		ch.rollback(cp)
		return nil, ErrTooManyMarkets
	}

	// Release margin on the closed portion; a flip releases the whole old
	// leg and reserves fresh margin for the new one below.
	if outcome.ClosedX18.Sign() > 0 {
		release := pos.MarginX18
		if outcome.ClosedX18.Cmp(outcome.PrevAbsX18) < 0 {
			release = fixedpoint.MulDiv(pos.MarginX18, outcome.ClosedX18, outcome.PrevAbsX18, fixedpoint.RoundDown)
		}
		release = fixedpoint.Clone(release)
		if err := ch.vault.Release(req.Account, m.QuoteToken, release); err != nil {
			ch.rollback(cp)
			return nil, fmt.Errorf("engine: margin release: %w", err)
		}
		pos.MarginX18.Sub(pos.MarginX18, release)
	}

	// Realized PnL settles against real collateral immediately. A loss that
	// free collateral cannot absorb drains the remaining position margin;
	// anything beyond that is covered at commit (insurance, then bad debt).
	shortfall := ch.vault.SettlePnL(req.Account, m.QuoteToken, outcome.RealizedX18)
	if shortfall.Sign() > 0 {
		fromMargin := fixedpoint.Min(shortfall, pos.MarginX18)
		taken := ch.vault.DebitReserved(req.Account, m.QuoteToken, fromMargin)
		pos.MarginX18.Sub(pos.MarginX18, taken)
		shortfall.Sub(shortfall, taken)
	}

	// Fee on trade notional, collected from free collateral before the risk
	// check. The vAMM's own fee accrual is informational; this is the one
	// real charge.
	notional := fixedpoint.MulX18(fixedpoint.Abs(req.SizeDeltaX18), swap.AvgPriceX18, fixedpoint.RoundUp)
	fee := fixedpoint.ApplyBps(notional, m.FeeBps, fixedpoint.RoundUp)
	if taken := ch.vault.DebitAvailable(req.Account, m.QuoteToken, fee); taken.Cmp(fee) < 0 {
		ch.rollback(cp)
		return nil, fmt.Errorf("%w: fee %s", ErrInsufficientCollateral, fee)
	}
	pos.RealizedPnLX18.Sub(pos.RealizedPnLX18, fee)

	// Reserve initial margin on newly opened exposure, funded strictly from
	// free collateral.
	if outcome.OpenedX18.Sign() > 0 {
		openedNotional := fixedpoint.MulX18(outcome.OpenedX18, swap.AvgPriceX18, fixedpoint.RoundUp)
		add := fixedpoint.ApplyBps(openedNotional, params.IMRBps, fixedpoint.RoundUp)
		if err := ch.vault.Reserve(req.Account, m.QuoteToken, add); err != nil {
			ch.rollback(cp)
			return nil, fmt.Errorf("%w: initial margin %s", ErrInsufficientCollateral, add)
		}
		pos.MarginX18.Add(pos.MarginX18, add)
	}

	if err := ch.postTradeRiskCheck(pos, m, params, swap.MarkAfterX18); err != nil {
		ch.rollback(cp)
		return nil, err
	}

	// Commit.
	now := ch.clock().Unix()
	m.Pricing.Apply(swap, now)
	ch.fees.OnTradeFee(req.MarketID, fee)
	if shortfall.Sign() > 0 {
		covered := ch.insurance.Payout(shortfall)
		shortfall.Sub(shortfall, covered)
		if shortfall.Sign() > 0 {
			ch.recordBadDebt(req.Account, req.MarketID, "close", shortfall)
		}
	}
	ch.idempotency.record(req.RequestID)

	evt := &event.TradeExecuted{
		TradeID:       uuid.New(),
		Account:       req.Account,
		MarketID:      req.MarketID,
		SizeDeltaX18:  fixedpoint.Clone(req.SizeDeltaX18),
		AvgPriceX18:   fixedpoint.Clone(swap.AvgPriceX18),
		NotionalX18:   notional,
		FeeX18:        fee,
		RealizedX18:   outcome.RealizedX18,
		MarkAfterX18:  fixedpoint.Clone(swap.MarkAfterX18),
		PositionAfter: outcome.SizeAfterX18,
	}
	ch.emit(req.MarketID, evt)
	if ch.metrics != nil {
		ch.metrics.TradesExecuted.WithLabelValues(req.MarketID).Inc()
	}
	return evt, nil
}

// postTradeRiskCheck runs unconditionally on every position mutation. The
// initial-margin requirement is evaluated at the less favorable of the
// post-trade mark price and the risk price, so a trader cannot understate
// required margin by moving the mark with the same trade. A shortfall is
// topped up from free collateral before rejecting. A second check rejects
// positions that would be liquidatable at the risk price the moment they
// open.
func (ch *Clearinghouse) postTradeRiskCheck(pos *position.Position, m *market.Market, params *risk.Params, markAfterX18 *big.Int) error {
	if pos.IsFlat() {
		return nil
	}
	riskP, err := ch.riskPrice(m)
	if err != nil {
		return err
	}

	for _, p := range []*big.Int{markAfterX18, riskP} {
		required := requiredAt(pos, p, params.IMRBps)
		eff := effectiveMarginAt(pos, p)
		if eff.Cmp(required) < 0 {
			topUp := new(big.Int).Sub(required, eff)
			if err := ch.vault.Reserve(pos.Account, m.QuoteToken, topUp); err != nil {
				return fmt.Errorf("%w: short %s at price %s", ErrBelowInitialMargin, topUp, p)
			}
			pos.MarginX18.Add(pos.MarginX18, topUp)
		}
	}

	if effectiveMarginAt(pos, riskP).Cmp(requiredAt(pos, riskP, params.MMRBps)) < 0 {
		return ErrImmediatelyLiquidatable
	}
	return nil
}

// addsExposure reports whether the trade opens, increases or flips.
func addsExposure(pos *position.Position, sizeDeltaX18 *big.Int) bool {
	if pos == nil || pos.IsFlat() {
		return true
	}
	if pos.SizeX18.Sign() == sizeDeltaX18.Sign() {
		return true
	}
	return fixedpoint.Abs(sizeDeltaX18).Cmp(fixedpoint.Abs(pos.SizeX18)) > 0
}
