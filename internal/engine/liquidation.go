package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/event"
	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/position"
	"PerpClear/internal/vamm"
)

// LiquidateRequest asks for a full or partial forced close of an underwater
// position. SizeX18 is absolute base; zero liquidates the full position.
type LiquidateRequest struct {
	Liquidator    uuid.UUID
	Account       uuid.UUID
	MarketID      string
	SizeX18       *big.Int
	PriceLimitX18 *big.Int
	RequestID     string
}

// Liquidate force-closes an eligible position. Eligibility is evaluated at
// the risk price, never at the mark, and the penalty is priced at a snapshot
// taken before the closing trade so the trade's own impact cannot inflate
// it. Economic shortfalls never abort the liquidation: margin pays first,
// then seized free collateral, then the insurance fund, and the remainder is
// recorded as bad debt.
func (ch *Clearinghouse) Liquidate(req LiquidateRequest) (*event.PositionLiquidated, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.idempotency.seen(req.RequestID) {
		return nil, ErrDuplicateRequest
	}
	m, err := ch.markets.Get(req.MarketID)
	if err != nil {
		return nil, err
	}
	params, ok := ch.risk.Get(req.MarketID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRiskParams, req.MarketID)
	}

	ch.pokeFundingLocked(m)
	ch.settleAccountFunding(req.Account)

	pos := ch.book.Get(req.Account, req.MarketID)
	if pos == nil || pos.IsFlat() {
		return nil, ErrNoPosition
	}

	snapPrice, err := ch.riskPrice(m)
	if err != nil {
		return nil, err
	}
	if effectiveMarginAt(pos, snapPrice).Cmp(requiredAt(pos, snapPrice, params.MMRBps)) >= 0 {
		return nil, ErrNotLiquidatable
	}

	// Resolve the close size; a partial liquidation may not leave a dust
	// remainder below the market's minimum, it becomes a full close instead.
	posAbs := fixedpoint.Abs(pos.SizeX18)
	closeSize := fixedpoint.Clone(posAbs)
	if req.SizeX18 != nil && req.SizeX18.Sign() > 0 && req.SizeX18.Cmp(posAbs) < 0 {
		closeSize = fixedpoint.Clone(req.SizeX18)
		remainder := new(big.Int).Sub(posAbs, closeSize)
		if params.MinPositionSizeX18.Sign() > 0 && remainder.Cmp(params.MinPositionSizeX18) < 0 {
			closeSize = fixedpoint.Clone(posAbs)
		}
	}

	delta := fixedpoint.Neg(closeSize)
	var swap *vamm.SwapResult
	if pos.SizeX18.Sign() < 0 {
		delta = fixedpoint.Clone(closeSize)
		swap, err = m.Pricing.QuoteBuy(closeSize, req.PriceLimitX18)
	} else {
		swap, err = m.Pricing.QuoteSell(closeSize, req.PriceLimitX18)
	}
	if err != nil {
		return nil, err
	}

	// Past this point the operation always completes.
	outcome := ch.book.ApplyTrade(pos, delta, swap.AvgPriceX18)

	// Free the margin backing the closed portion. It stays in a holding pool
	// to absorb the realized loss and the penalty before anything returns to
	// the account.
	freed := fixedpoint.Clone(pos.MarginX18)
	if !pos.IsFlat() {
		freed = fixedpoint.MulDiv(pos.MarginX18, outcome.ClosedX18, outcome.PrevAbsX18, fixedpoint.RoundDown)
	}
	pool := ch.vault.DebitReserved(req.Account, m.QuoteToken, freed)
	pos.MarginX18.Sub(pos.MarginX18, pool)

	w := newWaterfall()
	if outcome.RealizedX18.Sign() > 0 {
		ch.vault.CreditAvailable(req.Account, m.QuoteToken, outcome.RealizedX18)
	} else if outcome.RealizedX18.Sign() < 0 {
		ch.drainWaterfall(req.Account, m.QuoteToken, pos, pool, fixedpoint.Abs(outcome.RealizedX18), w)
	}

	// Penalty at the snapshot price, capped.
	notionalSnap := fixedpoint.MulX18(outcome.ClosedX18, snapPrice, fixedpoint.RoundUp)
	penalty := fixedpoint.ApplyBps(notionalSnap, params.LiquidationPenaltyBps, fixedpoint.RoundUp)
	if params.PenaltyCapX18.Sign() > 0 {
		penalty = fixedpoint.Min(penalty, params.PenaltyCapX18)
	}
	liquidatorShare := fixedpoint.ApplyBps(penalty, params.LiquidatorShareBps, fixedpoint.RoundDown)
	protocolShare := new(big.Int).Sub(penalty, liquidatorShare)

	liquidatorPaid := ch.drainWaterfall(req.Account, m.QuoteToken, pos, pool, liquidatorShare, w)
	ch.vault.CreditAvailable(req.Liquidator, m.QuoteToken, liquidatorPaid)

	protocolPaid := ch.drainWaterfall(req.Account, m.QuoteToken, pos, pool, protocolShare, w)
	ch.fees.OnLiquidationShare(req.MarketID, protocolPaid)

	// Whatever margin survived the waterfall returns to the account.
	if pool.Sign() > 0 {
		ch.vault.CreditAvailable(req.Account, m.QuoteToken, pool)
		pool.SetInt64(0)
	}

	now := ch.clock().Unix()
	m.Pricing.Apply(swap, now)
	ch.idempotency.record(req.RequestID)

	if w.badDebt.Sign() > 0 {
		ch.recordBadDebt(req.Account, req.MarketID, "liquidation", w.badDebt)
	}

	evt := &event.PositionLiquidated{
		LiquidationID:       uuid.New(),
		Account:             req.Account,
		Liquidator:          req.Liquidator,
		MarketID:            req.MarketID,
		ClosedSizeX18:       outcome.ClosedX18,
		ClosePriceX18:       fixedpoint.Clone(swap.AvgPriceX18),
		PenaltyX18:          penalty,
		LiquidatorRewardX18: liquidatorPaid,
		ProtocolShareX18:    protocolPaid,
		MarginUsedX18:       w.marginUsed,
		CollateralSeized:    w.seized,
		InsuranceUsedX18:    w.insuranceUsed,
		BadDebtX18:          w.badDebt,
		RemainingSizeX18:    outcome.SizeAfterX18,
	}
	ch.emit(req.MarketID, evt)
	if ch.metrics != nil {
		ch.metrics.Liquidations.WithLabelValues(req.MarketID).Inc()
	}
	return evt, nil
}

// waterfall accumulates where liquidation value came from.
type waterfall struct {
	marginUsed    *big.Int
	seized        *big.Int
	insuranceUsed *big.Int
	badDebt       *big.Int
}

func newWaterfall() *waterfall {
	return &waterfall{
		marginUsed:    new(big.Int),
		seized:        new(big.Int),
		insuranceUsed: new(big.Int),
		badDebt:       new(big.Int),
	}
}

// drainWaterfall collects up to amount through the liquidation waterfall:
// the freed-margin pool, then the position's remaining margin, then the
// account's free collateral, then the insurance fund. The uncollectable
// remainder is tallied as bad debt. Returns the amount actually collected.
func (ch *Clearinghouse) drainWaterfall(account uuid.UUID, token string, pos *position.Position, pool, amount *big.Int, w *waterfall) *big.Int {
	owed := fixedpoint.Clone(amount)
	collected := new(big.Int)

	take := fixedpoint.Min(pool, owed)
	pool.Sub(pool, take)
	owed.Sub(owed, take)
	collected.Add(collected, take)
	w.marginUsed.Add(w.marginUsed, take)

	if owed.Sign() > 0 && pos.MarginX18.Sign() > 0 {
		fromMargin := fixedpoint.Min(owed, pos.MarginX18)
		taken := ch.vault.DebitReserved(account, token, fromMargin)
		pos.MarginX18.Sub(pos.MarginX18, taken)
		owed.Sub(owed, taken)
		collected.Add(collected, taken)
		w.marginUsed.Add(w.marginUsed, taken)
	}
	if owed.Sign() > 0 {
		taken := ch.vault.DebitAvailable(account, token, owed)
		owed.Sub(owed, taken)
		collected.Add(collected, taken)
		w.seized.Add(w.seized, taken)
	}
	if owed.Sign() > 0 {
		covered := ch.insurance.Payout(owed)
		owed.Sub(owed, covered)
		collected.Add(collected, covered)
		w.insuranceUsed.Add(w.insuranceUsed, covered)
	}
	if owed.Sign() > 0 {
		w.badDebt.Add(w.badDebt, owed)
	}
	return collected
}
