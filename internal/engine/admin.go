package engine

import (
	"math/big"

	"PerpClear/internal/auth"
	"PerpClear/internal/event"
	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/risk"
)

// SetRiskParams validates and installs a market's margin and liquidation
// terms. Privileged.
func (ch *Clearinghouse) SetRiskParams(token string, p *risk.Params) error {
	if !ch.admin.Allowed(token, auth.CapRiskWrite) {
		return ErrUnauthorized
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := ch.risk.Set(p); err != nil {
		return err
	}
	ch.emit(p.MarketID, &event.RiskParamsUpdated{
		MarketID:              p.MarketID,
		IMRBps:                p.IMRBps,
		MMRBps:                p.MMRBps,
		LiquidationPenaltyBps: p.LiquidationPenaltyBps,
		LiquidatorShareBps:    p.LiquidatorShareBps,
	})
	return nil
}

// PauseMarket halts trading. The pricing engine records a TWAP boundary so
// the paused span is excluded from averages. Privileged.
func (ch *Clearinghouse) PauseMarket(token, marketID, reason string) error {
	if !ch.admin.Allowed(token, auth.CapMarketPause) {
		return ErrUnauthorized
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	m, err := ch.markets.Get(marketID)
	if err != nil {
		return err
	}
	if err := ch.markets.SetPaused(marketID, true); err != nil {
		return err
	}
	m.Pricing.Pause(ch.clock().Unix())
	ch.emit(marketID, &event.MarketPaused{MarketID: marketID, Reason: reason})
	ch.logger.Warn().Str("market", marketID).Str("reason", reason).Msg("market paused")
	return nil
}

// ResumeMarket re-enables trading. Privileged.
func (ch *Clearinghouse) ResumeMarket(token, marketID string) error {
	if !ch.admin.Allowed(token, auth.CapMarketPause) {
		return ErrUnauthorized
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	m, err := ch.markets.Get(marketID)
	if err != nil {
		return err
	}
	if err := ch.markets.SetPaused(marketID, false); err != nil {
		return err
	}
	m.Pricing.Unpause(ch.clock().Unix())
	ch.emit(marketID, &event.MarketResumed{MarketID: marketID})
	ch.logger.Info().Str("market", marketID).Msg("market resumed")
	return nil
}

// ResetReserves re-anchors the vAMM's virtual reserves, an emergency tool
// for depleted markets. The pricing engine bounds the resulting mark move to
// 10%. Privileged.
func (ch *Clearinghouse) ResetReserves(token, marketID string, newPriceX18, newBaseX18 *big.Int) (*event.ReserveReset, error) {
	if !ch.admin.Allowed(token, auth.CapReserveReset) {
		return nil, ErrUnauthorized
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	m, err := ch.markets.Get(marketID)
	if err != nil {
		return nil, err
	}
	oldMark, err := m.Pricing.MarkPrice()
	if err != nil {
		return nil, err
	}
	if err := m.Pricing.ResetReserves(newPriceX18, newBaseX18, ch.clock().Unix()); err != nil {
		return nil, err
	}
	newMark, err := m.Pricing.MarkPrice()
	if err != nil {
		return nil, err
	}

	diff := new(big.Int).Sub(newMark, oldMark)
	moveBps := fixedpoint.MulDiv(fixedpoint.Abs(diff), big.NewInt(fixedpoint.BpsDenominator), oldMark, fixedpoint.RoundDown)

	base, quote := m.Pricing.Reserves()
	evt := &event.ReserveReset{
		MarketID:    marketID,
		OldMarkX18:  oldMark,
		NewMarkX18:  newMark,
		NewBaseX18:  base,
		NewQuoteX18: quote,
		MoveBpsAbs:  moveBps.Int64(),
		InitiatedBy: "admin",
	}
	ch.emit(marketID, evt)
	ch.logger.Warn().
		Str("market", marketID).
		Str("old_mark", oldMark.String()).
		Str("new_mark", newMark.String()).
		Msg("virtual reserves reset")
	return evt, nil
}
