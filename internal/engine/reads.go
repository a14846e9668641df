package engine

import (
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/fixedpoint"
)

// PositionView is a read-only copy of a position plus derived figures at the
// current risk price.
type PositionView struct {
	Account  uuid.UUID
	MarketID string

	SizeX18        *big.Int
	EntryPriceX18  *big.Int
	MarginX18      *big.Int
	RealizedPnLX18 *big.Int

	RiskPriceX18      *big.Int
	NotionalX18       *big.Int
	UnrealizedX18     *big.Int
	PendingFundingX18 *big.Int
	MarginRatioX18    *big.Int // effective margin / notional, X18; nil when flat
	Liquidatable      bool
}

// GetPosition returns the position and its risk figures. A never-traded pair
// returns ErrNoPosition.
func (ch *Clearinghouse) GetPosition(account uuid.UUID, marketID string) (*PositionView, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	pos := ch.book.Get(account, marketID)
	if pos == nil {
		return nil, ErrNoPosition
	}
	view := &PositionView{
		Account:           account,
		MarketID:          marketID,
		SizeX18:           fixedpoint.Clone(pos.SizeX18),
		EntryPriceX18:     fixedpoint.Clone(pos.EntryPriceX18),
		MarginX18:         fixedpoint.Clone(pos.MarginX18),
		RealizedPnLX18:    fixedpoint.Clone(pos.RealizedPnLX18),
		NotionalX18:       new(big.Int),
		UnrealizedX18:     new(big.Int),
		PendingFundingX18: new(big.Int),
	}
	if pos.IsFlat() {
		return view, nil
	}

	m, err := ch.markets.Get(marketID)
	if err != nil {
		return view, nil
	}
	price, err := ch.riskPrice(m)
	if err != nil {
		return view, nil
	}
	view.RiskPriceX18 = price
	view.NotionalX18 = pos.NotionalAt(price)
	view.UnrealizedX18 = pos.UnrealizedAt(price)
	view.PendingFundingX18 = pendingFunding(pos, m.Pricing.FundingIndex())

	eff := effectiveMarginAt(pos, price)
	eff.Add(eff, view.PendingFundingX18)
	if view.NotionalX18.Sign() > 0 {
		view.MarginRatioX18 = fixedpoint.DivX18(eff, view.NotionalX18, fixedpoint.RoundDown)
	}
	if params, ok := ch.risk.Get(marketID); ok {
		view.Liquidatable = eff.Cmp(requiredAt(pos, price, params.MMRBps)) < 0
	}
	return view, nil
}

// GetNotional returns |size| * risk price for the position.
func (ch *Clearinghouse) GetNotional(account uuid.UUID, marketID string) (*big.Int, error) {
	v, err := ch.GetPosition(account, marketID)
	if err != nil {
		return nil, err
	}
	return v.NotionalX18, nil
}

// GetMarginRatio returns effective margin over notional, X18.
func (ch *Clearinghouse) GetMarginRatio(account uuid.UUID, marketID string) (*big.Int, error) {
	v, err := ch.GetPosition(account, marketID)
	if err != nil {
		return nil, err
	}
	if v.MarginRatioX18 == nil {
		return nil, ErrNoPosition
	}
	return v.MarginRatioX18, nil
}

// IsLiquidatable evaluates liquidation eligibility at the risk price.
func (ch *Clearinghouse) IsLiquidatable(account uuid.UUID, marketID string) (bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	pos := ch.book.Get(account, marketID)
	if pos == nil || pos.IsFlat() {
		return false, nil
	}
	m, err := ch.markets.Get(marketID)
	if err != nil {
		return false, err
	}
	params, ok := ch.risk.Get(marketID)
	if !ok {
		return false, ErrNoRiskParams
	}
	return ch.isLiquidatableLocked(pos, m, params)
}

// GetAccountValue returns collateral value plus unrealized PnL and pending
// funding across the account's active positions. Markets whose every price
// source is down contribute only their collateral.
func (ch *Clearinghouse) GetAccountValue(account uuid.UUID) *big.Int {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	total := ch.vault.AccountCollateralValue(account)
	for _, pos := range ch.book.ForAccount(account) {
		if pos.IsFlat() {
			continue
		}
		m, err := ch.markets.Get(pos.MarketID)
		if err != nil {
			continue
		}
		price, err := ch.riskPrice(m)
		if err != nil {
			continue
		}
		total.Add(total, pos.UnrealizedAt(price))
		total.Add(total, pendingFunding(pos, m.Pricing.FundingIndex()))
	}
	return total
}

// FreeCollateral returns the account's available (unreserved) balance in the
// given token.
func (ch *Clearinghouse) FreeCollateral(account uuid.UUID, token string) *big.Int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.vault.Available(account, token)
}

// WarmRequestCache preloads idempotency keys recovered from the durable
// store on restart.
func (ch *Clearinghouse) WarmRequestCache(keys []string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.idempotency.warm(keys)
}
