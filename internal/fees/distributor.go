// Package fees accumulates protocol revenue: trade fees and the protocol's
// share of liquidation penalties, tracked per market.
package fees

import (
	"math/big"
	"sync"

	"PerpClear/internal/fixedpoint"
)

// Distributor is the protocol fee sink. The clearing engine credits it with
// every trade fee and penalty share; the query layer reads totals.
type Distributor struct {
	mu sync.RWMutex

	tradeFees         map[string]*big.Int
	liquidationShares map[string]*big.Int
}

func NewDistributor() *Distributor {
	return &Distributor{
		tradeFees:         make(map[string]*big.Int),
		liquidationShares: make(map[string]*big.Int),
	}
}

func accrue(m map[string]*big.Int, marketID string, x18 *big.Int) {
	if x18 == nil || x18.Sign() <= 0 {
		return
	}
	total := m[marketID]
	if total == nil {
		total = new(big.Int)
		m[marketID] = total
	}
	total.Add(total, x18)
}

// OnTradeFee records a collected trade fee.
func (d *Distributor) OnTradeFee(marketID string, x18 *big.Int) {
	d.mu.Lock()
	accrue(d.tradeFees, marketID, x18)
	d.mu.Unlock()
}

// OnLiquidationShare records the protocol's slice of a liquidation penalty.
func (d *Distributor) OnLiquidationShare(marketID string, x18 *big.Int) {
	d.mu.Lock()
	accrue(d.liquidationShares, marketID, x18)
	d.mu.Unlock()
}

// TradeFees returns the accumulated trade fees for a market.
func (d *Distributor) TradeFees(marketID string) *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.tradeFees[marketID]; t != nil {
		return fixedpoint.Clone(t)
	}
	return new(big.Int)
}

// LiquidationShares returns the accumulated penalty shares for a market.
func (d *Distributor) LiquidationShares(marketID string) *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if t := d.liquidationShares[marketID]; t != nil {
		return fixedpoint.Clone(t)
	}
	return new(big.Int)
}

// TotalRevenue returns trade fees + penalty shares across all markets.
func (d *Distributor) TotalRevenue() *big.Int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := new(big.Int)
	for _, t := range d.tradeFees {
		total.Add(total, t)
	}
	for _, t := range d.liquidationShares {
		total.Add(total, t)
	}
	return total
}
