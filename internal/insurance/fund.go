// Package insurance implements the venue's insurance fund: a quote-denominated
// backstop that absorbs liquidation shortfalls before they become bad debt.
package insurance

import (
	"math/big"
	"sync"

	"PerpClear/internal/fixedpoint"
)

// Fund is the insurance fund. Contributions come from the protocol's share of
// liquidation penalties and operator top-ups; payouts cover shortfalls during
// liquidation. The fund never goes negative: a payout is capped at the
// balance and the uncovered remainder is the caller's bad debt.
type Fund struct {
	mu      sync.RWMutex
	balance *big.Int

	totalContributed *big.Int
	totalPaidOut     *big.Int
}

func NewFund(initialX18 *big.Int) *Fund {
	f := &Fund{
		balance:          new(big.Int),
		totalContributed: new(big.Int),
		totalPaidOut:     new(big.Int),
	}
	if initialX18 != nil && initialX18.Sign() > 0 {
		f.balance.Set(initialX18)
		f.totalContributed.Set(initialX18)
	}
	return f
}

// Balance returns the current X18 balance.
func (f *Fund) Balance() *big.Int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return fixedpoint.Clone(f.balance)
}

// Contribute credits the fund. Non-positive amounts are ignored.
func (f *Fund) Contribute(x18 *big.Int) {
	if x18 == nil || x18.Sign() <= 0 {
		return
	}
	f.mu.Lock()
	f.balance.Add(f.balance, x18)
	f.totalContributed.Add(f.totalContributed, x18)
	f.mu.Unlock()
}

// Payout debits up to x18 from the fund and returns the amount actually
// covered.
func (f *Fund) Payout(x18 *big.Int) *big.Int {
	if x18 == nil || x18.Sign() <= 0 {
		return new(big.Int)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	covered := fixedpoint.Min(f.balance, x18)
	f.balance.Sub(f.balance, covered)
	f.totalPaidOut.Add(f.totalPaidOut, covered)
	return covered
}

// Stats returns lifetime contribution and payout totals.
func (f *Fund) Stats() (contributed, paidOut *big.Int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return fixedpoint.Clone(f.totalContributed), fixedpoint.Clone(f.totalPaidOut)
}
