package engine

import (
	"math/big"

	"PerpClear/internal/collateral"
	"PerpClear/internal/position"
)

// MarketState is one pricing engine's mutable state at snapshot time.
type MarketState struct {
	MarketID        string
	ReserveBaseX18  *big.Int
	ReserveQuoteX18 *big.Int
	FundingIndexX18 *big.Int
	LastFundingAt   int64
}

// StateSnapshot captures everything needed to restart the venue without
// replaying the event log: collateral buckets, positions, per-market pricing
// state, the insurance balance, and the recent request keys for idempotency
// warming. Protocol fee totals are rebuildable from the event log and are
// not snapshotted.
type StateSnapshot struct {
	Sequence     int64
	Balances     []collateral.BalanceRecord
	Positions    []*position.Position
	Markets      []MarketState
	InsuranceX18 *big.Int
	RequestKeys  []string
}

// Snapshot captures the engine's state under the lock.
func (ch *Clearinghouse) Snapshot() *StateSnapshot {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	snap := &StateSnapshot{
		Sequence:     ch.seq,
		Balances:     ch.vault.Dump(),
		InsuranceX18: ch.insurance.Balance(),
		RequestKeys:  ch.idempotency.keys(),
	}
	for _, pos := range ch.book.All() {
		if pos.IsFlat() && pos.RealizedPnLX18.Sign() == 0 {
			continue
		}
		snap.Positions = append(snap.Positions, pos.Clone())
	}
	for _, id := range ch.markets.IDs() {
		m, err := ch.markets.Get(id)
		if err != nil {
			continue
		}
		base, quote := m.Pricing.Reserves()
		snap.Markets = append(snap.Markets, MarketState{
			MarketID:        id,
			ReserveBaseX18:  base,
			ReserveQuoteX18: quote,
			FundingIndexX18: m.Pricing.FundingIndex(),
			LastFundingAt:   m.Pricing.FundingClock(),
		})
	}
	return snap
}

// RestoreSnapshot loads a snapshot into a freshly constructed engine. Markets
// must already be registered; snapshot state for an unregistered market is
// skipped. The insurance fund is expected to be seeded by the caller from the
// snapshot's InsuranceX18 at construction.
func (ch *Clearinghouse) RestoreSnapshot(snap *StateSnapshot) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ch.seq = snap.Sequence
	for _, b := range snap.Balances {
		ch.vault.SetBalance(b.Account, b.Token, b.AvailableX18, b.ReservedX18)
	}
	for _, pos := range snap.Positions {
		ch.book.Set(pos.Clone())
	}
	now := ch.clock().Unix()
	for _, ms := range snap.Markets {
		m, err := ch.markets.Get(ms.MarketID)
		if err != nil {
			ch.logger.Warn().Str("market", ms.MarketID).Msg("snapshot references unregistered market")
			continue
		}
		m.Pricing.RestoreState(ms.ReserveBaseX18, ms.ReserveQuoteX18, ms.FundingIndexX18, ms.LastFundingAt, now)
	}
	ch.idempotency.warm(snap.RequestKeys)
}
