// Package risk holds the per-market margin and liquidation parameters.
package risk

import (
	"fmt"
	"math/big"
	"sync"

	"PerpClear/internal/fixedpoint"
)

// Params defines margin requirements and liquidation terms for one market.
// All basis-point fields use the 10_000 denominator.
type Params struct {
	MarketID string

	IMRBps int64 // initial margin requirement
	MMRBps int64 // maintenance margin requirement

	LiquidationPenaltyBps int64
	PenaltyCapX18         *big.Int // absolute cap on a single penalty, quote X18
	LiquidatorShareBps    int64    // liquidator's slice of the penalty; rest goes to the protocol

	// MinPositionSizeX18/MaxPositionSizeX18 bound the absolute position
	// size after a trade. Zero means unbounded / no floor.
	MinPositionSizeX18 *big.Int
	MaxPositionSizeX18 *big.Int
}

// Validate checks parameter ranges: mmr > 0, imr >= mmr, both below 100%,
// penalty below 100%, liquidator share within the penalty.
func Validate(p *Params) error {
	if p.MMRBps <= 0 {
		return fmt.Errorf("mmr_bps must be > 0, got %d", p.MMRBps)
	}
	if p.IMRBps < p.MMRBps {
		return fmt.Errorf("imr_bps (%d) must be >= mmr_bps (%d)", p.IMRBps, p.MMRBps)
	}
	if p.IMRBps >= fixedpoint.BpsDenominator {
		return fmt.Errorf("imr_bps must be < %d, got %d", fixedpoint.BpsDenominator, p.IMRBps)
	}
	if p.LiquidationPenaltyBps < 0 || p.LiquidationPenaltyBps >= fixedpoint.BpsDenominator {
		return fmt.Errorf("liquidation_penalty_bps out of range: %d", p.LiquidationPenaltyBps)
	}
	if p.LiquidatorShareBps < 0 || p.LiquidatorShareBps > fixedpoint.BpsDenominator {
		return fmt.Errorf("liquidator_share_bps out of range: %d", p.LiquidatorShareBps)
	}
	if p.MinPositionSizeX18 != nil && p.MinPositionSizeX18.Sign() < 0 {
		return fmt.Errorf("min_position_size must be >= 0")
	}
	if p.MaxPositionSizeX18 != nil && p.MaxPositionSizeX18.Sign() < 0 {
		return fmt.Errorf("max_position_size must be >= 0")
	}
	if p.MinPositionSizeX18 != nil && p.MaxPositionSizeX18 != nil &&
		p.MaxPositionSizeX18.Sign() > 0 && p.MinPositionSizeX18.Cmp(p.MaxPositionSizeX18) > 0 {
		return fmt.Errorf("min_position_size exceeds max_position_size")
	}
	return nil
}

// Registry stores risk parameters per market. Reads come from both the
// clearing engine (already serialized) and the HTTP layer, so access is
// guarded independently.
type Registry struct {
	mu     sync.RWMutex
	params map[string]*Params
}

func NewRegistry() *Registry {
	return &Registry{params: make(map[string]*Params)}
}

// Get returns the parameters for a market, if configured.
func (r *Registry) Get(marketID string) (*Params, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.params[marketID]
	return p, ok
}

// Set validates and installs parameters for a market. Parameters are
// immutable between updates; positions cannot open before the first Set.
func (r *Registry) Set(p *Params) error {
	if err := Validate(p); err != nil {
		return fmt.Errorf("invalid risk params for %s: %w", p.MarketID, err)
	}
	cp := *p
	if cp.PenaltyCapX18 == nil {
		cp.PenaltyCapX18 = new(big.Int)
	}
	if cp.MinPositionSizeX18 == nil {
		cp.MinPositionSizeX18 = new(big.Int)
	}
	if cp.MaxPositionSizeX18 == nil {
		cp.MaxPositionSizeX18 = new(big.Int)
	}

	r.mu.Lock()
	r.params[cp.MarketID] = &cp
	r.mu.Unlock()
	return nil
}

// All returns a copy of the registered parameter set.
func (r *Registry) All() map[string]*Params {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Params, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}
