package event

import (
	"math/big"
)

// RiskParamsUpdated records an admin change to a market's margin terms.
type RiskParamsUpdated struct {
	MarketID              string `json:"market_id"`
	IMRBps                int64  `json:"imr_bps"`
	MMRBps                int64  `json:"mmr_bps"`
	LiquidationPenaltyBps int64  `json:"liquidation_penalty_bps"`
	LiquidatorShareBps    int64  `json:"liquidator_share_bps"`
}

func (e *RiskParamsUpdated) EventType() Type { return TypeRiskParamsUpdated }
func (e *RiskParamsUpdated) Market() string  { return e.MarketID }

// ReserveReset records an admin re-anchoring of the vAMM's virtual reserves.
type ReserveReset struct {
	MarketID     string   `json:"market_id"`
	OldMarkX18   *big.Int `json:"old_mark_x18"`
	NewMarkX18   *big.Int `json:"new_mark_x18"`
	NewBaseX18   *big.Int `json:"new_base_x18"`
	NewQuoteX18  *big.Int `json:"new_quote_x18"`
	MoveBpsAbs   int64    `json:"move_bps_abs"`
	InitiatedBy  string   `json:"initiated_by"`
}

func (e *ReserveReset) EventType() Type { return TypeReserveReset }
func (e *ReserveReset) Market() string  { return e.MarketID }

// MarketPaused and MarketResumed record trading halts.
type MarketPaused struct {
	MarketID string `json:"market_id"`
	Reason   string `json:"reason,omitempty"`
}

func (e *MarketPaused) EventType() Type { return TypeMarketPaused }
func (e *MarketPaused) Market() string  { return e.MarketID }

type MarketResumed struct {
	MarketID string `json:"market_id"`
}

func (e *MarketResumed) EventType() Type { return TypeMarketResumed }
func (e *MarketResumed) Market() string  { return e.MarketID }
