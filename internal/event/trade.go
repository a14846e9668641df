package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Side is the direction of a position delta.
type Side int32

const (
	SideFlat Side = iota
	SideLong
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

// TradeExecuted records one fill against the vAMM. Amounts are quote X18
// except SizeDelta, which is base X18 and signed (+long, -short).
type TradeExecuted struct {
	TradeID       uuid.UUID `json:"trade_id"`
	Account       uuid.UUID `json:"account"`
	MarketID      string    `json:"market_id"`
	SizeDeltaX18  *big.Int  `json:"size_delta_x18"`
	AvgPriceX18   *big.Int  `json:"avg_price_x18"`
	NotionalX18   *big.Int  `json:"notional_x18"`
	FeeX18        *big.Int  `json:"fee_x18"`
	RealizedX18   *big.Int  `json:"realized_x18"`
	MarkAfterX18  *big.Int  `json:"mark_after_x18"`
	PositionAfter *big.Int  `json:"position_after_x18"`
}

func (e *TradeExecuted) EventType() Type { return TypeTradeExecuted }
func (e *TradeExecuted) Market() string  { return e.MarketID }
