package event

import (
	"math/big"

	"github.com/google/uuid"
)

// PositionLiquidated records a full or partial forced close. The waterfall
// fields report where the shortfall landed: margin first, then seized
// collateral, then the insurance fund, then bad debt.
type PositionLiquidated struct {
	LiquidationID uuid.UUID `json:"liquidation_id"`
	Account       uuid.UUID `json:"account"`
	Liquidator    uuid.UUID `json:"liquidator"`
	MarketID      string    `json:"market_id"`

	ClosedSizeX18 *big.Int `json:"closed_size_x18"`
	ClosePriceX18 *big.Int `json:"close_price_x18"`
	PenaltyX18    *big.Int `json:"penalty_x18"`

	LiquidatorRewardX18 *big.Int `json:"liquidator_reward_x18"`
	ProtocolShareX18    *big.Int `json:"protocol_share_x18"`

	MarginUsedX18    *big.Int `json:"margin_used_x18"`
	CollateralSeized *big.Int `json:"collateral_seized_x18"`
	InsuranceUsedX18 *big.Int `json:"insurance_used_x18"`
	BadDebtX18       *big.Int `json:"bad_debt_x18"`

	RemainingSizeX18 *big.Int `json:"remaining_size_x18"`
}

func (e *PositionLiquidated) EventType() Type { return TypePositionLiquidated }
func (e *PositionLiquidated) Market() string  { return e.MarketID }

// BadDebtRecorded is emitted whenever a loss could not be covered by the
// account or the insurance fund. It is informational: the engine has already
// socialized the amount.
type BadDebtRecorded struct {
	Account  uuid.UUID `json:"account"`
	MarketID string    `json:"market_id"`
	Origin   string    `json:"origin"` // "liquidation", "funding", "close"
	DebtX18  *big.Int  `json:"debt_x18"`
}

func (e *BadDebtRecorded) EventType() Type { return TypeBadDebtRecorded }
func (e *BadDebtRecorded) Market() string  { return e.MarketID }
