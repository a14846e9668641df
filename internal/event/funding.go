package event

import (
	"math/big"

	"github.com/google/uuid"
)

// FundingSettled records the funding flow applied to one position when its
// lastFundingIndex is brought up to the market's current funding index.
// PaymentX18 is signed from the account's perspective: positive is a credit.
type FundingSettled struct {
	Account       uuid.UUID `json:"account"`
	MarketID      string    `json:"market_id"`
	IndexBefore   *big.Int  `json:"index_before_x18"`
	IndexAfter    *big.Int  `json:"index_after_x18"`
	PositionX18   *big.Int  `json:"position_x18"`
	PaymentX18    *big.Int  `json:"payment_x18"`
	UncoveredX18  *big.Int  `json:"uncovered_x18"`
	InsuranceUsed *big.Int  `json:"insurance_used_x18"`
}

func (e *FundingSettled) EventType() Type { return TypeFundingSettled }
func (e *FundingSettled) Market() string  { return e.MarketID }
