package event

import (
	"math/big"

	"github.com/google/uuid"
)

// Deposited records a confirmed collateral deposit.
type Deposited struct {
	Account   uuid.UUID `json:"account"`
	Token     string    `json:"token"`
	Units     *big.Int  `json:"units"`
	AmountX18 *big.Int  `json:"amount_x18"`
}

func (e *Deposited) EventType() Type { return TypeDeposited }
func (e *Deposited) Market() string  { return "" }

// Withdrawn records a collateral withdrawal that passed the margin-backing
// check.
type Withdrawn struct {
	Account   uuid.UUID `json:"account"`
	Token     string    `json:"token"`
	Units     *big.Int  `json:"units"`
	AmountX18 *big.Int  `json:"amount_x18"`
}

func (e *Withdrawn) EventType() Type { return TypeWithdrawn }
func (e *Withdrawn) Market() string  { return "" }

// MarginAdded records free collateral moved into a position's margin.
type MarginAdded struct {
	Account   uuid.UUID `json:"account"`
	MarketID  string    `json:"market_id"`
	AmountX18 *big.Int  `json:"amount_x18"`
	MarginX18 *big.Int  `json:"margin_after_x18"`
}

func (e *MarginAdded) EventType() Type { return TypeMarginAdded }
func (e *MarginAdded) Market() string  { return e.MarketID }

// MarginRemoved records margin released back to free collateral after the
// initial-margin check.
type MarginRemoved struct {
	Account   uuid.UUID `json:"account"`
	MarketID  string    `json:"market_id"`
	AmountX18 *big.Int  `json:"amount_x18"`
	MarginX18 *big.Int  `json:"margin_after_x18"`
}

func (e *MarginRemoved) EventType() Type { return TypeMarginRemoved }
func (e *MarginRemoved) Market() string  { return e.MarketID }
