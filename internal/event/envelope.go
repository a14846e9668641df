// Package event defines the clearing engine's outbound event stream: every
// state transition the engine commits is described by exactly one event,
// wrapped in a sequenced envelope for persistence and publication.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates event payloads.
type Type int32

const (
	TypeUnknown Type = iota
	TypeTradeExecuted
	TypePositionLiquidated
	TypeFundingSettled
	TypeBadDebtRecorded
	TypeMarginAdded
	TypeMarginRemoved
	TypeDeposited
	TypeWithdrawn
	TypeRiskParamsUpdated
	TypeReserveReset
	TypeMarketPaused
	TypeMarketResumed
)

// Envelope wraps every committed event. Sequence is the engine's global
// monotonic commit counter; Timestamp is the engine's versioned clock at
// commit, not wall-clock.
type Envelope struct {
	Sequence  int64     `json:"sequence"`
	EventID   uuid.UUID `json:"event_id"`
	Type      Type      `json:"type"`
	MarketID  string    `json:"market_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
}

// Event is implemented by every payload.
type Event interface {
	// EventType returns the discriminator.
	EventType() Type

	// Market returns the market context, empty for account-level events.
	Market() string
}

func (t Type) String() string {
	switch t {
	case TypeTradeExecuted:
		return "TradeExecuted"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypeFundingSettled:
		return "FundingSettled"
	case TypeBadDebtRecorded:
		return "BadDebtRecorded"
	case TypeMarginAdded:
		return "MarginAdded"
	case TypeMarginRemoved:
		return "MarginRemoved"
	case TypeDeposited:
		return "Deposited"
	case TypeWithdrawn:
		return "Withdrawn"
	case TypeRiskParamsUpdated:
		return "RiskParamsUpdated"
	case TypeReserveReset:
		return "ReserveReset"
	case TypeMarketPaused:
		return "MarketPaused"
	case TypeMarketResumed:
		return "MarketResumed"
	default:
		return "Unknown"
	}
}
