package engine

import "errors"

// Validation errors: nothing was mutated.
var (
	ErrZeroSize         = errors.New("engine: size must be nonzero")
	ErrMarketInactive   = errors.New("engine: market is inactive")
	ErrNoRiskParams     = errors.New("engine: risk parameters not configured")
	ErrNoPosition       = errors.New("engine: no open position")
	ErrNoPriceSource    = errors.New("engine: no price source available")
	ErrDuplicateRequest = errors.New("engine: duplicate request")
	ErrUnauthorized     = errors.New("engine: caller lacks required capability")
	ErrPositionBelowMin = errors.New("engine: resulting position below minimum size")
	ErrPositionAboveMax = errors.New("engine: resulting position above maximum size")
	ErrTooManyMarkets   = errors.New("engine: active market limit reached")
)

// Risk-policy errors: the whole operation was rolled back. These are expected
// outcomes, not defects.
var (
	ErrInsufficientCollateral  = errors.New("engine: insufficient free collateral")
	ErrBelowInitialMargin      = errors.New("engine: position below initial margin after trade")
	ErrImmediatelyLiquidatable = errors.New("engine: position would be immediately liquidatable")
	ErrAccountUnderwater       = errors.New("engine: account holds a liquidatable position")
	ErrNotLiquidatable         = errors.New("engine: position is not liquidatable")
	ErrWithdrawBlocked         = errors.New("engine: withdrawal would breach margin backing")
	ErrMarginRemovalBlocked    = errors.New("engine: margin removal would breach initial margin")
)
