package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PerpClear/internal/engine"
	"PerpClear/internal/market"
	"PerpClear/internal/vamm"
)

// Monetary amounts on the wire are decimal strings ("2000.5"); internally
// everything is X18.

type tradeRequest struct {
	Account    uuid.UUID `json:"account"`
	MarketID   string    `json:"market_id"`
	SizeDelta  string    `json:"size_delta"`
	PriceLimit string    `json:"price_limit,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

type closeRequest struct {
	Account    uuid.UUID `json:"account"`
	MarketID   string    `json:"market_id"`
	Size       string    `json:"size,omitempty"` // empty closes the whole position
	PriceLimit string    `json:"price_limit,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

type liquidateRequest struct {
	Liquidator uuid.UUID `json:"liquidator"`
	Account    uuid.UUID `json:"account"`
	MarketID   string    `json:"market_id"`
	Size       string    `json:"size,omitempty"`
	PriceLimit string    `json:"price_limit,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

type transferRequest struct {
	Account   uuid.UUID `json:"account"`
	Token     string    `json:"token"`
	Amount    string    `json:"amount"`
	RequestID string    `json:"request_id,omitempty"`
}

type marginRequest struct {
	Account  uuid.UUID `json:"account"`
	MarketID string    `json:"market_id"`
	Amount   string    `json:"amount"`
}

type settleFundingRequest struct {
	Account  uuid.UUID `json:"account"`
	MarketID string    `json:"market_id"`
}

type riskParamsRequest struct {
	MarketID              string `json:"market_id"`
	IMRBps                int64  `json:"imr_bps"`
	MMRBps                int64  `json:"mmr_bps"`
	LiquidationPenaltyBps int64  `json:"liquidation_penalty_bps"`
	PenaltyCap            string `json:"penalty_cap,omitempty"`
	LiquidatorShareBps    int64  `json:"liquidator_share_bps"`
	MinPositionSize       string `json:"min_position_size,omitempty"`
	MaxPositionSize       string `json:"max_position_size,omitempty"`
}

type pauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

type resetReservesRequest struct {
	NewPrice string `json:"new_price"`
	NewBase  string `json:"new_base"`
}

type positionResponse struct {
	Account        uuid.UUID `json:"account"`
	MarketID       string    `json:"market_id"`
	Size           string    `json:"size"`
	EntryPrice     string    `json:"entry_price"`
	Margin         string    `json:"margin"`
	RealizedPnL    string    `json:"realized_pnl"`
	RiskPrice      string    `json:"risk_price,omitempty"`
	Notional       string    `json:"notional"`
	UnrealizedPnL  string    `json:"unrealized_pnl"`
	PendingFunding string    `json:"pending_funding"`
	MarginRatio    string    `json:"margin_ratio,omitempty"`
	Liquidatable   bool      `json:"liquidatable"`
}

type marketResponse struct {
	MarketID     string `json:"market_id"`
	MarkPrice    string `json:"mark_price,omitempty"`
	IndexPrice   string `json:"index_price,omitempty"`
	TWAP         string `json:"twap,omitempty"`
	FundingIndex string `json:"funding_index"`
	ReserveBase  string `json:"reserve_base"`
	ReserveQuote string `json:"reserve_quote"`
	FeeBps       int64  `json:"fee_bps"`
	Paused       bool   `json:"paused"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// parseAmount converts a decimal wire amount to X18. Empty is nil, which
// callers treat as "absent".
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("malformed amount %q", s)
	}
	scaled := d.Mul(decimal.New(1, 18)).Truncate(0)
	return scaled.BigInt(), nil
}

// newBigInt parses a plain base-10 integer string, used for native-unit
// amounts that are not X18-scaled.
func newBigInt(s string) (*big.Int, bool) {
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

// formatAmount renders an X18 value as a decimal wire string.
func formatAmount(x18 *big.Int) string {
	if x18 == nil {
		return ""
	}
	return decimal.NewFromBigInt(x18, -18).String()
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, err error) {
	respond(w, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps engine errors onto HTTP statuses: malformed requests are
// 400, unknown resources 404, duplicates 409, capability failures 403,
// risk-policy rejections 422, and a venue with no working price source 503.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrUnknownMarket),
		errors.Is(err, engine.ErrNoPosition):
		return http.StatusNotFound

	case errors.Is(err, engine.ErrDuplicateRequest):
		return http.StatusConflict

	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden

	case errors.Is(err, engine.ErrMarketInactive),
		errors.Is(err, vamm.ErrPaused),
		errors.Is(err, market.ErrDuplicateMarket):
		return http.StatusConflict

	case errors.Is(err, engine.ErrNoPriceSource):
		return http.StatusServiceUnavailable

	case errors.Is(err, engine.ErrZeroSize),
		errors.Is(err, engine.ErrNoRiskParams),
		errors.Is(err, engine.ErrPositionBelowMin),
		errors.Is(err, engine.ErrPositionAboveMax),
		errors.Is(err, vamm.ErrZeroAmount),
		errors.Is(err, vamm.ErrInvalidWindow),
		errors.Is(err, vamm.ErrResetOutOfRange),
		errors.Is(err, market.ErrFeeTooHigh):
		return http.StatusBadRequest

	case errors.Is(err, engine.ErrInsufficientCollateral),
		errors.Is(err, engine.ErrBelowInitialMargin),
		errors.Is(err, engine.ErrImmediatelyLiquidatable),
		errors.Is(err, engine.ErrAccountUnderwater),
		errors.Is(err, engine.ErrNotLiquidatable),
		errors.Is(err, engine.ErrWithdrawBlocked),
		errors.Is(err, engine.ErrMarginRemovalBlocked),
		errors.Is(err, engine.ErrTooManyMarkets),
		errors.Is(err, vamm.ErrSlippage),
		errors.Is(err, vamm.ErrReserveFloor):
		return http.StatusUnprocessableEntity

	default:
		return http.StatusInternalServerError
	}
}
