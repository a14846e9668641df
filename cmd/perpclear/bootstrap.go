package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"PerpClear/internal/collateral"
	"PerpClear/internal/market"
	"PerpClear/internal/oracle"
	"PerpClear/internal/risk"
	"PerpClear/internal/vamm"
)

// VenueSpec is the venue bootstrap file: collateral tokens, markets and their
// risk terms. Markets cannot be added at runtime, so the file is the full
// market set; snapshot restore re-applies reserves and funding state on top.
type VenueSpec struct {
	Tokens  []TokenSpec  `json:"tokens"`
	Markets []MarketSpec `json:"markets"`
}

type TokenSpec struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Enabled  bool   `json:"enabled"`
}

type MarketSpec struct {
	ID          string `json:"id"`
	IndexSymbol string `json:"index_symbol"`
	QuoteToken  string `json:"quote_token"`
	BaseToken   string `json:"base_token"`

	InitialPrice string `json:"initial_price"`
	BaseReserve  string `json:"base_reserve"`

	FeeBps     int64 `json:"fee_bps"`
	VAMMFeeBps int64 `json:"vamm_fee_bps"`

	MinReserveBase  string `json:"min_reserve_base"`
	MinReserveQuote string `json:"min_reserve_quote"`

	FundingK             string `json:"funding_k"`
	FundingMaxBpsPerHour int64  `json:"funding_max_bps_per_hour"`
	FundingTwapWindowSec int64  `json:"funding_twap_window_sec"`

	OracleMaxAgeSec int64 `json:"oracle_max_age_sec"`

	Risk RiskSpec `json:"risk"`
}

type RiskSpec struct {
	IMRBps                int64  `json:"imr_bps"`
	MMRBps                int64  `json:"mmr_bps"`
	LiquidationPenaltyBps int64  `json:"liquidation_penalty_bps"`
	PenaltyCap            string `json:"penalty_cap"`
	LiquidatorShareBps    int64  `json:"liquidator_share_bps"`
	MinPositionSize       string `json:"min_position_size"`
	MaxPositionSize       string `json:"max_position_size"`
}

// venue is the wired result of a VenueSpec.
type venue struct {
	vault   *collateral.Vault
	markets *market.Directory
	risk    *risk.Registry

	// sources keyed by market ID (NATS subjects) and by index symbol
	// (websocket feed); both views share the same CachedSource instances.
	sourcesByMarket map[string]*oracle.CachedSource
	sourcesBySymbol map[string]*oracle.CachedSource
}

func LoadVenueSpec(path string) (*VenueSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read venue spec: %w", err)
	}
	var spec VenueSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parse venue spec: %w", err)
	}
	if len(spec.Tokens) == 0 {
		return nil, fmt.Errorf("venue spec defines no collateral tokens")
	}
	return &spec, nil
}

// BuildVenue constructs the vault, market directory, risk registry and price
// sources from the venue file. now anchors each market's TWAP clock.
func BuildVenue(spec *VenueSpec, now int64, logger zerolog.Logger) (*venue, error) {
	tokens := make([]collateral.TokenConfig, 0, len(spec.Tokens))
	for _, t := range spec.Tokens {
		if t.Decimals < 0 || t.Decimals > 18 {
			return nil, fmt.Errorf("token %s: decimals out of range: %d", t.Symbol, t.Decimals)
		}
		baseUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)
		tokens = append(tokens, collateral.TokenConfig{
			Symbol:   t.Symbol,
			BaseUnit: baseUnit,
			Enabled:  t.Enabled,
		})
	}

	v := &venue{
		vault:           collateral.NewVault(tokens),
		markets:         market.NewDirectory(),
		risk:            risk.NewRegistry(),
		sourcesByMarket: make(map[string]*oracle.CachedSource),
		sourcesBySymbol: make(map[string]*oracle.CachedSource),
	}

	for _, m := range spec.Markets {
		initialPrice, err := specAmount(m.InitialPrice)
		if err != nil {
			return nil, fmt.Errorf("market %s: initial_price: %w", m.ID, err)
		}
		baseReserve, err := specAmount(m.BaseReserve)
		if err != nil {
			return nil, fmt.Errorf("market %s: base_reserve: %w", m.ID, err)
		}
		minBase, err := specAmount(m.MinReserveBase)
		if err != nil {
			return nil, fmt.Errorf("market %s: min_reserve_base: %w", m.ID, err)
		}
		minQuote, err := specAmount(m.MinReserveQuote)
		if err != nil {
			return nil, fmt.Errorf("market %s: min_reserve_quote: %w", m.ID, err)
		}
		fundingK, err := specAmount(m.FundingK)
		if err != nil {
			return nil, fmt.Errorf("market %s: funding_k: %w", m.ID, err)
		}

		pricing, err := vamm.New(vamm.Config{
			FeeBps:               m.VAMMFeeBps,
			MinReserveBase:       minBase,
			MinReserveQuote:      minQuote,
			FundingKX18:          fundingK,
			FundingMaxBpsPerHour: m.FundingMaxBpsPerHour,
			FundingTwapWindowSec: m.FundingTwapWindowSec,
		}, initialPrice, baseReserve, now)
		if err != nil {
			return nil, fmt.Errorf("market %s: pricing engine: %w", m.ID, err)
		}

		maxAge := time.Duration(m.OracleMaxAgeSec) * time.Second
		if maxAge <= 0 {
			maxAge = 30 * time.Second
		}
		src := oracle.NewCachedSource(maxAge)
		v.sourcesByMarket[m.ID] = src
		if m.IndexSymbol != "" {
			v.sourcesBySymbol[m.IndexSymbol] = src
		}

		baseUnit, err := quoteBaseUnit(tokens, m.QuoteToken)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", m.ID, err)
		}
		if err := v.markets.Register(&market.Market{
			ID:         m.ID,
			Pricing:    pricing,
			Oracle:     src,
			FeeBps:     m.FeeBps,
			QuoteToken: m.QuoteToken,
			BaseToken:  m.BaseToken,
			BaseUnit:   baseUnit,
		}); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.ID, err)
		}

		penaltyCap, err := optionalSpecAmount(m.Risk.PenaltyCap)
		if err != nil {
			return nil, fmt.Errorf("market %s: penalty_cap: %w", m.ID, err)
		}
		minSize, err := optionalSpecAmount(m.Risk.MinPositionSize)
		if err != nil {
			return nil, fmt.Errorf("market %s: min_position_size: %w", m.ID, err)
		}
		maxSize, err := optionalSpecAmount(m.Risk.MaxPositionSize)
		if err != nil {
			return nil, fmt.Errorf("market %s: max_position_size: %w", m.ID, err)
		}
		if err := v.risk.Set(&risk.Params{
			MarketID:              m.ID,
			IMRBps:                m.Risk.IMRBps,
			MMRBps:                m.Risk.MMRBps,
			LiquidationPenaltyBps: m.Risk.LiquidationPenaltyBps,
			PenaltyCapX18:         penaltyCap,
			LiquidatorShareBps:    m.Risk.LiquidatorShareBps,
			MinPositionSizeX18:    minSize,
			MaxPositionSizeX18:    maxSize,
		}); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.ID, err)
		}

		logger.Info().
			Str("market", m.ID).
			Str("initial_price", m.InitialPrice).
			Int64("fee_bps", m.FeeBps).
			Msg("market registered")
	}
	return v, nil
}

// specAmount parses a required decimal amount into X18. Range validation is
// left to the consuming component (vamm.New, risk.Set).
func specAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("missing amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %s", s)
	}
	return d.Mul(decimal.New(1, 18)).Truncate(0).BigInt(), nil
}

// optionalSpecAmount parses an amount that may be absent; empty means nil,
// which the risk registry normalizes to its zero default.
func optionalSpecAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return specAmount(s)
}

func quoteBaseUnit(tokens []collateral.TokenConfig, symbol string) (*big.Int, error) {
	for _, t := range tokens {
		if t.Symbol == symbol {
			return t.BaseUnit, nil
		}
	}
	return nil, fmt.Errorf("quote token %s not configured", symbol)
}
