// Package position tracks per-account perpetual positions: signed base size,
// weighted entry price, isolated margin, funding checkpoint and realized PnL.
package position

import (
	"math/big"

	"github.com/google/uuid"

	"PerpClear/internal/fixedpoint"
)

// Position is one account's exposure in one market. Size is base X18 and
// signed: positive long, negative short. A flat position has Size == 0 and
// EntryPriceX18 == 0, always together.
type Position struct {
	Account  uuid.UUID
	MarketID string

	SizeX18       *big.Int
	EntryPriceX18 *big.Int
	MarginX18     *big.Int

	LastFundingIndexX18 *big.Int
	RealizedPnLX18      *big.Int

	Version int64
}

// IsFlat reports whether the position has no exposure.
func (p *Position) IsFlat() bool {
	return p.SizeX18.Sign() == 0
}

// NotionalAt returns |size| * price in quote X18, rounded up so margin
// requirements never under-count.
func (p *Position) NotionalAt(priceX18 *big.Int) *big.Int {
	if p.IsFlat() {
		return new(big.Int)
	}
	return fixedpoint.MulX18(fixedpoint.Abs(p.SizeX18), priceX18, fixedpoint.RoundUp)
}

// UnrealizedAt returns size * (price - entry) in quote X18, rounded toward
// zero.
func (p *Position) UnrealizedAt(priceX18 *big.Int) *big.Int {
	if p.IsFlat() {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(priceX18, p.EntryPriceX18)
	return fixedpoint.MulX18(p.SizeX18, diff, fixedpoint.RoundDown)
}

// Clone deep-copies the position for the engine's rollback checkpoint.
func (p *Position) Clone() *Position {
	return &Position{
		Account:             p.Account,
		MarketID:            p.MarketID,
		SizeX18:             fixedpoint.Clone(p.SizeX18),
		EntryPriceX18:       fixedpoint.Clone(p.EntryPriceX18),
		MarginX18:           fixedpoint.Clone(p.MarginX18),
		LastFundingIndexX18: fixedpoint.Clone(p.LastFundingIndexX18),
		RealizedPnLX18:      fixedpoint.Clone(p.RealizedPnLX18),
		Version:             p.Version,
	}
}

type key struct {
	Account  uuid.UUID
	MarketID string
}

// Book holds every position. It is mutated only by the clearing engine's
// single writer, so it carries no lock of its own.
type Book struct {
	positions map[key]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[key]*Position)}
}

// Get returns the position, or nil if the account has never traded the
// market.
func (b *Book) Get(account uuid.UUID, marketID string) *Position {
	return b.positions[key{Account: account, MarketID: marketID}]
}

// GetOrCreate returns the position, creating a flat one if absent.
func (b *Book) GetOrCreate(account uuid.UUID, marketID string, fundingIndexX18 *big.Int) *Position {
	k := key{Account: account, MarketID: marketID}
	pos := b.positions[k]
	if pos == nil {
		pos = &Position{
			Account:             account,
			MarketID:            marketID,
			SizeX18:             new(big.Int),
			EntryPriceX18:       new(big.Int),
			MarginX18:           new(big.Int),
			LastFundingIndexX18: fixedpoint.Clone(fundingIndexX18),
			RealizedPnLX18:      new(big.Int),
		}
		b.positions[k] = pos
	}
	return pos
}

// Set installs a position outright (snapshot restore).
func (b *Book) Set(pos *Position) {
	b.positions[key{Account: pos.Account, MarketID: pos.MarketID}] = pos
}

// ActiveCount returns the number of markets where the account holds exposure.
func (b *Book) ActiveCount(account uuid.UUID) int {
	n := 0
	for k, pos := range b.positions {
		if k.Account == account && !pos.IsFlat() {
			n++
		}
	}
	return n
}

// ForAccount returns the account's positions, flat ones included.
func (b *Book) ForAccount(account uuid.UUID) []*Position {
	out := make([]*Position, 0)
	for k, pos := range b.positions {
		if k.Account == account {
			out = append(out, pos)
		}
	}
	return out
}

// All returns every position.
func (b *Book) All() []*Position {
	out := make([]*Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out
}

// ForMarket returns every position with exposure in the market.
func (b *Book) ForMarket(marketID string) []*Position {
	out := make([]*Position, 0)
	for k, pos := range b.positions {
		if k.MarketID == marketID && !pos.IsFlat() {
			out = append(out, pos)
		}
	}
	return out
}

// TradeOutcome describes what ApplyTrade did to the position.
type TradeOutcome struct {
	// RealizedX18 is the PnL realized by closing exposure, before fees.
	RealizedX18 *big.Int

	// ClosedX18 / OpenedX18 are the absolute base amounts closed against
	// existing exposure and opened as new exposure.
	ClosedX18 *big.Int
	OpenedX18 *big.Int

	// PrevAbsX18 is the absolute size before the trade; with ClosedX18 it
	// gives the engine the proportional margin-release fraction.
	PrevAbsX18 *big.Int

	SizeAfterX18 *big.Int
}

// ApplyTrade mutates the position for a signed base delta filled at
// avgPriceX18. It handles the five shapes: open, increase, reduce, close,
// flip. Margin accounting is the engine's job; the outcome carries what it
// needs.
func (b *Book) ApplyTrade(pos *Position, sizeDeltaX18, avgPriceX18 *big.Int) TradeOutcome {
	out := TradeOutcome{
		RealizedX18: new(big.Int),
		ClosedX18:   new(big.Int),
		OpenedX18:   new(big.Int),
		PrevAbsX18:  fixedpoint.Abs(pos.SizeX18),
	}

	switch {
	case pos.IsFlat():
		// Open.
		pos.SizeX18 = fixedpoint.Clone(sizeDeltaX18)
		pos.EntryPriceX18 = fixedpoint.Clone(avgPriceX18)
		out.OpenedX18 = fixedpoint.Abs(sizeDeltaX18)

	case pos.SizeX18.Sign() == sizeDeltaX18.Sign():
		// Increase: notional-weighted entry. The entry rounds against the
		// trader (up for longs, down for shorts).
		oldAbs := fixedpoint.Abs(pos.SizeX18)
		addAbs := fixedpoint.Abs(sizeDeltaX18)
		newAbs := new(big.Int).Add(oldAbs, addAbs)

		mode := fixedpoint.RoundUp
		if pos.SizeX18.Sign() < 0 {
			mode = fixedpoint.RoundDown
		}
		weighted := new(big.Int).Add(
			new(big.Int).Mul(oldAbs, pos.EntryPriceX18),
			new(big.Int).Mul(addAbs, avgPriceX18),
		)
		pos.EntryPriceX18 = fixedpoint.MulDiv(weighted, big.NewInt(1), newAbs, mode)
		pos.SizeX18 = new(big.Int).Add(pos.SizeX18, sizeDeltaX18)
		out.OpenedX18 = addAbs

	default:
		// Opposite direction: reduce, close or flip.
		oldAbs := fixedpoint.Abs(pos.SizeX18)
		deltaAbs := fixedpoint.Abs(sizeDeltaX18)
		closed := fixedpoint.Min(oldAbs, deltaAbs)

		// realized = closedSize * (exit - entry) * direction
		diff := new(big.Int).Sub(avgPriceX18, pos.EntryPriceX18)
		realized := fixedpoint.MulX18(closed, diff, fixedpoint.RoundDown)
		if pos.SizeX18.Sign() < 0 {
			realized.Neg(realized)
		}
		out.RealizedX18 = realized
		out.ClosedX18 = closed
		pos.RealizedPnLX18.Add(pos.RealizedPnLX18, realized)

		newSize := new(big.Int).Add(pos.SizeX18, sizeDeltaX18)
		pos.SizeX18 = newSize
		if newSize.Sign() == 0 {
			pos.EntryPriceX18 = new(big.Int)
		} else if deltaAbs.Cmp(oldAbs) > 0 {
			// Flip: remainder opens at the fill price.
			pos.EntryPriceX18 = fixedpoint.Clone(avgPriceX18)
			out.OpenedX18 = new(big.Int).Sub(deltaAbs, oldAbs)
		}
	}

	pos.Version++
	out.SizeAfterX18 = fixedpoint.Clone(pos.SizeX18)
	return out
}
