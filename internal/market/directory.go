// Package market holds the per-market configuration consumed by the clearing
// engine: pricing engine, index price source, fee terms and token wiring.
package market

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"PerpClear/internal/oracle"
	"PerpClear/internal/vamm"
)

var (
	// ErrUnknownMarket is returned for unregistered market IDs.
	ErrUnknownMarket = errors.New("market: unknown market")

	// ErrDuplicateMarket is returned when registering an existing ID.
	ErrDuplicateMarket = errors.New("market: already registered")

	// ErrFeeTooHigh is returned when a market's trade fee exceeds the
	// 300 bps cap.
	ErrFeeTooHigh = errors.New("market: fee exceeds maximum")
)

// Market wires one perpetual market: the vAMM pricing engine, the external
// index price source, trade fee terms and the collateral tokens involved.
type Market struct {
	ID         string
	Pricing    *vamm.Engine
	Oracle     oracle.PriceSource
	FeeBps     int64
	QuoteToken string
	BaseToken  string
	BaseUnit   *big.Int
	Paused     bool
}

// Directory is the market registry. Admin mutations and engine reads are
// guarded; the engine serializes its own access on top.
type Directory struct {
	mu      sync.RWMutex
	markets map[string]*Market
}

func NewDirectory() *Directory {
	return &Directory{markets: make(map[string]*Market)}
}

// Register adds a market. The trade fee shares the vAMM's 300 bps cap.
func (d *Directory) Register(m *Market) error {
	if m.FeeBps < 0 || m.FeeBps > vamm.MaxFeeBps {
		return fmt.Errorf("%w: %d bps", ErrFeeTooHigh, m.FeeBps)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.markets[m.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMarket, m.ID)
	}
	d.markets[m.ID] = m
	return nil
}

// Get returns a market by ID.
func (d *Directory) Get(marketID string) (*Market, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, marketID)
	}
	return m, nil
}

// IsActive reports whether the market exists and is not paused.
func (d *Directory) IsActive(marketID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.markets[marketID]
	return ok && !m.Paused
}

// SetPaused flips the market-level pause flag (admin operation). The vAMM's
// own pause is driven separately so TWAP boundaries are recorded.
func (d *Directory) SetPaused(marketID string, paused bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.markets[marketID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarket, marketID)
	}
	m.Paused = paused
	return nil
}

// IDs returns the registered market IDs.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.markets))
	for id := range d.markets {
		out = append(out, id)
	}
	return out
}
