// Package oracle provides index price sources for the clearing engine. A
// source either returns a positive X18 price or an error; the engine treats
// any error as "oracle unavailable" and falls back to TWAP, then mark.
package oracle

import (
	"errors"
	"math/big"
	"sync"
	"time"
)

var (
	// ErrNoPrice is returned when a source has never observed a price.
	ErrNoPrice = errors.New("oracle: no price available")

	// ErrStalePrice is returned when the latest observation is older than
	// the source's staleness bound.
	ErrStalePrice = errors.New("oracle: price is stale")
)

// PriceSource yields the external index price for one market.
type PriceSource interface {
	// IndexPrice returns the current index price in quote X18.
	IndexPrice() (*big.Int, error)
}

// StaticSource is a fixed-price source for bootstrap and tests.
type StaticSource struct {
	mu    sync.RWMutex
	price *big.Int
	err   error
}

func NewStaticSource(priceX18 *big.Int) *StaticSource {
	return &StaticSource{price: new(big.Int).Set(priceX18)}
}

func (s *StaticSource) IndexPrice() (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.price == nil || s.price.Sign() <= 0 {
		return nil, ErrNoPrice
	}
	return new(big.Int).Set(s.price), nil
}

// SetPrice updates the fixed price.
func (s *StaticSource) SetPrice(priceX18 *big.Int) {
	s.mu.Lock()
	s.price = new(big.Int).Set(priceX18)
	s.err = nil
	s.mu.Unlock()
}

// Fail makes the source return err until the next SetPrice.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// CachedSource holds the most recent push-fed observation and enforces a
// staleness bound. The websocket feed writes into it; the engine reads.
type CachedSource struct {
	mu       sync.RWMutex
	price    *big.Int
	updated  time.Time
	maxAge   time.Duration
	now      func() time.Time
	everySet bool
}

// NewCachedSource creates a source that rejects observations older than
// maxAge. maxAge <= 0 disables the staleness check.
func NewCachedSource(maxAge time.Duration) *CachedSource {
	return &CachedSource{maxAge: maxAge, now: time.Now}
}

// Update stores a new observation. Non-positive prices are ignored.
func (c *CachedSource) Update(priceX18 *big.Int) {
	if priceX18 == nil || priceX18.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	c.price = new(big.Int).Set(priceX18)
	c.updated = c.now()
	c.everySet = true
	c.mu.Unlock()
}

func (c *CachedSource) IndexPrice() (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.everySet {
		return nil, ErrNoPrice
	}
	if c.maxAge > 0 && c.now().Sub(c.updated) > c.maxAge {
		return nil, ErrStalePrice
	}
	return new(big.Int).Set(c.price), nil
}
