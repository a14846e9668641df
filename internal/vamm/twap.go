package vamm

import (
	"math/big"

	"PerpClear/internal/fixedpoint"
)

// twapRingSize bounds the observation history. At one observation per second
// (observations are deduplicated per timestamp) this covers over four minutes
// of dense trading; sparse markets cover much longer spans.
const twapRingSize = 256

// observation is a cumulative-price checkpoint. priceCumX18 accumulates
// price x active-seconds; activeCum counts seconds the market was unpaused.
// Paused spans advance ts but neither accumulator, which excludes them from
// any average that straddles the pause.
type observation struct {
	ts          int64
	priceCumX18 *big.Int
	activeCum   int64
}

type twapRing struct {
	obs   [twapRingSize]observation
	head  int
	count int
}

func newTwapRing(now int64) *twapRing {
	r := &twapRing{}
	r.obs[0] = observation{ts: now, priceCumX18: new(big.Int)}
	r.head = 0
	r.count = 1
	return r
}

func (r *twapRing) last() observation {
	return r.obs[r.head]
}

func (r *twapRing) oldest() observation {
	idx := (r.head - r.count + 1 + twapRingSize) % twapRingSize
	return r.obs[idx]
}

// observe appends a checkpoint at ts using the price that held since the
// previous observation. Duplicate timestamps are ignored so a burst of swaps
// in the same second records a single checkpoint.
func (r *twapRing) observe(ts int64, priceX18 *big.Int, active bool) {
	prev := r.last()
	if ts <= prev.ts {
		return
	}

	cum := fixedpoint.Clone(prev.priceCumX18)
	act := prev.activeCum
	if active {
		dt := ts - prev.ts
		cum.Add(cum, new(big.Int).Mul(priceX18, big.NewInt(dt)))
		act += dt
	}

	r.head = (r.head + 1) % twapRingSize
	r.obs[r.head] = observation{ts: ts, priceCumX18: cum, activeCum: act}
	if r.count < twapRingSize {
		r.count++
	}
}

// at returns the most recent observation with ts <= target, scanning the ring
// backward from the head.
func (r *twapRing) at(target int64) (observation, bool) {
	for i := 0; i < r.count; i++ {
		idx := (r.head - i + twapRingSize) % twapRingSize
		if r.obs[idx].ts <= target {
			return r.obs[idx], true
		}
	}
	return observation{}, false
}

// average computes the time-weighted mean price over [now-window, now].
// currentPriceX18 extends the last checkpoint to now (weighted only while
// active). The anchor observation must be at least window/2 old; otherwise
// the caller gets ErrInsufficientHistory instead of a silently shortened
// average. A window longer than the ring's total age is clamped to that age.
func (r *twapRing) average(now, window int64, currentPriceX18 *big.Int, active bool) (*big.Int, error) {
	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	halfWindow := window / 2

	age := now - r.oldest().ts
	if age < window {
		window = age
	}
	if window <= 0 {
		return nil, ErrInsufficientHistory
	}

	anchor, ok := r.at(now - window)
	if !ok || now-anchor.ts < halfWindow {
		return nil, ErrInsufficientHistory
	}

	last := r.last()
	cumNow := fixedpoint.Clone(last.priceCumX18)
	actNow := last.activeCum
	if active && now > last.ts {
		dt := now - last.ts
		cumNow.Add(cumNow, new(big.Int).Mul(currentPriceX18, big.NewInt(dt)))
		actNow += dt
	}

	weight := actNow - anchor.activeCum
	if weight <= 0 {
		// Entire span was paused.
		return nil, ErrInsufficientHistory
	}

	num := new(big.Int).Sub(cumNow, anchor.priceCumX18)
	return fixedpoint.MulDiv(num, big.NewInt(1), big.NewInt(weight), fixedpoint.RoundDown), nil
}
