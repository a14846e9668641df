// Package engine implements the clearing engine: the single-writer actor that
// owns positions, margin, funding settlement and liquidation, and drives the
// per-market pricing engines. Every operation runs to completion under one
// lock; any risk-check failure rolls back all mutations made by the
// operation.
package engine

import (
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpClear/internal/auth"
	"PerpClear/internal/collateral"
	"PerpClear/internal/event"
	"PerpClear/internal/fees"
	"PerpClear/internal/fixedpoint"
	"PerpClear/internal/insurance"
	"PerpClear/internal/market"
	"PerpClear/internal/observability"
	"PerpClear/internal/position"
	"PerpClear/internal/risk"
)

const (
	defaultMaxActiveMarkets = 16
	defaultRiskTwapWindow   = 900 // seconds
)

// Output couples a committed event with its envelope, for the persistence
// worker and the publisher.
type Output struct {
	Envelope *event.Envelope
}

// Config wires the clearinghouse's collaborators.
type Config struct {
	Markets   *market.Directory
	Risk      *risk.Registry
	Vault     *collateral.Vault
	Insurance *insurance.Fund
	Fees      *fees.Distributor

	// MaxActiveMarkets caps the number of markets one account may hold
	// exposure in; withdraw and liquidation scans iterate this set.
	MaxActiveMarkets int

	// RiskTwapWindowSec is the TWAP window used when the oracle is down.
	RiskTwapWindowSec int64

	// PersistChan receives every committed output with a blocking send.
	// PublishChan receives the same outputs with a non-blocking send.
	// Either may be nil.
	PersistChan chan<- Output
	PublishChan chan<- Output

	// Admin gates privileged operations. Nil allows everything.
	Admin *auth.Keyring

	Logger  zerolog.Logger
	Metrics *observability.Metrics

	// Clock is the engine's time source, injectable for tests.
	Clock func() time.Time
}

// Clearinghouse is the margin and liquidation engine.
type Clearinghouse struct {
	mu sync.Mutex

	markets   *market.Directory
	risk      *risk.Registry
	vault     *collateral.Vault
	book      *position.Book
	insurance *insurance.Fund
	fees      *fees.Distributor

	maxActiveMarkets int
	riskTwapWindow   int64
	admin            *auth.Keyring

	seq         int64
	idempotency *requestCache

	persistCh chan<- Output
	publishCh chan<- Output

	logger  zerolog.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

func New(cfg Config) *Clearinghouse {
	if cfg.MaxActiveMarkets <= 0 {
		cfg.MaxActiveMarkets = defaultMaxActiveMarkets
	}
	if cfg.RiskTwapWindowSec <= 0 {
		cfg.RiskTwapWindowSec = defaultRiskTwapWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Clearinghouse{
		markets:          cfg.Markets,
		risk:             cfg.Risk,
		vault:            cfg.Vault,
		book:             position.NewBook(),
		insurance:        cfg.Insurance,
		fees:             cfg.Fees,
		maxActiveMarkets: cfg.MaxActiveMarkets,
		riskTwapWindow:   cfg.RiskTwapWindowSec,
		admin:            cfg.Admin,
		idempotency:      newRequestCache(requestCacheCapacity),
		persistCh:        cfg.PersistChan,
		publishCh:        cfg.PublishChan,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
		clock:            cfg.Clock,
	}
}

// emit assigns a sequence and fans the event out. The persistence send
// blocks so no committed event is ever lost; the publish send drops when the
// consumer falls behind.
func (ch *Clearinghouse) emit(marketID string, evt event.Event) {
	ch.seq++
	out := Output{Envelope: &event.Envelope{
		Sequence:  ch.seq,
		EventID:   uuid.New(),
		Type:      evt.EventType(),
		MarketID:  marketID,
		Timestamp: ch.clock(),
		Event:     evt,
	}}

	if ch.persistCh != nil {
		ch.persistCh <- out
	}
	if ch.publishCh != nil {
		select {
		case ch.publishCh <- out:
		default:
		}
	}
	if ch.metrics != nil {
		ch.metrics.EventsEmitted.WithLabelValues(evt.EventType().String()).Inc()
		ch.metrics.EngineSequence.Set(float64(ch.seq))
	}
}

// Sequence returns the last committed sequence number.
func (ch *Clearinghouse) Sequence() int64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.seq
}

// riskPrice resolves the price used for margin and liquidation checks:
// oracle first, then TWAP, then mark. Fails only when every source is down.
func (ch *Clearinghouse) riskPrice(m *market.Market) (*big.Int, error) {
	if m.Oracle != nil {
		if p, err := m.Oracle.IndexPrice(); err == nil && p.Sign() > 0 {
			return p, nil
		}
	}
	now := ch.clock().Unix()
	if p, err := m.Pricing.TWAP(now, ch.riskTwapWindow); err == nil && p.Sign() > 0 {
		return p, nil
	}
	if p, err := m.Pricing.MarkPrice(); err == nil && p.Sign() > 0 {
		return p, nil
	}
	return nil, ErrNoPriceSource
}

// requiredAt returns bps-of-notional at a price, rounded up.
func requiredAt(pos *position.Position, priceX18 *big.Int, bps int64) *big.Int {
	return fixedpoint.ApplyBps(pos.NotionalAt(priceX18), bps, fixedpoint.RoundUp)
}

// effectiveMarginAt returns margin + unrealized PnL at a price.
func effectiveMarginAt(pos *position.Position, priceX18 *big.Int) *big.Int {
	return new(big.Int).Add(pos.MarginX18, pos.UnrealizedAt(priceX18))
}

// pendingFunding returns the signed funding payment the position would
// receive if settled against the given index, rounded against the account.
func pendingFunding(pos *position.Position, fundingIndexX18 *big.Int) *big.Int {
	delta := new(big.Int).Sub(fundingIndexX18, pos.LastFundingIndexX18)
	if delta.Sign() == 0 || pos.IsFlat() {
		return new(big.Int)
	}
	mode := fixedpoint.RoundDown
	if delta.Sign()*pos.SizeX18.Sign() > 0 {
		mode = fixedpoint.RoundUp
	}
	return fixedpoint.Neg(fixedpoint.MulX18(delta, pos.SizeX18, mode))
}

// isLiquidatableLocked evaluates liquidation eligibility at the risk price,
// including funding the position has not yet settled.
func (ch *Clearinghouse) isLiquidatableLocked(pos *position.Position, m *market.Market, params *risk.Params) (bool, error) {
	if pos == nil || pos.IsFlat() {
		return false, nil
	}
	price, err := ch.riskPrice(m)
	if err != nil {
		return false, err
	}
	eff := effectiveMarginAt(pos, price)
	eff.Add(eff, pendingFunding(pos, m.Pricing.FundingIndex()))
	return eff.Cmp(requiredAt(pos, price, params.MMRBps)) < 0, nil
}

// anyLiquidatableLocked reports whether the account holds a liquidatable
// position in any market. Price-source failures on other markets are treated
// as not-liquidatable so one dead oracle cannot freeze unrelated trading.
func (ch *Clearinghouse) anyLiquidatableLocked(account uuid.UUID) bool {
	for _, pos := range ch.book.ForAccount(account) {
		if pos.IsFlat() {
			continue
		}
		m, err := ch.markets.Get(pos.MarketID)
		if err != nil {
			continue
		}
		params, ok := ch.risk.Get(pos.MarketID)
		if !ok {
			continue
		}
		if liq, err := ch.isLiquidatableLocked(pos, m, params); err == nil && liq {
			return true
		}
	}
	return false
}

// pokeFundingLocked opportunistically advances the market's funding index
// using the oracle price, tolerating oracle failure.
func (ch *Clearinghouse) pokeFundingLocked(m *market.Market) {
	var index *big.Int
	if m.Oracle != nil {
		if p, err := m.Oracle.IndexPrice(); err == nil {
			index = p
		}
	}
	if err := m.Pricing.PokeFunding(ch.clock().Unix(), index); err != nil {
		ch.logger.Debug().Err(err).Str("market", m.ID).Msg("funding poke skipped")
	}
}

// checkpoint captures everything a trade may mutate for one account.
type checkpoint struct {
	vault     *collateral.AccountSnapshot
	positions []*position.Position
}

func (ch *Clearinghouse) checkpointAccount(account uuid.UUID) *checkpoint {
	cp := &checkpoint{vault: ch.vault.SnapshotAccount(account)}
	for _, pos := range ch.book.ForAccount(account) {
		cp.positions = append(cp.positions, pos.Clone())
	}
	return cp
}

func (ch *Clearinghouse) rollback(cp *checkpoint) {
	ch.vault.RestoreAccount(cp.vault)
	for _, pos := range cp.positions {
		ch.book.Set(pos)
	}
}
