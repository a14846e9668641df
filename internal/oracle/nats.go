package oracle

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// priceSubjectPrefix is the inbound index price subject space:
// perpclear.prices.{market_id}
const priceSubjectPrefix = "perpclear.prices"

// priceTick is the wire format on the price subjects.
type priceTick struct {
	MarketID string          `json:"market_id"`
	Price    decimal.Decimal `json:"price"`
}

// NATSFeed subscribes to per-market index price subjects and writes each tick
// into the market's CachedSource. Price ticks are fire-and-forget: a missed
// tick only widens the staleness window, so plain core NATS is used rather
// than JetStream.
type NATSFeed struct {
	nc      *nats.Conn
	sources map[string]*CachedSource
	logger  zerolog.Logger

	subs []*nats.Subscription
}

func NewNATSFeed(nc *nats.Conn, sources map[string]*CachedSource, logger zerolog.Logger) *NATSFeed {
	return &NATSFeed{
		nc:      nc,
		sources: sources,
		logger:  logger,
	}
}

// Subscribe attaches one subscription per configured market.
func (f *NATSFeed) Subscribe() error {
	for marketID, src := range f.sources {
		subject := fmt.Sprintf("%s.%s", priceSubjectPrefix, marketID)
		src := src
		sub, err := f.nc.Subscribe(subject, func(msg *nats.Msg) {
			f.handle(src, msg.Data)
		})
		if err != nil {
			f.Stop()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		f.subs = append(f.subs, sub)
		f.logger.Info().Str("subject", subject).Msg("price feed subscribed")
	}
	return nil
}

func (f *NATSFeed) handle(src *CachedSource, data []byte) {
	var tick priceTick
	if err := json.Unmarshal(data, &tick); err != nil {
		f.logger.Warn().Err(err).Msg("malformed price tick")
		return
	}
	x18, ok := DecimalToX18(tick.Price)
	if !ok {
		f.logger.Warn().Str("price", tick.Price.String()).Msg("unrepresentable price tick")
		return
	}
	src.Update(x18)
}

// Stop drains all subscriptions.
func (f *NATSFeed) Stop() {
	for _, sub := range f.subs {
		_ = sub.Unsubscribe()
	}
	f.subs = nil
}
