package oracle

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	feedDialTimeout   = 10 * time.Second
	feedReadDeadline  = 30 * time.Second
	feedReconnectWait = 2 * time.Second
)

// tickerMessage is the upstream feed's wire shape: {"symbol":..,"price":"2012.35"}.
type tickerMessage struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Feed consumes a websocket price stream and writes observations into a
// CachedSource per subscribed symbol. It reconnects on any read error.
type Feed struct {
	url     string
	sources map[string]*CachedSource
	logger  zerolog.Logger
}

func NewFeed(url string, sources map[string]*CachedSource, logger zerolog.Logger) *Feed {
	return &Feed{url: url, sources: sources, logger: logger}
}

// Run dials and consumes the feed until the context is cancelled.
func (f *Feed) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := f.consume(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn().Err(err).Str("url", f.url).Msg("price feed disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
		case <-time.After(feedReconnectWait):
		}
	}
}

func (f *Feed) consume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, feedDialTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(feedReadDeadline)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handle(payload)
	}
}

func (f *Feed) handle(payload []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.logger.Debug().Err(err).Msg("dropping malformed ticker message")
		return
	}
	src, ok := f.sources[msg.Symbol]
	if !ok {
		return
	}
	x18, ok := DecimalToX18(msg.Price)
	if !ok {
		f.logger.Debug().Str("symbol", msg.Symbol).Str("price", msg.Price.String()).
			Msg("dropping non-positive ticker price")
		return
	}
	src.Update(x18)
}

// DecimalToX18 converts a decimal price to quote X18, truncating precision
// beyond 18 fractional digits.
func DecimalToX18(d decimal.Decimal) (*big.Int, bool) {
	if d.Sign() <= 0 {
		return nil, false
	}
	scaled := d.Mul(decimal.New(1, 18)).Truncate(0)
	x18 := scaled.BigInt()
	if x18.Sign() <= 0 {
		return nil, false
	}
	return x18, true
}
