// Package publish ships committed engine events to NATS JetStream for
// downstream consumers (risk dashboards, settlement reconcilers, market data).
// Publication is best-effort: the engine's publish channel drops when this
// worker falls behind, and consumers that need completeness read the durable
// event log instead.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpClear/internal/engine"
	"PerpClear/internal/observability"
)

const (
	// StreamName is the outbound JetStream stream.
	StreamName = "PERPCLEAR_EVENTS"

	// subjectPrefix is the root of the outbound subject space:
	// perpclear.events.{event_type}.{market_id}
	subjectPrefix = "perpclear.events"
)

// Publisher drains the engine's publish channel and publishes each envelope
// to JetStream.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, input <-chan engine.Output, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		logger:  logger,
		metrics: metrics,
	}
}

// Run consumes the publish channel until ctx is cancelled or the channel
// closes. Publish failures are logged and dropped, never retried: the event
// log is the source of truth.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out); err != nil {
				p.logger.Warn().
					Err(err).
					Int64("sequence", out.Envelope.Sequence).
					Str("event_type", out.Envelope.Type.String()).
					Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out engine.Output) error {
	data, err := json.Marshal(out.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", subjectPrefix, out.Envelope.Type.String())
	if out.Envelope.MarketID != "" {
		subject = fmt.Sprintf("%s.%s", subject, out.Envelope.MarketID)
	}

	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// Connect dials NATS and returns a JetStream handle.
func Connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
