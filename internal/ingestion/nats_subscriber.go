package ingestion

import (
	"context"
	"fmt"

	"PortfolioLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultTickSubject is the subject price feeds publish to.
const DefaultTickSubject = "portfolio.ticks"

// PriceSink receives parsed tick batches. The engine implements it.
type PriceSink interface {
	UpdatePrices(prices map[string]float64) int
}

// NATSSubscriber subscribes to the tick subject and applies each valid
// batch to the sink. Malformed ticks are logged and dropped; the feed is
// fire-and-forget from the publisher's point of view.
type NATSSubscriber struct {
	conn    *nats.Conn
	subject string
	sink    PriceSink
	metrics *observability.Metrics
	log     zerolog.Logger

	sub *nats.Subscription
}

func NewNATSSubscriber(
	conn *nats.Conn,
	subject string,
	sink PriceSink,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *NATSSubscriber {
	if subject == "" {
		subject = DefaultTickSubject
	}
	return &NATSSubscriber{
		conn:    conn,
		subject: subject,
		sink:    sink,
		metrics: metrics,
		log:     log.With().Str("component", "tick_subscriber").Logger(),
	}
}

// Subscribe starts consuming ticks. Processing happens on the NATS delivery
// goroutine; the engine serializes internally so no extra queueing is
// needed at this rate.
func (ns *NATSSubscriber) Subscribe() error {
	sub, err := ns.conn.Subscribe(ns.subject, func(msg *nats.Msg) {
		ns.metrics.TicksReceived.Inc()

		tick, err := ParsePriceTick(msg.Data)
		if err != nil {
			ns.log.Warn().Err(err).Msg("dropping malformed tick")
			ns.metrics.TicksRejected.WithLabelValues("malformed").Inc()
			return
		}

		updated := ns.sink.UpdatePrices(tick.Prices)
		ns.log.Debug().
			Int("symbols", len(tick.Prices)).
			Int("updated", updated).
			Msg("tick applied")
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", ns.subject, err)
	}

	ns.sub = sub
	ns.log.Info().Str("subject", ns.subject).Msg("subscribed to price ticks")
	return nil
}

// Close drains the subscription, letting in-flight ticks finish.
func (ns *NATSSubscriber) Close(ctx context.Context) error {
	if ns.sub == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- ns.sub.Drain() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
