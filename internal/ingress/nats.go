// Package ingress adapts an external change source into calls to
// publisher.Publisher.Tick. NATSSource is the one concrete boundary
// implementation: a plain subject subscription rather than a
// JetStream consumer group, since this engine has no durability
// requirement on the ingress side — a missed batch just means the
// bitset waits for the next one. Rate limiting uses
// golang.org/x/time/rate to bound the ingestion rate.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bitfeed/internal/bitset"
	"bitfeed/internal/logging"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Ticker is the Publisher's inbound entry point.
type Ticker interface {
	Tick(changes []bitset.Change)
}

// changeWire is the wire shape of one element of an inbound change
// batch.
type changeWire struct {
	Index int  `json:"index"`
	Value bool `json:"value"`
}

// NATSSource subscribes to a NATS subject carrying JSON-encoded change
// batches and forwards each one to a Ticker.
type NATSSource struct {
	url     string
	subject string
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New builds a NATSSource. ratePerSec <= 0 disables rate limiting
// (every batch is forwarded as it arrives).
func New(url, subject string, ratePerSec int, log zerolog.Logger) *NATSSource {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &NATSSource{
		url:     url,
		subject: subject,
		limiter: limiter,
		log:     log.With().Str("component", "ingress").Logger(),
	}
}

// Run connects to NATS and forwards decoded batches to sink until ctx
// is canceled or the connection is permanently lost.
func (n *NATSSource) Run(ctx context.Context, sink Ticker) error {
	closedCh := make(chan struct{})
	var closeOnce sync.Once
	nc, err := nats.Connect(n.url, nats.MaxReconnects(5), nats.ReconnectWait(2*time.Second),
		nats.ClosedHandler(func(_ *nats.Conn) { closeOnce.Do(func() { close(closedCh) }) }))
	if err != nil {
		return fmt.Errorf("ingress: connect to nats: %w", err)
	}
	defer nc.Close()

	sub, err := nc.Subscribe(n.subject, func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				logging.LogPanic(n.log, r)
			}
		}()

		if n.limiter != nil && !n.limiter.Allow() {
			n.log.Warn().Str("subject", n.subject).Msg("change batch dropped: ingress rate exceeded")
			return
		}

		var wire []changeWire
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			n.log.Warn().Err(err).Msg("failed to decode change batch")
			return
		}

		changes := make([]bitset.Change, len(wire))
		for i, c := range wire {
			changes[i] = bitset.Change{Index: c.Index, Value: c.Value}
		}
		sink.Tick(changes)
	})
	if err != nil {
		return fmt.Errorf("ingress: subscribe %s: %w", n.subject, err)
	}
	defer sub.Unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case <-closedCh:
		return fmt.Errorf("ingress: nats connection to %s closed", n.url)
	}
}
