// Package hub implements the fan-out Broadcast Hub: every registered
// Subscriber receives every Frame published after it registers, in
// publication order, over a bounded per-subscriber queue. A
// sync.Map-based subscriber registry and non-blocking
// `select { case sub.frames <- f: default: }` publish loop, tightened
// from "drop this message" to "drop this subscriber": the catch-up
// protocol requires gap-free per-subscriber delivery, not best-effort
// messages.
package hub

import (
	"sync"
	"sync/atomic"

	"bitfeed/internal/frame"
	"bitfeed/internal/metrics"

	"github.com/rs/zerolog"
)

// Subscriber is a registered handle returned by Hub.Subscribe. Callers
// drain Frames() in order; a close of Dropped() signals the Hub
// removed this subscriber because its queue overflowed, and the
// caller must treat the session as terminated.
type Subscriber struct {
	id      uint64
	frames  chan frame.Frame
	dropped chan struct{}
	once    sync.Once
}

// Frames returns the channel of Frames delivered to this subscriber,
// in publication order.
func (s *Subscriber) Frames() <-chan frame.Frame { return s.frames }

// Dropped is closed if the Hub removed this subscriber for exceeding
// its queue capacity.
func (s *Subscriber) Dropped() <-chan struct{} { return s.dropped }

func (s *Subscriber) markDropped() {
	s.once.Do(func() { close(s.dropped) })
}

// Hub is a fan-out primitive with a fixed per-subscriber queue
// capacity. It is safe for concurrent use by one Publisher and many
// Sessions.
type Hub struct {
	subscribers sync.Map // map[uint64]*Subscriber
	nextID      uint64
	queueCap    int
	metrics     *metrics.Registry
	log         zerolog.Logger
}

// New builds a Hub whose subscribers each get a queue of capacity
// queueCap (Q in the configuration, default 100).
func New(queueCap int, reg *metrics.Registry, log zerolog.Logger) *Hub {
	if queueCap < 1 {
		queueCap = 1
	}
	return &Hub{
		queueCap: queueCap,
		metrics:  reg,
		log:      log.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a new Subscriber. Every Frame published after
// this call returns is delivered to it, subject to the drop-on-
// overflow policy. The caller is responsible for ordering this call
// relative to a Store snapshot per the Opening-state protocol.
func (h *Hub) Subscribe() *Subscriber {
	id := atomic.AddUint64(&h.nextID, 1)
	sub := &Subscriber{
		id:      id,
		frames:  make(chan frame.Frame, h.queueCap),
		dropped: make(chan struct{}),
	}
	h.subscribers.Store(id, sub)
	if h.metrics != nil {
		h.metrics.Hub.ActiveSubscribers.Inc()
	}
	return sub
}

// Unsubscribe removes sub from the registry. Safe to call more than
// once and safe to call after the Hub has already dropped sub for
// backpressure.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	if _, loaded := h.subscribers.LoadAndDelete(sub.id); loaded {
		if h.metrics != nil {
			h.metrics.Hub.ActiveSubscribers.Dec()
		}
	}
}

// Publish enqueues f to every active subscriber. It never blocks: a
// subscriber whose queue is full is removed immediately and its
// Dropped channel closed (spec-mandated "drop the slow subscriber",
// not "drop the message" — replay's ordering guarantee depends on
// every delivered Frame being contiguous).
func (h *Hub) Publish(f frame.Frame) {
	if h.metrics != nil {
		h.metrics.Publisher.FramesPublished.WithLabelValues(f.Kind.String()).Inc()
		h.metrics.Publisher.BitsetVersion.Set(float64(f.Version))
	}

	h.subscribers.Range(func(key, value any) bool {
		sub := value.(*Subscriber)
		select {
		case sub.frames <- f:
		default:
			h.subscribers.Delete(key)
			sub.markDropped()
			if h.metrics != nil {
				h.metrics.Hub.ActiveSubscribers.Dec()
				h.metrics.Hub.SubscribersDropped.Inc()
			}
			h.log.Warn().Uint64("subscriber", sub.id).Uint64("version", f.Version).Msg("subscriber dropped: queue overflow")
		}
		return true
	})
}

// ActiveCount returns the number of currently registered subscribers.
func (h *Hub) ActiveCount() int {
	n := 0
	h.subscribers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
