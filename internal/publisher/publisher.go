// Package publisher wires the single-writer tick path: apply a change
// batch to the Store, build the resulting Frame, retain it in the
// Replay Buffer, and hand it to the Broadcast Hub.
package publisher

import (
	"sync"

	"bitfeed/internal/bitset"
	"bitfeed/internal/frame"
	"bitfeed/internal/replay"

	"github.com/rs/zerolog"
)

// Broadcaster is the Hub's publish side, kept as an interface so
// Publisher can be tested without a real Hub.
type Broadcaster interface {
	Publish(f frame.Frame)
}

// Publisher is the sole writer of the Store. Tick is safe to call
// concurrently: mu serializes whole ticks, so Apply, the Replay Buffer
// append and the Hub publish of one tick complete before the next tick
// begins, keeping buffered and published versions in order.
type Publisher struct {
	mu             sync.Mutex
	store          *bitset.Store
	buffer         *replay.Buffer
	hub            Broadcaster
	keyframePeriod uint64
	log            zerolog.Logger
}

// New builds a Publisher over store, appending every produced Frame to
// buffer and handing it to hub. keyframePeriod is K from the
// configuration (every Kth version is a keyframe tick). The version-0
// Keyframe is seeded into buffer immediately, without going through
// hub, so version 0 is a real buffered Keyframe like any later one
// (spec §9 Open Question 3).
func New(store *bitset.Store, buffer *replay.Buffer, hub Broadcaster, keyframePeriod uint64, log zerolog.Logger) *Publisher {
	p := &Publisher{
		store:          store,
		buffer:         buffer,
		hub:            hub,
		keyframePeriod: keyframePeriod,
		log:            log.With().Str("component", "publisher").Logger(),
	}

	v0, bits := store.ReadSnapshot()
	buffer.Add(frame.Build(v0, nil, true, bits))

	return p
}

// Tick applies changes to the Store, builds the Frame for this version,
// appends it to the Replay Buffer, and publishes it to the Hub. It
// never returns an error: a malformed or out-of-range change is simply
// dropped by the Store (bitset.Store.Apply already ignores those), and
// a delivery failure for one subscriber is the Hub's concern, not the
// Publisher's.
func (p *Publisher) Tick(changes []bitset.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	newVersion, applied, isKeyframeTick := p.store.Apply(changes, p.keyframePeriod)

	var fullBits []bool
	if isKeyframeTick {
		_, fullBits = p.store.ReadSnapshot()
	}

	f := frame.Build(newVersion, applied, isKeyframeTick, fullBits)

	p.buffer.Add(f)
	p.hub.Publish(f)

	p.log.Debug().
		Uint64("version", f.Version).
		Str("kind", f.Kind.String()).
		Int("changes", len(f.Changes)).
		Msg("tick published")
}
