// Package session implements the per-connection state machine:
// Opening, Streaming (outbound + inbound pumps folded into a single
// select loop so "pause the outbound pump" falls out of ordinary
// control flow rather than needing an explicit signal), and Closed.
// The two pumps are merged into one select loop: catch-up handling
// and live forwarding never run concurrently, which is exactly the
// ordering the protocol requires.
package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"bitfeed/internal/bitset"
	"bitfeed/internal/frame"
	"bitfeed/internal/hub"
	"bitfeed/internal/metrics"
	"bitfeed/internal/replay"

	"github.com/rs/zerolog"
)

// Conn is the minimal transport surface a Session needs. The
// transport package's WebSocket connection satisfies it; tests use an
// in-memory fake.
type Conn interface {
	WriteMessage(payload []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// ErrSubscriberDropped is returned by Run when the Hub removed this
// session's subscription for exceeding its queue capacity.
var ErrSubscriberDropped = errors.New("session: subscriber dropped for backpressure")

// CatchupOutcome classifies how a catch-up request was serviced. None
// of these are error conditions from the engine's point of view, so
// they are reported as a typed outcome rather than an error value.
type CatchupOutcome int

const (
	CatchupNoop CatchupOutcome = iota
	CatchupReplayed
	CatchupKeyframed
)

func (o CatchupOutcome) String() string {
	switch o {
	case CatchupNoop:
		return "noop"
	case CatchupReplayed:
		return "replay"
	case CatchupKeyframed:
		return "keyframe"
	default:
		return "unknown"
	}
}

type catchupRequest struct {
	LastVersion uint64 `json:"last_version"`
}

// Session drives one subscriber connection from Opening through
// Closed.
type Session struct {
	store            *bitset.Store
	buffer           *replay.Buffer
	hub              *hub.Hub
	maxCatchupFrames uint64
	metrics          *metrics.Registry
	log              zerolog.Logger
}

// New builds a Session over the shared engine state. maxCatchupFrames
// is MAX_CATCHUP_FRAMES from configuration.
func New(store *bitset.Store, buffer *replay.Buffer, h *hub.Hub, maxCatchupFrames uint64, reg *metrics.Registry, log zerolog.Logger) *Session {
	return &Session{
		store:            store,
		buffer:           buffer,
		hub:              h,
		maxCatchupFrames: maxCatchupFrames,
		metrics:          reg,
		log:              log.With().Str("component", "session").Logger(),
	}
}

// Run drives conn until it closes or is dropped, blocking the
// caller's goroutine for the lifetime of the connection.
func (s *Session) Run(conn Conn) error {
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	v0, bits := s.store.ReadSnapshot()
	initial := frame.Frame{
		Version:   v0,
		Timestamp: uint64(time.Now().Unix()),
		Kind:      frame.KindKeyframe,
		Bits:      bits,
	}
	if err := s.send(conn, initial); err != nil {
		return err
	}
	highWater := v0

	// inboundCh is buffered and paired with done so the reader
	// goroutine can abandon a pending send once Run exits through the
	// live-stream or Dropped cases below. Without this, a reader
	// blocked handing off a message it already pulled out of
	// conn.ReadMessage() would leak forever: it isn't blocked inside
	// ReadMessage, so closing conn from the caller never unblocks it.
	inboundCh := make(chan []byte, 16)
	readErrCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				close(inboundCh)
				return
			}
			select {
			case inboundCh <- msg:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case f, ok := <-sub.Frames():
			if !ok {
				return nil
			}
			if f.Version <= highWater {
				continue // stale relative to a catch-up already serviced
			}
			if err := s.send(conn, f); err != nil {
				return err
			}
			highWater = f.Version

		case <-sub.Dropped():
			return ErrSubscriberDropped

		case msg, ok := <-inboundCh:
			if !ok {
				return <-readErrCh
			}
			var req catchupRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				continue // not a catch-up request; ignore per protocol
			}
			newHighWater, outcome, err := s.serviceCatchup(conn, req.LastVersion, highWater)
			if err != nil {
				return err
			}
			if s.metrics != nil {
				s.metrics.Session.CatchupRequests.WithLabelValues(outcome.String()).Inc()
			}
			highWater = newHighWater
		}
	}
}

// serviceCatchup implements the reconciliation rule of the Subscriber
// Session: no-op if already current, a fresh keyframe if the client is
// ahead or the gap cannot be closed by replay, otherwise a replay of
// the missing versions. It never holds the Store lock across the
// network sends below — it reads the current version once, then sends
// outside any lock.
func (s *Session) serviceCatchup(conn Conn, c uint64, highWater uint64) (uint64, CatchupOutcome, error) {
	v, bits := s.store.ReadSnapshot()

	switch {
	case c == v:
		return highWater, CatchupNoop, nil

	case c > v:
		return s.sendFreshKeyframe(conn, v, bits)

	default:
		gap := v - c
		frames, ok := s.buffer.Since(c)
		if !ok || gap > s.maxCatchupFrames {
			if s.metrics != nil {
				s.metrics.Publisher.FramesDroppedGap.Inc()
			}
			return s.sendFreshKeyframe(conn, v, bits)
		}

		// Never resend a version already delivered on this connection
		// (live-streamed or replayed by an earlier catch-up request):
		// floor is the higher of the client's claimed version and what
		// this session has actually put on the wire so far.
		floor := max(c, highWater)
		sent := floor
		for _, f := range frames {
			if f.Version <= floor {
				continue
			}
			if err := s.send(conn, f); err != nil {
				return sent, CatchupReplayed, err
			}
			sent = f.Version
		}
		return sent, CatchupReplayed, nil
	}
}

// sendFreshKeyframe sends a Keyframe built from a snapshot taken
// atomically with v (by the caller), so the version label always
// matches the bits that accompany it.
func (s *Session) sendFreshKeyframe(conn Conn, v uint64, bits []bool) (uint64, CatchupOutcome, error) {
	f := frame.Frame{
		Version:   v,
		Timestamp: uint64(time.Now().Unix()),
		Kind:      frame.KindKeyframe,
		Bits:      bits,
	}
	if err := s.send(conn, f); err != nil {
		return v, CatchupKeyframed, err
	}
	return v, CatchupKeyframed, nil
}

func (s *Session) send(conn Conn, f frame.Frame) error {
	var buf bytes.Buffer
	if err := frame.Encode(&buf, f); err != nil {
		return err
	}
	return conn.WriteMessage(buf.Bytes())
}
