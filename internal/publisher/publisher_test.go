package publisher

import (
	"testing"

	"bitfeed/internal/bitset"
	"bitfeed/internal/frame"
	"bitfeed/internal/replay"

	"github.com/rs/zerolog"
)

type recordingHub struct {
	frames []frame.Frame
}

func (h *recordingHub) Publish(f frame.Frame) {
	h.frames = append(h.frames, f)
}

func TestNewSeedsVersionZeroKeyframeInBuffer(t *testing.T) {
	store := bitset.New(8)
	buf := replay.New(10)
	hub := &recordingHub{}
	_ = New(store, buf, hub, 4, zerolog.Nop())

	if buf.Len() != 1 {
		t.Fatalf("expected 1 seeded frame in buffer, got %d", buf.Len())
	}
	oldest, ok := buf.OldestVersion()
	if !ok || oldest != 0 {
		t.Fatalf("expected seeded version 0, got %d (ok=%v)", oldest, ok)
	}
	if len(hub.frames) != 0 {
		t.Fatalf("seeding must not publish to the hub, got %d frames", len(hub.frames))
	}
}

func TestFirstTickIsOrdinaryDeltaframe(t *testing.T) {
	store := bitset.New(8)
	buf := replay.New(10)
	hub := &recordingHub{}
	p := New(store, buf, hub, 4, zerolog.Nop())

	p.Tick([]bitset.Change{{Index: 1, Value: true}})

	if len(hub.frames) != 1 {
		t.Fatalf("expected 1 frame published, got %d", len(hub.frames))
	}
	if hub.frames[0].IsKeyframe() {
		t.Fatalf("expected first tick (version 1, period 4) to be a deltaframe")
	}
}

func TestSubsequentTicksProduceDeltaframesUntilPeriod(t *testing.T) {
	store := bitset.New(8)
	buf := replay.New(10)
	hub := &recordingHub{}
	p := New(store, buf, hub, 3, zerolog.Nop())

	p.Tick(nil)                                       // version 1, delta
	p.Tick([]bitset.Change{{Index: 0, Value: true}})  // version 2, delta
	p.Tick([]bitset.Change{{Index: 1, Value: true}})  // version 3, keyframe tick (3 % 3 == 0)
	p.Tick([]bitset.Change{{Index: 2, Value: true}})  // version 4, delta

	if len(hub.frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(hub.frames))
	}
	if hub.frames[0].IsKeyframe() {
		t.Fatalf("frame 0 should be a deltaframe")
	}
	if hub.frames[1].IsKeyframe() {
		t.Fatalf("frame 1 should be a deltaframe")
	}
	if !hub.frames[2].IsKeyframe() {
		t.Fatalf("frame 2 should be a keyframe (period tick)")
	}
	if hub.frames[3].IsKeyframe() {
		t.Fatalf("frame 3 should be a deltaframe")
	}
}

func TestTickAppendsToReplayBuffer(t *testing.T) {
	store := bitset.New(4)
	buf := replay.New(2)
	hub := &recordingHub{}
	p := New(store, buf, hub, 100, zerolog.Nop())

	p.Tick(nil)
	p.Tick([]bitset.Change{{Index: 0, Value: true}})
	p.Tick([]bitset.Change{{Index: 1, Value: true}})

	if buf.Len() != 2 {
		t.Fatalf("expected replay buffer capped at 2, got %d", buf.Len())
	}
	oldest, ok := buf.OldestVersion()
	if !ok || oldest != 2 {
		t.Fatalf("expected oldest retained version 2, got %d (ok=%v)", oldest, ok)
	}
}

func TestTickIgnoresOutOfRangeChanges(t *testing.T) {
	store := bitset.New(4)
	buf := replay.New(10)
	hub := &recordingHub{}
	p := New(store, buf, hub, 100, zerolog.Nop())

	p.Tick(nil)
	p.Tick([]bitset.Change{{Index: 99, Value: true}})

	if hub.frames[1].IsKeyframe() {
		t.Fatalf("expected deltaframe")
	}
	if len(hub.frames[1].Changes) != 0 {
		t.Fatalf("expected out-of-range change to be dropped, got %+v", hub.frames[1].Changes)
	}
}
