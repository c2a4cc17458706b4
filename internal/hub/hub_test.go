package hub

import (
	"testing"
	"time"

	"bitfeed/internal/frame"

	"github.com/rs/zerolog"
)

func TestSubscribeReceivesFramesPublishedAfter(t *testing.T) {
	h := New(4, nil, zerolog.Nop())
	sub := h.Subscribe()

	h.Publish(frame.Frame{Version: 1})
	h.Publish(frame.Frame{Version: 2})

	select {
	case f := <-sub.Frames():
		if f.Version != 1 {
			t.Fatalf("expected version 1 first, got %d", f.Version)
		}
	default:
		t.Fatalf("expected a frame to be queued")
	}
	select {
	case f := <-sub.Frames():
		if f.Version != 2 {
			t.Fatalf("expected version 2 second, got %d", f.Version)
		}
	default:
		t.Fatalf("expected a second frame to be queued")
	}
}

func TestOverflowDropsSubscriberNotMessage(t *testing.T) {
	h := New(2, nil, zerolog.Nop())
	sub := h.Subscribe()

	h.Publish(frame.Frame{Version: 1})
	h.Publish(frame.Frame{Version: 2})
	h.Publish(frame.Frame{Version: 3}) // overflow: queue cap is 2

	select {
	case <-sub.Dropped():
	default:
		t.Fatalf("expected subscriber to be marked dropped after overflow")
	}

	if h.ActiveCount() != 0 {
		t.Fatalf("expected dropped subscriber removed from registry, active=%d", h.ActiveCount())
	}
}

func TestUnsubscribeRemovesFromRegistry(t *testing.T) {
	h := New(4, nil, zerolog.Nop())
	sub := h.Subscribe()
	if h.ActiveCount() != 1 {
		t.Fatalf("expected 1 active subscriber")
	}
	h.Unsubscribe(sub)
	if h.ActiveCount() != 0 {
		t.Fatalf("expected 0 active subscribers after unsubscribe")
	}

	h.Publish(frame.Frame{Version: 1})
	select {
	case <-sub.Frames():
		t.Fatalf("unsubscribed subscriber should not receive further frames")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestMultipleSubscribersAllReceiveSameFrame(t *testing.T) {
	h := New(4, nil, zerolog.Nop())
	a := h.Subscribe()
	b := h.Subscribe()

	h.Publish(frame.Frame{Version: 1})

	fa := <-a.Frames()
	fb := <-b.Frames()
	if fa.Version != 1 || fb.Version != 1 {
		t.Fatalf("expected both subscribers to receive version 1")
	}
}
