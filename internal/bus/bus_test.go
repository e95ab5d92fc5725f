package bus

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOnEmitOff(t *testing.T) {
	b := New()
	var got []any
	sub := b.On("X", func(p any) { got = append(got, p) })

	b.Emit("X", 1)
	b.Emit("X", 2)
	sub.Unsubscribe()
	b.Emit("X", 3)

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("got %v, want [1 2]", got)
	}
	if b.HandlerCount("X") != 0 || b.Topics() != 0 {
		t.Fatalf("empty topic not pruned: count=%d topics=%d", b.HandlerCount("X"), b.Topics())
	}
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	b := New()
	calls := 0
	b.Once("X", func(any) { calls++ })

	b.Emit("X", nil)
	b.Emit("X", nil)

	if calls != 1 {
		t.Fatalf("once handler called %d times, want 1", calls)
	}
	if b.HandlerCount("X") != 0 {
		t.Fatalf("once handler still registered")
	}
}

func TestOnceReentrantEmit(t *testing.T) {
	b := New()
	calls := 0
	b.Once("X", func(any) {
		calls++
		b.Emit("X", nil)
	})
	b.Emit("X", nil)
	if calls != 1 {
		t.Fatalf("re-entrant emit invoked once handler %d times, want 1", calls)
	}
}

func TestOnceCanBeCancelledBeforeFiring(t *testing.T) {
	b := New()
	calls := 0
	sub := b.Once("X", func(any) { calls++ })
	b.Off(sub)
	b.Emit("X", nil)
	if calls != 0 {
		t.Fatalf("cancelled once handler fired")
	}
}

func TestEmitUnknownAndOffUnknownAreNoops(t *testing.T) {
	b := New()
	b.Emit("NOBODY", 42)
	b.Off(Subscription{})
	b.Off(Subscription{bus: b, topic: "NOBODY", id: 99})

	other := New()
	sub := other.On("X", func(any) {})
	b.Off(sub)
	if other.HandlerCount("X") != 1 {
		t.Fatalf("Off on a foreign bus removed a handler")
	}
}

func TestEmitIteratesSnapshot(t *testing.T) {
	b := New()
	var order []string
	var second Subscription
	b.On("X", func(any) {
		order = append(order, "first")
		second.Unsubscribe()
		b.On("X", func(any) { order = append(order, "late") })
	})
	second = b.On("X", func(any) { order = append(order, "second") })

	b.Emit("X", nil)
	want := []string{"first", "second"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Fatalf("first emit order = %v, want %v", order, want)
	}

	order = nil
	b.Emit("X", nil)
	// first registers another "late" handler on every delivery
	if len(order) != 2 || order[0] != "first" || order[1] != "late" {
		t.Fatalf("second emit order = %v, want [first late]", order)
	}
}

func TestSameFunctionRegisteredTwice(t *testing.T) {
	b := New()
	calls := 0
	h := func(any) { calls++ }
	s1 := b.On("X", h)
	b.On("X", h)

	b.Emit("X", nil)
	s1.Unsubscribe()
	b.Emit("X", nil)
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClearAndTap(t *testing.T) {
	b := New()
	var tapped []string
	b.Tap(func(topic string, _ any) { tapped = append(tapped, topic) })
	handled := 0
	b.On("A", func(any) { handled++ })

	b.Emit("A", nil)
	b.Emit("B", nil)
	if len(tapped) != 2 || tapped[0] != "A" || tapped[1] != "B" || handled != 1 {
		t.Fatalf("tapped=%v handled=%d", tapped, handled)
	}

	b.Clear()
	b.Emit("A", nil)
	if len(tapped) != 2 || handled != 1 {
		t.Fatalf("Clear left handlers behind: tapped=%v handled=%d", tapped, handled)
	}
}

func TestTapUnsubscribe(t *testing.T) {
	b := New()
	n := 0
	sub := b.Tap(func(string, any) { n++ })
	b.Emit("A", nil)
	sub.Unsubscribe()
	b.Emit("A", nil)
	if n != 1 {
		t.Fatalf("tap calls = %d, want 1", n)
	}
}

func TestTypedTopics(t *testing.T) {
	b := New()
	var got TimeUpdate
	calls := 0
	Subscribe(b, TimeUpdated, func(u TimeUpdate) {
		got = u
		calls++
	})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	Publish(b, TimeUpdated, TimeUpdate{SimulationTime: now, DeltaTime: 0.016})
	b.Emit(TimeUpdated.Name(), "wrong type")

	if calls != 1 || !got.SimulationTime.Equal(now) || got.DeltaTime != 0.016 {
		t.Fatalf("typed handler got %+v after %d calls", got, calls)
	}

	once := 0
	SubscribeOnce(b, BodyClicked, func(BodyRef) { once++ })
	Publish(b, BodyClicked, BodyRef{ID: "mars"})
	Publish(b, BodyClicked, BodyRef{ID: "mars"})
	if once != 1 {
		t.Fatalf("SubscribeOnce handler called %d times", once)
	}
}

func TestActionTopicPassesPayloadThrough(t *testing.T) {
	b := New()
	var got json.RawMessage
	Subscribe(b, ActionTopic("SHOW_NARRATION"), func(p json.RawMessage) { got = p })

	b.Emit("SHOW_NARRATION", json.RawMessage(`{"text":"hi"}`))
	if string(got) != `{"text":"hi"}` {
		t.Fatalf("payload = %s", got)
	}
}
