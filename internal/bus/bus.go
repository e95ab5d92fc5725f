// Package bus is a synchronous topic-keyed publish/subscribe hub.
//
// A Bus is owned by a single goroutine (the engine loop) and carries no
// locks. Handlers run inline, in subscription order, on the emitting
// goroutine.
package bus

// Handler receives a topic payload.
type Handler func(payload any)

// TapFunc observes every emission regardless of topic.
type TapFunc func(topic string, payload any)

type entry struct {
	id uint64
	fn Handler
}

// Subscription identifies one registered handler.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

// Unsubscribe removes the handler. It is a no-op when already removed.
func (s Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Off(s)
	}
}

// Topic returns the subscribed topic ("" for taps).
func (s Subscription) Topic() string { return s.topic }

// Bus maps topic names to ordered handler lists.
type Bus struct {
	nextID   uint64
	handlers map[string][]entry
	taps     []tapEntry
}

type tapEntry struct {
	id uint64
	fn TapFunc
}

// New constructs an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]entry)}
}

// On registers h for topic. The same function may be registered more than
// once; each registration is an independent subscription.
func (b *Bus) On(topic string, h Handler) Subscription {
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], entry{id: id, fn: h})
	return Subscription{bus: b, topic: topic, id: id}
}

// Once registers h for a single delivery. The subscription is removed before
// h runs, so re-entrant emits of the same topic do not call it again.
func (b *Bus) Once(topic string, h Handler) Subscription {
	var sub Subscription
	fired := false
	sub = b.On(topic, func(payload any) {
		if fired {
			return
		}
		fired = true
		b.Off(sub)
		h(payload)
	})
	return sub
}

// Off removes a subscription. Unknown subscriptions are ignored and empty
// topics are pruned.
func (b *Bus) Off(sub Subscription) {
	if sub.bus != b {
		return
	}
	if sub.topic == "" {
		b.removeTap(sub.id)
		return
	}
	list, ok := b.handlers[sub.topic]
	if !ok {
		return
	}
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, sub.topic)
		} else {
			b.handlers[sub.topic] = next
		}
		return
	}
}

// Emit delivers payload to every handler registered for topic at the moment
// Emit was called. Handlers added or removed during delivery take effect on
// the next emission. Emitting to a topic with no handlers is a no-op.
func (b *Bus) Emit(topic string, payload any) {
	for _, t := range b.taps {
		t.fn(topic, payload)
	}
	// The slice is replaced, never mutated in place, on Off, so ranging over
	// the current header is a snapshot.
	for _, e := range b.handlers[topic] {
		e.fn(payload)
	}
}

// Tap registers fn to observe every emission on every topic, before topic
// handlers run.
func (b *Bus) Tap(fn TapFunc) Subscription {
	b.nextID++
	b.taps = append(b.taps, tapEntry{id: b.nextID, fn: fn})
	return Subscription{bus: b, id: b.nextID}
}

func (b *Bus) removeTap(id uint64) {
	for i, t := range b.taps {
		if t.id == id {
			next := make([]tapEntry, 0, len(b.taps)-1)
			next = append(next, b.taps[:i]...)
			b.taps = append(next, b.taps[i+1:]...)
			return
		}
	}
}

// Clear removes every handler and tap.
func (b *Bus) Clear() {
	b.handlers = make(map[string][]entry)
	b.taps = nil
}

// HandlerCount returns the number of handlers registered for topic.
func (b *Bus) HandlerCount(topic string) int {
	return len(b.handlers[topic])
}

// Topics returns the number of topics with at least one handler.
func (b *Bus) Topics() int {
	return len(b.handlers)
}
