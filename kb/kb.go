package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/orrery/model"
)

var (
	// ErrBodyExists is returned when adding a body whose ID is taken.
	ErrBodyExists = errors.New("body already exists")
	// ErrBodyNotFound is returned for operations on unknown body IDs.
	ErrBodyNotFound = errors.New("body not found")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventBodyAdded EventType = iota
	EventBodyMoved
	EventBodyRemoved
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Body model.Body
}

// KnowledgeBase is an in-memory, thread-safe catalog of scene bodies and
// their latest propagated positions.
type KnowledgeBase struct {
	mu sync.RWMutex

	bodies map[model.BodyID]*model.Body

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		bodies: make(map[model.BodyID]*model.Body),
		subs:   make(map[int]func(Event)),
	}
}

// AddBody adds a new body. It returns ErrBodyExists if the ID is taken.
func (kb *KnowledgeBase) AddBody(b model.Body) error {
	if b.ID == model.NoBody {
		return errors.New("body id must not be empty")
	}
	kb.mu.Lock()
	if _, exists := kb.bodies[b.ID]; exists {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyExists, b.ID)
	}
	stored := b
	kb.bodies[b.ID] = &stored
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventBodyAdded, Body: b})
	return nil
}

// GetBody returns a copy of the body with the given ID.
func (kb *KnowledgeBase) GetBody(id model.BodyID) (model.Body, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	b, ok := kb.bodies[id]
	if !ok {
		return model.Body{}, fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	return *b, nil
}

// HasBody reports whether id is in the catalog.
func (kb *KnowledgeBase) HasBody(id model.BodyID) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	_, ok := kb.bodies[id]
	return ok
}

// ListBodies returns a snapshot of all bodies sorted by ID.
func (kb *KnowledgeBase) ListBodies() []model.Body {
	kb.mu.RLock()
	res := make([]model.Body, 0, len(kb.bodies))
	for _, b := range kb.bodies {
		res = append(res, *b)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// RemoveBody deletes a body and notifies subscribers.
func (kb *KnowledgeBase) RemoveBody(id model.BodyID) error {
	kb.mu.Lock()
	b, ok := kb.bodies[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	delete(kb.bodies, id)
	event := Event{Type: EventBodyRemoved, Body: *b}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
	return nil
}

// UpdateBodyPosition records a body's propagated position and notifies
// subscribers.
func (kb *KnowledgeBase) UpdateBodyPosition(id model.BodyID, pos model.Vector3) error {
	kb.mu.Lock()
	b, ok := kb.bodies[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	b.Position = pos
	event := Event{
		Type: EventBodyMoved,
		Body: *b, // copy for safety
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe
// function that is safe to call more than once.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

// subscribersLocked returns subscribers in registration order. Caller holds mu.
func (kb *KnowledgeBase) subscribersLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
