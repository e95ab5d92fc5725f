package interaction

import (
	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/sim/state"
	"github.com/signalsfoundry/orrery/model"
)

// EffectSink draws hover and selection markers. The renderer implements it.
type EffectSink interface {
	ShowHover(id model.BodyID)
	ClearHover()
	ShowSelection(id model.BodyID)
	ClearSelection()
}

// Highlighter keeps at most one hover marker and one selection marker in the
// sink. Hovering the selected body shows no hover marker; the hover itself is
// still tracked in the store.
type Highlighter struct {
	store *state.Store
	sink  EffectSink
	subs  []bus.Subscription

	hoverShown     model.BodyID
	selectionShown model.BodyID
}

// NewHighlighter subscribes to hover and selection changes on b.
func NewHighlighter(b *bus.Bus, store *state.Store, sink EffectSink) *Highlighter {
	h := &Highlighter{store: store, sink: sink}
	h.subs = append(h.subs,
		bus.Subscribe(b, bus.BodyHovered, h.onHover),
		bus.Subscribe(b, bus.BodyHoverEnded, func(bus.BodyRef) { h.clearHover() }),
		state.OnChange(store, state.SelectedBodyID, h.onSelection),
	)
	return h
}

// HoverShown returns the body carrying the hover marker, if any.
func (h *Highlighter) HoverShown() model.BodyID { return h.hoverShown }

// SelectionShown returns the body carrying the selection marker, if any.
func (h *Highlighter) SelectionShown() model.BodyID { return h.selectionShown }

// Close unsubscribes and clears both markers.
func (h *Highlighter) Close() {
	for _, s := range h.subs {
		s.Unsubscribe()
	}
	h.subs = nil
	h.clearHover()
	h.clearSelection()
}

func (h *Highlighter) onHover(ev bus.BodyHover) {
	if h.store.Snapshot().SelectedBodyID == ev.ID {
		return
	}
	h.clearHover()
	h.sink.ShowHover(ev.ID)
	h.hoverShown = ev.ID
}

func (h *Highlighter) onSelection(c state.Change[model.BodyID]) {
	h.clearSelection()
	if c.NewValue != model.NoBody {
		h.sink.ShowSelection(c.NewValue)
		h.selectionShown = c.NewValue
	}
}

func (h *Highlighter) clearHover() {
	if h.hoverShown != model.NoBody {
		h.sink.ClearHover()
		h.hoverShown = model.NoBody
	}
}

func (h *Highlighter) clearSelection() {
	if h.selectionShown != model.NoBody {
		h.sink.ClearSelection()
		h.selectionShown = model.NoBody
	}
}
