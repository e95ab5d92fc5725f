// Package interaction turns raw pointer and touch input, plus hit-test
// results supplied by the renderer, into hover and click semantics.
package interaction

import (
	"context"
	"math"
	"sort"

	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/sim/state"
	"github.com/signalsfoundry/orrery/model"
)

// DefaultDragThreshold is the per-axis movement, in pixels, after which a
// press becomes a drag.
const DefaultDragThreshold = 5.0

// TouchPoint is one contact of a touch event. Hit is the body under the
// contact as resolved by the renderer, or model.NoBody.
type TouchPoint struct {
	X, Y float64
	Hit  model.BodyID
}

// Coordinator owns the pointer gesture state. Hover is tracked in the store
// (HoveredBodyID); the coordinator only decides transitions.
//
// Coordinator is confined to the engine goroutine.
type Coordinator struct {
	bus   *bus.Bus
	store *state.Store
	log   logging.Logger

	threshold float64
	registry  map[model.BodyID]any

	pressed      bool
	downX, downY float64
	dragging     bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithDragThreshold overrides DefaultDragThreshold. Non-positive values are
// ignored.
func WithDragThreshold(px float64) Option {
	return func(c *Coordinator) {
		if px > 0 {
			c.threshold = px
		}
	}
}

// WithLogger sets the coordinator's logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.log = logging.OrNoop(l) }
}

// NewCoordinator constructs a coordinator with an empty registry.
func NewCoordinator(b *bus.Bus, store *state.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:       b,
		store:     store,
		log:       logging.Noop(),
		threshold: DefaultDragThreshold,
		registry:  make(map[model.BodyID]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterInteractable makes id eligible for hover and click. handle is an
// opaque renderer object; only its presence matters here.
func (c *Coordinator) RegisterInteractable(id model.BodyID, handle any) {
	if id == model.NoBody {
		return
	}
	c.registry[id] = handle
}

// UnregisterInteractable removes id. Unknown IDs are ignored.
func (c *Coordinator) UnregisterInteractable(id model.BodyID) {
	delete(c.registry, id)
}

// IsInteractable reports whether id is registered.
func (c *Coordinator) IsInteractable(id model.BodyID) bool {
	_, ok := c.registry[id]
	return ok
}

// Interactables returns the registered IDs, sorted.
func (c *Coordinator) Interactables() []model.BodyID {
	ids := make([]model.BodyID, 0, len(c.registry))
	for id := range c.registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsDragging reports whether the current gesture crossed the threshold.
func (c *Coordinator) IsDragging() bool { return c.dragging }

// PointerDown starts a gesture at (x, y).
func (c *Coordinator) PointerDown(x, y float64) {
	c.pressed = true
	c.downX, c.downY = x, y
	c.dragging = false
}

// PointerMove updates drag detection and hover. hit is the renderer's
// hit-test result at (x, y); unregistered bodies count as no hit. Hover keeps
// updating during a drag.
func (c *Coordinator) PointerMove(x, y float64, hit model.BodyID) {
	if c.pressed && !c.dragging {
		if math.Abs(x-c.downX) > c.threshold || math.Abs(y-c.downY) > c.threshold {
			c.dragging = true
		}
	}
	c.updateHover(x, y, hit)
}

// PointerUp ends the gesture. Without a drag, releasing over a hovered body
// selects it and publishes BODY_CLICK.
func (c *Coordinator) PointerUp() {
	if !c.dragging {
		c.click()
	}
	c.pressed = false
	c.dragging = false
}

// PointerLeave force-clears hover when the pointer leaves the surface.
func (c *Coordinator) PointerLeave() {
	c.updateHover(0, 0, model.NoBody)
}

// TouchStart begins a gesture at the first touch point and hovers the body
// under it, so a tap selects what was touched.
func (c *Coordinator) TouchStart(touches []TouchPoint) {
	if len(touches) == 0 {
		return
	}
	t := touches[0]
	c.PointerDown(t.X, t.Y)
	c.updateHover(t.X, t.Y, t.Hit)
}

// TouchMove follows the first touch point.
func (c *Coordinator) TouchMove(touches []TouchPoint) {
	if len(touches) == 0 {
		return
	}
	t := touches[0]
	c.PointerMove(t.X, t.Y, t.Hit)
}

// TouchEnd ends the gesture like PointerUp.
func (c *Coordinator) TouchEnd() {
	c.PointerUp()
}

func (c *Coordinator) updateHover(x, y float64, hit model.BodyID) {
	if !c.IsInteractable(hit) {
		hit = model.NoBody
	}
	current := c.store.Snapshot().HoveredBodyID
	if hit == current {
		return
	}
	if current != model.NoBody {
		bus.Publish(c.bus, bus.BodyHoverEnded, bus.BodyRef{ID: current})
	}
	if hit != model.NoBody {
		bus.Publish(c.bus, bus.BodyHovered, bus.BodyHover{ID: hit, X: x, Y: y})
	}
	c.store.HoverBody(hit)
}

func (c *Coordinator) click() {
	hovered := c.store.Snapshot().HoveredBodyID
	if hovered == model.NoBody {
		return
	}
	c.log.Debug(context.Background(), "body clicked", logging.Body(hovered))
	c.store.SelectBody(hovered)
	bus.Publish(c.bus, bus.BodyClicked, bus.BodyRef{ID: hovered})
}
