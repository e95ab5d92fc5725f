package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/sim/engine"
	"github.com/signalsfoundry/orrery/model"
)

var (
	// ErrNotAttached is returned when the hub has no engine.
	ErrNotAttached = errors.New("feed: hub not attached to an engine")
	// ErrAlreadyAttached is returned by a second Attach.
	ErrAlreadyAttached = errors.New("feed: hub already attached")
)

// Metrics receives client lifecycle and drop notifications.
// *observability.EngineCollector implements it.
type Metrics interface {
	FeedClientConnected()
	FeedClientDisconnected()
	FeedMessageDropped()
}

type noopMetrics struct{}

func (noopMetrics) FeedClientConnected()    {}
func (noopMetrics) FeedClientDisconnected() {}
func (noopMetrics) FeedMessageDropped()     {}

// Hub fans engine output out to renderer connections and feeds their input
// back into the engine. Fan-out runs on the engine goroutine and never
// blocks: a client whose queue is full loses the message.
//
// Hub implements interaction.EffectSink, so it can be passed to
// engine.WithEffectSink before the engine exists and attached afterwards.
type Hub struct {
	cfg      Config
	log      logging.Logger
	metrics  Metrics
	upgrader websocket.Upgrader

	eng *engine.Engine
	tap bus.Subscription

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub builds an unattached hub. metrics may be nil.
func NewHub(cfg Config, log logging.Logger, metrics Metrics) *Hub {
	cfg = cfg.ApplyDefaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}
	h := &Hub{
		cfg:     cfg,
		log:     logging.OrNoop(log).With(logging.Component("feed")),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if cfg.CheckOrigin != nil {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return cfg.CheckOrigin(r.Header.Get("Origin"))
		}
	}
	return h
}

// Attach wires the hub into eng's frame pipeline and bus. Call it before
// Engine.Run, or from inside Engine.Do.
func (h *Hub) Attach(eng *engine.Engine) error {
	if h.eng != nil {
		return ErrAlreadyAttached
	}
	h.eng = eng
	eng.AddUpdatable(h)
	h.tap = eng.Bus.Tap(h.onEvent)
	return nil
}

// Clients returns the number of connected renderers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close stops forwarding and disconnects every client.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		_ = c.conn.Close()
	}

	if h.eng == nil {
		return nil
	}
	err := h.eng.Do(ctx, h.tap.Unsubscribe)
	if errors.Is(err, engine.ErrStopped) {
		return nil
	}
	return err
}

// Update pushes body positions to every client whose limiter allows it.
// Clients already holding the current simulation time are skipped.
func (h *Hub) Update(_, _ float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 || h.closed {
		return
	}

	now := h.eng.Clock.Now()
	var data []byte
	for c := range h.clients {
		if c.lastSim.Equal(now) || !c.limiter.Allow() {
			continue
		}
		if data == nil {
			var err error
			data, err = json.Marshal(positionsMessage{
				Type:           TypePositions,
				SimulationTime: now,
				Positions:      h.eng.Motion.Positions(),
			})
			if err != nil {
				h.log.Warn(context.Background(), "encode positions failed", logging.Err(err))
				return
			}
		}
		c.lastSim = now
		h.enqueue(c, data)
	}
}

func (h *Hub) onEvent(topic string, payload any) {
	// Simulation time rides on positions messages.
	if topic == bus.TimeUpdated.Name() {
		return
	}
	h.broadcast(eventMessage{Type: TypeEvent, Topic: topic, Payload: payload})
}

func (h *Hub) ShowHover(id model.BodyID) {
	h.broadcast(effectMessage{Type: TypeEffect, Effect: EffectShowHover, ID: id})
}

func (h *Hub) ClearHover() {
	h.broadcast(effectMessage{Type: TypeEffect, Effect: EffectClearHover})
}

func (h *Hub) ShowSelection(id model.BodyID) {
	h.broadcast(effectMessage{Type: TypeEffect, Effect: EffectShowSelection, ID: id})
}

func (h *Hub) ClearSelection() {
	h.broadcast(effectMessage{Type: TypeEffect, Effect: EffectClearSelection})
}

func (h *Hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 || h.closed {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn(context.Background(), "encode feed message failed", logging.Err(err))
		return
	}
	for c := range h.clients {
		h.enqueue(c, data)
	}
}

// enqueue must be called with h.mu held.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.metrics.FeedMessageDropped()
	}
}

// ServeHTTP upgrades the request and runs the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.eng == nil {
		http.Error(w, ErrNotAttached.Error(), http.StatusServiceUnavailable)
		return
	}
	ctx, reqID := logging.EnsureRequestID(r.Context())
	log := h.log.With(logging.String("request_id", reqID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, h.cfg.ClientBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.PositionRate), h.cfg.PositionBurst),
	}
	log = log.With(logging.String("client_id", c.id))

	if err := h.register(ctx, c); err != nil {
		log.Warn(ctx, "feed client rejected", logging.Err(err))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	h.metrics.FeedClientConnected()
	log.Info(ctx, "feed client connected", logging.String("remote_addr", r.RemoteAddr))

	go c.writeLoop(h.cfg.WriteWait)
	h.readLoop(ctx, log, c)

	h.unregister(c)
	h.metrics.FeedClientDisconnected()
	log.Info(ctx, "feed client disconnected")
}

// register queues the snapshot and adds c to the fan-out in one engine
// call, so nothing published in between is lost.
func (h *Hub) register(ctx context.Context, c *client) error {
	var regErr error
	err := h.eng.Do(ctx, func() {
		data, err := json.Marshal(snapshotMessage{
			Type:          TypeSnapshot,
			State:         h.eng.Store.Snapshot(),
			Interactables: h.eng.Input.Interactables(),
			Positions:     h.eng.Motion.Positions(),
			Orbits:        h.orbitLines(ctx),
		})
		if err != nil {
			regErr = fmt.Errorf("encode snapshot: %w", err)
			return
		}
		c.lastSim = h.eng.Clock.Now()

		h.mu.Lock()
		defer h.mu.Unlock()
		if h.closed {
			regErr = errors.New("feed: hub closed")
			return
		}
		c.send <- data
		h.clients[c] = struct{}{}
	})
	if err != nil {
		return err
	}
	return regErr
}

// orbitLines samples the orbit of every body with orbital elements. Must
// run on the engine goroutine.
func (h *Hub) orbitLines(ctx context.Context) map[model.BodyID][]model.Vector3 {
	scale := h.eng.Config().Scale
	out := make(map[model.BodyID][]model.Vector3)
	for _, b := range h.eng.KB.ListBodies() {
		if b.Elements == nil {
			continue
		}
		path, err := core.OrbitPath(*b.Elements, h.cfg.OrbitSegments, scale)
		if err != nil {
			h.log.Warn(ctx, "skipping orbit line", logging.Body(b.ID), logging.Err(err))
			continue
		}
		out[b.ID] = path
	}
	return out
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
	_ = c.conn.Close()
}

func (h *Hub) readLoop(ctx context.Context, log logging.Logger, c *client) {
	c.conn.SetReadLimit(h.cfg.MaxMessageSize)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug(ctx, "feed read failed", logging.Err(err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.reject(c, fmt.Sprintf("malformed message: %v", err))
			continue
		}
		if err := h.apply(ctx, msg); err != nil {
			if errors.Is(err, engine.ErrStopped) || errors.Is(err, context.Canceled) {
				return
			}
			h.reject(c, err.Error())
		}
	}
}

// apply runs one renderer message on the engine goroutine.
func (h *Hub) apply(ctx context.Context, msg clientMessage) error {
	input := h.eng.Input
	var fn func()
	switch msg.Type {
	case TypePointerDown:
		fn = func() { input.PointerDown(msg.X, msg.Y) }
	case TypePointerMove:
		fn = func() { input.PointerMove(msg.X, msg.Y, msg.Hit) }
	case TypePointerUp:
		fn = input.PointerUp
	case TypePointerLeave:
		fn = input.PointerLeave
	case TypeTouchStart:
		touches := msg.touchPoints()
		fn = func() { input.TouchStart(touches) }
	case TypeTouchMove:
		touches := msg.touchPoints()
		fn = func() { input.TouchMove(touches) }
	case TypeTouchEnd:
		fn = input.TouchEnd
	case TypeRegister, TypeUnregister:
		if msg.ID == model.NoBody {
			return fmt.Errorf("%s: id is required", msg.Type)
		}
		if msg.Type == TypeRegister {
			fn = func() { input.RegisterInteractable(msg.ID, nil) }
		} else {
			fn = func() { input.UnregisterInteractable(msg.ID) }
		}
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return h.eng.Do(ctx, fn)
}

func (h *Hub) reject(c *client, reason string) {
	data, err := json.Marshal(errorMessage{Type: TypeError, Message: reason})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueue(c, data)
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	// lastSim is the simulation time of the last positions sent; engine
	// goroutine only.
	lastSim time.Time
}

func (c *client) writeLoop(writeWait time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
