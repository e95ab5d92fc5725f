package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/orrery/internal/bus"
)

// EngineCollector exposes frame loop, clock, scenario and feed metrics. It
// satisfies timectrl.UpdateObserver and scenario.Observer.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	FramesTotal     prometheus.Counter
	FrameDuration   prometheus.Histogram
	TimeUpdates     prometheus.Counter
	SimulationTime  prometheus.Gauge
	ScenarioActions *prometheus.CounterVec
	ScenarioRuns    *prometheus.CounterVec
	ScenariosActive prometheus.Gauge
	FeedClients     prometheus.Gauge
	FeedDropped     prometheus.Counter
}

// NewEngineCollector registers engine metrics with reg, or with the default
// registry when reg is nil.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	reg, gatherer := resolveRegistry(reg)
	c := &EngineCollector{gatherer: gatherer}

	var errs []error
	c.FramesTotal = mustRegister(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_frames_total",
		Help: "Engine frames executed.",
	}))
	c.FrameDuration = mustRegister(reg, &errs, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orrery_frame_duration_seconds",
		Help:    "Time spent executing one engine frame.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.05, 0.1},
	}))
	c.TimeUpdates = mustRegister(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_time_updates_total",
		Help: "TIME_UPDATE events published by the clock.",
	}))
	c.SimulationTime = mustRegister(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_simulation_time_seconds",
		Help: "Current simulated time as Unix seconds.",
	}))
	c.ScenarioActions = mustRegister(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orrery_scenario_actions_total",
		Help: "Scenario actions fired, by action type.",
	}, []string{"type"}))
	c.ScenarioRuns = mustRegister(reg, &errs, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orrery_scenario_runs_total",
		Help: "Finished scenario runs, by outcome (completed or stopped).",
	}, []string{"outcome"}))
	c.ScenariosActive = mustRegister(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_scenarios_active",
		Help: "Scenarios currently playing or paused.",
	}))
	c.FeedClients = mustRegister(reg, &errs, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orrery_feed_clients",
		Help: "Connected renderer feed clients.",
	}))
	c.FeedDropped = mustRegister(reg, &errs, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orrery_feed_dropped_total",
		Help: "Feed messages dropped because a client buffer was full.",
	}))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveFrame records one executed frame.
func (c *EngineCollector) ObserveFrame(d time.Duration) {
	if c == nil {
		return
	}
	c.FramesTotal.Inc()
	c.FrameDuration.Observe(d.Seconds())
}

// ObserveTimeUpdate records a published TIME_UPDATE.
func (c *EngineCollector) ObserveTimeUpdate(u bus.TimeUpdate) {
	if c == nil {
		return
	}
	c.TimeUpdates.Inc()
	c.SimulationTime.Set(float64(u.SimulationTime.UnixMilli()) / 1000)
}

// ScenarioStarted marks a scenario as active.
func (c *EngineCollector) ScenarioStarted(string) {
	if c == nil {
		return
	}
	c.ScenariosActive.Inc()
}

// ScenarioActionFired counts one fired action.
func (c *EngineCollector) ScenarioActionFired(actionType string) {
	if c == nil {
		return
	}
	c.ScenarioActions.WithLabelValues(actionType).Inc()
}

// ScenarioEnded marks a scenario as finished.
func (c *EngineCollector) ScenarioEnded(_ string, completed bool) {
	if c == nil {
		return
	}
	c.ScenariosActive.Dec()
	outcome := "stopped"
	if completed {
		outcome = "completed"
	}
	c.ScenarioRuns.WithLabelValues(outcome).Inc()
}

// FeedClientConnected increments the client gauge.
func (c *EngineCollector) FeedClientConnected() {
	if c == nil {
		return
	}
	c.FeedClients.Inc()
}

// FeedClientDisconnected decrements the client gauge.
func (c *EngineCollector) FeedClientDisconnected() {
	if c == nil {
		return
	}
	c.FeedClients.Dec()
}

// FeedMessageDropped counts one dropped feed message.
func (c *EngineCollector) FeedMessageDropped() {
	if c == nil {
		return
	}
	c.FeedDropped.Inc()
}
