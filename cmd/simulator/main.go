// Command simulator runs the engine headless and prints body positions at
// every frame, advancing a fake wall clock instead of waiting on real time.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/sim/engine"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

type options struct {
	Duration  time.Duration
	Tick      time.Duration
	TimeScale float64
	Start     time.Time
	Bodies    []model.BodyID
	Scenario  string
}

func main() {
	duration := flag.Duration("duration", 10*time.Second, "wall-clock time to simulate")
	tick := flag.Duration("tick", time.Second, "frame interval")
	timeScale := flag.Float64("time-scale", 0, "simulated seconds per real second (0 = one day)")
	start := flag.String("start", "", "simulation start (RFC3339); empty uses now")
	bodies := flag.String("bodies", "earth,mars,iss", "comma-separated body IDs to print; empty prints all")
	scenarioPath := flag.String("scenario", "", "scenario script to play from the first frame")
	flag.Parse()

	opts := options{
		Duration:  *duration,
		Tick:      *tick,
		TimeScale: *timeScale,
		Start:     time.Now().UTC(),
	}
	if *start != "" {
		t, err := time.Parse(time.RFC3339, *start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -start: %v\n", err)
			os.Exit(2)
		}
		opts.Start = t
	}
	for _, id := range strings.Split(*bodies, ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.Bodies = append(opts.Bodies, model.BodyID(id))
		}
	}

	var script *model.ScenarioScript
	if *scenarioPath != "" {
		s, err := core.LoadScenarioFile(*scenarioPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load scenario: %v\n", err)
			os.Exit(1)
		}
		script = s
		opts.Scenario = s.ID
	}

	if err := simulate(os.Stdout, opts, script); err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
}

func simulate(w io.Writer, opts options, script *model.ScenarioScript) error {
	if opts.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", opts.Tick)
	}
	wall := timectrl.NewFakeWallClock(time.Unix(0, 0).UTC())
	eng := engine.New(engine.Config{
		StartDate:        opts.Start,
		InitialTimeScale: opts.TimeScale,
		FrameInterval:    opts.Tick,
	}, engine.WithWallClock(wall))
	if err := eng.AddBodies(core.DefaultBodies()); err != nil {
		return err
	}

	bus.Subscribe(eng.Bus, bus.ScenarioStarted, func(s bus.ScenarioStart) {
		fmt.Fprintf(w, "scenario %s started (%.0fs)\n", s.ScenarioID, s.TotalDuration)
	})
	bus.Subscribe(eng.Bus, bus.ScenarioEnded, func(s bus.ScenarioEnd) {
		fmt.Fprintf(w, "scenario %s ended completed=%v\n", s.ScenarioID, s.Completed)
	})
	eng.Bus.Tap(func(topic string, payload any) {
		if script == nil || strings.HasPrefix(topic, "state:") || strings.HasPrefix(topic, "SCENARIO_") || topic == bus.TimeUpdated.Name() {
			return
		}
		fmt.Fprintf(w, "  action %s %s\n", topic, payload)
	})

	if script != nil {
		if err := eng.AddScenario(script); err != nil {
			return err
		}
		if _, err := eng.PlayScenario(context.Background(), script.ID); err != nil {
			return err
		}
	}

	ids := opts.Bodies
	if len(ids) == 0 {
		for _, b := range eng.KB.ListBodies() {
			ids = append(ids, b.ID)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}

	fmt.Fprintf(w, "Starting simulation: duration=%s, tick=%s, time scale=%.0f\n",
		opts.Duration, opts.Tick, eng.Store.Snapshot().TimeScale)
	eng.Frame(wall.Now())
	for elapsed := time.Duration(0); elapsed < opts.Duration; elapsed += opts.Tick {
		eng.Frame(wall.Advance(opts.Tick))
		fmt.Fprintf(w, "[%s]", eng.Clock.Now().Format(time.RFC3339))
		for _, id := range ids {
			p, ok := eng.Motion.Position(id)
			if !ok {
				fmt.Fprintf(w, " %s=?", id)
				continue
			}
			fmt.Fprintf(w, " %s=(%.2f, %.2f, %.2f)", id, p.X, p.Y, p.Z)
		}
		fmt.Fprintln(w)
	}
	eng.Player.Stop()
	fmt.Fprintln(w, "Simulation complete.")
	return nil
}
