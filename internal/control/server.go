package control

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/orrery/internal/bus"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/retrieval"
	"github.com/signalsfoundry/orrery/internal/sim/engine"
	"github.com/signalsfoundry/orrery/kb"
	"github.com/signalsfoundry/orrery/model"
)

// DefaultStreamBuffer is the per-stream event queue length.
const DefaultStreamBuffer = 256

// Server implements ControlServer on top of an Engine. Every handler that
// touches engine state goes through Engine.Do.
type Server struct {
	eng       *engine.Engine
	retriever retrieval.Retriever
	log       logging.Logger
	buffer    int
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStreamBuffer sets the per-stream event queue length.
func WithStreamBuffer(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// NewServer constructs a control server. retriever may be nil, in which case
// retrieval RPCs report Unavailable.
func NewServer(eng *engine.Engine, retriever retrieval.Retriever, log logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		eng:       eng,
		retriever: retriever,
		log:       logging.OrNoop(log).With(logging.Component("control")),
		buffer:    DefaultStreamBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ControlServer = (*Server)(nil)

func (s *Server) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var st engine.Status
	if err := s.eng.Do(ctx, func() { st = s.eng.Status() }); err != nil {
		return nil, ToStatusError(err)
	}
	out, err := statusStruct(st)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func (s *Server) ListBodies(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	bodies := s.eng.KB.ListBodies()
	list := make([]any, 0, len(bodies))
	for _, b := range bodies {
		list = append(list, map[string]any{
			"id":     string(b.ID),
			"name":   b.Name,
			"kind":   b.Kind.String(),
			"parent": string(b.ParentID),
			"radius": b.Radius,
			"position": map[string]any{
				"x": b.Position.X,
				"y": b.Position.Y,
				"z": b.Position.Z,
			},
		})
	}
	out, err := structpb.NewStruct(map[string]any{"bodies": list})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

func (s *Server) SetPlaying(ctx context.Context, req *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	playing := req.GetValue()
	if err := s.eng.Do(ctx, func() { s.eng.Store.SetPlaying(playing) }); err != nil {
		return nil, ToStatusError(err)
	}
	logging.LoggerFromContext(ctx, s.log).Info(ctx, "playback changed", logging.Bool("playing", playing))
	return &emptypb.Empty{}, nil
}

func (s *Server) SetTimeScale(ctx context.Context, req *wrapperspb.DoubleValue) (*emptypb.Empty, error) {
	scale := req.GetValue()
	if math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, ToStatusError(fmt.Errorf("%w: time scale must be finite", ErrInvalidArgument))
	}
	if err := s.eng.Do(ctx, func() { s.eng.Store.SetTimeScale(scale) }); err != nil {
		return nil, ToStatusError(err)
	}
	logging.LoggerFromContext(ctx, s.log).Info(ctx, "time scale changed", logging.Float64("time_scale", scale))
	return &emptypb.Empty{}, nil
}

func (s *Server) SetSimulationTime(ctx context.Context, req *timestamppb.Timestamp) (*emptypb.Empty, error) {
	if err := req.CheckValid(); err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidArgument, err))
	}
	t := req.AsTime()
	if err := s.eng.Do(ctx, func() { s.eng.Clock.SetSimulationTime(t) }); err != nil {
		return nil, ToStatusError(err)
	}
	logging.LoggerFromContext(ctx, s.log).Info(ctx, "simulation time set", logging.SimTime(t))
	return &emptypb.Empty{}, nil
}

// SelectBody selects a body and points the camera at it. An empty value
// clears the selection and leaves the camera where it is.
func (s *Server) SelectBody(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	id := model.BodyID(req.GetValue())
	if id != model.NoBody && !s.eng.KB.HasBody(id) {
		return nil, ToStatusError(fmt.Errorf("select %q: %w", id, kb.ErrBodyNotFound))
	}
	err := s.eng.Do(ctx, func() {
		s.eng.Store.SelectBody(id)
		if id != model.NoBody {
			s.eng.Store.SetCameraTarget(id)
		}
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// SetDisplay applies any of showOrbits, showLabels and showEvents present in
// the request.
func (s *Server) SetDisplay(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	type toggle struct {
		set func(bool)
		v   bool
	}
	var toggles []toggle
	for key, v := range req.GetFields() {
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, ToStatusError(fmt.Errorf("%w: %s must be a bool", ErrInvalidArgument, key))
		}
		switch key {
		case "showOrbits":
			toggles = append(toggles, toggle{s.eng.Store.SetShowOrbits, b.BoolValue})
		case "showLabels":
			toggles = append(toggles, toggle{s.eng.Store.SetShowLabels, b.BoolValue})
		case "showEvents":
			toggles = append(toggles, toggle{s.eng.Store.SetShowEvents, b.BoolValue})
		default:
			return nil, ToStatusError(fmt.Errorf("%w: unknown display field %q", ErrInvalidArgument, key))
		}
	}
	err := s.eng.Do(ctx, func() {
		for _, t := range toggles {
			t.set(t.v)
		}
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) PlayScenario(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	id := req.GetValue()
	ctx, span := startSpan(ctx, "Control.PlayScenario", attribute.String("scenario.id", id))
	defer span.End()

	var (
		started bool
		err     error
	)
	// The player keeps the context for its span; detach it from the RPC's
	// cancellation so playback outlives the call.
	playCtx := context.WithoutCancel(ctx)
	if doErr := s.eng.Do(ctx, func() { started, err = s.eng.PlayScenario(playCtx, id) }); doErr != nil {
		return nil, ToStatusError(doErr)
	}
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	logging.LoggerFromContext(ctx, s.log).Info(ctx, "play scenario requested",
		logging.String("scenario_id", id),
		logging.Bool("started", started),
	)
	return wrapperspb.Bool(started), nil
}

func (s *Server) PauseScenario(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return s.player(ctx, func() { s.eng.Player.Pause() })
}

func (s *Server) ResumeScenario(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return s.player(ctx, func() { s.eng.Player.Resume() })
}

func (s *Server) StopScenario(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	return s.player(ctx, func() { s.eng.Player.Stop() })
}

func (s *Server) player(ctx context.Context, fn func()) (*emptypb.Empty, error) {
	if err := s.eng.Do(ctx, fn); err != nil {
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) InitializeCorpus(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if s.retriever == nil {
		return nil, ToStatusError(retrieval.ErrUnavailable)
	}
	ctx, span := startSpan(ctx, "Control.InitializeCorpus", attribute.String("corpus.id", req.GetValue()))
	defer span.End()
	if err := s.retriever.Initialize(ctx, req.GetValue()); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return &emptypb.Empty{}, nil
}

// Search expects {query: string, topK?: number, corpus?: string}. A corpus
// is initialized before searching.
func (s *Server) Search(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.retriever == nil {
		return nil, ToStatusError(retrieval.ErrUnavailable)
	}
	fields := req.GetFields()
	query := strings.TrimSpace(fields["query"].GetStringValue())
	if query == "" {
		return nil, ToStatusError(fmt.Errorf("%w: query is required", ErrInvalidArgument))
	}
	topK := int(fields["topK"].GetNumberValue())

	ctx, span := startSpan(ctx, "Control.Search", attribute.Int("search.top_k", topK))
	defer span.End()

	if corpus := fields["corpus"].GetStringValue(); corpus != "" {
		if err := s.retriever.Initialize(ctx, corpus); err != nil {
			span.RecordError(err)
			return nil, ToStatusError(err)
		}
	}
	chunks, err := s.retriever.Search(ctx, query, topK)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	span.SetAttributes(attribute.Int("search.results", len(chunks)))
	if chunks == nil {
		chunks = []retrieval.Chunk{}
	}

	list, err := jsonValue(chunks)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"chunks": list}}, nil
}

func (s *Server) Summarize(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if s.retriever == nil {
		return nil, ToStatusError(retrieval.ErrUnavailable)
	}
	summary, err := s.retriever.Summarize(ctx, req.GetValue())
	if err != nil {
		return nil, ToStatusError(err)
	}
	return wrapperspb.String(summary), nil
}

type busEvent struct {
	topic   string
	payload any
}

// StreamEvents forwards bus traffic as {topic, payload[, dropped]} messages.
// The request may carry topics: [..]; a trailing "*" matches a prefix. Slow
// consumers lose events rather than stall the engine; the count of lost
// events rides on the next delivered message.
func (s *Server) StreamEvents(req *structpb.Struct, stream EventStream) error {
	ctx := stream.Context()
	log := logging.LoggerFromContext(ctx, s.log)
	match := topicMatcher(req)

	events := make(chan busEvent, s.buffer)
	var dropped atomic.Int64
	var sub bus.Subscription
	err := s.eng.Do(ctx, func() {
		sub = s.eng.Bus.Tap(func(topic string, payload any) {
			if !match(topic) {
				return
			}
			select {
			case events <- busEvent{topic: topic, payload: payload}:
			default:
				dropped.Add(1)
			}
		})
	})
	if err != nil {
		return ToStatusError(err)
	}
	defer func() { _ = s.eng.Do(context.Background(), sub.Unsubscribe) }()
	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}
	log.Info(ctx, "event stream opened")

	for {
		select {
		case <-ctx.Done():
			log.Info(ctx, "event stream closed", logging.Err(ctx.Err()))
			return nil
		case <-s.eng.Done():
			return status.Error(codes.Unavailable, engine.ErrStopped.Error())
		case ev := <-events:
			msg, err := eventStruct(ev, dropped.Swap(0))
			if err != nil {
				log.Warn(ctx, "skipping unencodable event", logging.String("topic", ev.topic), logging.Err(err))
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func topicMatcher(req *structpb.Struct) func(string) bool {
	var exact []string
	var prefixes []string
	for _, v := range req.GetFields()["topics"].GetListValue().GetValues() {
		t := v.GetStringValue()
		if t == "" {
			continue
		}
		if p, ok := strings.CutSuffix(t, "*"); ok {
			prefixes = append(prefixes, p)
		} else {
			exact = append(exact, t)
		}
	}
	if len(exact) == 0 && len(prefixes) == 0 {
		return func(string) bool { return true }
	}
	return func(topic string) bool {
		for _, t := range exact {
			if t == topic {
				return true
			}
		}
		for _, p := range prefixes {
			if strings.HasPrefix(topic, p) {
				return true
			}
		}
		return false
	}
}

func eventStruct(ev busEvent, dropped int64) (*structpb.Struct, error) {
	payload, err := jsonValue(ev.payload)
	if err != nil {
		return nil, err
	}
	fields := map[string]*structpb.Value{
		"topic":   structpb.NewStringValue(ev.topic),
		"payload": payload,
	}
	if dropped > 0 {
		fields["dropped"] = structpb.NewNumberValue(float64(dropped))
	}
	return &structpb.Struct{Fields: fields}, nil
}

// jsonValue converts v to a structpb.Value through its JSON encoding, so
// struct tags decide the field names.
func jsonValue(v any) (*structpb.Value, error) {
	if v == nil {
		return structpb.NewNullValue(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

func statusStruct(st engine.Status) (*structpb.Struct, error) {
	scenarios := make([]any, 0, len(st.Scenarios))
	for _, id := range st.Scenarios {
		scenarios = append(scenarios, id)
	}
	return structpb.NewStruct(map[string]any{
		"currentDate":  st.State.CurrentDate.UTC().Format(time.RFC3339Nano),
		"selectedBody": string(st.State.SelectedBodyID),
		"hoveredBody":  string(st.State.HoveredBodyID),
		"isPlaying":    st.State.IsPlaying,
		"timeScale":    st.State.TimeScale,
		"cameraTarget": string(st.State.CameraTargetID),
		"showOrbits":   st.State.ShowOrbits,
		"showLabels":   st.State.ShowLabels,
		"showEvents":   st.State.ShowEvents,
		"scenario": map[string]any{
			"id":    st.Scenario,
			"state": st.ScenarioState.String(),
			"runId": st.RunID,
		},
		"bodies":    st.Bodies,
		"scenarios": scenarios,
	})
}
