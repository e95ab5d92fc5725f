package control

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client is a typed ControlService client.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *Client) GetState(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetState", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListBodies(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "ListBodies", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SetPlaying(ctx context.Context, playing bool, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "SetPlaying", wrapperspb.Bool(playing), new(emptypb.Empty), opts...)
}

func (c *Client) SetTimeScale(ctx context.Context, scale float64, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "SetTimeScale", wrapperspb.Double(scale), new(emptypb.Empty), opts...)
}

func (c *Client) SetSimulationTime(ctx context.Context, t time.Time, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "SetSimulationTime", timestamppb.New(t), new(emptypb.Empty), opts...)
}

func (c *Client) SelectBody(ctx context.Context, id string, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "SelectBody", wrapperspb.String(id), new(emptypb.Empty), opts...)
}

// SetDisplay sends only the toggles present in fields (showOrbits,
// showLabels, showEvents).
func (c *Client) SetDisplay(ctx context.Context, fields map[string]bool, opts ...grpc.CallOption) error {
	req := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for k, v := range fields {
		req.Fields[k] = structpb.NewBoolValue(v)
	}
	return c.invoke(ctx, "SetDisplay", req, new(emptypb.Empty), opts...)
}

// PlayScenario reports whether playback started.
func (c *Client) PlayScenario(ctx context.Context, id string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.invoke(ctx, "PlayScenario", wrapperspb.String(id), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) PauseScenario(ctx context.Context, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "PauseScenario", &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *Client) ResumeScenario(ctx context.Context, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "ResumeScenario", &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *Client) StopScenario(ctx context.Context, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "StopScenario", &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *Client) InitializeCorpus(ctx context.Context, corpusID string, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "InitializeCorpus", wrapperspb.String(corpusID), new(emptypb.Empty), opts...)
}

// Search runs a retrieval query. corpus may be empty to use the loaded one;
// topK <= 0 uses the server default.
func (c *Client) Search(ctx context.Context, corpus, query string, topK int, opts ...grpc.CallOption) (*structpb.Struct, error) {
	fields := map[string]*structpb.Value{"query": structpb.NewStringValue(query)}
	if corpus != "" {
		fields["corpus"] = structpb.NewStringValue(corpus)
	}
	if topK > 0 {
		fields["topK"] = structpb.NewNumberValue(float64(topK))
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "Search", &structpb.Struct{Fields: fields}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Summarize(ctx context.Context, text string, opts ...grpc.CallOption) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, "Summarize", wrapperspb.String(text), out, opts...); err != nil {
		return "", err
	}
	return out.GetValue(), nil
}

// EventReceiver is the client side of StreamEvents.
type EventReceiver struct {
	stream grpc.ClientStream
}

// Recv blocks for the next event message.
func (r *EventReceiver) Recv() (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := r.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamEvents subscribes to bus traffic and returns once the subscription
// is live. With no topics every event is delivered; a topic ending in "*"
// matches a prefix.
func (c *Client) StreamEvents(ctx context.Context, topics []string, opts ...grpc.CallOption) (*EventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("StreamEvents"), opts...)
	if err != nil {
		return nil, err
	}
	list := make([]*structpb.Value, 0, len(topics))
	for _, t := range topics {
		list = append(list, structpb.NewStringValue(t))
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"topics": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	// The server sends headers once its subscription is registered.
	if _, err := stream.Header(); err != nil {
		return nil, err
	}
	return &EventReceiver{stream: stream}, nil
}
