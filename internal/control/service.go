// Package control exposes the engine over gRPC. Messages are protobuf
// well-known types, so the service needs no generated code: the descriptor
// below plays the role of a *_grpc.pb.go file.
package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "orrery.control.v1.ControlService"

// ControlServer is the server API for ControlService.
type ControlServer interface {
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListBodies(context.Context, *emptypb.Empty) (*structpb.Struct, error)

	SetPlaying(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	SetTimeScale(context.Context, *wrapperspb.DoubleValue) (*emptypb.Empty, error)
	SetSimulationTime(context.Context, *timestamppb.Timestamp) (*emptypb.Empty, error)
	SelectBody(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	SetDisplay(context.Context, *structpb.Struct) (*emptypb.Empty, error)

	PlayScenario(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	PauseScenario(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ResumeScenario(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	StopScenario(context.Context, *emptypb.Empty) (*emptypb.Empty, error)

	InitializeCorpus(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Summarize(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)

	StreamEvents(*structpb.Struct, EventStream) error
}

// EventStream is the server side of StreamEvents.
type EventStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(m *structpb.Struct) error { return s.ServerStream.SendMsg(m) }

// RegisterControlServer registers srv with s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes ControlService for grpc.Server and clients.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetState", newEmpty, ControlServer.GetState),
		unary("ListBodies", newEmpty, ControlServer.ListBodies),
		unary("SetPlaying", newBool, ControlServer.SetPlaying),
		unary("SetTimeScale", newDouble, ControlServer.SetTimeScale),
		unary("SetSimulationTime", newTimestamp, ControlServer.SetSimulationTime),
		unary("SelectBody", newString, ControlServer.SelectBody),
		unary("SetDisplay", newStruct, ControlServer.SetDisplay),
		unary("PlayScenario", newString, ControlServer.PlayScenario),
		unary("PauseScenario", newEmpty, ControlServer.PauseScenario),
		unary("ResumeScenario", newEmpty, ControlServer.ResumeScenario),
		unary("StopScenario", newEmpty, ControlServer.StopScenario),
		unary("InitializeCorpus", newString, ControlServer.InitializeCorpus),
		unary("Search", newStruct, ControlServer.Search),
		unary("Summarize", newString, ControlServer.Summarize),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "orrery/control/v1/control.proto",
}

func fullMethod(method string) string { return "/" + ServiceName + "/" + method }

func newEmpty() *emptypb.Empty             { return new(emptypb.Empty) }
func newBool() *wrapperspb.BoolValue       { return new(wrapperspb.BoolValue) }
func newDouble() *wrapperspb.DoubleValue   { return new(wrapperspb.DoubleValue) }
func newString() *wrapperspb.StringValue   { return new(wrapperspb.StringValue) }
func newStruct() *structpb.Struct          { return new(structpb.Struct) }
func newTimestamp() *timestamppb.Timestamp { return new(timestamppb.Timestamp) }

// unary builds the MethodDesc for one request/response method.
func unary[Req, Resp proto.Message](
	method string,
	newReq func() Req,
	call func(ControlServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(ControlServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamEventsHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).StreamEvents(in, &eventStream{stream})
}
