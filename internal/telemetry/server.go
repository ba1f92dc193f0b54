package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/reflex/internal/monitoring"
)

const (
	serviceName       = "reflex.Telemetry"
	watchCommandsName = "WatchCommands"
	watchCommandsPath = "/" + serviceName + "/" + watchCommandsName
)

// TelemetryServer is the server API for the reflex.Telemetry service.
type TelemetryServer interface {
	// WatchCommands streams every velocity command sent after the call.
	WatchCommands(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// ServiceDesc describes reflex.Telemetry. Requests and responses are the
// well-known Empty and Struct types, so no generated code is needed.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    watchCommandsName,
			Handler:       watchCommandsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "reflex/telemetry",
}

func watchCommandsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(TelemetryServer).WatchCommands(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// RegisterService registers srv on s.
func RegisterService(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// WatchCommands opens a WatchCommands stream on cc.
func WatchCommands(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], watchCommandsPath, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

var _ TelemetryServer = (*Server)(nil)

// Server streams hub broadcasts to gRPC clients.
type Server struct {
	hub *Hub
}

// NewServer returns a Server reading from hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// WatchCommands implements TelemetryServer.
func (s *Server) WatchCommands(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	monitoring.Logf("[gRPC] WatchCommands client %s connected", id)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("[gRPC] WatchCommands client %s gone", id)
			return ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return nil
			}
			msg, err := c.Struct()
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				monitoring.Logf("[gRPC] Send error: %v", err)
				return err
			}
		}
	}
}
