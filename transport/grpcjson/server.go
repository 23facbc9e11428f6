package grpcjson

import (
	"context"

	"google.golang.org/grpc"

	"github.com/agentorch/agentserver/dispatcher"
)

// Command mirrors dispatcher.Command's wire shape (spec.md §6.1), the same
// record transport/lines decodes from a newline-delimited connection.
// Exported so callers can build requests for Dispatch without reaching into
// the dispatcher package's own (unexported-construction) Command type.
type Command struct {
	Type      string         `json:"type"`
	Params    map[string]any `json:"params"`
	RequestID any            `json:"request_id"`
}

// Response mirrors dispatcher.Response's wire shape.
type Response struct {
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	RequestID any            `json:"request_id,omitempty"`
}

// serviceName is the fully-qualified gRPC service name clients dial.
const serviceName = "agentorch.agentserver.v1.Dispatcher"

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit for a one-method "Dispatch(Command) returns (Response)"
// service; written by hand because this package carries no .proto file.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Dispatch",
			Handler:    dispatchHandler,
		},
	},
	Metadata: "agentserver/grpcjson/dispatcher",
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req Command
	if err := dec(&req); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.dispatch(ctx, req), nil
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Dispatch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.dispatch(ctx, req.(Command)), nil
	}
	return interceptor(ctx, req, info, handler)
}

// Server adapts a *dispatcher.Dispatcher to the Dispatch gRPC method.
type Server struct {
	dispatcher *dispatcher.Dispatcher
}

// NewServer wraps d for gRPC registration.
func NewServer(d *dispatcher.Dispatcher) *Server {
	return &Server{dispatcher: d}
}

func (s *Server) dispatch(ctx context.Context, req Command) *Response {
	resp := s.dispatcher.Dispatch(ctx, dispatcher.Command{
		Type:      dispatcher.Type(req.Type),
		Params:    req.Params,
		RequestID: req.RequestID,
	})
	return &Response{Success: resp.Success, Data: resp.Data, Error: resp.Error, RequestID: resp.RequestID}
}

// Register attaches the Dispatch service to grpcServer. grpcServer must have
// been constructed with grpc.ForceServerCodec(jsonCodec{}) (see
// NewGRPCServer) so the method's JSON payloads bypass protobuf encoding.
func Register(grpcServer *grpc.Server, d *dispatcher.Dispatcher) {
	grpcServer.RegisterService(&ServiceDesc, NewServer(d))
}

// NewGRPCServer builds a *grpc.Server configured to speak this package's
// JSON codec and registers d's Dispatch method on it, along with any caller
// supplied options (interceptors, credentials, ...). Grounded on the
// teacher's `grpc.NewServer(chain, streamchain)` construction in
// `example/cmd/assistant/grpc.go`; reflection and TLS/interceptor setup are
// left to the caller via opts, matching that file's pattern of composing
// grpc.ServerOption values before grpc.NewServer.
func NewGRPCServer(d *dispatcher.Dispatcher, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	srv := grpc.NewServer(opts...)
	Register(srv, d)
	return srv
}
