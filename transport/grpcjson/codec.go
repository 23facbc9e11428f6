// Package grpcjson exposes the dispatcher as a single gRPC unary method,
// "Dispatch", carrying the same {type, params, request_id} / {success,
// data, error, request_id} records transport/lines uses, JSON-encoded
// instead of protobuf-encoded. Grounded on the teacher's own gRPC server
// wiring in `example/cmd/assistant/grpc.go` (`grpc.NewServer`, a registered
// service, `reflection.Register`), adapted from a goa-codegen'd service
// (protoc-generated `*pb.XxxServer` interface, `grpcstreamsvr.New(...)`) to
// a hand-registered `grpc.ServiceDesc`, since no .proto/codegen step runs
// here. The JSON codec itself is a standard gRPC extension point
// (`encoding.RegisterCodec`); registering one instead of shipping .proto
// files is what lets the wire payload stay a plain Go map instead of a
// generated message type.
package grpcjson

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// jsonCodec implements encoding.Codec by delegating to encoding/json. It is
// registered globally under the "json" subtype name; the server selects it
// with grpc.ForceServerCodec (NewGRPCServer) and the client with
// grpc.CallContentSubtype("json") (Dispatch).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
