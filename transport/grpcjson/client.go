package grpcjson

import (
	"context"

	"google.golang.org/grpc"
)

// Dispatch invokes the Dispatch method over conn, encoding cmd and decoding
// the response with the package's JSON codec. conn need not have been dialed
// with any special codec option; CallContentSubtype selects it per-call.
func Dispatch(ctx context.Context, conn *grpc.ClientConn, cmd Command) (Response, error) {
	var resp Response
	err := conn.Invoke(ctx, "/"+serviceName+"/Dispatch", cmd, &resp, grpc.CallContentSubtype(codecName))
	return resp, err
}
