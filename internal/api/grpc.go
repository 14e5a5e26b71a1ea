package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"etfmomentum/pkg/momentum"
)

// BacktestServer is the server API for momentum.v1.BacktestService.
type BacktestServer interface {
	RunBacktest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var _ BacktestServer = (*Server)(nil)

// BacktestServiceDesc describes momentum.v1.BacktestService. Requests and
// responses are google.protobuf.Struct messages decoded by pkg/momentum.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: momentum.ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunBacktest",
			Handler:    runBacktestHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "momentum/v1/backtest.proto",
}

// RegisterBacktestServer registers srv on the given gRPC server instance.
func RegisterBacktestServer(gs grpc.ServiceRegistrar, srv BacktestServer) {
	gs.RegisterService(&BacktestServiceDesc, srv)
}

func runBacktestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).RunBacktest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: momentum.RunBacktestMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).RunBacktest(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
