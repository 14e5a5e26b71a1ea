package momentum

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client provides a Go SDK for the momentum backtest service.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// NewClient creates a client for the server at addr (host:port) over an
// insecure connection.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// NewClientFromConn wraps an existing connection. Close does not close it.
func NewClientFromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// RunBacktest runs a backtest on the server.
func (c *Client) RunBacktest(ctx context.Context, req *BacktestRequest) (*BacktestResponse, error) {
	in, err := req.ToStruct()
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunBacktestMethod, in, out); err != nil {
		return nil, err
	}
	return ResponseFromStruct(out)
}

// Close releases the connection when the client owns it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
