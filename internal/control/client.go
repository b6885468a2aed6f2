package control

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region client-struct
// Client wraps the gRPC connection to a running rig.
type Client struct {
	conn *grpc.ClientConn
}

// #endregion client-struct

// #region constructor
// NewClient connects to the control service at addr. Extra options are
// appended after the insecure transport credentials.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// #endregion constructor

// #region command
// Command sends one operator command and returns the response fields.
func (c *Client) Command(ctx context.Context, cmd string) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, commandMethod, wrapperspb.String(cmd), out); err != nil {
		return nil, fmt.Errorf("command rpc: %w", err)
	}
	return out.AsMap(), nil
}

// #endregion command

// #region status
// Status fetches the session status.
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statusMethod, &emptypb.Empty{}, out); err != nil {
		return nil, fmt.Errorf("status rpc: %w", err)
	}
	return out.AsMap(), nil
}

// #endregion status
