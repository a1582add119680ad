package comps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// SuggestMethod is the full gRPC method name served by the comps engine.
const SuggestMethod = "/storyengine.comps.v1.CompsEngine/Suggest"

// #region service
// Service is the comps engine RPC surface. Payloads travel as google.protobuf.Struct.
type Service interface {
	Suggest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type grpcService struct {
	cc grpc.ClientConnInterface
}

func (s grpcService) Suggest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := s.cc.Invoke(ctx, SuggestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion service

// #region client-struct
// Client wraps the gRPC connection to the external comps engine.
type Client struct {
	conn    *grpc.ClientConn
	svc     Service
	timeout time.Duration
}

// #endregion client-struct

// #region constructor
// NewClient connects to the comps engine. timeout bounds each call; zero means none.
func NewClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, svc: grpcService{cc: conn}, timeout: timeout}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc Service, timeout time.Duration) *Client {
	return &Client{svc: svc, timeout: timeout}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region suggest
// Suggest asks the comps engine for titles and per-dimension suggestions.
// The response is returned as sent; callers pass it through Normalize.
func (c *Client) Suggest(ctx context.Context, q Query) (Suggestion, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := toStruct(q)
	if err != nil {
		return Suggestion{}, fmt.Errorf("encode suggest request: %w", err)
	}
	resp, err := c.svc.Suggest(ctx, req)
	if err != nil {
		return Suggestion{}, fmt.Errorf("suggest rpc: %w", err)
	}

	var s Suggestion
	if err := fromStruct(resp, &s); err != nil {
		return Suggestion{}, fmt.Errorf("decode suggest response: %w", err)
	}
	return s, nil
}

// #endregion suggest

// #region struct-codec
// toStruct converts v to a Struct through its JSON form so field names match the json tags.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("empty response")
	}
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// #endregion struct-codec
