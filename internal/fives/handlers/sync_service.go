package handlers

import (
	"context"
	"time"

	"github.com/gartstein/fives/internal/fives/syncer"
	"google.golang.org/grpc"
)

const (
	syncServiceName       = "fives.v1.SyncService"
	StatusMethod          = "/" + syncServiceName + "/Status"
	TriggerSyncMethod     = "/" + syncServiceName + "/TriggerSync"
	SetConnectivityMethod = "/" + syncServiceName + "/SetConnectivity"
)

type StatusRequest struct{}

type StatusResponse struct {
	State       string     `json:"state"`
	Pending     int64      `json:"pending"`
	DeadLetters int        `json:"dead_letters"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// TriggerSyncRequest asks for a pass. With Wait set the call blocks until
// the pass finishes and returns its result.
type TriggerSyncRequest struct {
	Wait bool `json:"wait"`
}

type TriggerSyncResponse struct {
	Started bool           `json:"started"`
	Result  *syncer.Result `json:"result,omitempty"`
}

type SetConnectivityRequest struct {
	Online bool `json:"online"`
}

type SetConnectivityResponse struct {
	State string `json:"state"`
}

// SyncServiceServer is the server API of fives.v1.SyncService.
type SyncServiceServer interface {
	Status(ctx context.Context, req *StatusRequest) (*StatusResponse, error)
	TriggerSync(ctx context.Context, req *TriggerSyncRequest) (*TriggerSyncResponse, error)
	SetConnectivity(ctx context.Context, req *SetConnectivityRequest) (*SetConnectivityResponse, error)
}

var syncServiceDesc = grpc.ServiceDesc{
	ServiceName: syncServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unaryHandler(StatusMethod, SyncServiceServer.Status)},
		{MethodName: "TriggerSync", Handler: unaryHandler(TriggerSyncMethod, SyncServiceServer.TriggerSync)},
		{MethodName: "SetConnectivity", Handler: unaryHandler(SetConnectivityMethod, SyncServiceServer.SetConnectivity)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fives/v1/sync.proto",
}

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

// unaryHandler adapts a typed service method to the grpc method handler
// signature, running it through the server's interceptor chain.
func unaryHandler[Req, Resp any](fullMethod string, call func(SyncServiceServer, context.Context, *Req) (*Resp, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SyncServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SyncServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SyncClient calls a running SyncService.
type SyncClient struct {
	conn grpc.ClientConnInterface
}

func NewSyncClient(conn grpc.ClientConnInterface) *SyncClient {
	return &SyncClient{conn: conn}
}

func (c *SyncClient) Status(ctx context.Context, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.conn.Invoke(ctx, StatusMethod, &StatusRequest{}, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncClient) TriggerSync(ctx context.Context, req *TriggerSyncRequest, opts ...grpc.CallOption) (*TriggerSyncResponse, error) {
	out := new(TriggerSyncResponse)
	if err := c.conn.Invoke(ctx, TriggerSyncMethod, req, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncClient) SetConnectivity(ctx context.Context, req *SetConnectivityRequest, opts ...grpc.CallOption) (*SetConnectivityResponse, error) {
	out := new(SetConnectivityResponse)
	if err := c.conn.Invoke(ctx, SetConnectivityMethod, req, out, c.callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SyncClient) callOptions(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}
