package grpc

import (
    "context"
    "errors"
    "net"
    "sync"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-clustergate/pkg/coord"
    "github.com/amirimatin/go-clustergate/pkg/gate"
    obsmetrics "github.com/amirimatin/go-clustergate/pkg/observability/metrics"
    "github.com/amirimatin/go-clustergate/pkg/observability/tracing"
    "github.com/amirimatin/go-clustergate/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind string

    mu     sync.Mutex
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct{ Data []byte `json:"data"` }

// coordServer defines the gate.v1.Coord methods.
type coordServer interface {
    Get(ctx context.Context, in *transport.NodeRequest) (*transport.NodeResponse, error)
    Create(ctx context.Context, in *transport.WriteRequest) (*transport.WriteResponse, error)
    Set(ctx context.Context, in *transport.WriteRequest) (*transport.WriteResponse, error)
    Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error)
    Status(ctx context.Context, in *empty) (*statusBlob, error)
    Watch(in *transport.NodeRequest, stream grpc.ServerStream) error
}

// gateServer defines the gate.v1.Gate methods.
type gateServer interface {
    Stats(ctx context.Context, in *empty) (*gate.Stats, error)
    Check(ctx context.Context, in *transport.CheckRequest) (*transport.CheckResponse, error)
}

type coordImpl struct{ h transport.Handlers }

func (m *coordImpl) Get(ctx context.Context, in *transport.NodeRequest) (*transport.NodeResponse, error) {
    if m.h.Store == nil { return nil, status.Error(codes.Unimplemented, "coordination store not served") }
    ctx, end := tracing.StartSpan(ctx, "grpc.coord.get", "path", in.Path)
    defer end()
    n, err := m.h.Store.Get(ctx, in.Path)
    countCoord("get", err)
    if err != nil { return &transport.NodeResponse{Error: coord.ErrorString(err)}, nil }
    return &transport.NodeResponse{Node: n, Exists: true}, nil
}

func (m *coordImpl) Create(ctx context.Context, in *transport.WriteRequest) (*transport.WriteResponse, error) {
    if m.h.Store == nil { return nil, status.Error(codes.Unimplemented, "coordination store not served") }
    ctx, end := tracing.StartSpan(ctx, "grpc.coord.create", "path", in.Path)
    defer end()
    err := m.h.Store.Create(ctx, in.Path, in.Data)
    countCoord("create", err)
    return &transport.WriteResponse{Error: coord.ErrorString(err)}, nil
}

func (m *coordImpl) Set(ctx context.Context, in *transport.WriteRequest) (*transport.WriteResponse, error) {
    if m.h.Store == nil { return nil, status.Error(codes.Unimplemented, "coordination store not served") }
    ctx, end := tracing.StartSpan(ctx, "grpc.coord.set", "path", in.Path)
    defer end()
    err := m.h.Store.Set(ctx, in.Path, in.Data)
    countCoord("set", err)
    return &transport.WriteResponse{Error: coord.ErrorString(err)}, nil
}

func (m *coordImpl) Join(ctx context.Context, in *transport.JoinRequest) (*transport.JoinResponse, error) {
    if m.h.Join == nil { return &transport.JoinResponse{Error: "join not supported"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.join", "id", in.ID)
    defer end()
    out, err := m.h.Join(ctx, *in)
    if err != nil {
        if out.Error == "" { out.Error = err.Error() }
        out.Accepted = false
    }
    return &out, nil
}

func (m *coordImpl) Status(ctx context.Context, _ *empty) (*statusBlob, error) {
    if m.h.Status == nil { return nil, status.Error(codes.Unimplemented, "status not served") }
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

// Watch streams the current state of the path followed by every change. An
// absent node is announced with a deleted event so clients always learn the
// initial state.
func (m *coordImpl) Watch(in *transport.NodeRequest, stream grpc.ServerStream) error {
    if m.h.Store == nil { return status.Error(codes.Unimplemented, "coordination store not served") }
    ctx := stream.Context()
    ch, err := m.h.Store.Watch(ctx, in.Path)
    countCoord("watch", err)
    if err != nil { return status.Error(codes.InvalidArgument, coord.ErrorString(err)) }
    obsmetrics.CoordWatches.Inc()
    defer obsmetrics.CoordWatches.Dec()
    ok, err := m.h.Store.Exists(ctx, in.Path)
    if err != nil { return status.Error(codes.Internal, err.Error()) }
    if !ok {
        if err := stream.SendMsg(&coord.Event{Type: coord.EventDeleted, Node: coord.Node{Path: in.Path}}); err != nil { return err }
    }
    for ev := range ch {
        if err := stream.SendMsg(&ev); err != nil { return err }
    }
    if ctx.Err() != nil { return nil }
    return status.Error(codes.Unavailable, "watch ended")
}

type gateImpl struct{ g transport.GateService }

func (m *gateImpl) Stats(ctx context.Context, _ *empty) (*gate.Stats, error) {
    if m.g == nil { return nil, status.Error(codes.Unimplemented, "gate not served") }
    st := m.g.Stats()
    return &st, nil
}

func (m *gateImpl) Check(ctx context.Context, in *transport.CheckRequest) (*transport.CheckResponse, error) {
    if m.g == nil { return nil, status.Error(codes.Unimplemented, "gate not served") }
    d := time.Duration(in.TimeoutMillis) * time.Millisecond
    ctx, end := tracing.StartSpan(ctx, "grpc.gate.check", "timeout", d.String())
    defer end()
    out := &transport.CheckResponse{}
    if d > 0 {
        out.Outcome = m.g.CheckTimeout(ctx, d)
    } else {
        out.Outcome = m.g.Check(ctx)
    }
    out.Stats = m.g.Stats()
    return out, nil
}

// Service descriptors and handlers (hand-written, no codegen required)
var _Coord_serviceDesc = grpc.ServiceDesc{
    ServiceName: "gate.v1.Coord",
    HandlerType: (*coordServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Get", Handler: unary("/gate.v1.Coord/Get", func(srv interface{}, ctx context.Context, in *transport.NodeRequest) (interface{}, error) { return srv.(coordServer).Get(ctx, in) })},
        {MethodName: "Create", Handler: unary("/gate.v1.Coord/Create", func(srv interface{}, ctx context.Context, in *transport.WriteRequest) (interface{}, error) { return srv.(coordServer).Create(ctx, in) })},
        {MethodName: "Set", Handler: unary("/gate.v1.Coord/Set", func(srv interface{}, ctx context.Context, in *transport.WriteRequest) (interface{}, error) { return srv.(coordServer).Set(ctx, in) })},
        {MethodName: "Join", Handler: unary("/gate.v1.Coord/Join", func(srv interface{}, ctx context.Context, in *transport.JoinRequest) (interface{}, error) { return srv.(coordServer).Join(ctx, in) })},
        {MethodName: "Status", Handler: unary("/gate.v1.Coord/Status", func(srv interface{}, ctx context.Context, in *empty) (interface{}, error) { return srv.(coordServer).Status(ctx, in) })},
    },
    Streams: []grpc.StreamDesc{{
        StreamName:    "Watch",
        ServerStreams: true,
        Handler:       _Coord_Watch_Handler,
    }},
}

var _Gate_serviceDesc = grpc.ServiceDesc{
    ServiceName: "gate.v1.Gate",
    HandlerType: (*gateServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "Stats", Handler: unary("/gate.v1.Gate/Stats", func(srv interface{}, ctx context.Context, in *empty) (interface{}, error) { return srv.(gateServer).Stats(ctx, in) })},
        {MethodName: "Check", Handler: unary("/gate.v1.Gate/Check", func(srv interface{}, ctx context.Context, in *transport.CheckRequest) (interface{}, error) { return srv.(gateServer).Check(ctx, in) })},
    },
}

// unary builds a grpc.MethodDesc handler for request type T.
func unary[T any](method string, call func(srv interface{}, ctx context.Context, in *T) (interface{}, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
    return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
        in := new(T)
        if err := dec(in); err != nil { return nil, err }
        if interceptor == nil { return call(srv, ctx, in) }
        info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
        handler := func(ctx context.Context, req interface{}) (interface{}, error) {
            return call(srv, ctx, req.(*T))
        }
        return interceptor(ctx, in, info, handler)
    }
}

func _Coord_Watch_Handler(srv interface{}, stream grpc.ServerStream) error {
    m := new(transport.NodeRequest)
    if err := stream.RecvMsg(m); err != nil { return err }
    return srv.(coordServer).Watch(m, stream)
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    // Force JSON codec to avoid requiring protobuf types
    var opts []grpc.ServerOption
    opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
    // keepalive settings for long-lived watch streams
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    srv := grpc.NewServer(opts...)
    hs := health.NewServer()
    healthpb.RegisterHealthServer(srv, hs)
    srv.RegisterService(&_Coord_serviceDesc, &coordImpl{h: h})
    srv.RegisterService(&_Gate_serviceDesc, &gateImpl{g: h.Gate})

    s.mu.Lock()
    s.lis, s.srv, s.health = lis, srv, hs
    s.mu.Unlock()

    go func() {
        <-ctx.Done()
        sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = s.Stop(sctx)
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

// Stop marks the health service not serving and stops gracefully, forcing
// the stop once ctx is done.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv, hs := s.srv, s.health
    s.srv = nil
    s.mu.Unlock()
    if srv == nil { return nil }
    if hs != nil { hs.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        srv.Stop()
    }
    return nil
}

func countCoord(op string, err error) {
    res := "ok"
    if err != nil { res = "error" }
    obsmetrics.CoordRequests.WithLabelValues(op, res).Inc()
}

func isCanceled(err error) bool {
    if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) { return true }
    c := status.Code(err)
    return c == codes.Canceled || c == codes.DeadlineExceeded
}

var _ transport.RPCServer = (*Server)(nil)
