package grpc

import (
    "context"
    "crypto/tls"
    "net"
    "time"

    "google.golang.org/grpc"
    "google.golang.org/grpc/credentials"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "github.com/amirimatin/go-raft-journal/pkg/observability/tracing"
    "github.com/amirimatin/go-raft-journal/pkg/transport"
)

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    tlsCfg *tls.Config
}

func NewServer(bind string) *Server { return &Server{bind: bind} }

// UseTLS enables TLS for the gRPC server using the provided config.
func (s *Server) UseTLS(cfg *tls.Config) *Server { s.tlsCfg = cfg; return s }

// internal request/response types used over gRPC JSON codec
type empty struct{}
type statusBlob struct {
    Data []byte `json:"data"`
}

// managementServer defines the methods we expose.
type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*statusBlob, error)
    QuorumAdd(ctx context.Context, in *transport.QuorumAddRequest) (*transport.QuorumAddResponse, error)
    QuorumRemove(ctx context.Context, in *transport.QuorumRemoveRequest) (*transport.QuorumRemoveResponse, error)
    Elect(ctx context.Context, in *transport.ElectRequest) (*transport.ElectResponse, error)
    TransferMessage(ctx context.Context, in *transport.TransferMessageRequest) (*transport.TransferMessageResponse, error)
    ResetPriorities(ctx context.Context, in *empty) (*transport.ResetPrioritiesResponse, error)
    Checkpoint(ctx context.Context, in *empty) (*transport.CheckpointResponse, error)
}

type mgmtImpl struct {
    h transport.Handlers
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*statusBlob, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.h.Status(ctx)
    if err != nil { return nil, err }
    return &statusBlob{Data: b}, nil
}

func (m *mgmtImpl) QuorumAdd(ctx context.Context, in *transport.QuorumAddRequest) (*transport.QuorumAddResponse, error) {
    if in == nil { in = &transport.QuorumAddRequest{} }
    if m.h.QuorumAdd == nil { return &transport.QuorumAddResponse{Error: "not implemented"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.quorum.add")
    defer end()
    out, err := m.h.QuorumAdd(ctx, *in)
    if err != nil { return &transport.QuorumAddResponse{Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) QuorumRemove(ctx context.Context, in *transport.QuorumRemoveRequest) (*transport.QuorumRemoveResponse, error) {
    if in == nil { in = &transport.QuorumRemoveRequest{} }
    if m.h.QuorumRemove == nil { return &transport.QuorumRemoveResponse{Error: "not implemented"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.quorum.remove")
    defer end()
    out, err := m.h.QuorumRemove(ctx, *in)
    if err != nil { return &transport.QuorumRemoveResponse{Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) Elect(ctx context.Context, in *transport.ElectRequest) (*transport.ElectResponse, error) {
    if in == nil { in = &transport.ElectRequest{} }
    if m.h.Elect == nil { return &transport.ElectResponse{Error: "not implemented"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.quorum.elect")
    defer end()
    out, err := m.h.Elect(ctx, *in)
    if err != nil { return &transport.ElectResponse{Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) TransferMessage(ctx context.Context, in *transport.TransferMessageRequest) (*transport.TransferMessageResponse, error) {
    if in == nil { in = &transport.TransferMessageRequest{} }
    if m.h.TransferMessage == nil { return &transport.TransferMessageResponse{}, nil }
    out, err := m.h.TransferMessage(ctx, *in)
    if err != nil { return &transport.TransferMessageResponse{}, err }
    return &out, nil
}

func (m *mgmtImpl) ResetPriorities(ctx context.Context, _ *empty) (*transport.ResetPrioritiesResponse, error) {
    if m.h.ResetPriorities == nil { return &transport.ResetPrioritiesResponse{Error: "not implemented"}, nil }
    out, err := m.h.ResetPriorities(ctx)
    if err != nil { return &transport.ResetPrioritiesResponse{Error: err.Error()}, nil }
    return &out, nil
}

func (m *mgmtImpl) Checkpoint(ctx context.Context, _ *empty) (*transport.CheckpointResponse, error) {
    if m.h.Checkpoint == nil { return &transport.CheckpointResponse{Error: "not implemented"}, nil }
    ctx, end := tracing.StartSpan(ctx, "grpc.checkpoint")
    defer end()
    out, err := m.h.Checkpoint(ctx)
    if err != nil { return &transport.CheckpointResponse{Error: err.Error()}, nil }
    return &out, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var _Management_serviceDesc = grpc.ServiceDesc{
    ServiceName: "journal.v1.Management",
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: _Management_GetStatus_Handler},
        {MethodName: "QuorumAdd", Handler: _Management_QuorumAdd_Handler},
        {MethodName: "QuorumRemove", Handler: _Management_QuorumRemove_Handler},
        {MethodName: "Elect", Handler: _Management_Elect_Handler},
        {MethodName: "TransferMessage", Handler: _Management_TransferMessage_Handler},
        {MethodName: "ResetPriorities", Handler: _Management_ResetPriorities_Handler},
        {MethodName: "Checkpoint", Handler: _Management_Checkpoint_Handler},
    },
}

func _Management_GetStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/GetStatus"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_QuorumAdd_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.QuorumAddRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).QuorumAdd(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/QuorumAdd"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).QuorumAdd(ctx, req.(*transport.QuorumAddRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_QuorumRemove_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.QuorumRemoveRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).QuorumRemove(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/QuorumRemove"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).QuorumRemove(ctx, req.(*transport.QuorumRemoveRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_Elect_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.ElectRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).Elect(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/Elect"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).Elect(ctx, req.(*transport.ElectRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_TransferMessage_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(transport.TransferMessageRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).TransferMessage(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/TransferMessage"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).TransferMessage(ctx, req.(*transport.TransferMessageRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_ResetPriorities_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).ResetPriorities(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/ResetPriorities"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).ResetPriorities(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func _Management_Checkpoint_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).Checkpoint(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/journal.v1.Management/Checkpoint"}
    handler := func(ctx context.Context, req interface{}) (interface{}, error) {
        return srv.(managementServer).Checkpoint(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.lis = lis
    // Force JSON codec to avoid requiring protobuf types
    var opts []grpc.ServerOption
    opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
    opts = append(opts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}))
    opts = append(opts, grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}))
    if s.tlsCfg != nil { opts = append(opts, grpc.Creds(credentials.NewTLS(s.tlsCfg))) }
    srv := grpc.NewServer(opts...)
    s.srv = srv
    // Health service (always serving for now)
    healthSrv := health.NewServer()
    healthpb.RegisterHealthServer(srv, healthSrv)
    // Register management service
    srv.RegisterService(&_Management_serviceDesc, &mgmtImpl{h: h})

    go func() {
        <-ctx.Done()
        ch := make(chan struct{})
        go func() { srv.GracefulStop(); close(ch) }()
        select {
        case <-ch:
        case <-time.After(2 * time.Second):
            srv.Stop()
        }
    }()
    go func() { _ = srv.Serve(lis) }()
    return nil
}

func (s *Server) Addr() string { return s.bind }

func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    ch := make(chan struct{})
    go func() { s.srv.GracefulStop(); close(ch) }()
    select {
    case <-ch:
    case <-ctx.Done():
        s.srv.Stop()
    }
    s.srv = nil
    if s.lis != nil { _ = s.lis.Close(); s.lis = nil }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
