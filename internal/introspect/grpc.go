// Package introspect exposes ResourceManager.Snapshot over chi-routed
// HTTP and a hand-written gRPC service (§4.J/K), both strictly read-only
// views that never touch an EventLoop's command queue or a publication's
// send queue. The gRPC method wiring here is exactly what protoc-gen-
// go-grpc would emit for a single-method service; it is written by hand
// because introspection has no .proto contract worth generating.
package introspect

import (
	"context"
	"log/slog"
	"net"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/reactorlink/reactorlink/internal/resourcemanager"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type SnapshotRequest struct{}

type SnapshotResponse struct {
	Snapshot resourcemanager.ResourceSnapshot `json:"snapshot"`
}

type introspectServer interface {
	Snapshot(context.Context, *SnapshotRequest) (*SnapshotResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "reactorlink.introspect.v1.Introspect",
	HandlerType: (*introspectServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Metadata: "introspect.proto",
}

func snapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(introspectServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/reactorlink.introspect.v1.Introspect/Snapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(introspectServer).Snapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcService is the concrete introspectServer backing the manual
// ServiceDesc above.
type grpcService struct {
	rm *resourcemanager.ResourceManager
}

func (s *grpcService) Snapshot(ctx context.Context, _ *SnapshotRequest) (*SnapshotResponse, error) {
	return &SnapshotResponse{Snapshot: s.rm.Snapshot()}, nil
}

// GRPCServer builds a *grpc.Server exposing the introspection service on
// a request-logging interceptor, with no auth: introspection is meant
// for an operator's own tooling, not external clients. Every call is also
// traced through otelgrpc's stats handler so a Snapshot call shows up as
// a span on the tracer provider telemetry.Setup installs.
func GRPCServer(rm *resourcemanager.ResourceManager, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	logInterceptor := logging.UnaryServerInterceptor(interceptorLogger(logger))

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(logInterceptor),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	srv.RegisterService(&serviceDesc, &grpcService{rm: rm})
	return srv
}

func interceptorLogger(l *slog.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

// Serve blocks accepting connections on addr until ctx is done.
func Serve(ctx context.Context, addr string, srv *grpc.Server) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return srv.Serve(ln)
}
