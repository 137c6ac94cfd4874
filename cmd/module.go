// Package cmd wires reactorlink's ambient stack into an fx.App: driver,
// ResourceManager, telemetry, introspection, and event export, each
// registered via fx.Lifecycle hooks closing their own resources on
// OnStop.
package cmd

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/reactorlink/reactorlink"
	"github.com/reactorlink/reactorlink/config"
	"github.com/reactorlink/reactorlink/internal/connection"
	"github.com/reactorlink/reactorlink/internal/eventexport"
	"github.com/reactorlink/reactorlink/internal/introspect"
	"github.com/reactorlink/reactorlink/internal/resourcemanager"
	"github.com/reactorlink/reactorlink/internal/server"
	"github.com/reactorlink/reactorlink/internal/telemetry"
	"github.com/reactorlink/reactorlink/internal/transport"
)

func provideLogger() *slog.Logger { return slog.Default() }

func provideTelemetry(lc fx.Lifecycle, cfg *config.Config) (*telemetry.Telemetry, error) {
	ctx := context.Background()
	tel, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, "reactorlink")
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return tel.Shutdown(ctx) },
	})
	return tel, nil
}

func provideDriver(lc fx.Lifecycle, cfg *config.Config) (transport.Driver, error) {
	driver, err := reactorlink.OpenDriver(cfg.DriverKind, cfg.DriverDir)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return driver.Close() },
	})
	return driver, nil
}

func provideResourceManager(lc fx.Lifecycle, driver transport.Driver, cfg *config.Config, logger *slog.Logger) (*resourcemanager.ResourceManager, error) {
	rm, err := resourcemanager.New(driver, cfg.Tunables.Options(), cfg.EventLoopCount, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return rm.Start() },
		OnStop:  func(ctx context.Context) error { return rm.Stop() },
	})
	return rm, nil
}

func provideEventExporter(cfg *config.Config, logger *slog.Logger) *eventexport.Exporter {
	if cfg.EventExportAMQPURI == "" {
		return eventexport.New(nil, cfg.EventExportTopic, logger)
	}
	pub, err := eventexport.NewAMQPPublisher(cfg.EventExportAMQPURI)
	if err != nil {
		logger.Warn("cmd: event export disabled, amqp publisher failed", slog.Any("error", err))
		return eventexport.New(nil, cfg.EventExportTopic, logger)
	}
	return eventexport.New(pub, cfg.EventExportTopic, logger)
}

// provideServer builds the reactorlink.Server that `serve` hosts: one
// shared ServerHandler multiplexing every inbound session off
// cfg.ListenInboundURI, replying per-session on cfg.ListenReverseURI.
// OnConnection just drains and logs what a session sends, since this
// process has no application payload of its own to act on.
func provideServer(lc fx.Lifecycle, rm *resourcemanager.ResourceManager, cfg *config.Config, logger *slog.Logger, exporter *eventexport.Exporter) *reactorlink.Server {
	srv := reactorlink.NewServer(rm, logger, exporter)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Listen(context.Background(), server.ListenRequest{
				InboundURI: cfg.ListenInboundURI,
				ReverseURI: cfg.ListenReverseURI,
				StreamID:   cfg.ListenStreamID,
				Options:    cfg.Tunables.Options(),
				OnConnection: func(conn *connection.Connection) {
					go drainSession(conn, logger)
				},
			})
		},
		OnStop: func(ctx context.Context) error { return srv.Close() },
	})
	return srv
}

// drainSession reads every payload a session's Inbound delivers until it
// terminates, logging what came in. It is the whole of this process's
// "application": reactorlink itself only promises delivery, not behavior.
func drainSession(conn *connection.Connection, logger *slog.Logger) {
	inbound := conn.Inbound()
	for {
		select {
		case payload, ok := <-inbound.Recv():
			if !ok {
				return
			}
			logger.Debug("cmd: session payload received", slog.Int("bytes", len(payload)))
		case err := <-inbound.Errors():
			if err != nil {
				logger.Warn("cmd: session ended with error", slog.Any("error", err))
			}
			return
		}
	}
}

func registerIntrospection(lc fx.Lifecycle, rm *resourcemanager.ResourceManager, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			httpSrv := &httpServer{addr: cfg.IntrospectHTTPAddr, handler: introspect.Router(rm)}
			go httpSrv.serve(logger)

			grpcSrv := introspect.GRPCServer(rm, logger)
			go func() {
				if err := introspect.Serve(context.Background(), cfg.IntrospectGRPCAddr, grpcSrv); err != nil {
					logger.Warn("cmd: introspection grpc server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
	})
}

// runServer forces fx to actually construct the *reactorlink.Server
// provided above; fx.Provide alone never runs an unconsumed constructor.
func runServer(*reactorlink.Server) {}

// Module assembles the whole ambient stack for the "serve" command.
var Module = fx.Module(
	"reactorlink",
	fx.Provide(
		provideLogger,
		provideTelemetry,
		provideDriver,
		provideResourceManager,
		provideEventExporter,
		provideServer,
	),
	fx.Invoke(registerIntrospection, runServer),
)
