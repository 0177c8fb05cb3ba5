// Package server exposes a backend.Provider over the Provider RPC service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"done/backend"
	"done/internal/daemon"
	"done/internal/metrics"
	"done/internal/wire"
)

// Server serves one provider on one listener.
type Server struct {
	provider backend.Provider
	logger   *zap.Logger
	metrics  *metrics.Metrics
	pidPath  string

	grpc   *grpc.Server
	health *health.Server

	stopOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for failed RPCs and lifecycle events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records every RPC in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPIDFile writes the process id to path while serving.
func WithPIDFile(path string) Option {
	return func(s *Server) { s.pidPath = path }
}

// New builds a server for p. Nothing listens until Serve.
func New(p backend.Provider, opts ...Option) *Server {
	s := &Server{provider: p, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	id := p.ID()
	unary := []grpc.UnaryServerInterceptor{s.logUnary}
	stream := []grpc.StreamServerInterceptor{s.logStream}
	if s.metrics != nil {
		unary = append([]grpc.UnaryServerInterceptor{s.metrics.UnaryServerInterceptor(id)}, unary...)
		stream = append([]grpc.StreamServerInterceptor{s.metrics.StreamServerInterceptor(id)}, stream...)
	}
	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)
	wire.RegisterProviderServer(s.grpc, &service{provider: p})
	reflection.Register(s.grpc)

	s.health = health.NewServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Serve accepts connections on lis until Stop or GracefulStop. The health
// service reports SERVING from the moment the listener is handed over.
func (s *Server) Serve(lis net.Listener) error {
	if s.pidPath != "" {
		if err := daemon.WritePID(s.pidPath, os.Getpid()); err != nil {
			return err
		}
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(wire.ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.logger.Info("provider serving",
		zap.String("provider", s.provider.ID()),
		zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves until ctx is done, then stops
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// GracefulStop marks the server as not serving, drains in-flight RPCs and
// removes the pid file.
func (s *Server) GracefulStop() {
	s.stop(s.grpc.GracefulStop)
}

// Stop closes all connections immediately.
func (s *Server) Stop() {
	s.stop(s.grpc.Stop)
}

func (s *Server) stop(fn func()) {
	s.stopOnce.Do(func() {
		s.health.Shutdown()
		fn()
		if s.pidPath != "" {
			_ = os.Remove(s.pidPath)
		}
		s.logger.Info("provider stopped", zap.String("provider", s.provider.ID()))
	})
}

// logUnary logs rejected envelopes and transport errors at debug level.
func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Debug("rpc error", zap.String("method", info.FullMethod), zap.String("code", metrics.Code(err)), zap.Error(err))
	} else if r, ok := resp.(*wire.ProviderResponse); ok && !r.Successful {
		s.logger.Debug("rpc rejected", zap.String("method", info.FullMethod), zap.String("reason", r.Reason), zap.String("message", r.Message))
	}
	return resp, err
}

func (s *Server) logStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	err := handler(srv, ss)
	if err != nil {
		s.logger.Debug("stream error", zap.String("method", info.FullMethod), zap.String("code", metrics.Code(err)), zap.Error(err))
	}
	return err
}
