// Package metrics exposes Prometheus counters for provider RPCs, token
// refreshes, rate-limited requests and provider process starts.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"done/internal/wire"
)

const namespace = "done"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry     *prometheus.Registry
	rpcTotal     *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	refreshTotal *prometheus.CounterVec
	startTotal   *prometheus.CounterVec
	limitedTotal *prometheus.CounterVec
}

// New creates the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rpc_total",
			Help:      "Provider RPCs handled, by method and outcome.",
		}, []string{"provider", "method", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_rpc_duration_seconds",
			Help:      "Provider RPC latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "method"}),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "OAuth token refreshes, by result.",
		}, []string{"provider", "result"}),
		startTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_start_total",
			Help:      "Provider start attempts, by result.",
		}, []string{"provider", "result"}),
		limitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "HTTP 429 responses received from remote task services.",
		}, []string{"provider"}),
	}
	m.registry.MustRegister(m.rpcTotal, m.rpcDuration, m.refreshTotal, m.startTotal, m.limitedTotal)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRPC records one handled RPC.
func (m *Metrics) ObserveRPC(provider, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(provider, method, outcome).Inc()
	m.rpcDuration.WithLabelValues(provider, method).Observe(elapsed.Seconds())
}

// ObserveRefresh records one token refresh attempt.
func (m *Metrics) ObserveRefresh(provider string, err error) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(provider, result(err)).Inc()
}

// ObserveStart records one provider start attempt.
func (m *Metrics) ObserveStart(provider string, err error) {
	if m == nil {
		return
	}
	m.startTotal.WithLabelValues(provider, result(err)).Inc()
}

// ObserveRateLimited records one 429 response from a remote service.
func (m *Metrics) ObserveRateLimited(provider string) {
	if m == nil {
		return
	}
	m.limitedTotal.WithLabelValues(provider).Inc()
}

func result(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// methodName strips the service prefix from a full gRPC method.
func methodName(full string) string {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			return full[i+1:]
		}
	}
	return full
}

// UnaryServerInterceptor records every unary RPC served for provider.
// Unsuccessful envelopes are counted as rejected.
func (m *Metrics) UnaryServerInterceptor(provider string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		outcome := OutcomeOK
		if r, ok := resp.(*wire.ProviderResponse); ok && r != nil && !r.Successful {
			outcome = OutcomeRejected
		}
		if err != nil {
			outcome = OutcomeError
		}
		m.ObserveRPC(provider, methodName(info.FullMethod), outcome, time.Since(start))
		return resp, err
	}
}

// StreamServerInterceptor records every streaming RPC served for provider.
func (m *Metrics) StreamServerInterceptor(provider string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		w := &envelopeWatcher{ServerStream: ss}
		err := handler(srv, w)
		outcome := OutcomeOK
		if w.rejected {
			outcome = OutcomeRejected
		}
		if err != nil {
			outcome = OutcomeError
		}
		m.ObserveRPC(provider, methodName(info.FullMethod), outcome, time.Since(start))
		return err
	}
}

// envelopeWatcher notes whether any streamed envelope was unsuccessful.
type envelopeWatcher struct {
	grpc.ServerStream
	rejected bool
}

func (w *envelopeWatcher) SendMsg(msg any) error {
	if r, ok := msg.(*wire.ProviderResponse); ok && !r.Successful {
		w.rejected = true
	}
	return w.ServerStream.SendMsg(msg)
}

// Code returns the gRPC status code name of err, for log fields.
func Code(err error) string {
	return status.Code(err).String()
}

// Server serves /metrics on a dedicated listener.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a metrics server for m. It does not listen until Serve.
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Serve accepts connections on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("starting metrics server", zap.String("addr", lis.Addr().String()))
	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
