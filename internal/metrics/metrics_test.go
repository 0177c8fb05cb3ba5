package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"done/internal/wire"
)

func TestUnaryInterceptorCountsOutcomes(t *testing.T) {
	m := New()
	intercept := m.UnaryServerInterceptor("local")
	info := &grpc.UnaryServerInfo{FullMethod: wire.FullMethod(wire.MethodReadTask)}

	ok := func(context.Context, any) (any, error) {
		return &wire.ProviderResponse{Successful: true}, nil
	}
	rejected := func(context.Context, any) (any, error) {
		return &wire.ProviderResponse{Message: "task not found", Reason: "not_found"}, nil
	}
	broken := func(context.Context, any) (any, error) {
		return nil, errors.New("boom")
	}

	_, err := intercept(context.Background(), nil, info, ok)
	require.NoError(t, err)
	_, err = intercept(context.Background(), nil, info, rejected)
	require.NoError(t, err)
	_, err = intercept(context.Background(), nil, info, broken)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcTotal.WithLabelValues("local", "ReadTask", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcTotal.WithLabelValues("local", "ReadTask", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcTotal.WithLabelValues("local", "ReadTask", OutcomeError)))
}

func TestObserveHelpersToleratesNil(t *testing.T) {
	var m *Metrics
	m.ObserveRPC("local", "GetId", OutcomeOK, time.Millisecond)
	m.ObserveRefresh("microsoft", nil)
	m.ObserveStart("local", errors.New("no executable"))
	m.ObserveRateLimited("google")
}

func TestRefreshStartAndRateLimitCounters(t *testing.T) {
	m := New()
	m.ObserveRefresh("microsoft", nil)
	m.ObserveRefresh("microsoft", errors.New("invalid_grant"))
	m.ObserveStart("local", nil)
	m.ObserveRateLimited("microsoft")
	m.ObserveRateLimited("microsoft")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("microsoft", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("microsoft", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.startTotal.WithLabelValues("local", OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.limitedTotal.WithLabelValues("microsoft")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveRPC("google", "ReadAllLists", OutcomeOK, 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `done_provider_rpc_total{method="ReadAllLists",outcome="ok",provider="google"} 1`)
	assert.Contains(t, body, "done_provider_rpc_duration_seconds_bucket")
}

func TestServerServesAndShutsDown(t *testing.T) {
	m := New()
	srv := NewServer("127.0.0.1:0", m, nil)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(lis) }()

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	assert.NoError(t, <-done)
}

func TestMethodName(t *testing.T) {
	assert.Equal(t, "DeleteList", methodName(wire.FullMethod(wire.MethodDeleteList)))
	assert.True(t, strings.HasPrefix(wire.FullMethod("x"), "/done.provider.v1.Provider/"))
	assert.Equal(t, "plain", methodName("plain"))
}
