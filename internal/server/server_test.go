package server_test

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"done/backend"
	"done/internal/metrics"
	"done/internal/server"
	harness "done/internal/testutil"
	"done/internal/wire"
)

func rawClient(t *testing.T, p backend.Provider, opts ...server.Option) (wire.ProviderClient, *grpc.ClientConn) {
	t.Helper()
	dialer := harness.ServeBufconn(t, p, opts...)
	conn, err := grpc.NewClient(harness.BufAddr, dialer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return wire.NewProviderClient(conn), conn
}

func TestHealthReportsServing(t *testing.T) {
	_, conn := rawClient(t, harness.NewMemoryProvider("local"))

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: wire.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestMetadataMethods(t *testing.T) {
	rpc, _ := rawClient(t, harness.NewMemoryProvider("google"))
	ctx := context.Background()

	id, err := rpc.GetId(ctx, &wire.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "google", id.Value)

	name, err := rpc.GetName(ctx, &wire.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "Memory google", name.Value)
}

func TestBusinessFailuresTravelInEnvelope(t *testing.T) {
	rpc, _ := rawClient(t, harness.NewMemoryProvider("local"))
	ctx := context.Background()

	resp, err := rpc.ReadTask(ctx, &wire.ProviderRequest{ID: "missing"})
	require.NoError(t, err, "a rejected operation is not a transport error")
	assert.False(t, resp.Successful)
	assert.Empty(t, resp.Data)
	assert.NotEmpty(t, resp.Message)
	assert.Equal(t, string(backend.ReasonNotFound), resp.Reason)

	resp, err = rpc.CreateTask(ctx, &wire.ProviderRequest{})
	require.NoError(t, err)
	assert.Equal(t, string(backend.ReasonInvalidArgument), resp.Reason)

	resp, err = rpc.DeleteList(ctx, &wire.ProviderRequest{})
	require.NoError(t, err)
	assert.Equal(t, string(backend.ReasonInvalidArgument), resp.Reason)
}

func TestDeleteTaskAcceptsTaskPayload(t *testing.T) {
	ctx := context.Background()
	mem := harness.NewMemoryProvider("local")
	rpc, _ := rawClient(t, mem)

	list, err := mem.CreateList(ctx, &backend.List{Name: "Inbox"})
	require.NoError(t, err)
	task, err := mem.CreateTask(ctx, &backend.Task{Title: "Call Bob", Parent: list.ID})
	require.NoError(t, err)

	req, err := wire.TaskRequest(task)
	require.NoError(t, err)
	req.ID, req.Parent = "", ""
	resp, err := rpc.DeleteTask(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Successful)
	assert.Empty(t, resp.Data)

	_, err = mem.ReadTask(ctx, "", task.ID)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestReadTasksFromListRequiresID(t *testing.T) {
	rpc, _ := rawClient(t, harness.NewMemoryProvider("local"))

	stream, err := rpc.ReadTasksFromList(context.Background(), &wire.ProviderRequest{})
	require.NoError(t, err)
	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.False(t, resp.Successful)
	assert.Equal(t, string(backend.ReasonInvalidArgument), resp.Reason)

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEmptyStreamSendsOneEmptyBatch(t *testing.T) {
	rpc, _ := rawClient(t, harness.NewMemoryProvider("local"))

	stream, err := rpc.ReadAllTasks(context.Background(), &wire.Empty{})
	require.NoError(t, err)
	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.True(t, resp.Successful)
	assert.JSONEq(t, `[]`, string(resp.Data))
}

func TestMetricsAndRejectionLogging(t *testing.T) {
	m := metrics.New()
	core, logs := observer.New(zap.DebugLevel)
	rpc, _ := rawClient(t, harness.NewMemoryProvider("local"),
		server.WithMetrics(m), server.WithLogger(zap.New(core)))
	ctx := context.Background()

	_, err := rpc.ReadAllLists(ctx, &wire.Empty{})
	require.NoError(t, err)
	_, err = rpc.ReadList(ctx, &wire.ProviderRequest{ID: "nope"})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(m.Registry(), "done_provider_rpc_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rejected := logs.FilterMessage("rpc rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "not_found", rejected[0].ContextMap()["reason"])
}

func TestListenAndServeWritesAndRemovesPIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "local.pid")
	srv := server.New(harness.NewMemoryProvider("local"), server.WithPIDFile(pidPath))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidPath)
		return err == nil && string(data) == strconv.Itoa(os.Getpid())
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "pid file should be removed on stop")
}
