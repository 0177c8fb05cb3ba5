package testutil

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"done/backend"
	"done/internal/server"
)

const bufSize = 1024 * 1024

// BufAddr is the address clients pass when dialing through BufDialer.
const BufAddr = "passthrough:///bufconn"

// BufDialer returns a dialer function connecting to listener.
func BufDialer(listener *bufconn.Listener) func(context.Context, string) (net.Conn, error) {
	return func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
}

// ServeBufconn serves p on an in-memory listener for the duration of the
// test and returns the dial option that reaches it.
func ServeBufconn(t *testing.T, p backend.Provider, opts ...server.Option) grpc.DialOption {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	srv := server.New(p, opts...)
	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(func() {
		srv.Stop()
		_ = listener.Close()
	})
	return grpc.WithContextDialer(BufDialer(listener))
}
