package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

func TestRPCMine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	RegisterRPC(srv, jobs.NewRunner(config.MiningConfig{MinSupport: 0.5}, jobs.Deps{}))
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ln) }()
	t.Cleanup(func() {
		srv.Stop()
		assert.NoError(t, <-done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := grpc.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var resp proto.MineResponse
	require.NoError(t, c.Call(ctx, proto.MethodMine, proto.MineRequest{
		Transactions: [][]string{{"x", "y"}, {"x"}},
	}, &resp))
	assert.Equal(t, []proto.PatternDTO{{Items: []string{"x"}, Frequency: 2}, {Items: []string{"y"}, Frequency: 1}, {Items: []string{"x", "y"}, Frequency: 1}}, resp.Patterns)

	err = c.Call(ctx, proto.MethodMine, proto.MineRequest{}, &resp)
	var remote *grpc.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusBadRequest, remote.Code)
	assert.Contains(t, remote.Message, "one of dataset or transactions is required")

	var health proto.HealthCheckResponse
	require.NoError(t, c.Call(ctx, proto.MethodHealth, nil, &health))
	assert.Equal(t, "SERVING", health.Status)
}
