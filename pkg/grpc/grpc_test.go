package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer()
	s.Register(proto.MethodMine, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.MineRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}
		if req.Dataset == "" {
			return nil, errors.New("dataset required")
		}
		return proto.MineResponse{Dataset: req.Dataset, TotalPatterns: len(req.Transactions)}, nil
	})

	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ln) }()
	t.Cleanup(func() {
		s.Stop()
		assert.NoError(t, <-done)
	})
	return s, ln.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	s, addr := startServer(t)
	assert.Equal(t, 1, s.MethodCount())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer c.Close()

	var resp proto.MineResponse
	require.NoError(t, c.Call(ctx, proto.MethodMine, proto.MineRequest{
		Dataset:      "groceries",
		Transactions: [][]string{{"a"}, {"b"}},
	}, &resp))
	assert.Equal(t, "groceries", resp.Dataset)
	assert.Equal(t, 2, resp.TotalPatterns)

	err = c.Call(ctx, proto.MethodMine, proto.MineRequest{}, &resp)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "dataset required", remote.Message)
	assert.Equal(t, http.StatusInternalServerError, remote.Code)

	err = c.Call(ctx, "Miner.Nope", nil, nil)
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.Code)

	// The connection survives remote errors.
	require.NoError(t, c.Call(ctx, proto.MethodMine, proto.MineRequest{Dataset: "again"}, &resp))
	assert.Equal(t, "again", resp.Dataset)
}

func TestCallHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer()
	s.Register("Miner.Slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	go s.ServeListener(ln)
	defer s.Stop()

	c, err := Dial(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Call(ctx, "Miner.Slow", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandlerPanicIsReported(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := NewServer()
	s.Register("Miner.Boom", func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})
	go s.ServeListener(ln)
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var remote *RemoteError
	require.ErrorAs(t, c.Call(ctx, "Miner.Boom", nil, nil), &remote)
	assert.Equal(t, http.StatusInternalServerError, remote.Code)
	assert.Equal(t, "internal error", remote.Message)
}
