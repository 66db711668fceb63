package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

// RegisterRPC exposes the runner as the Miner.Mine RPC method, plus a
// Miner.Health probe.
func RegisterRPC(srv *grpc.Server, runner MineExecutor) {
	srv.Register(proto.MethodMine, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var req proto.MineRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("decoding %s params: %w", proto.MethodMine, err)
		}
		return runner.Execute(ctx, req)
	})
	srv.Register(proto.MethodHealth, func(context.Context, json.RawMessage) (any, error) {
		return proto.HealthCheckResponse{Status: "SERVING"}, nil
	})
}
