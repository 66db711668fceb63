package jobs

import (
	"context"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

// HandleMessage returns a Kafka MessageHandler that executes every mining
// job on the topic. Jobs that can never succeed (undecodable payloads,
// invalid requests, unknown datasets) are logged and acknowledged; other
// failures are returned so the message is not committed.
func HandleMessage(runner *Runner, m *metrics.Metrics) kafka.MessageHandler {
	log := logger.WithComponent("job-consumer")
	count := func(status string) {
		if m != nil {
			m.JobsConsumedTotal.WithLabelValues(status).Inc()
		}
	}
	return func(ctx context.Context, key []byte, value []byte) error {
		req, err := kafka.DecodeJSON[proto.MineRequest](value)
		if err != nil {
			log.Error("failed to decode mining job", "error", err, "key", string(key))
			count("malformed")
			return nil
		}
		if req.RequestID == "" {
			req.RequestID = string(key)
		}

		if _, err := runner.Execute(ctx, req); err != nil {
			if errors.HTTPStatusCode(err) < http.StatusInternalServerError {
				log.Warn("mining job rejected", "request_id", req.RequestID, "error", err)
				count("rejected")
				return nil
			}
			count("failed")
			return err
		}
		count("ok")
		return nil
	}
}
