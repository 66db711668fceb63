// Package proto defines the wire types shared by the miner's HTTP API, its
// Kafka job and completion topics, and the JSON-over-TCP RPC surface
// (see pkg/grpc). All types serialise as JSON.
package proto

import "time"

// ---------- Mining ----------

// MineRequest asks for one mining run. Exactly one of Transactions or
// Dataset must be set: inline transactions are mined as given, a dataset
// name is resolved against the transaction store.
type MineRequest struct {
	// RequestID is echoed on the completion event. Optional.
	RequestID    string     `json:"request_id,omitempty"`
	Dataset      string     `json:"dataset,omitempty"`
	Transactions [][]string `json:"transactions,omitempty"`

	// Zero values fall back to the service's configured defaults.
	MinSupport    float64 `json:"min_support,omitempty"`
	NumPartitions int     `json:"num_partitions,omitempty"`
	Ordered       *bool   `json:"ordered,omitempty"`

	// Persist stores the run and its patterns. Only meaningful for named
	// datasets.
	Persist bool `json:"persist,omitempty"`
	// Limit truncates the returned pattern list; 0 returns everything.
	Limit int `json:"limit,omitempty"`
}

// PatternDTO is one frequent pattern on the wire.
type PatternDTO struct {
	Items     []string `json:"items"`
	Frequency int64    `json:"frequency"`
}

// ItemCountDTO is one frequent item and its support count.
type ItemCountDTO struct {
	Item  string `json:"item"`
	Count int64  `json:"count"`
}

// MineResponse is the result of a mining run.
type MineResponse struct {
	RunID           string         `json:"run_id"`
	Dataset         string         `json:"dataset,omitempty"`
	Ordered         bool           `json:"ordered"`
	MinSupport      float64        `json:"min_support"`
	MinCount        int64          `json:"min_count"`
	NumTransactions int64          `json:"num_transactions"`
	NumPartitions   int            `json:"num_partitions"`
	FrequentItems   []ItemCountDTO `json:"frequent_items"`
	Patterns        []PatternDTO   `json:"patterns"`
	TotalPatterns   int            `json:"total_patterns"`
	Cached          bool           `json:"cached"`
	LatencyMs       int64          `json:"latency_ms"`
}

// MiningCompleted is published on the completion topic after every job,
// successful or not.
type MiningCompleted struct {
	RunID         string    `json:"run_id"`
	RequestID     string    `json:"request_id,omitempty"`
	Dataset       string    `json:"dataset,omitempty"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	TotalPatterns int       `json:"total_patterns"`
	LatencyMs     int64     `json:"latency_ms"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Completion statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// RunSummary describes a persisted run.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	Dataset         string    `json:"dataset"`
	Ordered         bool      `json:"ordered"`
	MinSupport      float64   `json:"min_support"`
	MinCount        int64     `json:"min_count"`
	NumTransactions int64     `json:"num_transactions"`
	TotalPatterns   int       `json:"total_patterns"`
	CreatedAt       time.Time `json:"created_at"`
}

// RunDetail is a persisted run with (a page of) its patterns.
type RunDetail struct {
	RunSummary
	Patterns []PatternDTO `json:"patterns"`
}

// ---------- Common ----------

// HealthCheckResponse mirrors the gRPC health checking protocol.
type HealthCheckResponse struct {
	Status string `json:"status"` // SERVING, NOT_SERVING, UNKNOWN
}

// RPC method names served over pkg/grpc.
const (
	MethodMine   = "Miner.Mine"
	MethodHealth = "Miner.Health"
)
