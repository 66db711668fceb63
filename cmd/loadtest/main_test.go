package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

func TestBuildRequestsIsDeterministic(t *testing.T) {
	a, err := buildRequests(3, 50, 0.1, 9)
	require.NoError(t, err)
	b, err := buildRequests(3, 50, 0.1, 9)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var req proto.MineRequest
	require.NoError(t, json.Unmarshal(a[0], &req))
	assert.Len(t, req.Transactions, 50)
	for _, tx := range req.Transactions {
		seen := map[string]bool{}
		for _, item := range tx {
			assert.False(t, seen[item], "generated transaction repeats %s", item)
			seen[item] = true
		}
	}
}

func TestRecorderReport(t *testing.T) {
	rec := &recorder{statuses: map[int]int64{}}
	rec.record(time.Millisecond, http.StatusOK, true, nil)
	rec.record(3*time.Millisecond, http.StatusOK, false, nil)
	rec.record(2*time.Millisecond, http.StatusBadRequest, false, nil)
	rec.record(0, 0, false, errors.New("refused"))

	rep := rec.report(2 * time.Second)
	assert.Equal(t, int64(4), rep.Total)
	assert.Equal(t, int64(2), rep.Failed)
	assert.Equal(t, int64(1), rep.CacheHits)
	assert.Equal(t, 2.0, rep.Throughput)
	assert.Equal(t, time.Millisecond, rep.Min)
	assert.Equal(t, 3*time.Millisecond, rep.Max)
	assert.Equal(t, 2*time.Millisecond, rep.Mean)
	assert.Equal(t, map[int]int64{200: 2, 400: 1}, rep.Statuses)

	var out bytes.Buffer
	rep.write(&out)
	assert.Contains(t, out.String(), "cache hits")
	assert.Contains(t, out.String(), "status 400")
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(1), percentile(sorted, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestMineReadsCachedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/mine", r.URL.Path)
		json.NewEncoder(w).Encode(proto.MineResponse{Cached: true})
	}))
	defer srv.Close()

	status, cached, err := mine(t.Context(), srv.Client(), srv.URL, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, cached)
}

func TestDriveStopsAtDeadline(t *testing.T) {
	var served atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
		json.NewEncoder(w).Encode(proto.MineResponse{Cached: served.Load() > 1})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	rec := drive(ctx, srv.Client(), srv.URL, 2, [][]byte{[]byte(`{}`)})

	rep := rec.report(100 * time.Millisecond)
	assert.Positive(t, rep.Total)
	assert.Zero(t, rep.Failed)
	assert.LessOrEqual(t, rep.Total, served.Load())
}
