package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/grpc"
)

const groceries = `a b c
a b
a c d
a b c d
a
`

const wantGroceries = `{"items":["a"],"frequency":5}
{"items":["b"],"frequency":3}
{"items":["c"],"frequency":3}
{"items":["a","b"],"frequency":3}
{"items":["a","c"],"frequency":3}
`

func TestRunText(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-support", "0.6"}, strings.NewReader(groceries), &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Equal(t, wantGroceries, stdout.String())
}

func TestRunJSONFileWithLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tx.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`["a","b","c"]
["a","b"]
["a","c","d"]
["a","b","c","d"]
["a"]
`), 0o644))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-input", path, "-format", "json", "-support", "0.6", "-limit", "2"}, nil, &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Equal(t, "{\"items\":[\"a\"],\"frequency\":5}\n{\"items\":[\"b\"],\"frequency\":3}\n", stdout.String())
}

func TestRunOrdered(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-support", "0.5", "-ordered"}, strings.NewReader("x y\ny x\n"), &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Len(t, strings.Split(strings.TrimSpace(stdout.String()), "\n"), 4)
}

func TestRunRejectsBadInput(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"-support", "2"}, strings.NewReader(groceries), &stdout, &stderr)
	assert.ErrorContains(t, err, "MinSupport")

	err = run(context.Background(), []string{"-format", "csv"}, strings.NewReader(groceries), &stdout, &stderr)
	assert.ErrorContains(t, err, "unknown input format")

	err = run(context.Background(), nil, strings.NewReader("a a\n"), &stdout, &stderr)
	assert.ErrorContains(t, err, "duplicate")
	assert.Empty(t, stdout.String())
}

func TestRunRemote(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer()
	api.RegisterRPC(srv, jobs.NewRunner(config.MiningConfig{MinSupport: 0.1}, jobs.Deps{}))
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ln) }()
	t.Cleanup(func() {
		srv.Stop()
		<-done
	})

	var stdout, stderr bytes.Buffer
	err = run(context.Background(), []string{"-support", "0.6", "-remote", ln.Addr().String()}, strings.NewReader(groceries), &stdout, &stderr)
	require.NoError(t, err, stderr.String())
	assert.Equal(t, wantGroceries, stdout.String())
}
