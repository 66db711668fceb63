// Command pfpgrowth mines frequent patterns from a transaction file and
// prints one JSON object per pattern. With -remote it sends the
// transactions to a running miner over RPC instead of mining in process.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/jobs"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/grpc"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "pfpgrowth: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("pfpgrowth", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "-", "transaction file, - for stdin")
	format := fs.String("format", "text", "input format: text (whitespace-separated items per line) or json (one array per line)")
	support := fs.Float64("support", cfg.Mining.MinSupport, "minimum support in (0, 1]")
	partitions := fs.Int("partitions", cfg.Mining.NumPartitions, "number of mining partitions, 0 for one per input partition")
	ordered := fs.Bool("ordered", cfg.Mining.Ordered, "mine sequences instead of itemsets")
	parallelism := fs.Int("parallelism", cfg.Mining.Parallelism, "concurrent partition workers, 0 for GOMAXPROCS")
	limit := fs.Int("limit", 0, "print at most this many patterns, 0 for all")
	remote := fs.String("remote", "", "miner RPC address; mines in process when empty")
	timeout := fs.Duration("timeout", cfg.Mining.RunTimeout, "overall deadline")
	logLevel := fs.String("log-level", "warn", "log level written to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	logger.SetupWriter(stderr, *logLevel, "text")

	txs, err := readInput(*input, *format, stdin)
	if err != nil {
		return err
	}

	req := proto.MineRequest{
		Transactions:  txs,
		MinSupport:    *support,
		NumPartitions: *partitions,
		Ordered:       ordered,
		Limit:         *limit,
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var resp *proto.MineResponse
	if *remote != "" {
		resp, err = mineRemote(ctx, *remote, req)
	} else {
		mcfg := cfg.Mining
		mcfg.Parallelism = *parallelism
		mcfg.MaxTransactions = 0
		mcfg.RunTimeout = *timeout
		resp, err = jobs.NewRunner(mcfg, jobs.Deps{Engine: mining.NewEngine(nil)}).Execute(ctx, req)
	}
	if err != nil {
		return err
	}

	slog.Info("mining finished",
		"transactions", resp.NumTransactions,
		"min_count", resp.MinCount,
		"frequent_items", len(resp.FrequentItems),
		"patterns", resp.TotalPatterns,
		"latency_ms", resp.LatencyMs,
	)
	return writePatterns(stdout, resp.Patterns)
}

func mineRemote(ctx context.Context, addr string, req proto.MineRequest) (*proto.MineResponse, error) {
	client, err := grpc.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	var resp proto.MineResponse
	if err := client.Call(ctx, proto.MethodMine, req, &resp); err != nil {
		return nil, fmt.Errorf("remote mining at %s: %w", addr, err)
	}
	return &resp, nil
}

func readInput(path, format string, stdin io.Reader) ([][]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		r = f
	}
	switch format {
	case "text":
		return parseText(r)
	case "json":
		return parseJSON(r)
	default:
		return nil, fmt.Errorf("unknown input format %q", format)
	}
}

// parseText reads one transaction per line. Blank lines are empty
// transactions and still count towards support.
func parseText(r io.Reader) ([][]string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	txs := [][]string{}
	for sc.Scan() {
		txs = append(txs, strings.Fields(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading transactions: %w", err)
	}
	return txs, nil
}

func parseJSON(r io.Reader) ([][]string, error) {
	dec := json.NewDecoder(r)
	txs := [][]string{}
	for {
		var tx []string
		err := dec.Decode(&tx)
		if errors.Is(err, io.EOF) {
			return txs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding transaction %d: %w", len(txs)+1, err)
		}
		if tx == nil {
			tx = []string{}
		}
		txs = append(txs, tx)
	}
}

func writePatterns(w io.Writer, patterns []proto.PatternDTO) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, p := range patterns {
		if err := enc.Encode(p); err != nil {
			return err
		}
	}
	return bw.Flush()
}
