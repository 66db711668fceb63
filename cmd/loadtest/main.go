// Command loadtest drives concurrent mining requests against a miner and
// reports throughput, latency percentiles and the result-cache hit ratio.
//
// A small pool of distinct request bodies is replayed round robin, so after
// the first pass most requests should be answered from the cache.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/pkg/proto"
)

type options struct {
	url          string
	concurrency  int
	duration     time.Duration
	distinct     int
	transactions int
	support      float64
	seed         uint64
}

func main() {
	var o options
	flag.StringVar(&o.url, "url", "http://localhost:8080", "base URL of the miner")
	flag.IntVar(&o.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&o.duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&o.distinct, "distinct", 8, "number of distinct request bodies; repeats hit the result cache")
	flag.IntVar(&o.transactions, "transactions", 2000, "transactions per request")
	flag.Float64Var(&o.support, "support", 0.05, "min support of every request")
	flag.Uint64Var(&o.seed, "seed", 1, "random seed for the generated baskets")
	flag.Parse()

	bodies, err := buildRequests(o.distinct, o.transactions, o.support, o.seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building requests: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("load testing %s: %d workers for %s, %d bodies of %d transactions\n",
		o.url, o.concurrency, o.duration, len(bodies), o.transactions)

	ctx, cancel := context.WithTimeout(context.Background(), o.duration)
	defer cancel()
	rec := drive(ctx, newClient(o.concurrency), o.url, o.concurrency, bodies)

	rep := rec.report(o.duration)
	rep.write(os.Stdout)
	if rep.Total == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the miner running?")
		os.Exit(1)
	}
}

// buildRequests generates distinct mining requests over a shared catalogue.
// Item popularity is Zipf distributed so every request has a frequent head.
func buildRequests(distinct, n int, support float64, seed uint64) ([][]byte, error) {
	const catalogue = 400
	r := rand.New(rand.NewPCG(seed, uint64(distinct)))
	zipf := rand.NewZipf(r, 1.3, 1, catalogue-1)

	bodies := make([][]byte, distinct)
	for d := range bodies {
		txs := make([][]string, n)
		for i := range txs {
			txs[i] = basket(r, zipf, 1+r.IntN(10))
		}
		body, err := json.Marshal(proto.MineRequest{Transactions: txs, MinSupport: support, Limit: 50})
		if err != nil {
			return nil, err
		}
		bodies[d] = body
	}
	return bodies, nil
}

// basket draws up to size distinct items; a heavily skewed draw may come
// up short.
func basket(r *rand.Rand, zipf *rand.Zipf, size int) []string {
	seen := make(map[uint64]struct{}, size)
	tx := make([]string, 0, size)
	for range 4 * size {
		if len(tx) == size {
			break
		}
		id := zipf.Uint64()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tx = append(tx, fmt.Sprintf("sku-%03d", id))
	}
	return tx
}

func newClient(concurrency int) *http.Client {
	return &http.Client{
		Timeout: time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        2 * concurrency,
			MaxIdleConnsPerHost: 2 * concurrency,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// drive replays bodies from concurrency workers until ctx ends. Requests cut
// short by the deadline are not recorded.
func drive(ctx context.Context, client *http.Client, baseURL string, concurrency int, bodies [][]byte) *recorder {
	rec := &recorder{statuses: map[int]int64{}}
	g, ctx := errgroup.WithContext(ctx)
	for w := range concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				start := time.Now()
				status, cached, err := mine(ctx, client, baseURL, bodies[i%len(bodies)])
				if ctx.Err() != nil {
					break
				}
				rec.record(time.Since(start), status, cached, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return rec
}

func mine(ctx context.Context, client *http.Client, baseURL string, body []byte) (status int, cached bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/v1/mine", bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, false, nil
	}
	var out struct {
		Cached bool `json:"cached"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, false, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, out.Cached, nil
}

type recorder struct {
	mu        sync.Mutex
	total     int64
	failed    int64
	cacheHits int64
	latencies []time.Duration
	statuses  map[int]int64
}

// record counts one request. Transport errors count as failures without a
// latency sample; non-2xx answers count as failures with one.
func (r *recorder) record(d time.Duration, status int, cached bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.total++
	if err != nil {
		r.failed++
		return
	}
	r.latencies = append(r.latencies, d)
	r.statuses[status]++
	switch {
	case status < 200 || status > 299:
		r.failed++
	case cached:
		r.cacheHits++
	}
}

type report struct {
	Total, Failed, CacheHits int64
	Throughput               float64
	Min, Mean, Max, StdDev   time.Duration
	P50, P90, P99            time.Duration
	Statuses                 map[int]int64
}

func (r *recorder) report(elapsed time.Duration) report {
	r.mu.Lock()
	rep := report{
		Total:     r.total,
		Failed:    r.failed,
		CacheHits: r.cacheHits,
		Statuses:  maps.Clone(r.statuses),
	}
	lat := slices.Clone(r.latencies)
	r.mu.Unlock()

	if elapsed > 0 {
		rep.Throughput = float64(rep.Total) / elapsed.Seconds()
	}
	if len(lat) == 0 {
		return rep
	}
	slices.Sort(lat)
	var sum float64
	for _, l := range lat {
		sum += float64(l)
	}
	mean := sum / float64(len(lat))
	var sq float64
	for _, l := range lat {
		sq += (float64(l) - mean) * (float64(l) - mean)
	}
	rep.Min, rep.Max = lat[0], lat[len(lat)-1]
	rep.Mean = time.Duration(mean)
	rep.StdDev = time.Duration(math.Sqrt(sq / float64(len(lat))))
	rep.P50, rep.P90, rep.P99 = percentile(lat, 50), percentile(lat, 90), percentile(lat, 99)
	return rep
}

func (rep report) write(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "requests\t%d\n", rep.Total)
	fmt.Fprintf(tw, "failed\t%d\n", rep.Failed)
	fmt.Fprintf(tw, "throughput\t%.1f req/s\n", rep.Throughput)
	if ok := rep.Total - rep.Failed; ok > 0 {
		fmt.Fprintf(tw, "cache hits\t%.1f%%\n", float64(rep.CacheHits)/float64(ok)*100)
	}
	if rep.Max > 0 {
		fmt.Fprintf(tw, "latency\tmin %s\tmean %s\tmax %s\tstddev %s\n", rep.Min, rep.Mean, rep.Max, rep.StdDev)
		fmt.Fprintf(tw, "\tp50 %s\tp90 %s\tp99 %s\n", rep.P50, rep.P90, rep.P99)
	}
	for _, c := range slices.Sorted(maps.Keys(rep.Statuses)) {
		fmt.Fprintf(tw, "status %d\t%d\n", c, rep.Statuses[c])
	}
	tw.Flush()
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
