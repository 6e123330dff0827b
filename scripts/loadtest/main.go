// Loadtest sends concurrent batches to a running dispatcher and reports
// throughput, batch latency percentiles and how calls spread across backends.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/v1/dispatch -concurrency 10 -batches 200
//	go run ./scripts/loadtest -tool flaky -candidates github,jira -batch-size 8 -out summary.json
//
// Exit codes:
//
//	0 - every call succeeded
//	1 - setup error
//	2 - at least one call or batch failed
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/tool-dispatcher/internal/handler"
)

type backendStats struct {
	Calls     int                `json:"calls"`
	Successes int                `json:"successes"`
	Kinds     map[string]int     `json:"kinds,omitempty"`
	Latencies []time.Duration    `json:"-"`
	Summary   map[string]float64 `json:"latency_ms,omitempty"`
}

type report struct {
	Target        string                   `json:"target"`
	Batches       int                      `json:"batches"`
	BatchSize     int                      `json:"batch_size"`
	Concurrency   int                      `json:"concurrency"`
	FailedBatches int64                    `json:"failed_batches"`
	Calls         int                      `json:"calls"`
	Successes     int                      `json:"successes"`
	DurationMS    int64                    `json:"duration_ms"`
	CallsPerSec   float64                  `json:"calls_per_sec"`
	BatchLatency  map[string]float64       `json:"batch_latency_ms"`
	Backends      map[string]*backendStats `json:"backends"`
}

func main() {
	var (
		target      = flag.String("url", "http://localhost:8080/v1/dispatch", "Dispatch endpoint")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		batches     = flag.Int("batches", 100, "Total number of batches to send")
		batchSize   = flag.Int("batch-size", 5, "Tool calls per batch")
		tool        = flag.String("tool", "echo", "Tool name to call")
		candidates  = flag.String("candidates", "github,jira", "Comma separated candidate backends")
		priority    = flag.String("priority", "normal", "Priority of every call")
		callTimeout = flag.String("call-timeout", "5s", "Per-call timeout sent with each request")
		timeout     = flag.Duration("timeout", 2*time.Minute, "HTTP client timeout per batch")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "Print every batch")
	)
	flag.Parse()

	names := strings.Split(*candidates, ",")
	client := &http.Client{Timeout: *timeout}

	var (
		failedBatches atomic.Int64
		mutex         sync.Mutex
		batchLatency  []time.Duration
		backends      = make(map[string]*backendStats)
		calls         int
		successes     int
	)

	jobs := make(chan int)
	var wg sync.WaitGroup

	start := time.Now()

	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				body, err := json.Marshal(newBatch(idx, *batchSize, *tool, names, *priority, *callTimeout))
				if err != nil {
					failedBatches.Add(1)
					continue
				}

				req, err := http.NewRequest(http.MethodPost, *target, bytes.NewReader(body))
				if err != nil {
					failedBatches.Add(1)
					continue
				}
				req.Header.Set("Content-Type", "application/json")

				began := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					failedBatches.Add(1)
					if *verbose {
						fmt.Printf("[%d] batch=%d error=%v\n", workerID, idx, err)
					}
					continue
				}

				var result handler.BatchResult
				decodeErr := json.NewDecoder(resp.Body).Decode(&result)
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				elapsed := time.Since(began)

				if resp.StatusCode != http.StatusOK || decodeErr != nil {
					failedBatches.Add(1)
					if *verbose {
						fmt.Printf("[%d] batch=%d status=%d request_id=%s\n", workerID, idx, resp.StatusCode, resp.Header.Get("X-Request-ID"))
					}
					continue
				}

				mutex.Lock()
				batchLatency = append(batchLatency, elapsed)
				for _, o := range result.Results {
					calls++
					bs, ok := backends[o.Backend]
					if !ok {
						bs = &backendStats{Kinds: make(map[string]int)}
						backends[o.Backend] = bs
					}
					bs.Calls++
					bs.Latencies = append(bs.Latencies, time.Duration(o.ElapsedMS)*time.Millisecond)
					if o.Success {
						successes++
						bs.Successes++
					} else {
						bs.Kinds[o.Kind]++
					}
				}
				mutex.Unlock()

				if *verbose {
					fmt.Printf("[%d] batch=%d calls=%d dur=%v\n", workerID, idx, len(result.Results), elapsed)
				}
			}
		}(w)
	}

	go func() {
		for i := 0; i < *batches; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	total := time.Since(start)

	r := report{
		Target:        *target,
		Batches:       *batches,
		BatchSize:     *batchSize,
		Concurrency:   *concurrency,
		FailedBatches: failedBatches.Load(),
		Calls:         calls,
		Successes:     successes,
		DurationMS:    total.Milliseconds(),
		CallsPerSec:   float64(calls) / total.Seconds(),
		BatchLatency:  summarize(batchLatency),
		Backends:      backends,
	}
	for _, bs := range backends {
		bs.Summary = summarize(bs.Latencies)
	}

	printReport(r)

	if *outJSON != "" {
		if err := writeJSON(*outJSON, r); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write json summary: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if r.FailedBatches > 0 || r.Successes < r.Calls {
		os.Exit(2)
	}
}

// newBatch spreads calls over the candidates. Every call carries a unique
// message so results can be told apart in server logs.
func newBatch(idx, size int, tool string, candidates []string, priority, timeout string) handler.Batch {
	batch := handler.Batch{Requests: make([]handler.Call, size)}
	for i := range batch.Requests {
		batch.Requests[i] = handler.Call{
			Name:       tool,
			Candidates: candidates,
			Priority:   priority,
			Timeout:    timeout,
			Arguments: map[string]any{
				"message": fmt.Sprintf("batch-%d-call-%d-%s", idx, i, uuid.NewString()[:8]),
			},
		}
	}
	return batch
}

func summarize(latencies []time.Duration) map[string]float64 {
	if len(latencies) == 0 {
		return nil
	}

	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	pick := func(p float64) float64 {
		return float64(sorted[int(float64(len(sorted)-1)*p)].Microseconds()) / 1000
	}

	return map[string]float64{
		"min": float64(sorted[0].Microseconds()) / 1000,
		"avg": float64((sum / time.Duration(len(sorted))).Microseconds()) / 1000,
		"max": float64(sorted[len(sorted)-1].Microseconds()) / 1000,
		"p50": pick(0.50),
		"p90": pick(0.90),
		"p95": pick(0.95),
		"p99": pick(0.99),
	}
}

func printReport(r report) {
	fmt.Println("--- Dispatch Load Test Summary ---")
	fmt.Printf("Target: %s\n", r.Target)
	fmt.Printf("Batches: %d x %d calls  Concurrency: %d\n", r.Batches, r.BatchSize, r.Concurrency)
	fmt.Printf("Calls: %d  Success: %d  Failed batches: %d\n", r.Calls, r.Successes, r.FailedBatches)
	fmt.Printf("Duration: %dms  Throughput: %.2f calls/s\n", r.DurationMS, r.CallsPerSec)

	if r.BatchLatency != nil {
		fmt.Printf("Batch latency (ms): p50=%.1f p95=%.1f p99=%.1f max=%.1f\n",
			r.BatchLatency["p50"], r.BatchLatency["p95"], r.BatchLatency["p99"], r.BatchLatency["max"])
	}

	fmt.Println("\nBackend distribution:")
	names := make([]string, 0, len(r.Backends))
	for name := range r.Backends {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		bs := r.Backends[name]
		fmt.Printf("  %s -> calls=%d success=%d", name, bs.Calls, bs.Successes)
		for kind, n := range bs.Kinds {
			fmt.Printf(" %s=%d", kind, n)
		}
		fmt.Println()
		if bs.Summary != nil {
			fmt.Printf("    call latency (ms): p50=%.1f p95=%.1f max=%.1f\n",
				bs.Summary["p50"], bs.Summary["p95"], bs.Summary["max"])
		}
	}
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
