package executions_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// Configuration from environment
var (
	flowdURL    = getEnv("FLOWD_URL", "http://localhost:8080")
	perfUser    = getEnv("PERF_USER_ID", "perf-user")
	concurrency = getEnvInt("PERF_CONCURRENCY", 10)
)

// perfFlow is a minimal three-node synchronous flow: trigger, set a field,
// pass through. Small on purpose so the benchmark measures engine dispatch
// and API overhead rather than handler work.
func perfFlow(name string) map[string]interface{} {
	return map[string]interface{}{
		"flow_id": name,
		"name":    name,
		"nodes": []map[string]interface{}{
			{"node_id": "start", "node_type": "manualTrigger"},
			{"node_id": "stamp", "node_type": "setFields", "node_config": map[string]interface{}{
				"fields": []map[string]interface{}{
					{"name": "stamped", "value": true},
				},
			}},
			{"node_id": "end", "node_type": "noOp"},
		},
		"edges": []map[string]interface{}{
			{"source_node_id": "start", "target_node_id": "stamp"},
			{"source_node_id": "stamp", "target_node_id": "end"},
		},
	}
}

func startRun(flowName string, wait bool) (*http.Response, error) {
	body, err := json.Marshal(map[string]interface{}{
		"flow":    perfFlow(flowName),
		"user_id": perfUser,
		"wait":    wait,
		"payload": map[string]interface{}{"n": 1},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, flowdURL+"/v1/executions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", perfUser)
	return http.DefaultClient.Do(req)
}

// BenchmarkSynchronousRuns measures end-to-end latency of wait=true starts:
// API parse, admission, engine drive to settlement, response shaping.
//
// Usage:
//
//	FLOWD_URL=http://localhost:8080 go test -bench=BenchmarkSynchronousRuns -benchtime=1000x ./perf_tests/executions
func BenchmarkSynchronousRuns(b *testing.B) {
	skipUnlessRunning(b)
	flowName := fmt.Sprintf("perf-sync-%d", time.Now().Unix())

	latencies := make([]time.Duration, 0, b.N)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		resp, err := startRun(flowName, true)
		if err != nil {
			b.Fatalf("start failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b.Fatalf("unexpected status %d", resp.StatusCode)
		}
		latencies = append(latencies, time.Since(start))
	}
	b.StopTimer()
	reportPercentiles(b, latencies)
}

// BenchmarkConcurrentStarts measures async start throughput under parallel
// callers, the shape API gateways produce.
func BenchmarkConcurrentStarts(b *testing.B) {
	skipUnlessRunning(b)
	flowName := fmt.Sprintf("perf-async-%d", time.Now().Unix())

	var wg sync.WaitGroup
	work := make(chan struct{}, b.N)
	for i := 0; i < b.N; i++ {
		work <- struct{}{}
	}
	close(work)

	var failures int64
	var mu sync.Mutex

	b.ResetTimer()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				resp, err := startRun(flowName, false)
				if err != nil {
					mu.Lock()
					failures++
					mu.Unlock()
					continue
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusTooManyRequests {
					mu.Lock()
					failures++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	b.StopTimer()

	if failures > 0 {
		b.Fatalf("%d of %d starts failed", failures, b.N)
	}
	b.ReportMetric(float64(b.N)/b.Elapsed().Seconds(), "starts/sec")
}

func skipUnlessRunning(b *testing.B) {
	b.Helper()
	resp, err := http.Get(flowdURL + "/health")
	if err != nil {
		b.Skip("flowd not running")
	}
	resp.Body.Close()
}

func reportPercentiles(b *testing.B, latencies []time.Duration) {
	if len(latencies) == 0 {
		return
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		idx := int(p * float64(len(latencies)-1))
		return latencies[idx]
	}
	b.ReportMetric(float64(pct(0.50).Microseconds()), "p50-us")
	b.ReportMetric(float64(pct(0.95).Microseconds()), "p95-us")
	b.ReportMetric(float64(pct(0.99).Microseconds()), "p99-us")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
