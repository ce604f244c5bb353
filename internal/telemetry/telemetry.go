// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry registers the orchestrator's Prometheus metrics and
// provides two handlers: PrometheusHandler for the native exposition and
// Collector.Handler for a JSON summary with percentile latency
// aggregation. internal/httpapi mounts neither handler, and no request
// path updates the Prometheus collectors or calls RecordRequest.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentswitchboard_requests_total",
			Help: "Total number of requests processed by the proxy orchestrator",
		},
		[]string{"status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentswitchboard_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
		},
		[]string{"stage"},
	)
	BlockedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentswitchboard_blocked_requests_total",
			Help: "Total number of requests denied by the semantic firewall",
		},
	)
	PolicyEvaluations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentswitchboard_policy_evaluations_total",
			Help: "Total number of firewall policy evaluations",
		},
	)
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentswitchboard_cache_hits_total",
			Help: "Total number of semantic cache hits",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(BlockedRequests)
	prometheus.MustRegister(PolicyEvaluations)
	prometheus.MustRegister(CacheHits)
}

// PrometheusHandler serves the native /prometheus scrape endpoint.
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// Collector is the guarded in-process aggregator behind the legacy JSON
// /metrics endpoint, keeping a bounded rolling window of latencies per
// request type for percentile reporting.
type Collector struct {
	mu        sync.Mutex
	total     int64
	blocked   int64
	latencies map[string][]int64
}

const maxLatencySamples = 1000

// NewCollector constructs an empty Collector.
func NewCollector() *Collector {
	return &Collector{latencies: make(map[string][]int64)}
}

// RecordRequest appends one observation, trimming the per-type window to
// maxLatencySamples.
func (c *Collector) RecordRequest(requestType string, latencyMs int64, blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if blocked {
		c.blocked++
	}
	samples := append(c.latencies[requestType], latencyMs)
	if len(samples) > maxLatencySamples {
		samples = samples[len(samples)-maxLatencySamples:]
	}
	c.latencies[requestType] = samples
}

func percentile(sorted []int64, p float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

// Snapshot is the JSON shape served at /metrics.
type Snapshot struct {
	TotalRequests   int64                  `json:"total_requests"`
	BlockedRequests int64                  `json:"blocked_requests"`
	ByRequestType   map[string]TypeMetrics `json:"by_request_type"`
}

// TypeMetrics is the per-request-type latency summary.
type TypeMetrics struct {
	Count int64 `json:"count"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}

func (c *Collector) snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]TypeMetrics, len(c.latencies))
	for reqType, samples := range c.latencies {
		sorted := append([]int64(nil), samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		byType[reqType] = TypeMetrics{
			Count: int64(len(sorted)),
			P50Ms: percentile(sorted, 0.50),
			P95Ms: percentile(sorted, 0.95),
			P99Ms: percentile(sorted, 0.99),
		}
	}

	return Snapshot{TotalRequests: c.total, BlockedRequests: c.blocked, ByRequestType: byType}
}

// Handler serves the legacy JSON metrics summary.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.snapshot())
	}
}
