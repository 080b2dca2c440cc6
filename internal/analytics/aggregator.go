package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/kafka"
)

// maxLatencySamples bounds the latency window used for percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalAssignments     int64            `json:"total_assignments"`
	TotalErrors          int64            `json:"total_errors"`
	CacheHits            int64            `json:"cache_hits"`
	CacheMisses          int64            `json:"cache_misses"`
	TotalAgents          int64            `json:"total_agents"`
	AvgLatencyMs         float64          `json:"avg_latency_ms"`
	P50LatencyMs         float64          `json:"p50_latency_ms"`
	P95LatencyMs         float64          `json:"p95_latency_ms"`
	P99LatencyMs         float64          `json:"p99_latency_ms"`
	ProposalsPerAgent    float64          `json:"proposals_per_agent"`
	TopFormations        []FormationCount `json:"top_formations"`
	AssignmentsPerMinute float64          `json:"assignments_per_minute"`
}

type FormationCount struct {
	Formation string `json:"formation"`
	Count     int64  `json:"count"`
}

// Aggregator folds assignment events into running totals.
type Aggregator struct {
	mu              sync.RWMutex
	total           atomic.Int64
	errors          atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	agents          int64
	computedAgents  int64
	proposals       int64
	latencies       []float64
	next            int
	formationCounts map[string]int64
	startTime       time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:       make([]float64, 0, 1024),
		formationCounts: make(map[string]int64),
		startTime:       time.Now(),
		logger:          slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent adapts agg into a Kafka message handler. Undecodable messages
// are logged and skipped so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[AssignmentEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record adds one event to the totals.
func (a *Aggregator) Record(event AssignmentEvent) {
	a.total.Add(1)
	if event.Failed() {
		a.errors.Add(1)
		return
	}
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.agents += int64(event.Agents)
	if !event.CacheHit {
		a.computedAgents += int64(event.Agents)
		a.proposals += int64(event.Proposals)
	}
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % maxLatencySamples
	}
	if event.Formation != "" {
		a.formationCounts[event.Formation]++
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalAssignments: a.total.Load(),
		TotalErrors:      a.errors.Load(),
		CacheHits:        a.cacheHits.Load(),
		CacheMisses:      a.cacheMisses.Load(),
		TotalAgents:      a.agents,
	}
	if len(a.latencies) > 0 {
		sorted := make([]float64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Float64s(sorted)

		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = sum / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if a.computedAgents > 0 {
		stats.ProposalsPerAgent = float64(a.proposals) / float64(a.computedAgents)
	}
	stats.TopFormations = topN(a.formationCounts, 10)
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.AssignmentsPerMinute = float64(stats.TotalAssignments) / elapsed
	}
	return stats
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []FormationCount {
	result := make([]FormationCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, FormationCount{Formation: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Formation < result[j].Formation
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
