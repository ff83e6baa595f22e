package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/kafka"
)

type AggregatedStats struct {
	TotalSearches    int64       `json:"total_searches"`
	GeneCountQueries int64       `json:"gene_count_queries"`
	CacheHits        int64       `json:"cache_hits"`
	CacheMisses      int64       `json:"cache_misses"`
	Rejected         int64       `json:"rejected"`
	BackendErrors    int64       `json:"backend_errors"`
	ZeroResultCount  int64       `json:"zero_result_count"`
	AvgLatencyMs     float64     `json:"avg_latency_ms"`
	P50LatencyMs     int64       `json:"p50_latency_ms"`
	P95LatencyMs     int64       `json:"p95_latency_ms"`
	P99LatencyMs     int64       `json:"p99_latency_ms"`
	TopStrategies    []NameCount `json:"top_strategies"`
	TopPlans         []NameCount `json:"top_plans"`
	TopSorts         []NameCount `json:"top_sorts"`
	SearchesPerMin   float64     `json:"searches_per_minute"`
}

type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// maxLatencies bounds the latency window kept for percentiles.
const maxLatencies = 10000

// DefaultTop is the length of the ranked lists returned by Stats.
const DefaultTop = 10

type Aggregator struct {
	mu             sync.RWMutex
	totalSearches  atomic.Int64
	geneCounts     atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	rejected       atomic.Int64
	backendErrors  atomic.Int64
	zeroResults    atomic.Int64
	latencies      []int64
	strategyCounts map[string]int64
	planCounts     map[string]int64
	sortCounts     map[string]int64
	startTime      time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:      make([]int64, 0, maxLatencies),
		strategyCounts: make(map[string]int64),
		planCounts:     make(map[string]int64),
		sortCounts:     make(map[string]int64),
		startTime:      time.Now(),
		logger:         slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes search events off the topic. Undecodable messages are
// logged and committed so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SearchEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode search event", "key", string(key), "error", err)
			return nil
		}
		if err := agg.Record(event); err != nil {
			agg.logger.Warn("search event ignored", "key", string(key), "error", err)
		}
		return nil
	}
}

// Record folds one event into the running totals.
func (a *Aggregator) Record(event SearchEvent) error {
	switch event.Type {
	case EventRejected:
		a.rejected.Add(1)
		return nil
	case EventBackendError:
		a.backendErrors.Add(1)
		return nil
	case EventGeneCounts:
		a.geneCounts.Add(1)
	case EventSearch, EventCacheHit:
		a.totalSearches.Add(1)
		if event.Total == 0 {
			a.zeroResults.Add(1)
		}
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}

	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}

	a.mu.Lock()
	if len(a.latencies) == maxLatencies {
		a.latencies = a.latencies[1:]
	}
	a.latencies = append(a.latencies, event.LatencyMs)
	if event.Strategy != "" {
		a.strategyCounts[event.Strategy]++
	}
	if event.Plan != "" {
		a.planCounts[event.Plan]++
	}
	if event.Sort != "" {
		a.sortCounts[event.Sort]++
	}
	a.mu.Unlock()
	return nil
}

func (a *Aggregator) Stats() AggregatedStats {
	return a.StatsTop(DefaultTop)
}

// StatsTop is Stats with ranked lists cut to n entries.
func (a *Aggregator) StatsTop(n int) AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:    a.totalSearches.Load(),
		GeneCountQueries: a.geneCounts.Load(),
		CacheHits:        a.cacheHits.Load(),
		CacheMisses:      a.cacheMisses.Load(),
		Rejected:         a.rejected.Load(),
		BackendErrors:    a.backendErrors.Load(),
		ZeroResultCount:  a.zeroResults.Load(),
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopStrategies = topN(a.strategyCounts, n)
	stats.TopPlans = topN(a.planCounts, n)
	stats.TopSorts = topN(a.sortCounts, n)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.SearchesPerMin = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []NameCount {
	result := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		result = append(result, NameCount{Name: name, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
