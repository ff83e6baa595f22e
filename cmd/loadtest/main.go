// Command loadtest drives POST /api/v1/search with a fixed search body.
// Each worker owns one session and walks its pages so that both backend
// calls and session cache hits are exercised.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/handler"
)

const defaultSearch = `{"inheritance": {"mode": "de_novo"}, "annotations": {"frameshift": ["frameshift_variant"]}}`

type Config struct {
	BaseURL     string
	Email       string
	Families    []string
	Search      json.RawMessage
	PageSize    int
	Pages       int
	Concurrency int
	Duration    time.Duration
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, cacheHit bool, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	email := flag.String("email", "loadtest@example.org", "requester email")
	families := flag.String("families", "", "comma separated family guids (required)")
	searchFile := flag.String("search", "", "file holding the search block JSON")
	pageSize := flag.Int("page-size", 100, "results per page")
	pages := flag.Int("pages", 3, "pages each worker cycles through")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	if *families == "" {
		fmt.Fprintln(os.Stderr, "-families is required")
		os.Exit(2)
	}
	search := json.RawMessage(defaultSearch)
	if *searchFile != "" {
		data, err := os.ReadFile(*searchFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading search file: %v\n", err)
			os.Exit(2)
		}
		search = data
	}

	cfg := Config{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Email:       *email,
		Families:    strings.Split(*families, ","),
		Search:      search,
		PageSize:    *pageSize,
		Pages:       max(*pages, 1),
		Concurrency: *concurrency,
		Duration:    *duration,
	}

	fmt.Println("=== Variant Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Families:    %d\n", len(cfg.Families))
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Pages:       %d x %d\n", cfg.Pages, cfg.PageSize)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sessionID := uuid.NewString()

			for i := 0; ; i++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				body := mustBody(cfg, sessionID, i%cfg.Pages+1)
				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, cfg, body))
				duration := time.Since(start)

				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(duration, 0, false, err)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, resp.Header.Get(handler.CacheHeader) == "hit", nil)
			}
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func mustBody(cfg Config, sessionID string, page int) []byte {
	body, err := json.Marshal(map[string]any{
		"session_id":  sessionID,
		"families":    cfg.Families,
		"search":      cfg.Search,
		"page":        page,
		"num_results": cfg.PageSize,
	})
	if err != nil {
		panic(fmt.Sprintf("encoding request: %v", err))
	}
	return body
}

func mustNewRequest(ctx context.Context, cfg Config, body []byte) *http.Request {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/search", bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handler.RequesterEmailHeader, cfg.Email)
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()
	hits := stats.cacheHits.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", success)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("Session Hits:    %d\n", hits)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
