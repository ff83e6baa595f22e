package analytics

import "time"

type EventType string

const (
	EventSearch       EventType = "search"
	EventCacheHit     EventType = "cache_hit"
	EventGeneCounts   EventType = "gene_counts"
	EventRejected     EventType = "rejected"
	EventBackendError EventType = "backend_error"
)

// SearchEvent describes one query_variants or gene_counts operation.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Operation string    `json:"operation"`
	SessionID string    `json:"session_id"`
	Strategy  string    `json:"strategy,omitempty"`
	// Plan lists the genotype filtering stages, e.g. "comp_het+single_variant".
	Plan      string    `json:"plan,omitempty"`
	Sort      string    `json:"sort,omitempty"`
	Families  int       `json:"families"`
	Total     int       `json:"total"`
	Returned  int       `json:"returned"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	// Status is the HTTP status of a failed operation.
	Status    int       `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Failed reports whether the operation returned an error.
func (e SearchEvent) Failed() bool {
	return e.Type == EventRejected || e.Type == EventBackendError
}
