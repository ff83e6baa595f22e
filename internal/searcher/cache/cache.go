// Package cache holds per-session search state: the full ordered result
// list of the last backend call and the gene aggregation for it.
package cache

import (
	"context"
	"encoding/json"
	"math"
	"slices"
)

// SessionState is everything remembered about one search session.
type SessionState struct {
	// Fingerprint identifies the logical search the results belong to.
	Fingerprint string            `json:"fingerprint"`
	Sort        string            `json:"sort"`
	Total       int               `json:"total"`
	Results     []json.RawMessage `json:"results"`

	GeneCountsFingerprint string                     `json:"gene_counts_fingerprint,omitempty"`
	GeneCounts            map[string]json.RawMessage `json:"gene_counts,omitempty"`
}

// Covers reports whether the stored results can answer page of size for
// the given search and sort without another backend call.
func (s *SessionState) Covers(fingerprint, sort string, page, size int) bool {
	if s == nil || s.Fingerprint != fingerprint || s.Sort != sort {
		return false
	}
	needed, ok := ResultsThrough(page, size)
	if !ok {
		return false
	}
	return len(s.Results) >= needed || len(s.Results) >= s.Total
}

// Complete reports whether every matching result is held.
func (s *SessionState) Complete() bool {
	return s != nil && s.Fingerprint != "" && len(s.Results) >= s.Total
}

func (s *SessionState) clone() *SessionState {
	if s == nil {
		return nil
	}
	out := *s
	out.Results = slices.Clone(s.Results)
	if s.GeneCounts != nil {
		out.GeneCounts = make(map[string]json.RawMessage, len(s.GeneCounts))
		for k, v := range s.GeneCounts {
			out.GeneCounts[k] = v
		}
	}
	return &out
}

// Store persists session state. Load returns ok=false for an unknown
// session.
type Store interface {
	Load(ctx context.Context, sessionID string) (state *SessionState, ok bool, err error)
	Save(ctx context.Context, sessionID string, state *SessionState) error
}

// ResultsThrough returns page*size, the number of results needed to serve
// page. ok is false for non-positive inputs or when the product overflows.
func ResultsThrough(page, size int) (n int, ok bool) {
	if page < 1 || size < 1 || page > math.MaxInt/size {
		return 0, false
	}
	return page * size, true
}

// Page returns the 1-based page of size from results. Pages past the end
// are empty.
func Page[T any](results []T, page, size int) []T {
	if page < 1 || size < 1 {
		return []T{}
	}
	pages := len(results) / size
	if len(results)%size != 0 {
		pages++
	}
	if page > pages {
		return []T{}
	}
	start := (page - 1) * size
	end := start + min(size, len(results)-start)
	return results[start:end]
}
