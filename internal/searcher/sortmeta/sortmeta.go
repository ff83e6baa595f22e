// Package sortmeta loads the auxiliary ranking data some sort orders need
// from the reference annotation store.
package sortmeta

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/metrics"
)

// Sort keys that carry metadata.
const (
	SortInOmim          = "in_omim"
	SortConstraint      = "constraint"
	SortPrioritizedGene = "prioritized_gene"
)

// DefaultMaxRank bounds phenotype prioritisation ranks.
const DefaultMaxRank = 100

// Constraint is one gene's precomputed constraint ranks.
type Constraint struct {
	GeneID   string
	MisZRank int
	PLIRank  int
}

// Prioritization is one ranked gene-phenotype association of an individual.
type Prioritization struct {
	GeneID string
	Rank   int
}

// Store reads reference annotation tables.
type Store interface {
	OmimGeneIDs(ctx context.Context) ([]string, error)
	GeneConstraints(ctx context.Context) ([]Constraint, error)
	FamilyPrioritizations(ctx context.Context, familyGUID string) ([]Prioritization, error)
}

// Resolver maps a sort key to its metadata payload. Identical concurrent
// loads share one store call.
type Resolver struct {
	store   Store
	maxRank int
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a Resolver. maxRank <= 0 selects DefaultMaxRank; m may be nil.
func New(store Store, maxRank int, m *metrics.Metrics) *Resolver {
	if maxRank <= 0 {
		maxRank = DefaultMaxRank
	}
	return &Resolver{
		store:   store,
		maxRank: maxRank,
		metrics: m,
		logger:  slog.Default().With("component", "sort-metadata"),
	}
}

// Resolve returns []string for in_omim, map[string]int for constraint and
// prioritized_gene, and nil for any other sort.
func (r *Resolver) Resolve(ctx context.Context, sort string, m *samples.Manifest) (any, error) {
	key := sort
	// The load is shared by every caller waiting on key, so one caller
	// going away must not fail the rest.
	ctx = context.WithoutCancel(ctx)
	var load func() (any, error)
	switch sort {
	case SortInOmim:
		load = func() (any, error) { return r.omim(ctx) }
	case SortConstraint:
		load = func() (any, error) { return r.constraint(ctx) }
	case SortPrioritizedGene:
		first, ok := m.First()
		if !ok {
			return map[string]int{}, nil
		}
		key = sort + ":" + first.FamilyGUID
		load = func() (any, error) { return r.prioritized(ctx, first.FamilyGUID) }
	default:
		return nil, nil
	}

	start := time.Now()
	val, err, shared := r.group.Do(key, load)
	if r.metrics != nil {
		r.metrics.SortMetadataLatency.WithLabelValues(sort).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s sort metadata: %w", sort, err)
	}
	r.logger.Debug("sort metadata resolved", "sort", sort, "shared", shared)
	return val, nil
}

func (r *Resolver) omim(ctx context.Context) ([]string, error) {
	ids, err := r.store.OmimGeneIDs(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r *Resolver) constraint(ctx context.Context) (map[string]int, error) {
	rows, err := r.store.GeneConstraints(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, c := range rows {
		out[c.GeneID] = c.MisZRank + c.PLIRank
	}
	return out, nil
}

func (r *Resolver) prioritized(ctx context.Context, familyGUID string) (map[string]int, error) {
	rows, err := r.store.FamilyPrioritizations(ctx, familyGUID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, p := range rows {
		if p.Rank > r.maxRank {
			continue
		}
		if cur, ok := out[p.GeneID]; !ok || p.Rank < cur {
			out[p.GeneID] = p.Rank
		}
	}
	return out, nil
}
