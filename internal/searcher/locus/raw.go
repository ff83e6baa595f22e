package locus

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
)

// Raw is the location block of a search as callers send it. Genes and
// Intervals are already resolved; the raw item strings are free text.
type Raw struct {
	RawItems         string     `json:"rawItems,omitempty"`
	RawVariantItems  string     `json:"rawVariantItems,omitempty"`
	ExcludeLocations bool       `json:"excludeLocations,omitempty"`
	Genes            GeneSet    `json:"genes"`
	Intervals        []Interval `json:"intervals,omitempty"`
}

// GeneLookup finds genes by Ensembl id or symbol. Terms without a match are
// simply absent from the result.
type GeneLookup interface {
	LookupGenes(ctx context.Context, terms []string) ([]Gene, error)
}

var (
	itemSep    = regexp.MustCompile(`[\s,]+`)
	reInterval = regexp.MustCompile(`^(?i:chr)?([0-9]{1,2}|[XYM]|MT):(\d+)-(\d+)(?:%(\d+))?$`)
	reVariant  = regexp.MustCompile(`^(?i:chr)?([0-9]{1,2}|[XYM]|MT)-(\d+)-([ACGTNacgtn]+)-([ACGTNacgtn]+)$`)
	reRsID     = regexp.MustCompile(`^(?i)rs\d+$`)
)

// Resolver turns Raw location blocks into a Spec.
type Resolver struct {
	genes GeneLookup
}

func NewResolver(genes GeneLookup) *Resolver {
	return &Resolver{genes: genes}
}

// Resolve parses the raw item strings and merges them after any pre-resolved
// genes and intervals. Variant items are only read when no gene or interval
// was given.
func (r *Resolver) Resolve(ctx context.Context, raw Raw) (Spec, error) {
	spec := Spec{
		Intervals: append([]Interval(nil), raw.Intervals...),
		Exclude:   raw.ExcludeLocations,
	}
	for _, g := range raw.Genes.Genes() {
		spec.Genes.Add(g)
	}

	if items := splitItems(raw.RawItems); len(items) > 0 {
		var terms, invalid []string
		for _, item := range items {
			if iv, ok, err := parseInterval(item); ok {
				spec.Intervals = append(spec.Intervals, iv)
			} else if err != nil {
				invalid = append(invalid, item)
			} else {
				terms = append(terms, item)
			}
		}
		if len(terms) > 0 {
			missing, err := r.addGenes(ctx, &spec.Genes, terms)
			if err != nil {
				return Spec{}, err
			}
			invalid = append(invalid, missing...)
		}
		if len(invalid) > 0 {
			return Spec{}, apperrors.InvalidSearch("Invalid genes/intervals: %s", strings.Join(invalid, ", "))
		}
	}

	hasLocation := spec.Genes.Len() > 0 || len(spec.Intervals) > 0
	if !hasLocation && strings.TrimSpace(raw.RawVariantItems) != "" {
		ids, rsIDs, invalid := parseVariantItems(splitItems(raw.RawVariantItems))
		if len(invalid) > 0 {
			return Spec{}, apperrors.InvalidSearch("Invalid variants: %s", strings.Join(invalid, ", "))
		}
		spec.VariantIDs = ids
		spec.RsIDs = rsIDs
	}
	return spec, nil
}

// addGenes resolves terms in input order and returns the unmatched ones.
func (r *Resolver) addGenes(ctx context.Context, set *GeneSet, terms []string) ([]string, error) {
	if r.genes == nil {
		return terms, nil
	}
	found, err := r.genes.LookupGenes(ctx, terms)
	if err != nil {
		return nil, fmt.Errorf("looking up genes: %w", err)
	}
	var missing []string
	for _, term := range terms {
		g, ok := matchGene(found, term)
		if !ok {
			missing = append(missing, term)
			continue
		}
		set.Add(g)
	}
	return missing, nil
}

func matchGene(genes []Gene, term string) (Gene, bool) {
	for _, g := range genes {
		if strings.EqualFold(g.GeneID, term) || strings.EqualFold(g.GeneSymbol, term) {
			return g, true
		}
	}
	return Gene{}, false
}

func splitItems(s string) []string {
	var out []string
	for _, item := range itemSep.Split(strings.TrimSpace(s), -1) {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseInterval matches chrom:start-end with an optional %pad suffix that
// widens both sides by pad percent of the length. ok with a nil error means
// the item is not interval-shaped; a non-nil error means a malformed one.
func parseInterval(item string) (Interval, bool, error) {
	m := reInterval.FindStringSubmatch(item)
	if m == nil {
		return Interval{}, false, nil
	}
	start, err := strconv.Atoi(m[2])
	if err != nil {
		return Interval{}, false, err
	}
	end, err := strconv.Atoi(m[3])
	if err != nil {
		return Interval{}, false, err
	}
	if start < 1 || end < start {
		return Interval{}, false, fmt.Errorf("invalid bounds %d-%d", start, end)
	}
	if m[4] != "" {
		pct, err := strconv.Atoi(m[4])
		if err != nil {
			return Interval{}, false, err
		}
		pad := (end - start) * pct / 100
		start = max(1, start-pad)
		end += pad
	}
	return Interval{Chrom: strings.ToUpper(m[1]), Start: start, End: end}, true, nil
}

func parseVariantItems(items []string) (ids []VariantID, rsIDs []string, invalid []string) {
	ids = []VariantID{}
	rsIDs = []string{}
	for _, item := range items {
		if reRsID.MatchString(item) {
			rsIDs = append(rsIDs, strings.ToLower(item))
			continue
		}
		m := reVariant.FindStringSubmatch(item)
		if m == nil {
			invalid = append(invalid, item)
			continue
		}
		pos, err := strconv.Atoi(m[2])
		if err != nil || pos < 1 {
			invalid = append(invalid, item)
			continue
		}
		ids = append(ids, VariantID{
			Chrom: strings.ToUpper(m[1]),
			Pos:   pos,
			Ref:   strings.ToUpper(m[3]),
			Alt:   strings.ToUpper(m[4]),
		})
	}
	return ids, rsIDs, invalid
}
