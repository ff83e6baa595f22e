// Package locus normalises gene, interval and variant location terms into
// the canonical fields of a backend search request.
//
// Intervals are written chrom:start-end with 1-based inclusive bounds and no
// "chr" prefix. Single positions are never expressed as intervals; point
// lookups travel only as variant ids.
package locus

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
)

// Interval is a genomic range on one chromosome.
type Interval struct {
	Chrom string `json:"chrom"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (iv Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", NormalizeChrom(iv.Chrom), iv.Start, iv.End)
}

// NormalizeChrom strips a leading "chr" in any case.
func NormalizeChrom(chrom string) string {
	if len(chrom) > 3 && strings.EqualFold(chrom[:3], "chr") {
		return chrom[3:]
	}
	return chrom
}

// VariantID identifies a small variant. It encodes as [chrom, pos, ref, alt].
type VariantID struct {
	Chrom string
	Pos   int
	Ref   string
	Alt   string
}

func (v VariantID) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{v.Chrom, v.Pos, v.Ref, v.Alt})
}

func (v *VariantID) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 4 {
		return fmt.Errorf("variant id: expected 4 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &v.Chrom); err != nil {
		return fmt.Errorf("variant id chrom: %w", err)
	}
	if err := json.Unmarshal(parts[1], &v.Pos); err != nil {
		return fmt.Errorf("variant id pos: %w", err)
	}
	if err := json.Unmarshal(parts[2], &v.Ref); err != nil {
		return fmt.Errorf("variant id ref: %w", err)
	}
	return json.Unmarshal(parts[3], &v.Alt)
}

func (v VariantID) String() string {
	return v.Chrom + "-" + strconv.Itoa(v.Pos) + "-" + v.Ref + "-" + v.Alt
}

// Spec is a resolved location specification. Nil VariantIDs or RsIDs mean
// the caller gave no variant terms at all.
type Spec struct {
	Genes      GeneSet
	Intervals  []Interval
	Exclude    bool
	VariantIDs []VariantID
	RsIDs      []string
}

// Parsed holds the location fields of a compiled request.
type Parsed struct {
	Intervals        []string
	ExcludeIntervals bool
	GeneIDs          []string
	VariantIDs       []VariantID
	RsIDs            []string
}

// HasLocation reports whether the request is restricted to some region.
// Excluded regions do not restrict it.
func (p Parsed) HasLocation() bool {
	return len(p.Intervals) > 0 && !p.ExcludeIntervals
}

// HasVariantIDs reports whether explicit variant ids were given.
func (p Parsed) HasVariantIDs() bool {
	return len(p.VariantIDs) > 0
}

// Parse builds the canonical location fields for genomeVersion. Raw
// intervals come first, then gene spans in gene insertion order.
func Parse(spec Spec, genomeVersion string) (Parsed, error) {
	p := Parsed{
		VariantIDs: spec.VariantIDs,
		RsIDs:      spec.RsIDs,
	}
	if spec.Genes.Len() > 0 || len(spec.Intervals) > 0 {
		p.Intervals = make([]string, 0, len(spec.Intervals)+spec.Genes.Len())
		for _, iv := range spec.Intervals {
			p.Intervals = append(p.Intervals, iv.String())
		}
		for _, g := range spec.Genes.Genes() {
			iv, ok := g.Interval(genomeVersion)
			if !ok {
				return Parsed{}, apperrors.InvalidSearch("Gene %s has no %s coordinates", g.GeneID, genomeVersion)
			}
			p.Intervals = append(p.Intervals, iv.String())
		}
	}
	if spec.Exclude {
		p.ExcludeIntervals = true
	} else if spec.Genes.Len() > 0 {
		p.GeneIDs = spec.Genes.IDs()
	}
	return p, nil
}

// RequireLocation rejects location-free searches spanning several projects.
func RequireLocation(p Parsed, m *samples.Manifest) error {
	if p.HasLocation() {
		return nil
	}
	if len(m.Projects()) > 1 {
		return apperrors.InvalidSearch("Location must be specified to search across multiple projects")
	}
	return nil
}
