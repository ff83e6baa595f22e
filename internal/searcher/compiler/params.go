package compiler

import (
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
)

// Inheritance modes with special handling.
const (
	ModeRecessive    = "recessive"
	ModeCompoundHet  = "compound_het"
	filterAffected   = "affected"
	filterGenotype   = "genotype"
	annotationNewSVs = "new_structural_variants"
)

// svAnnotationTypes are the annotation categories only structural calls carry.
var svAnnotationTypes = map[string]bool{
	"structural_consequence": true,
	"structural":             true,
	annotationNewSVs:         true,
}

// Params is the search block of a request as callers send it.
type Params struct {
	Locus                *locus.Raw          `json:"locus,omitempty"`
	Inheritance          *Inheritance        `json:"inheritance,omitempty"`
	Annotations          map[string][]string `json:"annotations,omitempty"`
	AnnotationsSecondary map[string][]string `json:"annotations_secondary,omitempty"`
	QualityFilter        json.RawMessage     `json:"qualityFilter,omitempty"`
	Freqs                json.RawMessage     `json:"freqs,omitempty"`
	CustomQuery          json.RawMessage     `json:"customQuery,omitempty"`
	InSilico             json.RawMessage     `json:"in_silico,omitempty"`
	Pathogenicity        json.RawMessage     `json:"pathogenicity,omitempty"`
}

// Inheritance holds the requested mode and its filter. The filter's
// "affected" entry maps individual guid to an affected status override and
// its "genotype" entry replaces the mode entirely.
type Inheritance struct {
	Mode   string                     `json:"mode,omitempty"`
	Filter map[string]json.RawMessage `json:"filter,omitempty"`
}

// resolvedInheritance is the inheritance block after overrides are applied.
type resolvedInheritance struct {
	mode     string
	filter   map[string]any
	affected map[string]string
}

func resolveInheritance(in *Inheritance) (resolvedInheritance, error) {
	out := resolvedInheritance{filter: map[string]any{}}
	if in == nil {
		return out, nil
	}
	out.mode = in.Mode
	for k, v := range in.Filter {
		if k == filterAffected {
			if err := json.Unmarshal(v, &out.affected); err != nil {
				return out, fmt.Errorf("decoding affected status overrides: %w", err)
			}
			continue
		}
		out.filter[k] = v
	}
	if g, ok := in.Filter[filterGenotype]; ok && !isEmptyJSON(g) {
		out.mode = ""
	}
	return out, nil
}

// affectedOnly reports whether the filter's only key is the affected status
// override, whatever it holds.
func (i *Inheritance) affectedOnly() bool {
	if i == nil || len(i.Filter) != 1 {
		return false
	}
	_, ok := i.Filter[filterAffected]
	return ok
}

func isRecessive(mode string) bool {
	return mode == ModeRecessive || mode == ModeCompoundHet
}

// activeTypes returns the annotation categories with at least one term.
func activeTypes(annotations map[string][]string) map[string]bool {
	out := make(map[string]bool)
	for k, v := range annotations {
		if len(v) > 0 {
			out[k] = true
		}
	}
	return out
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(raw) {
	case "", "null", "{}", "[]", `""`, "false":
		return true
	}
	return false
}
