package compiler

import (
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
)

// Scope is a dataset type requested of the backend. ScopeUnset encodes as
// null and, as a primary scope, searches every dataset type.
type Scope string

const (
	ScopeUnset    Scope = ""
	ScopeVariants Scope = "VARIANTS"
	ScopeSV       Scope = "SV"
	ScopeAll      Scope = "ALL"
)

func (s Scope) wire() *string {
	if s == ScopeUnset {
		return nil
	}
	v := string(s)
	return &v
}

// serves reports whether manifest key k holds data searched by s.
func (s Scope) serves(k samples.Key) bool {
	switch s {
	case ScopeVariants:
		return !k.IsSV()
	case ScopeSV:
		return k.IsSV()
	case ScopeAll:
		return true
	}
	return false
}

// scopeForAnnotations derives the scope implied by the active annotation
// categories. mixed is returned when both structural and non-structural
// categories are present.
func scopeForAnnotations(annotations map[string][]string, mixed Scope) Scope {
	types := activeTypes(annotations)
	if len(types) == 0 {
		return ScopeUnset
	}
	if types[annotationNewSVs] {
		return ScopeSV
	}
	sv := 0
	for t := range types {
		if svAnnotationTypes[t] {
			sv++
		}
	}
	switch sv {
	case len(types):
		return ScopeSV
	case 0:
		return ScopeVariants
	}
	return mixed
}

// keepKey applies primary and secondary scopes to a manifest key. An unset
// primary keeps everything; an unset secondary adds nothing.
func keepKey(primary, secondary Scope) func(samples.Key) bool {
	return func(k samples.Key) bool {
		if primary == ScopeUnset || primary.serves(k) {
			return true
		}
		return secondary.serves(k)
	}
}

// Strategy is the backend query shape selected from the manifest keys that
// survive scoping.
type Strategy int

const (
	StrategyVariants Strategy = iota
	StrategyMito
	StrategySVWES
	StrategySVWGS
	StrategyAllVariants
	StrategyAllSV
	StrategyAllDataTypes
)

type strategySpec struct {
	label string
	// structural strategies cannot look up small variant or rs ids.
	structural bool
}

var strategies = [...]strategySpec{
	StrategyVariants:     {label: "variants"},
	StrategyMito:         {label: "mito"},
	StrategySVWES:        {label: "sv_wes", structural: true},
	StrategySVWGS:        {label: "sv_wgs", structural: true},
	StrategyAllVariants:  {label: "all_variants"},
	StrategyAllSV:        {label: "all_sv", structural: true},
	StrategyAllDataTypes: {label: "all_data_types"},
}

func (s Strategy) String() string {
	if int(s) < 0 || int(s) >= len(strategies) {
		return "unknown"
	}
	return strategies[s].label
}

// Structural reports whether the strategy only touches SV data.
func (s Strategy) Structural() bool {
	return strategies[s].structural
}

var singleKeyStrategies = map[samples.Key]Strategy{
	samples.KeyVariants: StrategyVariants,
	samples.KeyMito:     StrategyMito,
	samples.KeySVWES:    StrategySVWES,
	samples.KeySVWGS:    StrategySVWGS,
}

// strategyFor is the single dispatch from manifest keys to strategy.
func strategyFor(keys []samples.Key) Strategy {
	if len(keys) == 1 {
		if s, ok := singleKeyStrategies[keys[0]]; ok {
			return s
		}
	}
	sv := 0
	for _, k := range keys {
		if k.IsSV() {
			sv++
		}
	}
	switch sv {
	case len(keys):
		return StrategyAllSV
	case 0:
		return StrategyAllVariants
	}
	return StrategyAllDataTypes
}
