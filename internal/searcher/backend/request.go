package backend

import (
	"encoding/json"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
)

// SearchRequest is the body POSTed to both backend endpoints. Nil pointers
// and nil raw fragments encode as JSON null.
type SearchRequest struct {
	RequesterEmail       string            `json:"requester_email"`
	SampleData           *samples.Manifest `json:"sample_data"`
	GenomeVersion        string            `json:"genome_version"`
	Sort                 *string           `json:"sort"`
	SortMetadata         any               `json:"sort_metadata"`
	NumResults           int               `json:"num_results"`
	InheritanceMode      *string           `json:"inheritance_mode"`
	InheritanceFilter    map[string]any    `json:"inheritance_filter"`
	DatasetType          *string           `json:"dataset_type"`
	SecondaryDatasetType *string           `json:"secondary_dataset_type"`
	Frequencies          json.RawMessage   `json:"frequencies"`
	QualityFilter        json.RawMessage   `json:"quality_filter"`
	CustomQuery          json.RawMessage   `json:"custom_query"`
	Intervals            []string          `json:"intervals"`
	ExcludeIntervals     *bool             `json:"exclude_intervals"`
	GeneIDs              []string          `json:"gene_ids"`
	VariantIDs           []locus.VariantID `json:"variant_ids"`
	RsIDs                []string          `json:"rs_ids"`

	Annotations          map[string][]string `json:"annotations,omitempty"`
	AnnotationsSecondary map[string][]string `json:"annotations_secondary,omitempty"`
	InSilico             json.RawMessage     `json:"in_silico,omitempty"`
	Pathogenicity        json.RawMessage     `json:"pathogenicity,omitempty"`
}

// SearchResponse is the /search reply. Variant records stay opaque.
type SearchResponse struct {
	Results []json.RawMessage `json:"results"`
	Total   int               `json:"total"`
}

// GeneCounts is the /gene_counts reply keyed by gene id.
type GeneCounts map[string]json.RawMessage
