// Package compiler turns a set of samples and a raw search block into the
// single request sent to the variant search backend.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/backend"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/tracing"
)

// DefaultMaxNoLocationCompHetFamilies caps location-free compound het searches.
const DefaultMaxNoLocationCompHetFamilies = 100

// LocusResolver expands raw location text.
type LocusResolver interface {
	Resolve(ctx context.Context, raw locus.Raw) (locus.Spec, error)
}

// SortMetadataResolver loads ranking data for a sort key.
type SortMetadataResolver interface {
	Resolve(ctx context.Context, sort string, m *samples.Manifest) (any, error)
}

type Config struct {
	MaxNoLocationCompHetFamilies int
}

// Input is everything one compilation needs.
type Input struct {
	Samples        []samples.Sample
	Search         Params
	RequesterEmail string
	Sort           string
	Page           int
	PageSize       int
}

// Stage is one step of the genotype filtering plan.
type Stage string

const (
	StageCompHet       Stage = "comp_het"
	StageSingleVariant Stage = "single_variant"
)

// Compiled is a validated request plus the decisions made building it.
type Compiled struct {
	Request  *backend.SearchRequest
	Strategy Strategy
	Stages   []Stage
	// Fingerprint identifies the logical search independent of sort and
	// paging.
	Fingerprint string
	Families    int
}

// Plan joins the stages in execution order, e.g. "comp_het+single_variant".
func (c *Compiled) Plan() string {
	parts := make([]string, len(c.Stages))
	for i, s := range c.Stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, "+")
}

type Compiler struct {
	cfg    Config
	locus  LocusResolver
	sorts  SortMetadataResolver
	logger *slog.Logger
}

// New returns a Compiler. A zero MaxNoLocationCompHetFamilies selects the
// default cap.
func New(cfg Config, loci LocusResolver, sorts SortMetadataResolver) *Compiler {
	if cfg.MaxNoLocationCompHetFamilies <= 0 {
		cfg.MaxNoLocationCompHetFamilies = DefaultMaxNoLocationCompHetFamilies
	}
	return &Compiler{
		cfg:    cfg,
		locus:  loci,
		sorts:  sorts,
		logger: slog.Default().With("component", "query-compiler"),
	}
}

// Compile validates in and builds the backend request. Every rejection is
// an InvalidSearch error except store and lookup failures.
func (c *Compiler) Compile(ctx context.Context, in Input) (*Compiled, error) {
	ctx, span := tracing.StartChildSpan(ctx, "compile")
	defer span.End()

	if in.Page < 1 || in.PageSize < 1 {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"page and page size must be positive, got page %d size %d", in.Page, in.PageSize)
	}
	numResults, ok := cache.ResultsThrough(in.Page, in.PageSize)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
			"page %d of size %d is out of range", in.Page, in.PageSize)
	}

	active := make([]samples.Sample, 0, len(in.Samples))
	for _, s := range in.Samples {
		if s.Active {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return nil, apperrors.InvalidSearch("No search data found for the requested families")
	}

	genomeVersion, err := singleGenomeBuild(active)
	if err != nil {
		return nil, err
	}
	if err := singleDataSource(active); err != nil {
		return nil, err
	}

	parsed, err := c.parseLocus(ctx, in.Search.Locus, genomeVersion)
	if err != nil {
		return nil, err
	}

	inh, err := resolveInheritance(in.Search.Inheritance)
	if err != nil {
		return nil, apperrors.InvalidSearch("Invalid inheritance filter: %v", err)
	}
	if inh.mode == "" && in.Search.Inheritance.affectedOnly() {
		return nil, apperrors.InvalidSearch("Inheritance must be specified if custom affected status is set")
	}

	primary := ScopeVariants
	if !parsed.HasVariantIDs() {
		primary = scopeForAnnotations(in.Search.Annotations, ScopeUnset)
	}
	secondary := ScopeUnset
	if isRecessive(inh.mode) {
		secondary = scopeForAnnotations(in.Search.AnnotationsSecondary, ScopeAll)
	}

	manifest := samples.Classify(active, inh.affected).Filter(keepKey(primary, secondary))
	if manifest.Len() == 0 {
		return nil, apperrors.InvalidSearch("Unable to search against dataset type %q", string(primary))
	}
	if err := locus.RequireLocation(parsed, manifest); err != nil {
		return nil, err
	}

	strategy := strategyFor(manifest.Keys())
	if strategy.Structural() && (parsed.HasVariantIDs() || len(parsed.RsIDs) > 0) {
		return nil, apperrors.InvalidSearch("Variant ID search is not supported for structural variants")
	}

	families := len(manifest.Families())
	stages := []Stage{StageSingleVariant}
	if isRecessive(inh.mode) {
		if !parsed.HasLocation() && families > c.cfg.MaxNoLocationCompHetFamilies {
			return nil, apperrors.InvalidSearch(
				"Location must be specified to search for compound heterozygous variants across more than %d families",
				c.cfg.MaxNoLocationCompHetFamilies)
		}
		stages = []Stage{StageCompHet}
		if inh.mode != ModeCompoundHet {
			stages = append(stages, StageSingleVariant)
		}
	}

	var sortMetadata any
	if in.Sort != "" && c.sorts != nil {
		_, sortSpan := tracing.StartChildSpan(ctx, "sort_metadata")
		sortMetadata, err = c.sorts.Resolve(ctx, in.Sort, manifest)
		sortSpan.End()
		if err != nil {
			return nil, err
		}
	}

	req := &backend.SearchRequest{
		RequesterEmail:       in.RequesterEmail,
		SampleData:           manifest,
		GenomeVersion:        genomeVersion,
		Sort:                 optional(in.Sort),
		SortMetadata:         sortMetadata,
		NumResults:           numResults,
		InheritanceMode:      optional(inh.mode),
		InheritanceFilter:    inh.filter,
		DatasetType:          primary.wire(),
		SecondaryDatasetType: secondary.wire(),
		Frequencies:          in.Search.Freqs,
		QualityFilter:        in.Search.QualityFilter,
		CustomQuery:          in.Search.CustomQuery,
		Intervals:            parsed.Intervals,
		GeneIDs:              parsed.GeneIDs,
		VariantIDs:           parsed.VariantIDs,
		RsIDs:                parsed.RsIDs,
		Annotations:          in.Search.Annotations,
		InSilico:             in.Search.InSilico,
		Pathogenicity:        in.Search.Pathogenicity,
	}
	if parsed.ExcludeIntervals {
		exclude := true
		req.ExcludeIntervals = &exclude
	}
	if isRecessive(inh.mode) {
		req.AnnotationsSecondary = in.Search.AnnotationsSecondary
	}

	fingerprint, err := Fingerprint(req)
	if err != nil {
		return nil, err
	}

	span.SetAttr("strategy", strategy.String())
	span.SetAttr("families", families)
	compiled := &Compiled{
		Request:     req,
		Strategy:    strategy,
		Stages:      stages,
		Fingerprint: fingerprint,
		Families:    families,
	}
	span.SetAttr("plan", compiled.Plan())
	c.logger.Debug("search compiled",
		"strategy", strategy.String(),
		"dataset_type", string(primary),
		"secondary_dataset_type", string(secondary),
		"families", families,
		"plan", compiled.Plan(),
		"num_results", req.NumResults,
	)
	return compiled, nil
}

func (c *Compiler) parseLocus(ctx context.Context, raw *locus.Raw, genomeVersion string) (locus.Parsed, error) {
	if raw == nil {
		return locus.Parsed{}, nil
	}
	ctx, span := tracing.StartChildSpan(ctx, "resolve_locus")
	defer span.End()

	spec := locus.Spec{Genes: raw.Genes, Intervals: raw.Intervals, Exclude: raw.ExcludeLocations}
	if c.locus != nil {
		var err error
		if spec, err = c.locus.Resolve(ctx, *raw); err != nil {
			return locus.Parsed{}, err
		}
	}
	return locus.Parse(spec, genomeVersion)
}

// Fingerprint hashes req without its sort and page window so that
// re-sorted or re-paged requests for the same search compare equal.
func Fingerprint(req *backend.SearchRequest) (string, error) {
	key := *req
	key.Sort = nil
	key.SortMetadata = nil
	key.NumResults = 0
	data, err := json.Marshal(&key)
	if err != nil {
		return "", fmt.Errorf("fingerprinting request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// singleGenomeBuild returns the one build shared by every sample's project.
func singleGenomeBuild(in []samples.Sample) (string, error) {
	var builds []string
	projects := make(map[string][]string)
	seen := make(map[string]bool)
	for _, s := range in {
		if _, ok := projects[s.GenomeVersion]; !ok {
			builds = append(builds, s.GenomeVersion)
		}
		if !seen[s.ProjectGUID] {
			seen[s.ProjectGUID] = true
			projects[s.GenomeVersion] = append(projects[s.GenomeVersion], projectLabel(s))
		}
	}
	if len(builds) == 1 {
		return builds[0], nil
	}
	parts := make([]string, 0, len(builds))
	for _, b := range builds {
		parts = append(parts, fmt.Sprintf("%s [%s]", b, strings.Join(projects[b], ", ")))
	}
	return "", apperrors.InvalidSearch(
		"Search is only enabled on a single genome build, requested the following project builds: %s",
		strings.Join(parts, "; "))
}

func projectLabel(s samples.Sample) string {
	if s.ProjectName != "" {
		return s.ProjectName
	}
	return s.ProjectGUID
}

// singleDataSource rejects a manifest key backed by more than one source.
func singleDataSource(in []samples.Sample) error {
	var keys []samples.Key
	sources := make(map[samples.Key][]string)
	for _, s := range in {
		k := samples.KeyFor(s)
		if _, ok := sources[k]; !ok {
			keys = append(keys, k)
		}
		if !slices.Contains(sources[k], s.DataSource) {
			sources[k] = append(sources[k], s.DataSource)
		}
	}
	for _, k := range keys {
		if len(sources[k]) > 1 {
			return apperrors.InvalidSearch("Search is only enabled on a single data source, requested %s",
				strings.Join(sources[k], ", "))
		}
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
