package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	apperrors "github.com/Adithya-Monish-Kumar-K/variant-search/pkg/errors"
)

const requester = "test_user@broadinstitute.org"

type geneStub struct{}

func (geneStub) LookupGenes(context.Context, []string) ([]locus.Gene, error) {
	return []locus.Gene{
		{GeneID: "ENSG00000223972", GeneSymbol: "DDX11L1", ChromGrch37: "1", StartGrch37: 11869, EndGrch37: 14409},
		{GeneID: "ENSG00000186092", GeneSymbol: "OR4F5", ChromGrch37: "1", StartGrch37: 65419, EndGrch37: 71585},
	}, nil
}

type fakeSorts struct {
	values   map[string]any
	err      error
	families []string
}

func (f *fakeSorts) Resolve(_ context.Context, sort string, m *samples.Manifest) (any, error) {
	f.families = m.Families()
	if f.err != nil {
		return nil, f.err
	}
	return f.values[sort], nil
}

func sample(id, ind, family, affected, sex string, dt samples.DatasetType) samples.Sample {
	s := samples.Sample{
		SampleID:       id,
		DatasetType:    dt,
		Active:         true,
		DataSource:     "variants_grch37",
		IndividualGUID: ind,
		FamilyGUID:     family,
		ProjectGUID:    "R0001_1kg",
		ProjectName:    "1kg project nåme with uniçøde",
		GenomeVersion:  locus.GRCh37,
		Affected:       affected,
		Sex:            sex,
	}
	if dt == samples.DatasetSV {
		s.SampleType = samples.SampleTypeWES
		s.DataSource = "sv_wes_grch37"
	}
	return s
}

func kgSamples() []samples.Sample {
	return []samples.Sample{
		sample("HG00731", "I000004_hg00731", "F000002_2", "A", "F", samples.DatasetVariants),
		sample("HG00732", "I000005_hg00732", "F000002_2", "N", "M", samples.DatasetVariants),
		sample("HG00733", "I000006_hg00733", "F000002_2", "N", "F", samples.DatasetVariants),
		sample("NA20870", "I000007_na20870", "F000003_3", "A", "M", samples.DatasetVariants),
		sample("HG00731", "I000004_hg00731", "F000002_2", "A", "F", samples.DatasetSV),
		sample("HG00732", "I000005_hg00732", "F000002_2", "N", "M", samples.DatasetSV),
		sample("HG00733", "I000006_hg00733", "F000002_2", "N", "F", samples.DatasetSV),
	}
}

func record(id, ind, family, affected, sex string) map[string]any {
	return map[string]any{
		"sample_id": id, "individual_guid": ind, "family_guid": family,
		"project_guid": "R0001_1kg", "affected": affected, "sex": sex,
	}
}

func variantRecords(affected ...string) []any {
	if len(affected) == 0 {
		affected = []string{"A", "N", "N", "A"}
	}
	return []any{
		record("HG00731", "I000004_hg00731", "F000002_2", affected[0], "F"),
		record("HG00732", "I000005_hg00732", "F000002_2", affected[1], "M"),
		record("HG00733", "I000006_hg00733", "F000002_2", affected[2], "F"),
		record("NA20870", "I000007_na20870", "F000003_3", affected[3], "M"),
	}
}

func svRecords() []any {
	return []any{
		record("HG00731", "I000004_hg00731", "F000002_2", "A", "F"),
		record("HG00732", "I000005_hg00732", "F000002_2", "N", "M"),
		record("HG00733", "I000006_hg00733", "F000002_2", "N", "F"),
	}
}

func expectedBody(overrides map[string]any) map[string]any {
	body := map[string]any{
		"requester_email":        requester,
		"sample_data":            map[string]any{"VARIANTS": variantRecords(), "SV_WES": svRecords()},
		"genome_version":         "GRCh37",
		"sort":                   "xpos",
		"sort_metadata":          nil,
		"num_results":            float64(100),
		"inheritance_mode":       "de_novo",
		"inheritance_filter":     map[string]any{},
		"dataset_type":           nil,
		"secondary_dataset_type": nil,
		"frequencies":            nil,
		"quality_filter":         nil,
		"custom_query":           nil,
		"intervals":              nil,
		"exclude_intervals":      nil,
		"gene_ids":               nil,
		"variant_ids":            nil,
		"rs_ids":                 nil,
	}
	for k, v := range overrides {
		body[k] = v
	}
	return body
}

func params(t *testing.T, raw string) Params {
	t.Helper()
	var p Params
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func bodyOf(t *testing.T, c *Compiled) map[string]any {
	t.Helper()
	data, err := json.Marshal(c.Request)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func newTestCompiler(cfg Config) (*Compiler, *fakeSorts) {
	sorts := &fakeSorts{values: map[string]any{
		"in_omim":          []string{"ENSG00000223972", "ENSG00000243485", "ENSG00000268020"},
		"constraint":       map[string]int{"ENSG00000223972": 2},
		"prioritized_gene": map[string]int{"ENSG00000268903": 1, "ENSG00000268904": 11},
	}}
	return New(cfg, locus.NewResolver(geneStub{}), sorts), sorts
}

func input(t *testing.T, search string) Input {
	return Input{
		Samples:        kgSamples(),
		Search:         params(t, search),
		RequesterEmail: requester,
		Sort:           "xpos",
		Page:           1,
		PageSize:       100,
	}
}

func TestCompileDefaultSearch(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	compiled, err := c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "de_novo"}}`))
	require.NoError(t, err)

	assert.Equal(t, expectedBody(nil), bodyOf(t, compiled))
	assert.Equal(t, StrategyAllDataTypes, compiled.Strategy)
	assert.Equal(t, []Stage{StageSingleVariant}, compiled.Stages)
	assert.Equal(t, 2, compiled.Families)
	assert.Len(t, compiled.Fingerprint, 64)
}

func TestCompileNumResultsCoversThroughPage(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}}`)
	in.Sort = "cadd"
	in.Page = 2
	in.PageSize = 1

	compiled, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, expectedBody(map[string]any{"sort": "cadd", "num_results": float64(2)}), bodyOf(t, compiled))
}

func TestCompileRejectsOverflowingPage(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}}`)
	in.Page = 100000000000000001
	in.PageSize = 100

	_, err := c.Compile(context.Background(), in)
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, apperrors.Message(err), "out of range")
}

func TestCompileVariantIDSearch(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}, "locus": {"rawVariantItems": "1-248367227-TC-T,2-103343353-GAGA-G"}}`)
	in.Sort = "in_omim"

	compiled, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, expectedBody(map[string]any{
		"sample_data":   map[string]any{"VARIANTS": variantRecords()},
		"dataset_type":  "VARIANTS",
		"rs_ids":        []any{},
		"variant_ids":   []any{[]any{"1", float64(248367227), "TC", "T"}, []any{"2", float64(103343353), "GAGA", "G"}},
		"sort":          "in_omim",
		"sort_metadata": []any{"ENSG00000223972", "ENSG00000243485", "ENSG00000268020"},
	}), bodyOf(t, compiled))
	assert.Equal(t, StrategyVariants, compiled.Strategy)
}

func TestCompileRsIDSearchDoesNotForceDatasetType(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}, "locus": {"rawVariantItems": "rs9876"}}`)
	in.Sort = "constraint"

	compiled, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, expectedBody(map[string]any{
		"rs_ids":        []any{"rs9876"},
		"variant_ids":   []any{},
		"sort":          "constraint",
		"sort_metadata": map[string]any{"ENSG00000223972": float64(2)},
	}), bodyOf(t, compiled))
}

func TestCompileGeneAndIntervalSearch(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}, "locus": {
		"rawVariantItems": "rs9876",
		"rawItems": "DDX11L1, chr2:1234-5678, chr7:100-10100%10, ENSG00000186092"
	}}`)

	compiled, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	intervals := []any{"2:1234-5678", "7:1-11100", "1:11869-14409", "1:65419-71585"}
	assert.Equal(t, expectedBody(map[string]any{
		"gene_ids":  []any{"ENSG00000223972", "ENSG00000186092"},
		"intervals": intervals,
	}), bodyOf(t, compiled))

	in.Search.Locus.ExcludeLocations = true
	compiled, err = c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, expectedBody(map[string]any{
		"intervals":         intervals,
		"exclude_intervals": true,
	}), bodyOf(t, compiled))
}

func TestCompileRecessiveWithCustomAffected(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{
		"inheritance": {"mode": "recessive", "filter": {"affected": {
			"I000004_hg00731": "N", "I000005_hg00732": "A", "I000006_hg00733": "U"
		}}},
		"annotations": {"frameshift": ["frameshift_variant"]}
	}`)

	compiled, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, expectedBody(map[string]any{
		"inheritance_mode": "recessive",
		"dataset_type":     "VARIANTS",
		"annotations":      map[string]any{"frameshift": []any{"frameshift_variant"}},
		"sample_data":      map[string]any{"VARIANTS": variantRecords("N", "A", "U", "A")},
	}), bodyOf(t, compiled))
	assert.Equal(t, []Stage{StageCompHet, StageSingleVariant}, compiled.Stages)
	assert.Equal(t, "comp_het+single_variant", compiled.Plan())
}

func TestCompileSecondaryDatasetType(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	annotations := map[string]any{"frameshift": []any{"frameshift_variant"}}

	tests := []struct {
		name       string
		secondary  string
		wantType   any
		wantSample map[string]any
	}{
		{
			name:       "structural",
			secondary:  `{"structural_consequence": ["LOF"]}`,
			wantType:   "SV",
			wantSample: map[string]any{"VARIANTS": variantRecords(), "SV_WES": svRecords()},
		},
		{
			name:       "mixed",
			secondary:  `{"structural_consequence": ["LOF"], "SCREEN": ["dELS", "DNase-only"]}`,
			wantType:   "ALL",
			wantSample: map[string]any{"VARIANTS": variantRecords(), "SV_WES": svRecords()},
		},
		{
			name:       "empty structural category",
			secondary:  `{"structural_consequence": [], "SCREEN": ["dELS", "DNase-only"]}`,
			wantType:   "VARIANTS",
			wantSample: map[string]any{"VARIANTS": variantRecords()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := input(t, `{"inheritance": {"mode": "recessive", "filter": {}},
				"annotations": {"frameshift": ["frameshift_variant"]},
				"annotations_secondary": `+tt.secondary+`}`)
			compiled, err := c.Compile(context.Background(), in)
			require.NoError(t, err)

			var secondary map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.secondary), &secondary))
			assert.Equal(t, expectedBody(map[string]any{
				"inheritance_mode":       "recessive",
				"dataset_type":           "VARIANTS",
				"secondary_dataset_type": tt.wantType,
				"annotations":            annotations,
				"annotations_secondary":  secondary,
				"sample_data":            tt.wantSample,
			}), bodyOf(t, compiled))
		})
	}
}

func TestCompileSecondaryIgnoredOutsideRecessive(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	compiled, err := c.Compile(context.Background(), input(t, `{
		"inheritance": {"mode": "de_novo"},
		"annotations": {"frameshift": ["frameshift_variant"]},
		"annotations_secondary": {"structural_consequence": ["LOF"]}
	}`))
	require.NoError(t, err)
	body := bodyOf(t, compiled)
	assert.Nil(t, body["secondary_dataset_type"])
	assert.NotContains(t, body, "annotations_secondary")
	assert.Equal(t, map[string]any{"VARIANTS": variantRecords()}, body["sample_data"])
}

func TestCompileGenotypeOverrideClearsMode(t *testing.T) {
	c, sorts := newTestCompiler(Config{})
	in := input(t, `{
		"inheritance": {"mode": "any_affected", "filter": {"genotype": {"I000001_na19675": "ref_alt"}}},
		"freqs": {"callset": {"af": 0.1}, "gnomad_genomes": {"af": 0.01, "ac": 3, "hh": 3}},
		"qualityFilter": {"min_ab": 10, "min_gq": 15, "vcf_filter": "pass"},
		"in_silico": {"cadd": "11.5", "sift": "D"},
		"customQuery": {"term": {"customFlag": "flagVal"}}
	}`)
	in.Samples = []samples.Sample{sample("NA19675", "I000001_na19675", "F000001_1", "A", "M", samples.DatasetVariants)}
	in.Sort = "prioritized_gene"

	compiled, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, expectedBody(map[string]any{
		"inheritance_mode":   nil,
		"inheritance_filter": map[string]any{"genotype": map[string]any{"I000001_na19675": "ref_alt"}},
		"sample_data": map[string]any{"VARIANTS": []any{
			record("NA19675", "I000001_na19675", "F000001_1", "A", "M"),
		}},
		"in_silico":      map[string]any{"cadd": "11.5", "sift": "D"},
		"frequencies":    map[string]any{"callset": map[string]any{"af": 0.1}, "gnomad_genomes": map[string]any{"af": 0.01, "ac": float64(3), "hh": float64(3)}},
		"quality_filter": map[string]any{"min_ab": float64(10), "min_gq": float64(15), "vcf_filter": "pass"},
		"custom_query":   map[string]any{"term": map[string]any{"customFlag": "flagVal"}},
		"sort":           "prioritized_gene",
		"sort_metadata":  map[string]any{"ENSG00000268903": float64(1), "ENSG00000268904": float64(11)},
	}), bodyOf(t, compiled))
	assert.Equal(t, []string{"F000001_1"}, sorts.families)
	assert.Equal(t, StrategyVariants, compiled.Strategy)
}

func TestCompileStructuralAnnotations(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	compiled, err := c.Compile(context.Background(), input(t, `{
		"inheritance": {"mode": "de_novo"},
		"annotations": {"structural": ["DEL"], "frameshift": []}
	}`))
	require.NoError(t, err)
	body := bodyOf(t, compiled)
	assert.Equal(t, "SV", body["dataset_type"])
	assert.Equal(t, map[string]any{"SV_WES": svRecords()}, body["sample_data"])
	assert.Equal(t, StrategySVWES, compiled.Strategy)

	compiled, err = c.Compile(context.Background(), input(t, `{
		"annotations": {"new_structural_variants": ["NEW"], "frameshift": ["frameshift_variant"]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "SV", bodyOf(t, compiled)["dataset_type"])

	compiled, err = c.Compile(context.Background(), input(t, `{
		"annotations": {"structural_consequence": ["LOF"], "frameshift": ["frameshift_variant"]}
	}`))
	require.NoError(t, err)
	assert.Nil(t, bodyOf(t, compiled)["dataset_type"])
	assert.Equal(t, StrategyAllDataTypes, compiled.Strategy)

	_, err = c.Compile(context.Background(), input(t, `{
		"annotations": {"structural": ["DEL"]},
		"locus": {"rawVariantItems": "rs9876"}
	}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSearch)
}

func TestCompileEmptyDatasetScope(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"annotations": {"structural": ["DEL"]}}`)
	in.Samples = in.Samples[:4]

	_, err := c.Compile(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSearch)
}

func TestCompileRejectsMultipleProjectsWithoutLocation(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}}`)
	other := sample("NA21234", "I000015_na21234", "F000014_14", "A", "F", samples.DatasetVariants)
	other.ProjectGUID = "R0003_test"
	in.Samples = append(in.Samples, other)

	_, err := c.Compile(context.Background(), in)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSearch)
	assert.Contains(t, apperrors.Message(err), "Location must be specified to search across multiple projects")

	in.Search = params(t, `{"locus": {"rawItems": "DDX11L1"}}`)
	_, err = c.Compile(context.Background(), in)
	assert.NoError(t, err)
}

func TestCompileRejectsMultipleGenomeBuilds(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"locus": {"rawItems": "DDX11L1"}}`)
	a := sample("S1", "I1", "F1", "A", "F", samples.DatasetVariants)
	a.ProjectGUID, a.ProjectName = "R0001", "P1"
	b := sample("S2", "I2", "F2", "A", "F", samples.DatasetVariants)
	b.ProjectGUID, b.ProjectName = "R0002", "P2"
	cc := sample("S3", "I3", "F3", "A", "F", samples.DatasetVariants)
	cc.ProjectGUID, cc.ProjectName, cc.GenomeVersion = "R0003", "P3", locus.GRCh38
	in.Samples = []samples.Sample{a, b, cc}

	_, err := c.Compile(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t,
		"Search is only enabled on a single genome build, requested the following project builds: GRCh37 [P1, P2]; GRCh38 [P3]",
		apperrors.Message(err))
}

func TestCompileRejectsMultipleDataSources(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{"inheritance": {"mode": "de_novo"}}`)
	in.Samples[3].DataSource = "variants_grch37_reloaded"

	_, err := c.Compile(context.Background(), in)
	require.Error(t, err)
	assert.Equal(t, "Search is only enabled on a single data source, requested variants_grch37, variants_grch37_reloaded",
		apperrors.Message(err))
}

func TestCompileRejectsAffectedWithoutMode(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	_, err := c.Compile(context.Background(), input(t, `{"inheritance": {"filter": {"affected": {"I000004_hg00731": "N"}}}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSearch)
	assert.Equal(t, "Inheritance must be specified if custom affected status is set", apperrors.Message(err))

	_, err = c.Compile(context.Background(), input(t, `{"inheritance": {"filter": {"affected": {}}}}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSearch, "an empty override still needs a mode")

	_, err = c.Compile(context.Background(), input(t, `{"inheritance": {"filter": {
		"affected": {"I000004_hg00731": "N"}, "genotype": {"I000004_hg00731": "ref_alt"}
	}}}`))
	assert.NoError(t, err, "a genotype filter makes the override meaningful")
}

func TestCompileCompHetFamilyCap(t *testing.T) {
	c, _ := newTestCompiler(Config{MaxNoLocationCompHetFamilies: 1})

	_, err := c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "compound_het"}}`))
	require.Error(t, err)
	assert.Contains(t, apperrors.Message(err), "more than 1 families")

	compiled, err := c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "compound_het"}, "locus": {"rawItems": "DDX11L1"}}`))
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageCompHet}, compiled.Stages)

	_, err = c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "recessive"}, "locus": {"rawItems": "DDX11L1", "excludeLocations": true}}`))
	assert.Error(t, err, "excluded regions do not bound the search")

	_, err = c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "de_novo"}}`))
	assert.NoError(t, err)

	wide, _ := newTestCompiler(Config{})
	_, err = wide.Compile(context.Background(), input(t, `{"inheritance": {"mode": "recessive"}}`))
	assert.NoError(t, err)
}

func TestCompileRejectsInactiveOnly(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	in := input(t, `{}`)
	for i := range in.Samples {
		in.Samples[i].Active = false
	}
	_, err := c.Compile(context.Background(), in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSearch)

	in = input(t, `{}`)
	in.Page = 0
	_, err = c.Compile(context.Background(), in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCompileSortMetadataFailure(t *testing.T) {
	c, sorts := newTestCompiler(Config{})
	sorts.err = errors.New("reference store down")
	in := input(t, `{}`)
	in.Sort = "constraint"

	_, err := c.Compile(context.Background(), in)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrInvalidSearch)
}

func TestFingerprintIgnoresSortAndPage(t *testing.T) {
	c, _ := newTestCompiler(Config{})
	base, err := c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "de_novo"}}`))
	require.NoError(t, err)

	in := input(t, `{"inheritance": {"mode": "de_novo"}}`)
	in.Sort, in.Page, in.PageSize = "constraint", 3, 10
	resorted, err := c.Compile(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, base.Fingerprint, resorted.Fingerprint)
	assert.Equal(t, 30, resorted.Request.NumResults)

	other, err := c.Compile(context.Background(), input(t, `{"inheritance": {"mode": "recessive"}}`))
	require.NoError(t, err)
	assert.NotEqual(t, base.Fingerprint, other.Fingerprint)
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		keys []samples.Key
		want Strategy
	}{
		{[]samples.Key{samples.KeyVariants}, StrategyVariants},
		{[]samples.Key{samples.KeyMito}, StrategyMito},
		{[]samples.Key{samples.KeySVWGS}, StrategySVWGS},
		{[]samples.Key{samples.KeyVariants, samples.KeyMito}, StrategyAllVariants},
		{[]samples.Key{samples.KeySVWES, samples.KeySVWGS}, StrategyAllSV},
		{[]samples.Key{samples.KeyMito, samples.KeySVWES}, StrategyAllDataTypes},
	}
	for _, tt := range tests {
		got := strategyFor(tt.keys)
		assert.Equal(t, tt.want, got, "%v", tt.keys)
		assert.NotEqual(t, "unknown", got.String())
	}
	assert.True(t, StrategyAllSV.Structural())
	assert.False(t, StrategyAllDataTypes.Structural())
}
