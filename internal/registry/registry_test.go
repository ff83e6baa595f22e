package registry

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/variant-search/pkg/postgres"
)

func TestNormalizeGenomeVersion(t *testing.T) {
	assert.Equal(t, locus.GRCh37, NormalizeGenomeVersion("37"))
	assert.Equal(t, locus.GRCh38, NormalizeGenomeVersion("38"))
	assert.Equal(t, locus.GRCh38, NormalizeGenomeVersion("GRCh38"))
	assert.Equal(t, "T2T", NormalizeGenomeVersion("T2T"))
}

// skipIfNoPostgres connects with a single pooled connection so temporary
// tables stay visible across queries.
func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	if os.Getenv("VS_POSTGRES_HOST") == "" {
		t.Skip("VS_POSTGRES_HOST not set")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Postgres.MaxOpenConns = 1
	client, err := postgres.New(cfg.Postgres)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

const fixture = `
CREATE TEMP TABLE seqr_project (id INT PRIMARY KEY, guid TEXT, name TEXT, genome_version TEXT);
CREATE TEMP TABLE seqr_family (id INT PRIMARY KEY, guid TEXT, project_id INT);
CREATE TEMP TABLE seqr_individual (id INT PRIMARY KEY, guid TEXT, family_id INT, affected TEXT, sex TEXT);
CREATE TEMP TABLE seqr_sample (id INT PRIMARY KEY, sample_id TEXT, dataset_type TEXT, sample_type TEXT,
	is_active BOOL, data_source TEXT, individual_id INT);
INSERT INTO seqr_project VALUES (1, 'R0001_1kg', '1kg project', '37');
INSERT INTO seqr_family VALUES (1, 'F000001_1', 1), (2, 'F000002_2', 1);
INSERT INTO seqr_individual VALUES (1, 'I000001_na19675', 1, 'A', 'M'), (2, 'I000004_hg00731', 2, 'A', 'F');
INSERT INTO seqr_sample VALUES
	(1, 'NA19675', 'VARIANTS', 'WES', true, 'variants_grch37', 1),
	(2, 'HG00731', 'SV', 'WES', true, 'sv_grch37', 2),
	(3, 'HG00731', 'VARIANTS', 'WES', false, 'variants_grch37', 2);`

func TestLoadSamples(t *testing.T) {
	db := skipIfNoPostgres(t)
	ctx := context.Background()
	_, err := db.DB.ExecContext(ctx, fixture)
	require.NoError(t, err)

	got, err := New(db.DB).LoadSamples(ctx, []string{"F000001_1", "F000002_2"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "NA19675", got[0].SampleID)
	assert.Equal(t, locus.GRCh37, got[0].GenomeVersion)
	assert.Equal(t, "1kg project", got[0].ProjectName)
	assert.False(t, got[1].Active)
	assert.Equal(t, samples.DatasetSV, got[2].DatasetType)
	assert.Equal(t, samples.SampleTypeWES, got[2].SampleType)

	none, err := New(db.DB).LoadSamples(ctx, []string{"F999"})
	require.NoError(t, err)
	assert.Empty(t, none)
}
