// Package registry loads sequencing samples for a set of families from the
// sample registry database.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/samples"
)

const samplesByFamily = `
SELECT s.sample_id, s.dataset_type, COALESCE(s.sample_type, ''), s.is_active, s.data_source,
       i.guid, f.guid, p.guid, p.name, p.genome_version,
       COALESCE(i.affected, 'U'), COALESCE(i.sex, 'U')
FROM seqr_sample s
JOIN seqr_individual i ON i.id = s.individual_id
JOIN seqr_family f ON f.id = i.family_id
JOIN seqr_project p ON p.id = f.project_id
WHERE f.guid = ANY($1)
ORDER BY CASE s.dataset_type WHEN 'VARIANTS' THEN 0 WHEN 'MITO' THEN 1 ELSE 2 END,
         s.sample_type, f.guid, i.guid`

// Registry reads the seqr_sample, seqr_individual, seqr_family and
// seqr_project tables.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
}

func New(db *sql.DB) *Registry {
	return &Registry{
		db:     db,
		logger: slog.Default().With("component", "sample-registry"),
	}
}

// LoadSamples returns every sample, active or not, of the given families.
func (r *Registry) LoadSamples(ctx context.Context, familyGUIDs []string) ([]samples.Sample, error) {
	rows, err := r.db.QueryContext(ctx, samplesByFamily, pq.Array(familyGUIDs))
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer rows.Close()

	var out []samples.Sample
	for rows.Next() {
		var s samples.Sample
		var datasetType, sampleType, genomeVersion string
		if err := rows.Scan(
			&s.SampleID, &datasetType, &sampleType, &s.Active, &s.DataSource,
			&s.IndividualGUID, &s.FamilyGUID, &s.ProjectGUID, &s.ProjectName, &genomeVersion,
			&s.Affected, &s.Sex,
		); err != nil {
			return nil, fmt.Errorf("scanning sample row: %w", err)
		}
		s.DatasetType = samples.DatasetType(datasetType)
		s.SampleType = samples.SampleType(sampleType)
		s.GenomeVersion = NormalizeGenomeVersion(genomeVersion)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading sample rows: %w", err)
	}
	r.logger.Debug("samples loaded", "families", len(familyGUIDs), "samples", len(out))
	return out, nil
}

// NormalizeGenomeVersion maps the registry's "37"/"38" codes to build
// names. Anything else passes through.
func NormalizeGenomeVersion(v string) string {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(v)), "GRCH") {
	case "37":
		return locus.GRCh37
	case "38":
		return locus.GRCh38
	}
	return v
}
