// Package reference reads gene annotations used for location lookup and
// result ranking.
package reference

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/locus"
	"github.com/Adithya-Monish-Kumar-K/variant-search/internal/searcher/sortmeta"
)

const (
	genesByTerm = `
SELECT gene_id, COALESCE(gene_symbol, ''),
       COALESCE(chrom_grch37, ''), COALESCE(start_grch37, 0), COALESCE(end_grch37, 0),
       COALESCE(chrom_grch38, ''), COALESCE(start_grch38, 0), COALESCE(end_grch38, 0)
FROM reference_data_geneinfo
WHERE gene_id = ANY($1) OR upper(gene_symbol) = ANY($2)
ORDER BY gene_id`

	omimGenes = `
SELECT DISTINCT g.gene_id
FROM reference_data_omim o
JOIN reference_data_geneinfo g ON g.id = o.gene_id
WHERE o.phenotype_mim_number IS NOT NULL
ORDER BY g.gene_id`

	geneConstraints = `
SELECT g.gene_id, c.mis_z_rank, c.pli_rank
FROM reference_data_geneconstraint c
JOIN reference_data_geneinfo g ON g.id = c.gene_id`

	familyPrioritizations = `
SELECT p.gene_id, p.rank
FROM reference_data_phenotypeprioritization p
JOIN seqr_individual i ON i.id = p.individual_id
JOIN seqr_family f ON f.id = i.family_id
WHERE f.guid = $1`
)

// Store implements locus.GeneLookup and sortmeta.Store over the
// reference_data tables.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ locus.GeneLookup = (*Store)(nil)
	_ sortmeta.Store   = (*Store)(nil)
)

func New(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "reference-store"),
	}
}

// LookupGenes matches terms against Ensembl ids exactly and symbols
// case-insensitively.
func (s *Store) LookupGenes(ctx context.Context, terms []string) ([]locus.Gene, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	symbols := make([]string, len(terms))
	for i, t := range terms {
		symbols[i] = strings.ToUpper(t)
	}

	rows, err := s.db.QueryContext(ctx, genesByTerm, pq.Array(terms), pq.Array(symbols))
	if err != nil {
		return nil, fmt.Errorf("looking up genes: %w", err)
	}
	defer rows.Close()

	var out []locus.Gene
	for rows.Next() {
		var g locus.Gene
		if err := rows.Scan(&g.GeneID, &g.GeneSymbol,
			&g.ChromGrch37, &g.StartGrch37, &g.EndGrch37,
			&g.ChromGrch38, &g.StartGrch38, &g.EndGrch38,
		); err != nil {
			return nil, fmt.Errorf("scanning gene row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) OmimGeneIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, omimGenes)
	if err != nil {
		return nil, fmt.Errorf("querying omim genes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning omim row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GeneConstraints(ctx context.Context) ([]sortmeta.Constraint, error) {
	rows, err := s.db.QueryContext(ctx, geneConstraints)
	if err != nil {
		return nil, fmt.Errorf("querying gene constraints: %w", err)
	}
	defer rows.Close()

	var out []sortmeta.Constraint
	for rows.Next() {
		var c sortmeta.Constraint
		if err := rows.Scan(&c.GeneID, &c.MisZRank, &c.PLIRank); err != nil {
			return nil, fmt.Errorf("scanning constraint row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FamilyPrioritizations returns every phenotype prioritisation row of the
// family's individuals. Rank filtering is left to the caller.
func (s *Store) FamilyPrioritizations(ctx context.Context, familyGUID string) ([]sortmeta.Prioritization, error) {
	rows, err := s.db.QueryContext(ctx, familyPrioritizations, familyGUID)
	if err != nil {
		return nil, fmt.Errorf("querying prioritizations for %s: %w", familyGUID, err)
	}
	defer rows.Close()

	var out []sortmeta.Prioritization
	for rows.Next() {
		var p sortmeta.Prioritization
		if err := rows.Scan(&p.GeneID, &p.Rank); err != nil {
			return nil, fmt.Errorf("scanning prioritization row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("prioritizations loaded", "family_guid", familyGUID, "rows", len(out))
	return out, nil
}
