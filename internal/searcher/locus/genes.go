package locus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Build names accepted for gene coordinate selection.
const (
	GRCh37 = "GRCh37"
	GRCh38 = "GRCh38"
)

// Gene carries the coordinates of one gene on both supported builds.
type Gene struct {
	GeneID      string `json:"geneId"`
	GeneSymbol  string `json:"geneSymbol,omitempty"`
	ChromGrch37 string `json:"chromGrch37"`
	StartGrch37 int    `json:"startGrch37"`
	EndGrch37   int    `json:"endGrch37"`
	ChromGrch38 string `json:"chromGrch38"`
	StartGrch38 int    `json:"startGrch38"`
	EndGrch38   int    `json:"endGrch38"`
}

// Interval returns the gene's span on build. ok is false for an unknown
// build or a gene not mapped on it.
func (g Gene) Interval(build string) (iv Interval, ok bool) {
	switch build {
	case GRCh37:
		iv = Interval{Chrom: g.ChromGrch37, Start: g.StartGrch37, End: g.EndGrch37}
	case GRCh38:
		iv = Interval{Chrom: g.ChromGrch38, Start: g.StartGrch38, End: g.EndGrch38}
	default:
		return Interval{}, false
	}
	return iv, iv.Chrom != ""
}

// GeneSet is an insertion-ordered mapping of gene id to Gene. JSON objects
// decode in document order.
type GeneSet struct {
	ids   []string
	genes map[string]Gene
}

// Add inserts g under its id unless the id is already present.
func (s *GeneSet) Add(g Gene) {
	if s.genes == nil {
		s.genes = make(map[string]Gene)
	}
	if _, ok := s.genes[g.GeneID]; ok {
		return
	}
	s.ids = append(s.ids, g.GeneID)
	s.genes[g.GeneID] = g
}

func (s GeneSet) Len() int { return len(s.ids) }

// IDs returns the gene ids in insertion order.
func (s GeneSet) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Genes returns the genes in insertion order.
func (s GeneSet) Genes() []Gene {
	out := make([]Gene, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.genes[id])
	}
	return out
}

func (s GeneSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range s.ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(id)
		val, err := json.Marshal(s.genes[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *GeneSet) UnmarshalJSON(data []byte) error {
	*s = GeneSet{}
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("genes: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id := tok.(string)
		var g Gene
		if err := dec.Decode(&g); err != nil {
			return fmt.Errorf("genes: decoding %s: %w", id, err)
		}
		if g.GeneID == "" {
			g.GeneID = id
		}
		s.Add(g)
	}
	_, err = dec.Token()
	return err
}
