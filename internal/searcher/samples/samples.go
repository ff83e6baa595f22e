// Package samples groups an individual's sequencing samples into the
// per-dataset manifest sent to the search backend.
package samples

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DatasetType is the category of calls a sample was loaded from.
type DatasetType string

const (
	DatasetVariants DatasetType = "VARIANTS"
	DatasetMito     DatasetType = "MITO"
	DatasetSV       DatasetType = "SV"
)

// SampleType is the sequencing type. It only distinguishes SV sources.
type SampleType string

const (
	SampleTypeWES SampleType = "WES"
	SampleTypeWGS SampleType = "WGS"
)

// Sample is one loaded sample joined with its individual, family and project.
type Sample struct {
	SampleID       string
	DatasetType    DatasetType
	SampleType     SampleType
	Active         bool
	DataSource     string
	IndividualGUID string
	FamilyGUID     string
	ProjectGUID    string
	ProjectName    string
	GenomeVersion  string
	Affected       string
	Sex            string
}

// Key is the composite manifest key: the dataset type, or SV_<sample type>
// for structural calls.
type Key string

const (
	KeyVariants Key = "VARIANTS"
	KeyMito     Key = "MITO"
	KeySVWES    Key = "SV_WES"
	KeySVWGS    Key = "SV_WGS"
)

// KeyFor returns the manifest key a sample is filed under.
func KeyFor(s Sample) Key {
	if s.DatasetType == DatasetSV {
		return Key(string(DatasetSV) + "_" + string(s.SampleType))
	}
	return Key(s.DatasetType)
}

// IsSV reports whether the key holds structural variant samples.
func (k Key) IsSV() bool {
	return strings.HasPrefix(string(k), string(DatasetSV))
}

// Record is the flattened per-sample entry of a manifest.
type Record struct {
	SampleID       string `json:"sample_id"`
	IndividualGUID string `json:"individual_guid"`
	FamilyGUID     string `json:"family_guid"`
	ProjectGUID    string `json:"project_guid"`
	Affected       string `json:"affected"`
	Sex            string `json:"sex"`
}

// Manifest maps keys to records. Keys and records keep insertion order,
// including on the wire.
type Manifest struct {
	keys    []Key
	records map[Key][]Record
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{records: make(map[Key][]Record)}
}

// Classify files every sample under its key. affected maps individual guid
// to a replacement affected status; empty replacements are ignored.
func Classify(in []Sample, affected map[string]string) *Manifest {
	m := NewManifest()
	for _, s := range in {
		rec := Record{
			SampleID:       s.SampleID,
			IndividualGUID: s.IndividualGUID,
			FamilyGUID:     s.FamilyGUID,
			ProjectGUID:    s.ProjectGUID,
			Affected:       s.Affected,
			Sex:            s.Sex,
		}
		if override := affected[s.IndividualGUID]; override != "" {
			rec.Affected = override
		}
		m.Add(KeyFor(s), rec)
	}
	return m
}

// Add appends rec under key.
func (m *Manifest) Add(key Key, rec Record) {
	if _, ok := m.records[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.records[key] = append(m.records[key], rec)
}

// Keys returns the keys in insertion order.
func (m *Manifest) Keys() []Key {
	return append([]Key(nil), m.keys...)
}

func (m *Manifest) Records(key Key) []Record {
	return m.records[key]
}

// Len is the total record count across keys.
func (m *Manifest) Len() int {
	n := 0
	for _, recs := range m.records {
		n += len(recs)
	}
	return n
}

// Filter returns a manifest holding only the keys keep accepts.
func (m *Manifest) Filter(keep func(Key) bool) *Manifest {
	out := NewManifest()
	for _, k := range m.keys {
		if keep(k) {
			out.keys = append(out.keys, k)
			out.records[k] = m.records[k]
		}
	}
	return out
}

// First returns the first record of the first key.
func (m *Manifest) First() (Record, bool) {
	for _, k := range m.keys {
		if recs := m.records[k]; len(recs) > 0 {
			return recs[0], true
		}
	}
	return Record{}, false
}

// Projects returns the distinct project guids in first-seen order.
func (m *Manifest) Projects() []string {
	return m.distinct(func(r Record) string { return r.ProjectGUID })
}

// Families returns the distinct family guids in first-seen order.
func (m *Manifest) Families() []string {
	return m.distinct(func(r Record) string { return r.FamilyGUID })
}

func (m *Manifest) distinct(field func(Record) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range m.keys {
		for _, r := range m.records[k] {
			v := field(r)
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(k))
		if err != nil {
			return nil, err
		}
		recs, err := json.Marshal(m.records[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(recs)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
