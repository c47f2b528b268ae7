// Package resolve turns a raw diagnosis label into a standardized disease and
// the department that treats it.
package resolve

import (
	"github.com/linnemanlabs/sightline/internal/catalog"
)

// MatchKind records how a label was resolved.
type MatchKind string

// Match kinds.
const (
	MatchExact   MatchKind = "exact"
	MatchSynonym MatchKind = "synonym"
)

// Resolution is a resolved label. Confidence is the mapping confidence for
// an exact match, or mapping confidence times similarity score for a synonym
// match.
type Resolution struct {
	Disease    string             `json:"disease"`
	Department catalog.Department `json:"department"`
	MappingID  int64              `json:"mapping_id"`
	Confidence float64            `json:"confidence"`
	MatchedBy  MatchKind          `json:"matched_by"`
	Synonym    string             `json:"synonym,omitempty"`
}

// Resolver resolves labels against a catalog. It holds no mutable state.
type Resolver struct {
	catalog catalog.Reader
}

// New creates a Resolver over the given catalog.
func New(c catalog.Reader) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve maps label to a disease and department. An exact disease-name match
// always wins over a synonym match. ok is false when neither matches; that is
// a normal outcome, not an error.
func (r *Resolver) Resolve(label string) (Resolution, bool) {
	if catalog.Normalize(label) == "" {
		return Resolution{}, false
	}
	if res, ok := r.exact(label); ok {
		return res, true
	}
	return r.synonym(label)
}

func (r *Resolver) exact(label string) (Resolution, bool) {
	var (
		best  catalog.DiseaseMapping
		dept  *catalog.Department
		found bool
	)
	// strict > keeps the earliest mapping on ties
	for _, m := range r.catalog.FindMappingsByDiseaseName(label) {
		if found && m.Confidence <= best.Confidence {
			continue
		}
		d, ok := r.catalog.FindDepartmentByID(m.DepartmentID)
		if !ok {
			continue
		}
		best, dept, found = m, d, true
	}
	if !found {
		return Resolution{}, false
	}
	return Resolution{
		Disease:    best.DiseaseName,
		Department: *dept,
		MappingID:  best.ID,
		Confidence: best.Confidence,
		MatchedBy:  MatchExact,
	}, true
}

func (r *Resolver) synonym(label string) (Resolution, bool) {
	var (
		best  Resolution
		found bool
	)
	for _, s := range r.catalog.FindSynonymsByText(label) {
		m, ok := r.catalog.FindMappingByID(s.MappingID)
		if !ok {
			continue
		}
		conf := m.Confidence * s.SimilarityScore
		if found && conf <= best.Confidence {
			continue
		}
		d, ok := r.catalog.FindDepartmentByID(m.DepartmentID)
		if !ok {
			continue
		}
		best = Resolution{
			Disease:    m.DiseaseName,
			Department: *d,
			MappingID:  m.ID,
			Confidence: conf,
			MatchedBy:  MatchSynonym,
			Synonym:    s.Synonym,
		}
		found = true
	}
	return best, found
}
