package catalog

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalid is wrapped by every error NewIndex returns.
var ErrInvalid = errors.New("invalid catalog")

// Index is an immutable, in-memory view of the catalog. Slices keep catalog
// insertion order, the maps point into them.
type Index struct {
	departments []Department
	mappings    []DiseaseMapping
	synonyms    []DiseaseSynonym

	deptByID          map[int64]int
	deptByName        map[string]int
	mappingByID       map[int64]int
	mappingsByName    map[string][]int
	synonymsByMapping map[int64][]int
	synonymsByText    map[string][]int
}

var _ Reader = (*Index)(nil)

// Stats summarises the size of an Index.
type Stats struct {
	Departments int
	Mappings    int
	Synonyms    int
}

// NewIndex validates the rows and builds the lookup tables. Rows must be
// given in insertion order; that order is the tie-break for lookups that
// match more than one row.
func NewIndex(departments []Department, mappings []DiseaseMapping, synonyms []DiseaseSynonym) (*Index, error) {
	idx := &Index{
		departments:       make([]Department, 0, len(departments)),
		mappings:          make([]DiseaseMapping, 0, len(mappings)),
		synonyms:          make([]DiseaseSynonym, 0, len(synonyms)),
		deptByID:          make(map[int64]int, len(departments)),
		deptByName:        make(map[string]int, len(departments)),
		mappingByID:       make(map[int64]int, len(mappings)),
		mappingsByName:    make(map[string][]int),
		synonymsByMapping: make(map[int64][]int),
		synonymsByText:    make(map[string][]int),
	}

	var errs []error

	for _, d := range departments {
		key := Normalize(d.Name)
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("department %d: empty name", d.ID))
			continue
		case strings.TrimSpace(d.Director) == "":
			errs = append(errs, fmt.Errorf("department %q: empty director", d.Name))
			continue
		}
		if _, dup := idx.deptByID[d.ID]; dup {
			errs = append(errs, fmt.Errorf("department %q: duplicate id %d", d.Name, d.ID))
			continue
		}
		if prev, dup := idx.deptByName[key]; dup {
			errs = append(errs, fmt.Errorf("department %q: name collides with %q", d.Name, idx.departments[prev].Name))
			continue
		}
		idx.deptByID[d.ID] = len(idx.departments)
		idx.deptByName[key] = len(idx.departments)
		idx.departments = append(idx.departments, d)
	}

	for _, m := range mappings {
		key := Normalize(m.DiseaseName)
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("mapping %d: empty disease name", m.ID))
			continue
		case !validConfidence(m.Confidence):
			errs = append(errs, fmt.Errorf("mapping %d (%s): confidence %v outside [0,1]", m.ID, m.DiseaseName, m.Confidence))
			continue
		}
		if _, ok := idx.deptByID[m.DepartmentID]; !ok {
			errs = append(errs, fmt.Errorf("mapping %d (%s): unknown department %d", m.ID, m.DiseaseName, m.DepartmentID))
			continue
		}
		if _, dup := idx.mappingByID[m.ID]; dup {
			errs = append(errs, fmt.Errorf("mapping %d: duplicate id", m.ID))
			continue
		}
		pos := len(idx.mappings)
		idx.mappingByID[m.ID] = pos
		idx.mappingsByName[key] = append(idx.mappingsByName[key], pos)
		idx.mappings = append(idx.mappings, m)
	}

	for _, s := range synonyms {
		key := Normalize(s.Synonym)
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("synonym %d: empty text", s.ID))
			continue
		case !validScore(s.SimilarityScore):
			errs = append(errs, fmt.Errorf("synonym %d (%s): similarity score %v outside (0,1]", s.ID, s.Synonym, s.SimilarityScore))
			continue
		}
		if _, ok := idx.mappingByID[s.MappingID]; !ok {
			errs = append(errs, fmt.Errorf("synonym %d (%s): unknown mapping %d", s.ID, s.Synonym, s.MappingID))
			continue
		}
		pos := len(idx.synonyms)
		idx.synonymsByMapping[s.MappingID] = append(idx.synonymsByMapping[s.MappingID], pos)
		idx.synonymsByText[key] = append(idx.synonymsByText[key], pos)
		idx.synonyms = append(idx.synonyms, s)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return idx, nil
}

func validConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}

func validScore(s float64) bool {
	return !math.IsNaN(s) && s > 0 && s <= 1
}

// Stats reports how many rows the index holds.
func (x *Index) Stats() Stats {
	return Stats{
		Departments: len(x.departments),
		Mappings:    len(x.mappings),
		Synonyms:    len(x.synonyms),
	}
}

// Departments returns a copy of all departments in insertion order.
func (x *Index) Departments() []Department {
	out := make([]Department, len(x.departments))
	copy(out, x.departments)
	return out
}

// FindDepartmentByID returns a copy of the department with the given id.
func (x *Index) FindDepartmentByID(id int64) (*Department, bool) {
	i, ok := x.deptByID[id]
	if !ok {
		return nil, false
	}
	d := x.departments[i]
	return &d, true
}

// FindDepartmentByName looks a department up by case-insensitive name.
func (x *Index) FindDepartmentByName(name string) (*Department, bool) {
	i, ok := x.deptByName[Normalize(name)]
	if !ok {
		return nil, false
	}
	d := x.departments[i]
	return &d, true
}

// FindMappingByID returns a copy of the mapping with the given id.
func (x *Index) FindMappingByID(id int64) (*DiseaseMapping, bool) {
	i, ok := x.mappingByID[id]
	if !ok {
		return nil, false
	}
	m := x.mappings[i]
	return &m, true
}

// FindMappingsByDiseaseName returns every mapping whose disease name matches
// case-insensitively, in insertion order.
func (x *Index) FindMappingsByDiseaseName(name string) []DiseaseMapping {
	positions := x.mappingsByName[Normalize(name)]
	if len(positions) == 0 {
		return nil
	}
	out := make([]DiseaseMapping, len(positions))
	for i, p := range positions {
		out[i] = x.mappings[p]
	}
	return out
}

// FindSynonymsByMappingID returns the synonyms attached to a mapping.
func (x *Index) FindSynonymsByMappingID(mappingID int64) []DiseaseSynonym {
	return x.collectSynonyms(x.synonymsByMapping[mappingID])
}

// FindSynonymsByText returns every synonym whose text matches
// case-insensitively, in insertion order.
func (x *Index) FindSynonymsByText(text string) []DiseaseSynonym {
	return x.collectSynonyms(x.synonymsByText[Normalize(text)])
}

func (x *Index) collectSynonyms(positions []int) []DiseaseSynonym {
	if len(positions) == 0 {
		return nil
	}
	out := make([]DiseaseSynonym, len(positions))
	for i, p := range positions {
		out[i] = x.synonyms[p]
	}
	return out
}
