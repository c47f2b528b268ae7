// Package seed loads a catalog from YAML. A default ophthalmology catalog is
// embedded in the binary.
//
// Rows reference each other by name. A mapping whose department is unknown,
// or a synonym whose disease is unknown, is skipped with a warning rather than
// failing the whole load.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sightline/internal/catalog"
)

//go:embed ophthalmology.yaml
var defaultSeed []byte

// File is the on-disk layout of a seed file.
type File struct {
	Departments []catalog.Department `yaml:"departments"`
	Mappings    []Mapping            `yaml:"mappings"`
	Synonyms    []Synonym            `yaml:"synonyms"`
}

// Mapping routes a disease to a department by name. Confidence defaults to 1.
type Mapping struct {
	Disease    string   `yaml:"disease"`
	Department string   `yaml:"department"`
	Confidence *float64 `yaml:"confidence"`
}

// Synonym attaches alternate text to a disease. When the disease maps to
// several departments, Department selects the mapping; otherwise the first
// mapping for the disease is used. Score defaults to 1.
type Synonym struct {
	Disease    string   `yaml:"disease"`
	Synonym    string   `yaml:"synonym"`
	Department string   `yaml:"department"`
	Score      *float64 `yaml:"score"`
}

// Parse decodes a seed document. Unknown keys are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &f, nil
}

// Default builds the embedded ophthalmology catalog.
func Default(ctx context.Context, logger log.Logger) (*catalog.Index, error) {
	f, err := Parse(bytes.NewReader(defaultSeed))
	if err != nil {
		return nil, fmt.Errorf("embedded seed: %w", err)
	}
	return f.Build(ctx, logger)
}

// LoadFile reads and builds a catalog from a YAML seed file.
func LoadFile(ctx context.Context, path string, logger log.Logger) (*catalog.Index, error) {
	fh, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer func() { _ = fh.Close() }()

	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f.Build(ctx, logger)
}

// Build assigns ids in document order, resolves name references and returns
// the resulting index.
func (f *File) Build(ctx context.Context, logger log.Logger) (*catalog.Index, error) {
	if logger == nil {
		logger = log.Nop()
	}

	depts := make([]catalog.Department, 0, len(f.Departments))
	deptIDs := make(map[string]int64, len(f.Departments))
	for i, d := range f.Departments {
		d.ID = int64(i + 1)
		depts = append(depts, d)
		if _, dup := deptIDs[catalog.Normalize(d.Name)]; !dup {
			deptIDs[catalog.Normalize(d.Name)] = d.ID
		}
	}

	mappings := make([]catalog.DiseaseMapping, 0, len(f.Mappings))
	byDisease := make(map[string][]catalog.DiseaseMapping)
	for _, m := range f.Mappings {
		deptID, ok := deptIDs[catalog.Normalize(m.Department)]
		if !ok {
			logger.Warn(ctx, "seed: unknown department, skipping mapping",
				"disease", m.Disease,
				"department", m.Department,
			)
			continue
		}
		dm := catalog.DiseaseMapping{
			ID:           int64(len(mappings) + 1),
			DiseaseName:  m.Disease,
			DepartmentID: deptID,
			Confidence:   valueOr(m.Confidence, catalog.DefaultWeight),
		}
		mappings = append(mappings, dm)
		key := catalog.Normalize(m.Disease)
		byDisease[key] = append(byDisease[key], dm)
	}

	type synKey struct {
		mappingID int64
		text      string
	}
	seen := make(map[synKey]struct{}, len(f.Synonyms))
	synonyms := make([]catalog.DiseaseSynonym, 0, len(f.Synonyms))
	for _, s := range f.Synonyms {
		target, ok := pickMapping(byDisease[catalog.Normalize(s.Disease)], deptIDs, s.Department)
		if !ok {
			logger.Warn(ctx, "seed: unknown disease, skipping synonym",
				"disease", s.Disease,
				"synonym", s.Synonym,
				"department", s.Department,
			)
			continue
		}
		k := synKey{mappingID: target.ID, text: catalog.Normalize(s.Synonym)}
		if _, dup := seen[k]; dup {
			logger.Warn(ctx, "seed: duplicate synonym, skipping", "disease", s.Disease, "synonym", s.Synonym)
			continue
		}
		seen[k] = struct{}{}
		synonyms = append(synonyms, catalog.DiseaseSynonym{
			ID:              int64(len(synonyms) + 1),
			MappingID:       target.ID,
			Synonym:         s.Synonym,
			SimilarityScore: valueOr(s.Score, catalog.DefaultWeight),
		})
	}

	idx, err := catalog.NewIndex(depts, mappings, synonyms)
	if err != nil {
		return nil, err
	}

	st := idx.Stats()
	logger.Info(ctx, "catalog loaded",
		"departments", st.Departments,
		"mappings", st.Mappings,
		"synonyms", st.Synonyms,
		"skipped_mappings", len(f.Mappings)-st.Mappings,
		"skipped_synonyms", len(f.Synonyms)-st.Synonyms,
	)
	return idx, nil
}

func pickMapping(candidates []catalog.DiseaseMapping, deptIDs map[string]int64, department string) (catalog.DiseaseMapping, bool) {
	if len(candidates) == 0 {
		return catalog.DiseaseMapping{}, false
	}
	if department == "" {
		return candidates[0], true
	}
	deptID, ok := deptIDs[catalog.Normalize(department)]
	if !ok {
		return catalog.DiseaseMapping{}, false
	}
	for _, c := range candidates {
		if c.DepartmentID == deptID {
			return c, true
		}
	}
	return catalog.DiseaseMapping{}, false
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}
