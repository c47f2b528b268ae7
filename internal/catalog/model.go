package catalog

// DefaultWeight is the confidence or similarity score assumed when a
// catalog row leaves it unset.
const DefaultWeight = 1.0

// Department is a clinical department that receives routed patients.
type Department struct {
	ID          int64  `json:"id" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	Director    string `json:"director" yaml:"director"`
	Phone       string `json:"phone,omitempty" yaml:"phone"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// DiseaseMapping routes a canonical disease name to a department.
// The same disease name may map to several departments with different
// confidence values.
type DiseaseMapping struct {
	ID           int64   `json:"id"`
	DiseaseName  string  `json:"disease_name"`
	DepartmentID int64   `json:"department_id"`
	Confidence   float64 `json:"confidence"`
}

// DiseaseSynonym is an alternate name for the disease of one mapping.
type DiseaseSynonym struct {
	ID              int64   `json:"id"`
	MappingID       int64   `json:"mapping_id"`
	Synonym         string  `json:"synonym"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Reader is the read-only query surface of the catalog.
type Reader interface {
	FindDepartmentByID(id int64) (*Department, bool)
	FindDepartmentByName(name string) (*Department, bool)
	FindMappingByID(id int64) (*DiseaseMapping, bool)
	// FindMappingsByDiseaseName returns mappings in catalog insertion order.
	FindMappingsByDiseaseName(name string) []DiseaseMapping
	FindSynonymsByMappingID(mappingID int64) []DiseaseSynonym
	// FindSynonymsByText returns synonyms in catalog insertion order.
	FindSynonymsByText(text string) []DiseaseSynonym
}
