package metadata

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a dataset is missing from a snapshot.
var ErrNotFound = errors.New("dataset not found")

// ParameterValue is one allowed value of a dataset parameter.
type ParameterValue struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

// ParameterDef describes a single query parameter of a dataset schema.
type ParameterDef struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Required    bool             `json:"required"`
	Multiple    bool             `json:"multiple"`
	Default     string           `json:"default,omitempty"`
	AllValue    string           `json:"all_value,omitempty"`
	Values      []ParameterValue `json:"values,omitempty"`
}

// Table is a specific data series/report within a dataset.
type Table struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Dataset is a named collection of statistical tables with a shared
// parameter schema. Immutable during a query session; replaced wholesale
// on refresh.
type Dataset struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	GeneratedDescription string         `json:"generated_description,omitempty"`
	Parameters           []ParameterDef `json:"parameters"`
	Tables               []Table        `json:"tables,omitempty"`
}

// RequiredParameters lists the names of all required parameters in schema order.
func (d Dataset) RequiredParameters() []string {
	var required []string
	for _, p := range d.Parameters {
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return required
}

// Table looks up a table by name within the dataset.
func (d Dataset) Table(name string) (Table, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// ParameterRef is a compact (name, description) pair carried on lookup documents.
type ParameterRef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Document is one flattened lookup entry: a (dataset, optional table) pair
// with the descriptive text and precomputed embedding the ranker scores.
type Document struct {
	DatasetName        string         `json:"dataset_name"`
	DatasetDescription string         `json:"dataset_description"`
	TableName          string         `json:"table_name,omitempty"`
	TableDescription   string         `json:"table_description,omitempty"`
	OtherParameters    []ParameterRef `json:"other_parameters,omitempty"`
	Embedding          []float32      `json:"embedding,omitempty"`
}

// ID uniquely identifies the document within a snapshot.
func (d Document) ID() string {
	if d.TableName == "" {
		return d.DatasetName
	}
	return d.DatasetName + "#" + d.TableName
}

// Snapshot is an immutable, versioned view of all dataset metadata.
// A snapshot is built once by the refresher and installed atomically;
// in-flight requests keep whichever snapshot they started with.
type Snapshot struct {
	Version   string
	CreatedAt time.Time
	Datasets  []Dataset
	Documents []Document

	byName map[string]int
}

// NewSnapshot builds a snapshot with its dataset index.
func NewSnapshot(version string, datasets []Dataset, documents []Document) *Snapshot {
	byName := make(map[string]int, len(datasets))
	for i, d := range datasets {
		byName[d.Name] = i
	}
	return &Snapshot{
		Version:   version,
		CreatedAt: time.Now(),
		Datasets:  datasets,
		Documents: documents,
		byName:    byName,
	}
}

// Dataset returns the dataset with the given name or ErrNotFound.
func (s *Snapshot) Dataset(name string) (Dataset, error) {
	i, ok := s.byName[name]
	if !ok {
		return Dataset{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.Datasets[i], nil
}

// Empty reports whether the snapshot holds no lookup documents.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Documents) == 0
}

// EmbeddingText constructs the canonical text used to embed a lookup document.
// Order is stable so re-embedding yields consistent semantics; empty fields
// are skipped.
func (d Document) EmbeddingText() string {
	parts := make([]string, 0, 5)
	for _, val := range []string{d.DatasetName, d.TableName, d.DatasetDescription, d.TableDescription} {
		if v := strings.TrimSpace(val); v != "" {
			parts = append(parts, v)
		}
	}
	var flattened []string
	for _, p := range d.OtherParameters {
		seg := strings.TrimSpace(p.Name + " " + p.Description)
		if seg != "" {
			flattened = append(flattened, seg)
		}
	}
	if len(flattened) > 0 {
		parts = append(parts, strings.Join(flattened, "; "))
	}
	return strings.Join(parts, "\n")
}

// KeywordText is the text indexed for lexical matching.
func (d Document) KeywordText() string {
	return d.EmbeddingText()
}
