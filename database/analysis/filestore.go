package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"patternstore/database/types"
)

// FileStore is the file adapter for analysis results: one JSON document
// per timeframe.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DocumentPath returns the JSON document path for a timeframe
func (s *FileStore) DocumentPath(timeframe string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_analysis.json", timeframe))
}

// ChartPath returns the deterministic chart location for one analysis
// chart kind. Charts are produced by an external collaborator.
func (s *FileStore) ChartPath(timeframe, kind string) string {
	name := fmt.Sprintf("%s_%s_chart.png", timeframe, kind)
	return filepath.Join(s.dir, "visualizations", name)
}

// document is the on-disk JSON shape: the pruned per-cluster results.
// Aggregates are derived on read so both backends agree.
type document struct {
	Timeframe       string                          `json:"timeframe"`
	AnalysisDate    string                          `json:"analysis_date"`
	Params          types.AnalysisParams            `json:"params"`
	TestPeriodStart time.Time                       `json:"test_period_start,omitempty"`
	TestPeriodEnd   time.Time                       `json:"test_period_end,omitempty"`
	Returns         map[int]types.ClusterReturns    `json:"cluster_returns"`
	Significance    map[int]types.SignificanceStats `json:"statistical_significance"`
}

// WriteDocument persists an analysis document, replacing any previous
// one for the timeframe. Returns the file path as the locator.
func (s *FileStore) WriteDocument(doc *document) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("WriteDocument: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("WriteDocument: %w", err)
	}
	path := s.DocumentPath(doc.Timeframe)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("WriteDocument: %w", err)
	}
	return path, nil
}

// ReadDocument reads back the document for a timeframe. A missing file
// is a miss, not an error: returns (nil, nil) so the caller can consult
// the other backend.
func (s *FileStore) ReadDocument(timeframe string) (*document, error) {
	raw, err := os.ReadFile(s.DocumentPath(timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ReadDocument: %w", err)
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("ReadDocument: %w", err)
	}
	return &doc, nil
}
