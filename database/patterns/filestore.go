package patterns

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"patternstore/database/types"
)

// FileStore is the file adapter for pattern sets. Each timeframe gets a
// compact JSON summary plus a full binary blob holding everything the
// summary drops (raw windows, distance rows).
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// SummaryPath returns the JSON summary path for a timeframe
func (s *FileStore) SummaryPath(timeframe string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_patterns.json", timeframe))
}

// BlobPath returns the full binary blob path for a timeframe
func (s *FileStore) BlobPath(timeframe string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_full_patterns.bin", timeframe))
}

// TemplateChartPath returns the deterministic template chart location
// for one cluster. The chart itself is produced by an external
// collaborator, possibly lazily.
func (s *FileStore) TemplateChartPath(timeframe string, cluster int) string {
	name := fmt.Sprintf("%s_cluster_%d.png", timeframe, cluster)
	return filepath.Join(s.dir, "visualizations", name)
}

// CandlestickChartPath returns the candlestick chart location for one cluster
func (s *FileStore) CandlestickChartPath(timeframe string, cluster int) string {
	name := fmt.Sprintf("%s_cluster_%d_candlestick.png", timeframe, cluster)
	return filepath.Join(s.dir, "visualizations", name)
}

// fileSummary is the on-disk JSON summary shape
type fileSummary struct {
	types.PatternDetails
	GridRows int `json:"grid_rows"`
	GridCols int `json:"grid_cols"`
}

// WriteSet persists a pattern set to the file backend: the summary as
// JSON and the full set as a versioned binary blob. Returns the summary
// path as the locator.
func (s *FileStore) WriteSet(set *types.PatternSet, details *types.PatternDetails) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("WriteSet: %w", err)
	}

	summary := fileSummary{
		PatternDetails: *details,
		GridRows:       set.Metadata.GridRows,
		GridCols:       set.Metadata.GridCols,
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("WriteSet: %w", err)
	}
	path := s.SummaryPath(details.Timeframe)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("WriteSet: %w", err)
	}

	if err := os.WriteFile(s.BlobPath(details.Timeframe), MarshalPatternSet(set), 0o644); err != nil {
		return "", fmt.Errorf("WriteSet: %w", err)
	}
	return path, nil
}

// ReadDetails reads back the summary for a timeframe. A missing file is
// a miss, not an error: returns (nil, nil) so the caller can consult
// the other backend.
func (s *FileStore) ReadDetails(timeframe string) (*types.PatternDetails, error) {
	raw, err := os.ReadFile(s.SummaryPath(timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ReadDetails: %w", err)
	}
	var summary fileSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return nil, fmt.Errorf("ReadDetails: %w", err)
	}
	return &summary.PatternDetails, nil
}

// ReadSet reads back the full pattern set from the binary blob.
// Returns (nil, nil) when no blob exists for the timeframe.
func (s *FileStore) ReadSet(timeframe string) (*types.PatternSet, error) {
	raw, err := os.ReadFile(s.BlobPath(timeframe))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ReadSet: %w", err)
	}
	set, err := UnmarshalPatternSet(raw)
	if err != nil {
		return nil, fmt.Errorf("ReadSet: %w", err)
	}
	return set, nil
}
