package processed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"patternstore/database/types"
)

// FileStore is the CSV adapter for processed series. One file per
// (symbol, timeframe), fixed column order: timestamp, OHLCV, the
// whitelisted indicators, then extra columns in first-appearance order.
type FileStore struct {
	dir string
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the deterministic CSV path for a series
func (s *FileStore) Path(symbol, timeframe string) string {
	name := fmt.Sprintf("%s_%s_processed.csv", strings.ToUpper(symbol), timeframe)
	return filepath.Join(s.dir, name)
}

// WriteSeries writes the full series to its CSV file, replacing any
// previous contents. Returns the file path as the locator.
func (s *FileStore) WriteSeries(series types.ProcessedSeries) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("WriteSeries: %w", err)
	}
	path := s.Path(series.Symbol, series.Timeframe)

	// Extra columns keep the order in which their keys first appear
	var extraKeys []string
	seen := make(map[string]bool)
	for _, row := range series.Rows {
		for _, f := range row.Extra {
			if !seen[f.Key] {
				seen[f.Key] = true
				extraKeys = append(extraKeys, f.Key)
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("WriteSeries: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, 0, 6+len(indicatorColumns)+len(extraKeys))
	header = append(header, "timestamp", "open", "high", "low", "close", "volume")
	header = append(header, indicatorColumns...)
	header = append(header, extraKeys...)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("WriteSeries: %w", err)
	}

	for _, row := range series.Rows {
		rec := make([]string, 0, len(header))
		rec = append(rec,
			row.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(row.Open),
			formatFloat(row.High),
			formatFloat(row.Low),
			formatFloat(row.Close),
			formatFloat(row.Volume),
		)
		ind := row.Indicators
		for _, slot := range indicatorSlots(&ind) {
			rec = append(rec, formatOptional(*slot))
		}

		values := make(map[string]float64, len(row.Extra))
		for _, ft := range row.Extra {
			values[ft.Key] = ft.Value
		}
		present := make(map[string]bool, len(row.Extra))
		for _, ft := range row.Extra {
			present[ft.Key] = true
		}
		for _, key := range extraKeys {
			if present[key] {
				rec = append(rec, formatFloat(values[key]))
			} else {
				rec = append(rec, "")
			}
		}

		if err := w.Write(rec); err != nil {
			return "", fmt.Errorf("WriteSeries: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("WriteSeries: %w", err)
	}
	return path, nil
}

// ReadSeries reads back a series from its CSV file. A missing file is a
// miss, not an error: returns (nil, nil) so the caller can consult the
// other backend. A positive limit caps the number of rows read.
func (s *FileStore) ReadSeries(symbol, timeframe string, limit int) (*types.ProcessedSeries, error) {
	path := s.Path(symbol, timeframe)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ReadSeries: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("ReadSeries: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[name] = i
	}
	fixed := map[string]bool{
		"timestamp": true, "open": true, "high": true,
		"low": true, "close": true, "volume": true,
	}
	known := make(map[string]bool, len(indicatorColumns))
	for _, name := range indicatorColumns {
		known[name] = true
	}
	type extraCol struct {
		name string
		pos  int
	}
	var extras []extraCol
	for i, name := range header {
		if !fixed[name] && !known[name] {
			extras = append(extras, extraCol{name: name, pos: i})
		}
	}

	var rows []types.ProcessedRow
	for {
		if limit > 0 && len(rows) >= limit {
			break
		}
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ReadSeries: %w", err)
		}

		var row types.ProcessedRow
		row.Timestamp, err = time.Parse(time.RFC3339, rec[colIndex["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("ReadSeries: bad timestamp %q: %w", rec[colIndex["timestamp"]], err)
		}
		if row.Open, err = parseFloat(rec[colIndex["open"]]); err != nil {
			return nil, fmt.Errorf("ReadSeries: %w", err)
		}
		if row.High, err = parseFloat(rec[colIndex["high"]]); err != nil {
			return nil, fmt.Errorf("ReadSeries: %w", err)
		}
		if row.Low, err = parseFloat(rec[colIndex["low"]]); err != nil {
			return nil, fmt.Errorf("ReadSeries: %w", err)
		}
		if row.Close, err = parseFloat(rec[colIndex["close"]]); err != nil {
			return nil, fmt.Errorf("ReadSeries: %w", err)
		}
		if row.Volume, err = parseFloat(rec[colIndex["volume"]]); err != nil {
			return nil, fmt.Errorf("ReadSeries: %w", err)
		}

		slots := indicatorSlots(&row.Indicators)
		for i, name := range indicatorColumns {
			pos, ok := colIndex[name]
			if !ok || rec[pos] == "" {
				continue
			}
			v, err := parseFloat(rec[pos])
			if err != nil {
				return nil, fmt.Errorf("ReadSeries: %w", err)
			}
			value := v
			*slots[i] = &value
		}

		for _, ec := range extras {
			if rec[ec.pos] == "" {
				continue
			}
			v, err := parseFloat(rec[ec.pos])
			if err != nil {
				return nil, fmt.Errorf("ReadSeries: %w", err)
			}
			row.Extra = append(row.Extra, types.Feature{Key: ec.name, Value: v})
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return &types.ProcessedSeries{Symbol: symbol, Timeframe: timeframe, Rows: rows}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
