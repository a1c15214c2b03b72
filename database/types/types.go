package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// StorageBackend identifies a storage medium for pattern data
type StorageBackend string

const (
	// BackendDatabase stores entities in the relational backend
	BackendDatabase StorageBackend = "database"
	// BackendFile stores entities in the file backend
	BackendFile StorageBackend = "file"
	// BackendNone disables the fallback slot
	BackendNone StorageBackend = "none"
)

// StorageMode describes which backend is primary and which is fallback
type StorageMode struct {
	Primary  StorageBackend `json:"primary"`
	Fallback StorageBackend `json:"fallback"`
}

// HasFallback reports whether a fallback backend is configured
func (m StorageMode) HasFallback() bool {
	return m.Fallback != "" && m.Fallback != BackendNone
}

// FilePaths holds the file-backend root directory per data family
type FilePaths struct {
	Processed string `json:"processed_data"`
	Patterns  string `json:"patterns"`
	Analysis  string `json:"analysis"`
}

// OutcomeStatus is the tagged result of a repository save operation
type OutcomeStatus string

const (
	OutcomeSuccess        OutcomeStatus = "success"
	OutcomePartialFailure OutcomeStatus = "partial_failure"
	OutcomeNotFound       OutcomeStatus = "not_found"
	OutcomeFailed         OutcomeStatus = "failed"
)

// SaveResult reports where and how much data a save operation committed.
// CommittedChunks is only meaningful for partial failures: it tells the
// caller how many bulk chunks reached the relational backend before the
// write stopped, so a duplicate-avoiding retry is possible upstream.
type SaveResult struct {
	Status          OutcomeStatus  `json:"status"`
	Backend         StorageBackend `json:"backend"`
	Locator         string         `json:"locator,omitempty"`
	Records         int            `json:"records"`
	CommittedChunks int            `json:"committed_chunks,omitempty"`
}

// JSONMap stores an arbitrary JSON object in a single column.
// It implements driver.Valuer and sql.Scanner so GORM can persist it
// on both the Postgres and SQLite drivers.
type JSONMap map[string]interface{}

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("JSONMap: unsupported scan type %T", value)
	}
}

// IndicatorSet holds the whitelisted derived-indicator columns for one
// processed row. Fields are pointers so absent indicators stay NULL in
// the relational backend and empty in the CSV mirror.
type IndicatorSet struct {
	SMA5            *float64 `json:"sma_5,omitempty"`
	SMA10           *float64 `json:"sma_10,omitempty"`
	SMA20           *float64 `json:"sma_20,omitempty"`
	EMA5            *float64 `json:"ema_5,omitempty"`
	EMA10           *float64 `json:"ema_10,omitempty"`
	EMA20           *float64 `json:"ema_20,omitempty"`
	RSI14           *float64 `json:"rsi_14,omitempty"`
	MACD            *float64 `json:"macd,omitempty"`
	MACDSignal      *float64 `json:"macd_signal,omitempty"`
	MACDHist        *float64 `json:"macd_hist,omitempty"`
	BollingerUpper  *float64 `json:"bollinger_upper,omitempty"`
	BollingerMiddle *float64 `json:"bollinger_middle,omitempty"`
	BollingerLower  *float64 `json:"bollinger_lower,omitempty"`
	ATR14           *float64 `json:"atr_14,omitempty"`
	NormOpen        *float64 `json:"norm_open,omitempty"`
	NormHigh        *float64 `json:"norm_high,omitempty"`
	NormLow         *float64 `json:"norm_low,omitempty"`
	NormClose       *float64 `json:"norm_close,omitempty"`
	NormVolume      *float64 `json:"norm_volume,omitempty"`
}

// Feature is one entry of the open-ended derived-feature side table.
// Features keep their input order so the CSV mirror stays deterministic.
type Feature struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// ProcessedRow is one timestamped row of a processed series: fixed
// OHLCV columns, the whitelisted indicator set, and any remaining
// input columns folded into the ordered feature side table.
type ProcessedRow struct {
	Timestamp  time.Time    `json:"timestamp"`
	Open       float64      `json:"open"`
	High       float64      `json:"high"`
	Low        float64      `json:"low"`
	Close      float64      `json:"close"`
	Volume     float64      `json:"volume"`
	Indicators IndicatorSet `json:"indicators"`
	Extra      []Feature    `json:"extra,omitempty"`
}

// ProcessedSeries is a timestamp-ordered processed-row table
type ProcessedSeries struct {
	Symbol    string         `json:"symbol"`
	Timeframe string         `json:"timeframe"`
	Rows      []ProcessedRow `json:"rows"`
}

// Sample is one OHLC bar inside a pattern window
type Sample struct {
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Window is the ordered raw sample sequence of one pattern occurrence
type Window []Sample

// RepresentativeMeta is the caller-supplied representative descriptor
// for one cluster (index into the window list plus its timestamp).
type RepresentativeMeta struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
}

// PatternMetadata carries extraction-run metadata for a pattern save
type PatternMetadata struct {
	ExtractionDate  string                     `json:"extraction_date"`
	WindowSize      int                        `json:"window_size"`
	GridRows        int                        `json:"grid_rows"`
	GridCols        int                        `json:"grid_cols"`
	Representatives map[int]RepresentativeMeta `json:"representatives,omitempty"`
}

// PatternSet is the full output of one pattern-extraction run.
// Windows, Timestamps and ClusterLabels are parallel slices: entry i
// describes one occurrence. DistanceRows is accepted but only
// persisted inside the full binary blob.
type PatternSet struct {
	Metadata      PatternMetadata `json:"metadata"`
	Windows       []Window        `json:"windows"`
	Timestamps    []time.Time     `json:"timestamps"`
	ClusterLabels []int           `json:"cluster_labels"`
	DistanceRows  [][]float64     `json:"distance_rows,omitempty"`
}

// PatternSaveResult reports a completed pattern save
type PatternSaveResult struct {
	SaveResult
	Timeframe      string `json:"timeframe"`
	ExtractionDate string `json:"extraction_date"`
	Instances      int    `json:"n_patterns"`
	WindowSize     int    `json:"window_size"`
	Clusters       int    `json:"n_clusters"`
}

// RepresentativeDetail describes the representative occurrence of one
// cluster as resolved on read.
type RepresentativeDetail struct {
	Timestamp string `json:"timestamp"`
	Index     int    `json:"index"`
	Count     int    `json:"count"`
}

// PatternDetails is the read-side summary of a timeframe's patterns
type PatternDetails struct {
	Timeframe       string                       `json:"timeframe"`
	ExtractionDate  string                       `json:"extraction_date"`
	Instances       int                          `json:"n_patterns"`
	WindowSize      int                          `json:"window_size"`
	ClusterLabels   []int                        `json:"cluster_labels"`
	Representatives map[int]RepresentativeDetail `json:"representatives"`
}

// AnalysisParams are the shared parameters of one analysis run,
// embedded redundantly on every performance record so each record is
// self-describing even if the run metadata is later pruned.
type AnalysisParams struct {
	LookaheadPeriods      int     `json:"lookahead_periods"`
	SignificanceThreshold float64 `json:"significance_threshold"`
	MinOccurrences        int     `json:"min_occurrences"`
}

// ClusterReturns summarizes the forward-return distribution of one cluster
type ClusterReturns struct {
	Count        int     `json:"count"`
	AvgReturn    float64 `json:"avg_return"`
	MedianReturn float64 `json:"median_return"`
	StdReturn    float64 `json:"std_return"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
}

// SignificanceStats summarizes the statistical-significance test of one cluster
type SignificanceStats struct {
	TStatistic  float64 `json:"t_statistic"`
	PValue      float64 `json:"p_value"`
	Significant bool    `json:"significant"`
}

// AnalysisPayload is the caller-supplied analysis output for one run.
// A cluster missing from either map is skipped on save: not every
// discovered cluster meets the minimum-occurrence threshold.
type AnalysisPayload struct {
	AnalysisDate    string                    `json:"analysis_date"`
	Params          AnalysisParams            `json:"params"`
	TestPeriodStart time.Time                 `json:"test_period_start,omitempty"`
	TestPeriodEnd   time.Time                 `json:"test_period_end,omitempty"`
	Returns         map[int]ClusterReturns    `json:"cluster_returns"`
	Significance    map[int]SignificanceStats `json:"statistical_significance"`
}

// AnalysisSaveResult reports a completed analysis save
type AnalysisSaveResult struct {
	SaveResult
	Timeframe    string `json:"timeframe"`
	AnalysisDate string `json:"analysis_date"`
	Clusters     int    `json:"n_clusters"`
	Skipped      int    `json:"skipped_clusters"`
}

// OverallProfitability aggregates per-cluster results process-wide.
// ProfitFactor is 0 (not NaN) when no pooled return is negative.
type OverallProfitability struct {
	AvgReturn    float64 `json:"avg_return"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
}

// AnalysisDetails is the read-side summary of a timeframe's analysis
type AnalysisDetails struct {
	Timeframe           string                    `json:"timeframe"`
	AnalysisDate        string                    `json:"analysis_date"`
	Params              AnalysisParams            `json:"params"`
	Instances           int                       `json:"n_patterns"`
	Clusters            int                       `json:"n_clusters"`
	ProfitableClusters  int                       `json:"profitable_clusters"`
	SignificantClusters int                       `json:"significant_clusters"`
	Profitability       OverallProfitability      `json:"profitability"`
	Significance        map[int]SignificanceStats `json:"statistical_significance"`
	Returns             map[int]ClusterReturns    `json:"cluster_returns"`
}
