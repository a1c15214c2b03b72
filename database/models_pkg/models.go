package models

import (
	"time"

	"patternstore/database/types"
)

// ProcessedRecord is one row of a processed price series: OHLCV plus
// the whitelisted technical-indicator columns for one timestamp.
//
// Key Fields:
//   - Timestamp: bar timestamp, unique within (Symbol, Timeframe)
//   - Symbol/Timeframe: series partition keys
//   - Indicator columns: nullable, only set when preprocessing produced them
//   - FeatureData: any extra input columns folded into a JSON side table
//
// Records are created in bulk by preprocessing and never updated in
// place; re-running preprocessing for the same timeframe upserts on
// the natural key, so the latest run wins.
type ProcessedRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"uniqueIndex:idx_processed_natural,priority:3;not null" json:"timestamp"`
	Symbol    string    `gorm:"size:10;uniqueIndex:idx_processed_natural,priority:1;not null" json:"symbol"`
	Timeframe string    `gorm:"size:10;uniqueIndex:idx_processed_natural,priority:2;not null" json:"timeframe"`
	Open      float64   `gorm:"type:decimal(15,6);not null" json:"open"`
	High      float64   `gorm:"type:decimal(15,6);not null" json:"high"`
	Low       float64   `gorm:"type:decimal(15,6);not null" json:"low"`
	Close     float64   `gorm:"type:decimal(15,6);not null" json:"close"`
	Volume    float64   `gorm:"type:decimal(20,2)" json:"volume"`

	SMA5            *float64 `gorm:"column:sma_5;type:decimal(15,6)" json:"sma_5,omitempty"`
	SMA10           *float64 `gorm:"column:sma_10;type:decimal(15,6)" json:"sma_10,omitempty"`
	SMA20           *float64 `gorm:"column:sma_20;type:decimal(15,6)" json:"sma_20,omitempty"`
	EMA5            *float64 `gorm:"column:ema_5;type:decimal(15,6)" json:"ema_5,omitempty"`
	EMA10           *float64 `gorm:"column:ema_10;type:decimal(15,6)" json:"ema_10,omitempty"`
	EMA20           *float64 `gorm:"column:ema_20;type:decimal(15,6)" json:"ema_20,omitempty"`
	RSI14           *float64 `gorm:"column:rsi_14;type:decimal(10,4)" json:"rsi_14,omitempty"`
	MACD            *float64 `gorm:"type:decimal(15,6)" json:"macd,omitempty"`
	MACDSignal      *float64 `gorm:"type:decimal(15,6)" json:"macd_signal,omitempty"`
	MACDHist        *float64 `gorm:"type:decimal(15,6)" json:"macd_hist,omitempty"`
	BollingerUpper  *float64 `gorm:"type:decimal(15,6)" json:"bollinger_upper,omitempty"`
	BollingerMiddle *float64 `gorm:"type:decimal(15,6)" json:"bollinger_middle,omitempty"`
	BollingerLower  *float64 `gorm:"type:decimal(15,6)" json:"bollinger_lower,omitempty"`
	ATR14           *float64 `gorm:"column:atr_14;type:decimal(15,6)" json:"atr_14,omitempty"`
	NormOpen        *float64 `gorm:"type:decimal(10,6)" json:"norm_open,omitempty"`
	NormHigh        *float64 `gorm:"type:decimal(10,6)" json:"norm_high,omitempty"`
	NormLow         *float64 `gorm:"type:decimal(10,6)" json:"norm_low,omitempty"`
	NormClose       *float64 `gorm:"type:decimal(10,6)" json:"norm_close,omitempty"`
	NormVolume      *float64 `gorm:"type:decimal(10,6)" json:"norm_volume,omitempty"`

	FeatureData types.JSONMap `gorm:"type:jsonb" json:"feature_data,omitempty"`
}

// TableName specifies the table name for ProcessedRecord
func (ProcessedRecord) TableName() string {
	return "processed_records"
}

// RepresentativeRef is the embedded representative-instance descriptor
// carried on each template: the window index and timestamp of the
// occurrence chosen to exemplify the cluster at extraction time.
type RepresentativeRef struct {
	Index     int    `gorm:"default:0" json:"index"`
	Timestamp string `gorm:"size:64" json:"timestamp"`
}

// PatternTemplate is one discovered pattern cluster within a
// timeframe's extraction run.
//
// Key Fields:
//   - ClusterID: integer cluster label, unique within (Timeframe, extraction run)
//   - Occurrences: number of instances carrying this label
//   - GridRows/GridCols: template-grid dimensions of the extraction
//   - Representative: embedded representative-instance descriptor
//   - VisualizationPath: deterministic path of the template chart
//
// A template owns its instances: re-extracting a timeframe supersedes
// the previous run's templates and invalidates their instances.
type PatternTemplate struct {
	ID                 string            `gorm:"primaryKey;size:36" json:"id"`
	Symbol             string            `gorm:"size:10;index;not null" json:"symbol"`
	Timeframe          string            `gorm:"size:10;index;not null" json:"timeframe"`
	Name               string            `gorm:"size:100;not null" json:"name"`
	Description        string            `json:"description"`
	DiscoveryTimestamp time.Time         `gorm:"index" json:"discovery_timestamp"`
	DiscoveryMethod    string            `gorm:"size:50" json:"discovery_method"`
	GridRows           int               `gorm:"default:10" json:"grid_rows"`
	GridCols           int               `gorm:"default:10" json:"grid_cols"`
	WindowSize         int               `gorm:"default:5" json:"window_size"`
	ClusterID          int               `gorm:"index;not null" json:"cluster_id"`
	Occurrences        int               `json:"n_occurrences"`
	VisualizationPath  string            `json:"visualization_path"`
	Representative     RepresentativeRef `gorm:"embedded;embeddedPrefix:representative_" json:"representative"`
	ExtractionDate     string            `gorm:"size:64" json:"extraction_date"`
}

// TableName specifies the table name for PatternTemplate
func (PatternTemplate) TableName() string {
	return "pattern_templates"
}

// PatternInstance is one occurrence of a pattern in the source series.
// The raw window samples are serialized into WindowData as a versioned
// binary blob so the occurrence can be reconstructed without the
// original extraction output.
type PatternInstance struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID     string    `gorm:"size:36;index;not null" json:"template_id"`
	Symbol         string    `gorm:"size:10;not null" json:"symbol"`
	Timeframe      string    `gorm:"size:10;index;not null" json:"timeframe"`
	ClusterID      int       `gorm:"index;not null" json:"cluster_id"`
	StartTimestamp time.Time `gorm:"index;not null" json:"start_timestamp"`
	EndTimestamp   time.Time `json:"end_timestamp"`
	MatchScore     float64   `gorm:"type:decimal(6,4);default:1" json:"match_score"`
	WindowIndex    int       `json:"window_index"`
	WindowData     []byte    `json:"-"`
}

// TableName specifies the table name for PatternInstance
func (PatternInstance) TableName() string {
	return "pattern_instances"
}

// Visualization is a reference to a generated chart artifact. It is a
// weak reference: the related entity may be regenerated or pruned
// independently, and the artifact itself is produced by an external
// collaborator (possibly lazily).
type Visualization struct {
	ID          int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	RelatedType string        `gorm:"size:30;index;not null" json:"related_entity_type"` // pattern_template, analysis
	RelatedID   string        `gorm:"size:36;index;not null" json:"related_entity_id"`
	Kind        string        `gorm:"size:30;not null" json:"visualization_type"` // template, candlestick, profitability, significance, distribution
	GeneratedAt time.Time     `gorm:"autoCreateTime" json:"generated_at"`
	FilePath    string        `gorm:"not null" json:"file_path"`
	Params      types.JSONMap `gorm:"type:jsonb" json:"params,omitempty"`
}

// TableName specifies the table name for Visualization
func (Visualization) TableName() string {
	return "visualizations"
}

// PerformanceRecord is one cluster's profitability and significance
// result for one analysis run. The run parameters are embedded
// redundantly on every record so a record stays self-describing.
type PerformanceRecord struct {
	ID              int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID      string    `gorm:"size:36;uniqueIndex:idx_performance_natural,priority:2;not null" json:"template_id"`
	ClusterID       int       `gorm:"uniqueIndex:idx_performance_natural,priority:3;not null" json:"cluster_id"`
	Symbol          string    `gorm:"size:10;not null" json:"symbol"`
	Timeframe       string    `gorm:"size:10;uniqueIndex:idx_performance_natural,priority:1;not null" json:"timeframe"`
	TestPeriodStart time.Time `json:"test_period_start"`
	TestPeriodEnd   time.Time `json:"test_period_end"`
	ProfitFactor    float64   `gorm:"type:decimal(10,4)" json:"profit_factor"`
	WinRate         float64   `gorm:"type:decimal(6,4)" json:"win_rate"`
	MeanReturn      float64   `gorm:"type:decimal(12,8)" json:"mean_return"`
	MedianReturn    float64   `gorm:"type:decimal(12,8)" json:"median_return"`
	StdReturn       float64   `gorm:"type:decimal(12,8)" json:"std_return"`
	TStatistic      float64   `gorm:"type:decimal(10,4)" json:"t_statistic"`
	PValue          float64   `gorm:"type:decimal(10,8);default:1" json:"p_value"`
	IsSignificant   bool      `gorm:"default:false" json:"is_significant"`
	TotalTrades     int       `json:"total_trades"`
	AnalysisDate    string    `gorm:"size:64" json:"analysis_date"`

	Params types.AnalysisParams `gorm:"embedded;embeddedPrefix:param_" json:"test_parameters"`
}

// TableName specifies the table name for PerformanceRecord
func (PerformanceRecord) TableName() string {
	return "performance_records"
}

// StorageSetting is one process-wide configuration row (key → JSON
// value). Mutated only by explicit configuration updates, never by
// data operations.
type StorageSetting struct {
	Key       string        `gorm:"primaryKey;size:50;column:setting_key" json:"setting_key"`
	Value     types.JSONMap `gorm:"type:jsonb;column:setting_value" json:"setting_value"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for StorageSetting
func (StorageSetting) TableName() string {
	return "storage_settings"
}
