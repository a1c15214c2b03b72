// Package analysis persists pattern-performance results: one record per
// analyzed cluster linking back to its template, plus chart references,
// with a JSON document as the file fallback.
package analysis

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"patternstore/database"
	"patternstore/database/bulk"
	models "patternstore/database/models_pkg"
	"patternstore/database/settings"
	"patternstore/database/types"
	"patternstore/logger"
)

const (
	// DefaultSymbol is used when the analysis did not name its instrument
	DefaultSymbol = "XAU"

	relatedTypeAnalysis = "analysis"
)

// chartKinds are the analysis charts referenced by every saved run
var chartKinds = []string{"profitability", "significance", "distribution"}

// Options configures repository defaults
type Options struct {
	DefaultSymbol string
	ChunkSize     int
}

// Repository provides persistence operations for analysis results. The
// storage mode and file paths are re-resolved on every call.
type Repository struct {
	db        *database.Database
	registry  *settings.Registry
	log       *logger.Logger
	symbol    string
	chunkSize int
}

// NewRepository creates a new analysis repository
func NewRepository(db *database.Database, registry *settings.Registry, log *logger.Logger, opts Options) *Repository {
	if opts.DefaultSymbol == "" {
		opts.DefaultSymbol = DefaultSymbol
	}
	return &Repository{
		db:        db,
		registry:  registry,
		log:       log,
		symbol:    opts.DefaultSymbol,
		chunkSize: opts.ChunkSize,
	}
}

// Save persists one analysis run for a timeframe. Only clusters present
// in both the returns and significance maps are saved; the rest did not
// meet the analysis thresholds and are counted as skipped. On the
// relational backend each saved cluster must link to an existing
// pattern template; analyzing a timeframe with no templates is a
// validation error, not a fallback trigger.
func (r *Repository) Save(timeframe string, payload *types.AnalysisPayload) (*types.AnalysisSaveResult, error) {
	if timeframe == "" {
		return nil, database.NewValidationError("timeframe", "must not be empty")
	}
	if payload == nil || len(payload.Returns) == 0 {
		return nil, database.NewValidationError("cluster_returns", "must not be empty")
	}

	analysisDate := payload.AnalysisDate
	if analysisDate == "" {
		analysisDate = time.Now().UTC().Format(time.RFC3339)
	}

	clusters, skipped := pruneClusters(payload)

	mode := r.registry.ResolveMode()
	store := NewFileStore(r.registry.ResolvePaths().Analysis)

	doc := &document{
		Timeframe:       timeframe,
		AnalysisDate:    analysisDate,
		Params:          payload.Params,
		TestPeriodStart: payload.TestPeriodStart,
		TestPeriodEnd:   payload.TestPeriodEnd,
		Returns:         make(map[int]types.ClusterReturns, len(clusters)),
		Significance:    make(map[int]types.SignificanceStats, len(clusters)),
	}
	for _, cluster := range clusters {
		doc.Returns[cluster] = payload.Returns[cluster]
		doc.Significance[cluster] = payload.Significance[cluster]
	}

	result := &types.AnalysisSaveResult{
		Timeframe:    timeframe,
		AnalysisDate: analysisDate,
		Clusters:     len(clusters),
		Skipped:      skipped,
	}

	if mode.Primary == types.BackendDatabase {
		return r.saveDatabasePrimary(timeframe, doc, mode, store, result)
	}
	return r.saveFilePrimary(timeframe, doc, mode, store, result)
}

func (r *Repository) saveDatabasePrimary(timeframe string, doc *document, mode types.StorageMode, store *FileStore, result *types.AnalysisSaveResult) (*types.AnalysisSaveResult, error) {
	committed, err := r.saveDatabase(timeframe, doc, store)
	if err == nil {
		if mode.Fallback == types.BackendFile {
			if _, mirrorErr := store.WriteDocument(doc); mirrorErr != nil {
				r.log.Warn("analysis mirror write failed",
					logger.String("timeframe", timeframe), logger.Error(mirrorErr))
			}
		}
		result.SaveResult = types.SaveResult{
			Status:  types.OutcomeSuccess,
			Backend: types.BackendDatabase,
			Locator: fmt.Sprintf("database://%s_analysis", timeframe),
			Records: len(doc.Returns),
		}
		return result, nil
	}

	// A malformed run must fail loudly, not land on the other backend
	var invalid *database.ValidationError
	if errors.As(err, &invalid) {
		return nil, err
	}

	r.log.Error("analysis database save failed",
		logger.String("timeframe", timeframe),
		logger.Int("committed_chunks", committed), logger.Error(err))
	if mode.Fallback != types.BackendFile {
		return nil, database.NewPartialWriteError("AnalysisRepository.Save", timeframe, committed, err)
	}

	path, fileErr := store.WriteDocument(doc)
	if fileErr != nil {
		r.log.Error("analysis fallback save failed",
			logger.String("timeframe", timeframe), logger.Error(fileErr))
		return nil, database.NewPartialWriteError("AnalysisRepository.Save", timeframe, committed,
			fmt.Errorf("primary: %v; fallback: %w", err, fileErr))
	}

	status := types.OutcomeSuccess
	if committed > 0 {
		status = types.OutcomePartialFailure
	}
	result.SaveResult = types.SaveResult{
		Status:          status,
		Backend:         types.BackendFile,
		Locator:         path,
		Records:         len(doc.Returns),
		CommittedChunks: committed,
	}
	return result, nil
}

func (r *Repository) saveFilePrimary(timeframe string, doc *document, mode types.StorageMode, store *FileStore, result *types.AnalysisSaveResult) (*types.AnalysisSaveResult, error) {
	path, err := store.WriteDocument(doc)
	if err == nil {
		result.SaveResult = types.SaveResult{
			Status:  types.OutcomeSuccess,
			Backend: types.BackendFile,
			Locator: path,
			Records: len(doc.Returns),
		}
		return result, nil
	}

	r.log.Error("analysis file save failed",
		logger.String("timeframe", timeframe), logger.Error(err))
	if mode.Fallback != types.BackendDatabase {
		return nil, database.WrapDBError("AnalysisRepository.Save", timeframe, err)
	}

	committed, dbErr := r.saveDatabase(timeframe, doc, store)
	if dbErr != nil {
		// A malformed run must fail loudly, not hide behind the file error
		var invalid *database.ValidationError
		if errors.As(dbErr, &invalid) {
			return nil, dbErr
		}
		return nil, database.NewPartialWriteError("AnalysisRepository.Save", timeframe, committed,
			fmt.Errorf("primary: %v; fallback: %w", err, dbErr))
	}
	result.SaveResult = types.SaveResult{
		Status:  types.OutcomeSuccess,
		Backend: types.BackendDatabase,
		Locator: fmt.Sprintf("database://%s_analysis", timeframe),
		Records: len(doc.Returns),
	}
	return result, nil
}

// saveDatabase upserts one performance record per analyzed cluster on
// the run's natural key and replaces the timeframe's chart references.
// All three charts of a run share one related-entity ID.
func (r *Repository) saveDatabase(timeframe string, doc *document, store *FileStore) (int, error) {
	var templates []models.PatternTemplate
	if err := r.db.DB().Where("timeframe = ?", timeframe).Find(&templates).Error; err != nil {
		return 0, fmt.Errorf("saveDatabase: %w", err)
	}
	if len(templates) == 0 {
		return 0, database.NewValidationError("timeframe",
			fmt.Sprintf("no pattern templates exist for timeframe %s", timeframe))
	}
	templateByCluster := make(map[int]models.PatternTemplate, len(templates))
	for _, tpl := range templates {
		templateByCluster[tpl.ClusterID] = tpl
	}

	records := make([]models.PerformanceRecord, 0, len(doc.Returns))
	for _, cluster := range sortedClusters(doc.Returns) {
		tpl, ok := templateByCluster[cluster]
		if !ok {
			r.log.Warn("skipping analyzed cluster with no template",
				logger.String("timeframe", timeframe), logger.Int("cluster", cluster))
			continue
		}
		ret := doc.Returns[cluster]
		sig := doc.Significance[cluster]
		records = append(records, models.PerformanceRecord{
			TemplateID:      tpl.ID,
			ClusterID:       cluster,
			Symbol:          r.symbol,
			Timeframe:       timeframe,
			TestPeriodStart: doc.TestPeriodStart,
			TestPeriodEnd:   doc.TestPeriodEnd,
			ProfitFactor:    ret.ProfitFactor,
			WinRate:         ret.WinRate,
			MeanReturn:      ret.AvgReturn,
			MedianReturn:    ret.MedianReturn,
			StdReturn:       ret.StdReturn,
			TStatistic:      sig.TStatistic,
			PValue:          sig.PValue,
			IsSignificant:   sig.Significant,
			TotalTrades:     ret.Count,
			AnalysisDate:    doc.AnalysisDate,
			Params:          doc.Params,
		})
	}
	if len(records) == 0 {
		return 0, database.NewValidationError("cluster_returns",
			"no analyzed cluster matches an existing template")
	}

	committed, err := bulk.WriteMany(records, r.chunkSize, func(chunk []models.PerformanceRecord) error {
		return r.db.DB().Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "timeframe"}, {Name: "template_id"}, {Name: "cluster_id"}},
			UpdateAll: true,
		}).Create(&chunk).Error
	})
	if err != nil {
		return committed, err
	}

	err = r.db.DB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("related_type = ? AND file_path LIKE ?",
			relatedTypeAnalysis, store.ChartPath(timeframe, "%")).
			Delete(&models.Visualization{}).Error; err != nil {
			return err
		}
		runID := uuid.NewString()
		visuals := make([]models.Visualization, 0, len(chartKinds))
		for _, kind := range chartKinds {
			visuals = append(visuals, models.Visualization{
				RelatedType: relatedTypeAnalysis,
				RelatedID:   runID,
				Kind:        kind,
				FilePath:    store.ChartPath(timeframe, kind),
				Params: types.JSONMap{
					"timeframe":     timeframe,
					"analysis_date": doc.AnalysisDate,
				},
			})
		}
		return tx.Create(&visuals).Error
	})
	if err != nil {
		return committed, fmt.Errorf("saveDatabase: %w", err)
	}
	return committed, nil
}

// GetDetails reads back a timeframe's analysis with process-wide
// aggregates derived from the per-cluster results.
func (r *Repository) GetDetails(timeframe string) (*types.AnalysisDetails, error) {
	if timeframe == "" {
		return nil, database.NewValidationError("timeframe", "must not be empty")
	}

	mode := r.registry.ResolveMode()
	store := NewFileStore(r.registry.ResolvePaths().Analysis)

	readDatabase := func() (*types.AnalysisDetails, error) {
		return r.queryDetails(timeframe)
	}
	readFile := func() (*types.AnalysisDetails, error) {
		doc, err := store.ReadDocument(timeframe)
		if err != nil || doc == nil {
			return nil, err
		}
		return detailsFromDocument(doc), nil
	}

	primary, fallback := readDatabase, readFile
	if mode.Primary == types.BackendFile {
		primary, fallback = readFile, readDatabase
	}

	details, primaryErr := primary()
	if primaryErr == nil && details != nil {
		return details, nil
	}
	if primaryErr != nil {
		r.log.Warn("analysis primary read failed, trying fallback",
			logger.String("timeframe", timeframe), logger.Error(primaryErr))
	}

	if !mode.HasFallback() {
		if primaryErr != nil {
			return nil, database.WrapDBError("AnalysisRepository.GetDetails", timeframe, primaryErr)
		}
		return nil, database.NewNotFoundError("analysis", timeframe)
	}

	details, fallbackErr := fallback()
	if fallbackErr == nil && details != nil {
		return details, nil
	}
	if primaryErr == nil && fallbackErr == nil {
		return nil, database.NewNotFoundError("analysis", timeframe)
	}
	if fallbackErr == nil {
		fallbackErr = primaryErr
	}
	return nil, database.WrapDBError("AnalysisRepository.GetDetails", timeframe, fallbackErr)
}

// queryDetails returns (nil, nil) when the timeframe has no records
func (r *Repository) queryDetails(timeframe string) (*types.AnalysisDetails, error) {
	var records []models.PerformanceRecord
	if err := r.db.DB().Where("timeframe = ?", timeframe).
		Order("cluster_id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("queryDetails: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	doc := &document{
		Timeframe:    timeframe,
		AnalysisDate: records[0].AnalysisDate,
		Params:       records[0].Params,
		Returns:      make(map[int]types.ClusterReturns, len(records)),
		Significance: make(map[int]types.SignificanceStats, len(records)),
	}
	for _, rec := range records {
		doc.Returns[rec.ClusterID] = types.ClusterReturns{
			Count:        rec.TotalTrades,
			AvgReturn:    rec.MeanReturn,
			MedianReturn: rec.MedianReturn,
			StdReturn:    rec.StdReturn,
			WinRate:      rec.WinRate,
			ProfitFactor: rec.ProfitFactor,
		}
		doc.Significance[rec.ClusterID] = types.SignificanceStats{
			TStatistic:  rec.TStatistic,
			PValue:      rec.PValue,
			Significant: rec.IsSignificant,
		}
	}
	return detailsFromDocument(doc), nil
}

// detailsFromDocument derives the aggregates both backends share
func detailsFromDocument(doc *document) *types.AnalysisDetails {
	return &types.AnalysisDetails{
		Timeframe:           doc.Timeframe,
		AnalysisDate:        doc.AnalysisDate,
		Params:              doc.Params,
		Instances:           totalTrades(doc.Returns),
		Clusters:            len(doc.Returns),
		ProfitableClusters:  countProfitable(doc.Returns),
		SignificantClusters: countSignificant(doc.Significance),
		Profitability:       overallProfitability(doc.Returns),
		Significance:        doc.Significance,
		Returns:             doc.Returns,
	}
}

// pruneClusters returns the sorted clusters present in both maps and
// the count of clusters dropped for appearing in only one.
func pruneClusters(payload *types.AnalysisPayload) ([]int, int) {
	union := make(map[int]bool, len(payload.Returns)+len(payload.Significance))
	var clusters []int
	for cluster := range payload.Returns {
		union[cluster] = true
		if _, ok := payload.Significance[cluster]; ok {
			clusters = append(clusters, cluster)
		}
	}
	for cluster := range payload.Significance {
		union[cluster] = true
	}
	sort.Ints(clusters)
	return clusters, len(union) - len(clusters)
}

func sortedClusters(returns map[int]types.ClusterReturns) []int {
	clusters := make([]int, 0, len(returns))
	for cluster := range returns {
		clusters = append(clusters, cluster)
	}
	sort.Ints(clusters)
	return clusters
}
