// Package patterns persists pattern-extraction output: one template
// per discovered cluster, one instance per occurrence, and chart
// references, with a JSON-summary-plus-binary-blob file fallback.
package patterns

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"patternstore/database"
	"patternstore/database/bulk"
	models "patternstore/database/models_pkg"
	"patternstore/database/settings"
	"patternstore/database/types"
	"patternstore/logger"
)

const (
	// DefaultSymbol is used when the extraction did not name its instrument
	DefaultSymbol = "XAU"

	defaultWindowSize = 5
	defaultGridDim    = 10
	defaultMatchScore = 1.0

	discoveryMethod = "template_grid_clustering"

	relatedTypeTemplate = "pattern_template"
	kindTemplate        = "template"
	kindCandlestick     = "candlestick"
)

// Options configures repository defaults
type Options struct {
	DefaultSymbol string
	ChunkSize     int
}

// Repository provides persistence operations for pattern sets. The
// storage mode and file paths are re-resolved on every call.
type Repository struct {
	db        *database.Database
	registry  *settings.Registry
	log       *logger.Logger
	symbol    string
	chunkSize int
}

// NewRepository creates a new pattern repository
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

// Save persists one extraction run for a timeframe. On the relational
// backend a run materializes as one template per distinct cluster label
// plus one instance per occurrence; saving a timeframe again supersedes
// the previous run's templates, instances and chart references.
//
// Instances are written in bulk chunks; a failure after some chunks
// committed is reported as a partial failure with the chunk count.
func (r *Repository) Save(timeframe string, set *types.PatternSet) (*types.PatternSaveResult, error) {
	if timeframe == "" {
		return nil, database.NewValidationError("timeframe", "must not be empty")
	}
	if set == nil || len(set.Windows) == 0 {
		return nil, database.NewValidationError("windows", "must not be empty")
	}
	if len(set.Windows) != len(set.Timestamps) || len(set.Windows) != len(set.ClusterLabels) {
		return nil, database.NewValidationError("windows",
			"windows, timestamps and cluster_labels must have equal lengths")
	}

	normalized := *set
	applyDefaults(&normalized)

	mode := r.registry.ResolveMode()
	store := NewFileStore(r.registry.ResolvePaths().Patterns)
	details := computeDetails(timeframe, &normalized)

	result := &types.PatternSaveResult{
		Timeframe:      timeframe,
		ExtractionDate: normalized.Metadata.ExtractionDate,
		Instances:      len(normalized.Windows),
		WindowSize:     normalized.Metadata.WindowSize,
		Clusters:       len(details.Representatives),
	}

	if mode.Primary == types.BackendDatabase {
		return r.saveDatabasePrimary(timeframe, &normalized, details, mode, store, result)
	}
	return r.saveFilePrimary(timeframe, &normalized, details, mode, store, result)
}

func (r *Repository) saveDatabasePrimary(timeframe string, set *types.PatternSet, details *types.PatternDetails, mode types.StorageMode, store *FileStore, result *types.PatternSaveResult) (*types.PatternSaveResult, error) {
	committed, err := r.saveDatabase(timeframe, set, store)
	if err == nil {
		if mode.Fallback == types.BackendFile {
			if _, mirrorErr := store.WriteSet(set, details); mirrorErr != nil {
				r.log.Warn("pattern mirror write failed",
					logger.String("timeframe", timeframe), logger.Error(mirrorErr))
			}
		}
		result.SaveResult = types.SaveResult{
			Status:  types.OutcomeSuccess,
			Backend: types.BackendDatabase,
			Locator: fmt.Sprintf("database://%s_patterns", timeframe),
			Records: len(set.Windows),
		}
		return result, nil
	}

	r.log.Error("pattern database save failed",
		logger.String("timeframe", timeframe),
		logger.Int("committed_chunks", committed), logger.Error(err))
	if mode.Fallback != types.BackendFile {
		return nil, database.NewPartialWriteError("PatternRepository.Save", timeframe, committed, err)
	}

	path, fileErr := store.WriteSet(set, details)
	if fileErr != nil {
		r.log.Error("pattern fallback save failed",
			logger.String("timeframe", timeframe), logger.Error(fileErr))
		return nil, database.NewPartialWriteError("PatternRepository.Save", timeframe, committed,
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
		Records:         len(set.Windows),
		CommittedChunks: committed,
	}
	return result, nil
}

func (r *Repository) saveFilePrimary(timeframe string, set *types.PatternSet, details *types.PatternDetails, mode types.StorageMode, store *FileStore, result *types.PatternSaveResult) (*types.PatternSaveResult, error) {
	path, err := store.WriteSet(set, details)
	if err == nil {
		result.SaveResult = types.SaveResult{
			Status:  types.OutcomeSuccess,
			Backend: types.BackendFile,
			Locator: path,
			Records: len(set.Windows),
		}
		return result, nil
	}

	r.log.Error("pattern file save failed",
		logger.String("timeframe", timeframe), logger.Error(err))
	if mode.Fallback != types.BackendDatabase {
		return nil, database.WrapDBError("PatternRepository.Save", timeframe, err)
	}

	committed, dbErr := r.saveDatabase(timeframe, set, store)
	if dbErr != nil {
		return nil, database.NewPartialWriteError("PatternRepository.Save", timeframe, committed,
			fmt.Errorf("primary: %v; fallback: %w", err, dbErr))
	}
	result.SaveResult = types.SaveResult{
		Status:  types.OutcomeSuccess,
		Backend: types.BackendDatabase,
		Locator: fmt.Sprintf("database://%s_patterns", timeframe),
		Records: len(set.Windows),
	}
	return result, nil
}

// saveDatabase replaces the timeframe's previous run and inserts the
// new templates, then the instances in bulk chunks, then the chart
// references.
func (r *Repository) saveDatabase(timeframe string, set *types.PatternSet, store *FileStore) (int, error) {
	counts := make(map[int]int)
	for _, label := range set.ClusterLabels {
		counts[label]++
	}

	now := time.Now().UTC()
	templates := make([]models.PatternTemplate, 0, len(counts))
	templateByLabel := make(map[int]string, len(counts))
	for _, label := range sortedLabels(counts) {
		rep, ok := set.Metadata.Representatives[label]
		if !ok {
			rep = types.RepresentativeMeta{Index: 0, Timestamp: "unknown"}
		}
		id := uuid.NewString()
		templateByLabel[label] = id
		templates = append(templates, models.PatternTemplate{
			ID:                 id,
			Symbol:             r.symbol,
			Timeframe:          timeframe,
			Name:               fmt.Sprintf("%s_pattern_%d", timeframe, label),
			Description:        fmt.Sprintf("Cluster %d discovered from %s windows", label, timeframe),
			DiscoveryTimestamp: now,
			DiscoveryMethod:    discoveryMethod,
			GridRows:           set.Metadata.GridRows,
			GridCols:           set.Metadata.GridCols,
			WindowSize:         set.Metadata.WindowSize,
			ClusterID:          label,
			Occurrences:        counts[label],
			VisualizationPath:  store.TemplateChartPath(timeframe, label),
			Representative:     models.RepresentativeRef{Index: rep.Index, Timestamp: rep.Timestamp},
			ExtractionDate:     set.Metadata.ExtractionDate,
		})
	}

	err := r.db.DB().Transaction(func(tx *gorm.DB) error {
		var oldIDs []string
		if err := tx.Model(&models.PatternTemplate{}).
			Where("timeframe = ?", timeframe).Pluck("id", &oldIDs).Error; err != nil {
			return err
		}
		if len(oldIDs) > 0 {
			if err := tx.Where("related_type = ? AND related_id IN ?", relatedTypeTemplate, oldIDs).
				Delete(&models.Visualization{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("timeframe = ?", timeframe).Delete(&models.PatternInstance{}).Error; err != nil {
			return err
		}
		if err := tx.Where("timeframe = ?", timeframe).Delete(&models.PatternTemplate{}).Error; err != nil {
			return err
		}
		return tx.Create(&templates).Error
	})
	if err != nil {
		return 0, fmt.Errorf("saveDatabase: %w", err)
	}

	instances := make([]models.PatternInstance, 0, len(set.Windows))
	for i, window := range set.Windows {
		label := set.ClusterLabels[i]
		instances = append(instances, models.PatternInstance{
			TemplateID:     templateByLabel[label],
			Symbol:         r.symbol,
			Timeframe:      timeframe,
			ClusterID:      label,
			StartTimestamp: set.Timestamps[i],
			EndTimestamp:   set.Timestamps[i],
			MatchScore:     defaultMatchScore,
			WindowIndex:    i,
			WindowData:     MarshalWindow(window),
		})
	}
	committed, err := bulk.WriteMany(instances, r.chunkSize, func(chunk []models.PatternInstance) error {
		return r.db.DB().Create(&chunk).Error
	})
	if err != nil {
		return committed, err
	}

	// Chart references go in last, once the run's data is in place
	visuals := make([]models.Visualization, 0, len(templates))
	for _, tpl := range templates {
		params := types.JSONMap{
			"timeframe":  timeframe,
			"cluster_id": tpl.ClusterID,
		}
		visuals = append(visuals, models.Visualization{
			RelatedType: relatedTypeTemplate,
			RelatedID:   tpl.ID,
			Kind:        kindTemplate,
			FilePath:    tpl.VisualizationPath,
			Params:      params,
		})
		// Candlestick charts are optional; reference only ones that exist
		candle := store.CandlestickChartPath(timeframe, tpl.ClusterID)
		if _, statErr := os.Stat(candle); statErr == nil {
			visuals = append(visuals, models.Visualization{
				RelatedType: relatedTypeTemplate,
				RelatedID:   tpl.ID,
				Kind:        kindCandlestick,
				FilePath:    candle,
				Params:      params,
			})
		}
	}
	if err := r.db.DB().Create(&visuals).Error; err != nil {
		return committed, fmt.Errorf("saveDatabase: %w", err)
	}
	return committed, nil
}

// GetDetails reads back the summary of a timeframe's latest extraction
// run. Each cluster's representative is its most recent occurrence; a
// cluster whose occurrences cannot be resolved is omitted from the
// representatives map rather than failing the read.
func (r *Repository) GetDetails(timeframe string) (*types.PatternDetails, error) {
	if timeframe == "" {
		return nil, database.NewValidationError("timeframe", "must not be empty")
	}

	mode := r.registry.ResolveMode()
	store := NewFileStore(r.registry.ResolvePaths().Patterns)

	readDatabase := func() (*types.PatternDetails, error) {
		return r.queryDetails(timeframe)
	}
	readFile := func() (*types.PatternDetails, error) {
		return store.ReadDetails(timeframe)
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
		r.log.Warn("pattern primary read failed, trying fallback",
			logger.String("timeframe", timeframe), logger.Error(primaryErr))
	}

	if !mode.HasFallback() {
		if primaryErr != nil {
			return nil, database.WrapDBError("PatternRepository.GetDetails", timeframe, primaryErr)
		}
		return nil, database.NewNotFoundError("patterns", timeframe)
	}

	details, fallbackErr := fallback()
	if fallbackErr == nil && details != nil {
		return details, nil
	}
	if primaryErr == nil && fallbackErr == nil {
		return nil, database.NewNotFoundError("patterns", timeframe)
	}
	if fallbackErr == nil {
		fallbackErr = primaryErr
	}
	return nil, database.WrapDBError("PatternRepository.GetDetails", timeframe, fallbackErr)
}

// queryDetails returns (nil, nil) when the timeframe has no templates
func (r *Repository) queryDetails(timeframe string) (*types.PatternDetails, error) {
	var templates []models.PatternTemplate
	if err := r.db.DB().Where("timeframe = ?", timeframe).
		Order("cluster_id ASC").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("queryDetails: %w", err)
	}
	if len(templates) == 0 {
		return nil, nil
	}

	var instances []models.PatternInstance
	if err := r.db.DB().Where("timeframe = ?", timeframe).
		Order("window_index ASC").Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("queryDetails: %w", err)
	}

	labels := make([]int, 0, len(instances))
	counts := make(map[int]int)
	latest := make(map[int]models.PatternInstance)
	for _, inst := range instances {
		labels = append(labels, inst.ClusterID)
		counts[inst.ClusterID]++
		if cur, ok := latest[inst.ClusterID]; !ok || inst.StartTimestamp.After(cur.StartTimestamp) {
			latest[inst.ClusterID] = inst
		}
	}

	reps := make(map[int]types.RepresentativeDetail, len(templates))
	for _, tpl := range templates {
		inst, ok := latest[tpl.ClusterID]
		if !ok {
			continue
		}
		reps[tpl.ClusterID] = types.RepresentativeDetail{
			Timestamp: inst.StartTimestamp.UTC().Format(time.RFC3339),
			Index:     inst.WindowIndex,
			Count:     counts[tpl.ClusterID],
		}
	}

	return &types.PatternDetails{
		Timeframe:       timeframe,
		ExtractionDate:  templates[0].ExtractionDate,
		Instances:       len(instances),
		WindowSize:      templates[0].WindowSize,
		ClusterLabels:   labels,
		Representatives: reps,
	}, nil
}

// computeDetails derives the read-side summary directly from an
// extraction run, for the file backend. Matches what queryDetails
// derives from the relational backend after a save of the same run.
func computeDetails(timeframe string, set *types.PatternSet) *types.PatternDetails {
	counts := make(map[int]int)
	latest := make(map[int]int)
	for i, label := range set.ClusterLabels {
		counts[label]++
		if cur, ok := latest[label]; !ok || set.Timestamps[i].After(set.Timestamps[cur]) {
			latest[label] = i
		}
	}

	reps := make(map[int]types.RepresentativeDetail, len(counts))
	for label, idx := range latest {
		reps[label] = types.RepresentativeDetail{
			Timestamp: set.Timestamps[idx].UTC().Format(time.RFC3339),
			Index:     idx,
			Count:     counts[label],
		}
	}

	return &types.PatternDetails{
		Timeframe:       timeframe,
		ExtractionDate:  set.Metadata.ExtractionDate,
		Instances:       len(set.Windows),
		WindowSize:      set.Metadata.WindowSize,
		ClusterLabels:   append([]int(nil), set.ClusterLabels...),
		Representatives: reps,
	}
}

func applyDefaults(set *types.PatternSet) {
	if set.Metadata.WindowSize == 0 {
		if len(set.Windows) > 0 && len(set.Windows[0]) > 0 {
			set.Metadata.WindowSize = len(set.Windows[0])
		} else {
			set.Metadata.WindowSize = defaultWindowSize
		}
	}
	if set.Metadata.GridRows == 0 {
		set.Metadata.GridRows = defaultGridDim
	}
	if set.Metadata.GridCols == 0 {
		set.Metadata.GridCols = defaultGridDim
	}
	if set.Metadata.ExtractionDate == "" {
		set.Metadata.ExtractionDate = time.Now().UTC().Format(time.RFC3339)
	}
}

func sortedLabels(counts map[int]int) []int {
	labels := make([]int, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return labels
}
