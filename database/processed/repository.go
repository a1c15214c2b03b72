// Package processed persists processed price series: OHLCV rows plus
// derived indicators, written in bulk to the relational backend with a
// CSV mirror or fallback on the file backend.
package processed

import (
	"fmt"
	"strings"

	"gorm.io/gorm/clause"

	"patternstore/database"
	"patternstore/database/bulk"
	models "patternstore/database/models_pkg"
	"patternstore/database/settings"
	"patternstore/database/types"
	"patternstore/logger"
)

// DefaultSymbol is used when a series does not name its instrument
const DefaultSymbol = "XAU"

// Options configures repository defaults
type Options struct {
	DefaultSymbol string
	ChunkSize     int
}

// Repository provides persistence operations for processed series.
// The storage mode and file paths are re-resolved on every call, so an
// operator can flip backends mid-run without restarting.
type Repository struct {
	db        *database.Database
	registry  *settings.Registry
	log       *logger.Logger
	symbol    string
	chunkSize int
}

// NewRepository creates a new processed-series repository
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

// Save persists a processed series to the primary backend, falling back
// to the secondary on failure. With the database primary and the file
// fallback configured, a successful write also mirrors the series to
// CSV for durability.
//
// A bulk write that fails after committing some chunks is reported as a
// partial failure with the committed-chunk count; committed chunks are
// never rolled back or retried here.
func (r *Repository) Save(series types.ProcessedSeries) (*types.SaveResult, error) {
	if series.Timeframe == "" {
		return nil, database.NewValidationError("timeframe", "must not be empty")
	}
	if len(series.Rows) == 0 {
		return nil, database.NewValidationError("rows", "must not be empty")
	}
	if series.Symbol == "" {
		series.Symbol = r.symbol
	}

	mode := r.registry.ResolveMode()
	store := NewFileStore(r.registry.ResolvePaths().Processed)

	if mode.Primary == types.BackendDatabase {
		return r.saveDatabasePrimary(series, mode, store)
	}
	return r.saveFilePrimary(series, mode, store)
}

func (r *Repository) saveDatabasePrimary(series types.ProcessedSeries, mode types.StorageMode, store *FileStore) (*types.SaveResult, error) {
	committed, err := r.insertRecords(series)
	if err == nil {
		if mode.Fallback == types.BackendFile {
			if _, mirrorErr := store.WriteSeries(series); mirrorErr != nil {
				r.log.Warn("processed mirror write failed",
					logger.String("timeframe", series.Timeframe), logger.Error(mirrorErr))
			}
		}
		return &types.SaveResult{
			Status:  types.OutcomeSuccess,
			Backend: types.BackendDatabase,
			Locator: databaseLocator(series.Symbol, series.Timeframe),
			Records: len(series.Rows),
		}, nil
	}

	r.log.Error("processed database save failed",
		logger.String("timeframe", series.Timeframe),
		logger.Int("committed_chunks", committed), logger.Error(err))
	if mode.Fallback != types.BackendFile {
		return nil, database.NewPartialWriteError("ProcessedRepository.Save", series.Timeframe, committed, err)
	}

	path, fileErr := store.WriteSeries(series)
	if fileErr != nil {
		r.log.Error("processed fallback save failed",
			logger.String("timeframe", series.Timeframe), logger.Error(fileErr))
		return nil, database.NewPartialWriteError("ProcessedRepository.Save", series.Timeframe, committed,
			fmt.Errorf("primary: %v; fallback: %w", err, fileErr))
	}

	status := types.OutcomeSuccess
	if committed > 0 {
		status = types.OutcomePartialFailure
	}
	return &types.SaveResult{
		Status:          status,
		Backend:         types.BackendFile,
		Locator:         path,
		Records:         len(series.Rows),
		CommittedChunks: committed,
	}, nil
}

func (r *Repository) saveFilePrimary(series types.ProcessedSeries, mode types.StorageMode, store *FileStore) (*types.SaveResult, error) {
	path, err := store.WriteSeries(series)
	if err == nil {
		return &types.SaveResult{
			Status:  types.OutcomeSuccess,
			Backend: types.BackendFile,
			Locator: path,
			Records: len(series.Rows),
		}, nil
	}

	r.log.Error("processed file save failed",
		logger.String("timeframe", series.Timeframe), logger.Error(err))
	if mode.Fallback != types.BackendDatabase {
		return nil, database.WrapDBError("ProcessedRepository.Save", series.Timeframe, err)
	}

	committed, dbErr := r.insertRecords(series)
	if dbErr != nil {
		return nil, database.NewPartialWriteError("ProcessedRepository.Save", series.Timeframe, committed,
			fmt.Errorf("primary: %v; fallback: %w", err, dbErr))
	}
	return &types.SaveResult{
		Status:  types.OutcomeSuccess,
		Backend: types.BackendDatabase,
		Locator: databaseLocator(series.Symbol, series.Timeframe),
		Records: len(series.Rows),
	}, nil
}

// insertRecords bulk-upserts the series on its natural key so a re-run
// for the same timeframe replaces rows instead of duplicating them.
func (r *Repository) insertRecords(series types.ProcessedSeries) (int, error) {
	records := make([]models.ProcessedRecord, 0, len(series.Rows))
	for _, row := range series.Rows {
		records = append(records, toRecord(series.Symbol, series.Timeframe, row))
	}
	return bulk.WriteMany(records, r.chunkSize, func(chunk []models.ProcessedRecord) error {
		return r.db.DB().Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "timeframe"}, {Name: "timestamp"}},
			UpdateAll: true,
		}).Create(&chunk).Error
	})
}

// Get reads a processed series ordered by ascending timestamp. A
// positive limit caps the row count; limit <= 0 returns the full
// series. A miss or error on the primary backend consults the fallback;
// a miss on every configured backend is a NotFoundError.
func (r *Repository) Get(timeframe string, limit int) (*types.ProcessedSeries, error) {
	if timeframe == "" {
		return nil, database.NewValidationError("timeframe", "must not be empty")
	}

	mode := r.registry.ResolveMode()
	store := NewFileStore(r.registry.ResolvePaths().Processed)

	readDatabase := func() (*types.ProcessedSeries, error) {
		return r.queryRecords(timeframe, limit)
	}
	readFile := func() (*types.ProcessedSeries, error) {
		return store.ReadSeries(r.symbol, timeframe, limit)
	}

	primary, fallback := readDatabase, readFile
	if mode.Primary == types.BackendFile {
		primary, fallback = readFile, readDatabase
	}

	series, primaryErr := primary()
	if primaryErr == nil && series != nil {
		return series, nil
	}
	if primaryErr != nil {
		r.log.Warn("processed primary read failed, trying fallback",
			logger.String("timeframe", timeframe), logger.Error(primaryErr))
	}

	if !mode.HasFallback() {
		if primaryErr != nil {
			return nil, database.WrapDBError("ProcessedRepository.Get", timeframe, primaryErr)
		}
		return nil, database.NewNotFoundError("processed data", timeframe)
	}

	series, fallbackErr := fallback()
	if fallbackErr == nil && series != nil {
		return series, nil
	}
	if primaryErr == nil && fallbackErr == nil {
		return nil, database.NewNotFoundError("processed data", timeframe)
	}
	if fallbackErr == nil {
		fallbackErr = primaryErr
	}
	return nil, database.WrapDBError("ProcessedRepository.Get", timeframe, fallbackErr)
}

// queryRecords returns (nil, nil) on an empty result so the caller can
// treat it as a miss.
func (r *Repository) queryRecords(timeframe string, limit int) (*types.ProcessedSeries, error) {
	var records []models.ProcessedRecord
	query := r.db.DB().
		Where("symbol = ? AND timeframe = ?", r.symbol, timeframe).
		Order("timestamp ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("queryRecords: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	rows := make([]types.ProcessedRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, fromRecord(rec))
	}
	return &types.ProcessedSeries{Symbol: r.symbol, Timeframe: timeframe, Rows: rows}, nil
}

func databaseLocator(symbol, timeframe string) string {
	return fmt.Sprintf("database://%s_%s_processed", strings.ToUpper(symbol), timeframe)
}
