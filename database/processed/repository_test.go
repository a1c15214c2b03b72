package processed

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternstore/database"
	"patternstore/database/settings"
	"patternstore/database/testutil"
	"patternstore/database/types"
	"patternstore/logger"
)

func newTestRepo(t *testing.T) (*Repository, *database.Database, *settings.Registry, string) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	log := logger.Nop()
	registry := settings.NewRegistry(db.DB(), log)
	dir := t.TempDir()
	registry.SetDefaults(types.StorageMode{}, types.FilePaths{
		Processed: dir, Patterns: dir, Analysis: dir,
	})
	repo := NewRepository(db, registry, log, Options{})
	return repo, db, registry, dir
}

func f(v float64) *float64 { return &v }

func sampleSeries(timeframe string) types.ProcessedSeries {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return types.ProcessedSeries{
		Timeframe: timeframe,
		Rows: []types.ProcessedRow{
			{
				Timestamp: base,
				Open:      9.5, High: 10.2, Low: 9.4, Close: 10, Volume: 1000,
				Indicators: types.IndicatorSet{SMA5: f(9.8), RSI14: f(55.2)},
				Extra: []types.Feature{
					{Key: "zeta_score", Value: 1.5},
					{Key: "alpha_score", Value: 2.5},
				},
			},
			{
				Timestamp: base.Add(time.Hour),
				Open:      10, High: 11.3, Low: 9.9, Close: 11, Volume: 1200,
			},
			{
				Timestamp: base.Add(2 * time.Hour),
				Open:      11, High: 12.1, Low: 10.8, Close: 12, Volume: 900,
				Indicators: types.IndicatorSet{SMA5: f(11.1)},
			},
		},
	}
}

func closes(series *types.ProcessedSeries) []float64 {
	out := make([]float64, 0, len(series.Rows))
	for _, row := range series.Rows {
		out = append(out, row.Close)
	}
	return out
}

func TestSaveAndGetRoundTrip(t *testing.T) {
	repo, _, _, dir := newTestRepo(t)

	result, err := repo.Save(sampleSeries("1h"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Status)
	assert.Equal(t, types.BackendDatabase, result.Backend)
	assert.Equal(t, 3, result.Records)
	assert.Equal(t, "database://XAU_1h_processed", result.Locator)

	// Database primary with file fallback mirrors the series to CSV
	_, statErr := os.Stat(NewFileStore(dir).Path("XAU", "1h"))
	assert.NoError(t, statErr, "mirror CSV must exist after a database save")

	got, err := repo.Get("1h", 0)
	require.NoError(t, err)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, []float64{10, 11, 12}, closes(got))
	for i, want := range sampleSeries("1h").Rows {
		assert.Equal(t, want.Timestamp.Unix(), got.Rows[i].Timestamp.Unix(), "row %d timestamp", i)
	}

	first := got.Rows[0]
	require.NotNil(t, first.Indicators.SMA5)
	assert.Equal(t, 9.8, *first.Indicators.SMA5)
	require.NotNil(t, first.Indicators.RSI14)
	assert.Equal(t, 55.2, *first.Indicators.RSI14)
	assert.Nil(t, got.Rows[1].Indicators.SMA5)

	// Extra features come back sorted by key from the JSON side column
	require.Len(t, first.Extra, 2)
	assert.Equal(t, types.Feature{Key: "alpha_score", Value: 2.5}, first.Extra[0])
	assert.Equal(t, types.Feature{Key: "zeta_score", Value: 1.5}, first.Extra[1])
}

func TestGetLimitReturnsEarliestRows(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)

	_, err := repo.Save(sampleSeries("1h"))
	require.NoError(t, err)

	got, err := repo.Get("1h", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11}, closes(got), "limit keeps the earliest rows in ascending order")
}

func TestSaveUpsertsOnNaturalKey(t *testing.T) {
	repo, db, _, _ := newTestRepo(t)

	series := sampleSeries("1h")
	_, err := repo.Save(series)
	require.NoError(t, err)

	for i := range series.Rows {
		series.Rows[i].Close += 100
	}
	_, err = repo.Save(series)
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.DB().Model(&database.ProcessedRecord{}).Count(&count).Error)
	assert.Equal(t, int64(3), count, "re-running a save must not duplicate rows")

	got, err := repo.Get("1h", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{110, 111, 112}, closes(got))
}

func TestSaveFallsBackToFileWhenDatabaseDown(t *testing.T) {
	repo, db, _, dir := newTestRepo(t)
	testutil.BreakConnection(t, db)

	result, err := repo.Save(sampleSeries("1h"))
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Status)
	assert.Equal(t, types.BackendFile, result.Backend)
	assert.Equal(t, NewFileStore(dir).Path("XAU", "1h"), result.Locator)

	got, err := repo.Get("1h", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, closes(got), "file fallback must serve the same rows")
}

func TestFilePrimaryMode(t *testing.T) {
	repo, db, registry, dir := newTestRepo(t)
	registry.SetDefaults(
		types.StorageMode{Primary: types.BackendFile, Fallback: types.BackendDatabase},
		types.FilePaths{Processed: dir, Patterns: dir, Analysis: dir},
	)

	result, err := repo.Save(sampleSeries("4h"))
	require.NoError(t, err)
	assert.Equal(t, types.BackendFile, result.Backend)

	var count int64
	require.NoError(t, db.DB().Model(&database.ProcessedRecord{}).Count(&count).Error)
	assert.Zero(t, count, "file primary must not touch the relational backend")

	got, err := repo.Get("4h", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, closes(got))
}

func TestGetNotFoundOnAllBackends(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)

	_, err := repo.Get("5m", 0)
	var notFound *database.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "5m", notFound.Timeframe)
}

func TestSaveValidation(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)

	var invalid *database.ValidationError

	_, err := repo.Save(types.ProcessedSeries{Rows: sampleSeries("1h").Rows})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "timeframe", invalid.Field)

	_, err = repo.Save(types.ProcessedSeries{Timeframe: "1h"})
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "rows", invalid.Field)
}
