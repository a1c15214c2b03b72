package patterns

import (
	"os"
	"path/filepath"
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

// sampleSet has three occurrences across two clusters: labels [0, 0, 1]
func sampleSet() *types.PatternSet {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return &types.PatternSet{
		Metadata: types.PatternMetadata{
			ExtractionDate: "2024-03-05T00:00:00Z",
			WindowSize:     2,
			GridRows:       10,
			GridCols:       10,
			Representatives: map[int]types.RepresentativeMeta{
				0: {Index: 1, Timestamp: "2024-03-01T01:00:00Z"},
			},
		},
		Windows: []types.Window{
			{{Open: 1, High: 2, Low: 0.5, Close: 1.5}, {Open: 1.5, High: 2.5, Low: 1, Close: 2}},
			{{Open: 2, High: 3, Low: 1.5, Close: 2.5}, {Open: 2.5, High: 3.5, Low: 2, Close: 3}},
			{{Open: 3, High: 4, Low: 2.5, Close: 3.5}, {Open: 3.5, High: 4.5, Low: 3, Close: 4}},
		},
		Timestamps:    []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)},
		ClusterLabels: []int{0, 0, 1},
		DistanceRows:  [][]float64{{0, 1, 2}, {1, 0, 3}, {2, 3, 0}},
	}
}

func TestSaveCreatesOneTemplatePerCluster(t *testing.T) {
	repo, db, _, dir := newTestRepo(t)

	result, err := repo.Save("1h", sampleSet())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Status)
	assert.Equal(t, types.BackendDatabase, result.Backend)
	assert.Equal(t, "database://1h_patterns", result.Locator)
	assert.Equal(t, 3, result.Instances)
	assert.Equal(t, 2, result.Clusters)
	assert.Equal(t, 2, result.WindowSize)
	assert.Equal(t, "2024-03-05T00:00:00Z", result.ExtractionDate)

	var templates []database.PatternTemplate
	require.NoError(t, db.DB().Order("cluster_id ASC").Find(&templates).Error)
	require.Len(t, templates, 2)

	assert.Equal(t, "1h_pattern_0", templates[0].Name)
	assert.Equal(t, 2, templates[0].Occurrences)
	assert.Equal(t, "template_grid_clustering", templates[0].DiscoveryMethod)
	assert.Equal(t, 1, templates[0].Representative.Index)
	assert.Equal(t, "2024-03-01T01:00:00Z", templates[0].Representative.Timestamp)

	// Cluster 1 had no caller-supplied representative, so it carries the defaults
	assert.Equal(t, "1h_pattern_1", templates[1].Name)
	assert.Equal(t, 1, templates[1].Occurrences)
	assert.Equal(t, 0, templates[1].Representative.Index)
	assert.Equal(t, "unknown", templates[1].Representative.Timestamp)

	// Every instance links to the template of its cluster
	var instances []database.PatternInstance
	require.NoError(t, db.DB().Order("window_index ASC").Find(&instances).Error)
	require.Len(t, instances, 3)
	assert.Equal(t, templates[0].ID, instances[0].TemplateID)
	assert.Equal(t, templates[0].ID, instances[1].TemplateID)
	assert.Equal(t, templates[1].ID, instances[2].TemplateID)

	var visuals []database.Visualization
	require.NoError(t, db.DB().Find(&visuals).Error)
	require.Len(t, visuals, 2, "one template chart reference per cluster, no candlestick files exist")
	for _, v := range visuals {
		assert.Equal(t, "pattern_template", v.RelatedType)
		assert.Equal(t, "template", v.Kind)
	}

	// Database primary with file fallback mirrors the summary and blob
	_, err = os.Stat(NewFileStore(dir).SummaryPath("1h"))
	assert.NoError(t, err)
	_, err = os.Stat(NewFileStore(dir).BlobPath("1h"))
	assert.NoError(t, err)
}

func TestSaveSupersedesPreviousRun(t *testing.T) {
	repo, db, _, _ := newTestRepo(t)

	_, err := repo.Save("1h", sampleSet())
	require.NoError(t, err)
	_, err = repo.Save("1h", sampleSet())
	require.NoError(t, err)

	var templateCount, instanceCount, visualCount int64
	require.NoError(t, db.DB().Model(&database.PatternTemplate{}).Count(&templateCount).Error)
	require.NoError(t, db.DB().Model(&database.PatternInstance{}).Count(&instanceCount).Error)
	require.NoError(t, db.DB().Model(&database.Visualization{}).Count(&visualCount).Error)
	assert.Equal(t, int64(2), templateCount, "re-saving a timeframe must not duplicate templates")
	assert.Equal(t, int64(3), instanceCount)
	assert.Equal(t, int64(2), visualCount)
}

func TestCandlestickReferencedOnlyWhenFileExists(t *testing.T) {
	repo, db, _, dir := newTestRepo(t)

	candle := NewFileStore(dir).CandlestickChartPath("1h", 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(candle), 0o755))
	require.NoError(t, os.WriteFile(candle, []byte("png"), 0o644))

	_, err := repo.Save("1h", sampleSet())
	require.NoError(t, err)

	var kinds []string
	require.NoError(t, db.DB().Model(&database.Visualization{}).
		Order("kind ASC").Pluck("kind", &kinds).Error)
	assert.Equal(t, []string{"candlestick", "template", "template"}, kinds)
}

func TestGetDetailsRepresentativeIsMostRecentOccurrence(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)

	_, err := repo.Save("1h", sampleSet())
	require.NoError(t, err)

	details, err := repo.GetDetails("1h")
	require.NoError(t, err)
	assert.Equal(t, "1h", details.Timeframe)
	assert.Equal(t, "2024-03-05T00:00:00Z", details.ExtractionDate)
	assert.Equal(t, 3, details.Instances)
	assert.Equal(t, 2, details.WindowSize)
	assert.Equal(t, []int{0, 0, 1}, details.ClusterLabels)

	require.Len(t, details.Representatives, 2)
	assert.Equal(t, types.RepresentativeDetail{
		Timestamp: "2024-03-01T01:00:00Z", Index: 1, Count: 2,
	}, details.Representatives[0])
	assert.Equal(t, types.RepresentativeDetail{
		Timestamp: "2024-03-01T02:00:00Z", Index: 2, Count: 1,
	}, details.Representatives[1])
}

func TestSaveFallsBackToFileWhenDatabaseDown(t *testing.T) {
	repo, db, _, dir := newTestRepo(t)
	testutil.BreakConnection(t, db)

	store := NewFileStore(dir)
	result, err := repo.Save("1h", sampleSet())
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, result.Status)
	assert.Equal(t, types.BackendFile, result.Backend)
	assert.Equal(t, store.SummaryPath("1h"), result.Locator)

	// The file backend serves the same read-side summary
	details, err := repo.GetDetails("1h")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1}, details.ClusterLabels)
	assert.Equal(t, types.RepresentativeDetail{
		Timestamp: "2024-03-01T01:00:00Z", Index: 1, Count: 2,
	}, details.Representatives[0])

	// And the full blob round-trips the extraction output
	set, err := store.ReadSet("1h")
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, sampleSet().Windows, set.Windows)
	assert.Equal(t, sampleSet().DistanceRows, set.DistanceRows)
}

func TestGetDetailsNotFoundOnAllBackends(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)

	_, err := repo.GetDetails("5m")
	var notFound *database.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "patterns", notFound.Resource)
}

func TestSaveValidation(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)

	var invalid *database.ValidationError

	_, err := repo.Save("", sampleSet())
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "timeframe", invalid.Field)

	_, err = repo.Save("1h", &types.PatternSet{})
	require.ErrorAs(t, err, &invalid)

	lopsided := sampleSet()
	lopsided.ClusterLabels = lopsided.ClusterLabels[:2]
	_, err = repo.Save("1h", lopsided)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "windows", invalid.Field)
}
