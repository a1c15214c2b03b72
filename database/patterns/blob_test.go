package patterns

import (
	"testing"
	"time"

	"github.com/mus-format/mus-go/varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patternstore/database/types"
)

func TestPatternSetBlobRoundTrip(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	set := &types.PatternSet{
		Metadata: types.PatternMetadata{
			ExtractionDate: "2024-03-05T00:00:00Z",
			WindowSize:     2,
			GridRows:       10,
			GridCols:       10,
			Representatives: map[int]types.RepresentativeMeta{
				0: {Index: 1, Timestamp: "2024-03-01T01:00:00Z"},
				1: {Index: 2, Timestamp: "2024-03-01T02:00:00Z"},
			},
		},
		Windows: []types.Window{
			{{Open: 1, High: 2, Low: 0.5, Close: 1.5}, {Open: 1.5, High: 2.5, Low: 1, Close: 2}},
			{{Open: 2, High: 3, Low: 1.5, Close: 2.5}, {Open: 2.5, High: 3.5, Low: 2, Close: 3}},
			{{Open: 3, High: 4, Low: 2.5, Close: 3.5}, {Open: 3.5, High: 4.5, Low: 3, Close: 4}},
		},
		Timestamps: []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)},
		// -1 is the clustering noise label
		ClusterLabels: []int{0, 1, -1},
		DistanceRows:  [][]float64{{0, 1.25, 2}, {1.25, 0, 3}, {2, 3, 0}},
	}

	got, err := UnmarshalPatternSet(MarshalPatternSet(set))
	require.NoError(t, err)

	assert.Equal(t, set.Metadata, got.Metadata)
	assert.Equal(t, set.Windows, got.Windows)
	assert.Equal(t, set.ClusterLabels, got.ClusterLabels)
	assert.Equal(t, set.DistanceRows, got.DistanceRows)
	require.Len(t, got.Timestamps, len(set.Timestamps))
	for i := range set.Timestamps {
		assert.True(t, set.Timestamps[i].Equal(got.Timestamps[i]), "timestamp %d", i)
	}
}

func TestPatternSetBlobRejectsUnknownVersion(t *testing.T) {
	bad := make([]byte, varint.PositiveInt.Size(99))
	varint.PositiveInt.Marshal(99, bad)

	_, err := UnmarshalPatternSet(bad)
	require.ErrorIs(t, err, ErrBlobVersion)
}

func TestPatternSetBlobRejectsTruncatedData(t *testing.T) {
	set := &types.PatternSet{
		Metadata:      types.PatternMetadata{ExtractionDate: "2024-03-05T00:00:00Z", WindowSize: 1},
		Windows:       []types.Window{{{Open: 1, High: 1, Low: 1, Close: 1}}},
		Timestamps:    []time.Time{time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		ClusterLabels: []int{0},
	}
	data := MarshalPatternSet(set)

	_, err := UnmarshalPatternSet(data[:len(data)/2])
	require.Error(t, err)
}

func TestWindowBlobRoundTrip(t *testing.T) {
	window := types.Window{
		{Open: 10, High: 11, Low: 9.5, Close: 10.5},
		{Open: 10.5, High: 12, Low: 10, Close: 11.5},
	}

	got, err := UnmarshalWindow(MarshalWindow(window))
	require.NoError(t, err)
	assert.Equal(t, window, got)
}
