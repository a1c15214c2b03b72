package bulk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteManyChunking(t *testing.T) {
	tests := []struct {
		name       string
		items      int
		chunkSize  int
		wantChunks int
	}{
		{"empty input", 0, 10, 0},
		{"single partial chunk", 3, 10, 1},
		{"exact multiple", 20, 10, 2},
		{"remainder chunk", 25, 10, 3},
		{"zero size uses default", 501, 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]int, tt.items)
			for i := range items {
				items[i] = i
			}

			var got []int
			var chunkSizes []int
			committed, err := WriteMany(items, tt.chunkSize, func(chunk []int) error {
				got = append(got, chunk...)
				chunkSizes = append(chunkSizes, len(chunk))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantChunks, committed)
			if tt.items == 0 {
				assert.Empty(t, got, "insert must not be called for empty input")
			} else {
				assert.Equal(t, items, got, "order must be preserved across chunks")
			}

			limit := tt.chunkSize
			if limit <= 0 {
				limit = DefaultChunkSize
			}
			for _, size := range chunkSizes {
				assert.LessOrEqual(t, size, limit)
			}
		})
	}
}

func TestWriteManyStopsAtFirstFailure(t *testing.T) {
	items := make([]int, 50)
	boom := errors.New("insert failed")

	calls := 0
	committed, err := WriteMany(items, 10, func(chunk []int) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, committed, "only fully committed chunks count")
	assert.Equal(t, 3, calls, "no chunk is attempted after a failure")
}
