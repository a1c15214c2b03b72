package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"patternstore/database/types"
)

func TestOverallProfitability(t *testing.T) {
	tests := []struct {
		name             string
		returns          map[int]types.ClusterReturns
		wantAvgReturn    float64
		wantWinRate      float64
		wantProfitFactor float64
	}{
		{
			name:    "empty",
			returns: nil,
		},
		{
			name: "mixed winners and losers",
			returns: map[int]types.ClusterReturns{
				0: {AvgReturn: 0.02, WinRate: 0.6},
				1: {AvgReturn: -0.01, WinRate: 0.4},
				2: {AvgReturn: 0.03, WinRate: 0.7},
			},
			wantAvgReturn:    0.04 / 3,
			wantWinRate:      1.7 / 3,
			wantProfitFactor: 5,
		},
		{
			name: "no losing cluster yields zero profit factor",
			returns: map[int]types.ClusterReturns{
				0: {AvgReturn: 0.02, WinRate: 0.6},
				1: {AvgReturn: 0.01, WinRate: 0.55},
			},
			wantAvgReturn:    0.015,
			wantWinRate:      0.575,
			wantProfitFactor: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := overallProfitability(tt.returns)
			assert.InDelta(t, tt.wantAvgReturn, got.AvgReturn, 1e-12)
			assert.InDelta(t, tt.wantWinRate, got.WinRate, 1e-12)
			assert.InDelta(t, tt.wantProfitFactor, got.ProfitFactor, 1e-12)
		})
	}
}

func TestClusterCounts(t *testing.T) {
	returns := map[int]types.ClusterReturns{
		0: {AvgReturn: 0.02, Count: 10},
		1: {AvgReturn: -0.01, Count: 4},
		2: {AvgReturn: 0, Count: 3},
	}
	significance := map[int]types.SignificanceStats{
		0: {Significant: true},
		1: {Significant: false},
		2: {Significant: true},
	}

	assert.Equal(t, 1, countProfitable(returns), "zero mean return is not profitable")
	assert.Equal(t, 2, countSignificant(significance))
	assert.Equal(t, 17, totalTrades(returns))
}
