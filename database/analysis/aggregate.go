package analysis

import (
	"math"

	"patternstore/database/types"
)

// countProfitable counts clusters whose mean forward return is positive
func countProfitable(returns map[int]types.ClusterReturns) int {
	n := 0
	for _, r := range returns {
		if r.AvgReturn > 0 {
			n++
		}
	}
	return n
}

// countSignificant counts clusters whose significance test passed
func countSignificant(significance map[int]types.SignificanceStats) int {
	n := 0
	for _, s := range significance {
		if s.Significant {
			n++
		}
	}
	return n
}

// overallProfitability pools the per-cluster mean returns. The average
// return and win rate are unweighted means across clusters; the profit
// factor divides the positive mean returns by the magnitude of the
// negative ones, and is 0 when no cluster lost.
func overallProfitability(returns map[int]types.ClusterReturns) types.OverallProfitability {
	if len(returns) == 0 {
		return types.OverallProfitability{}
	}

	var sumReturn, sumWinRate, positive, negative float64
	for _, r := range returns {
		sumReturn += r.AvgReturn
		sumWinRate += r.WinRate
		if r.AvgReturn > 0 {
			positive += r.AvgReturn
		} else {
			negative += r.AvgReturn
		}
	}

	overall := types.OverallProfitability{
		AvgReturn: sumReturn / float64(len(returns)),
		WinRate:   sumWinRate / float64(len(returns)),
	}
	if negative != 0 {
		overall.ProfitFactor = positive / math.Abs(negative)
	}
	return overall
}

// totalTrades sums the per-cluster occurrence counts
func totalTrades(returns map[int]types.ClusterReturns) int {
	n := 0
	for _, r := range returns {
		n += r.Count
	}
	return n
}
