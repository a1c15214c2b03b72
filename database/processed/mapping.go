package processed

import (
	"sort"
	"strconv"

	models "patternstore/database/models_pkg"
	"patternstore/database/types"
)

// indicatorColumns is the whitelisted indicator column order, shared by
// the relational mapping and the CSV mirror so both backends agree.
var indicatorColumns = []string{
	"sma_5", "sma_10", "sma_20",
	"ema_5", "ema_10", "ema_20",
	"rsi_14",
	"macd", "macd_signal", "macd_hist",
	"bollinger_upper", "bollinger_middle", "bollinger_lower",
	"atr_14",
	"norm_open", "norm_high", "norm_low", "norm_close", "norm_volume",
}

// indicatorSlots returns addressable slots for each indicator field, in
// the same order as indicatorColumns. Explicit positional mapping, no
// reflection.
func indicatorSlots(ind *types.IndicatorSet) []**float64 {
	return []**float64{
		&ind.SMA5, &ind.SMA10, &ind.SMA20,
		&ind.EMA5, &ind.EMA10, &ind.EMA20,
		&ind.RSI14,
		&ind.MACD, &ind.MACDSignal, &ind.MACDHist,
		&ind.BollingerUpper, &ind.BollingerMiddle, &ind.BollingerLower,
		&ind.ATR14,
		&ind.NormOpen, &ind.NormHigh, &ind.NormLow, &ind.NormClose, &ind.NormVolume,
	}
}

// toRecord converts one processed row into its relational form. Extra
// features are folded into the JSON side column; the whitelisted
// indicators map to dedicated columns.
func toRecord(symbol, timeframe string, row types.ProcessedRow) models.ProcessedRecord {
	rec := models.ProcessedRecord{
		Timestamp: row.Timestamp,
		Symbol:    symbol,
		Timeframe: timeframe,
		Open:      row.Open,
		High:      row.High,
		Low:       row.Low,
		Close:     row.Close,
		Volume:    row.Volume,

		SMA5:            row.Indicators.SMA5,
		SMA10:           row.Indicators.SMA10,
		SMA20:           row.Indicators.SMA20,
		EMA5:            row.Indicators.EMA5,
		EMA10:           row.Indicators.EMA10,
		EMA20:           row.Indicators.EMA20,
		RSI14:           row.Indicators.RSI14,
		MACD:            row.Indicators.MACD,
		MACDSignal:      row.Indicators.MACDSignal,
		MACDHist:        row.Indicators.MACDHist,
		BollingerUpper:  row.Indicators.BollingerUpper,
		BollingerMiddle: row.Indicators.BollingerMiddle,
		BollingerLower:  row.Indicators.BollingerLower,
		ATR14:           row.Indicators.ATR14,
		NormOpen:        row.Indicators.NormOpen,
		NormHigh:        row.Indicators.NormHigh,
		NormLow:         row.Indicators.NormLow,
		NormClose:       row.Indicators.NormClose,
		NormVolume:      row.Indicators.NormVolume,
	}

	if len(row.Extra) > 0 {
		data := make(types.JSONMap, len(row.Extra))
		for _, f := range row.Extra {
			data[f.Key] = f.Value
		}
		rec.FeatureData = data
	}
	return rec
}

// fromRecord converts one relational record back into a processed row.
// The JSON side column loses input order, so extra features come back
// sorted by key.
func fromRecord(rec models.ProcessedRecord) types.ProcessedRow {
	row := types.ProcessedRow{
		Timestamp: rec.Timestamp,
		Open:      rec.Open,
		High:      rec.High,
		Low:       rec.Low,
		Close:     rec.Close,
		Volume:    rec.Volume,
		Indicators: types.IndicatorSet{
			SMA5:            rec.SMA5,
			SMA10:           rec.SMA10,
			SMA20:           rec.SMA20,
			EMA5:            rec.EMA5,
			EMA10:           rec.EMA10,
			EMA20:           rec.EMA20,
			RSI14:           rec.RSI14,
			MACD:            rec.MACD,
			MACDSignal:      rec.MACDSignal,
			MACDHist:        rec.MACDHist,
			BollingerUpper:  rec.BollingerUpper,
			BollingerMiddle: rec.BollingerMiddle,
			BollingerLower:  rec.BollingerLower,
			ATR14:           rec.ATR14,
			NormOpen:        rec.NormOpen,
			NormHigh:        rec.NormHigh,
			NormLow:         rec.NormLow,
			NormClose:       rec.NormClose,
			NormVolume:      rec.NormVolume,
		},
	}

	if len(rec.FeatureData) > 0 {
		keys := make([]string, 0, len(rec.FeatureData))
		for k := range rec.FeatureData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v, ok := asFloat(rec.FeatureData[k]); ok {
				row.Extra = append(row.Extra, types.Feature{Key: k, Value: v})
			}
		}
	}
	return row
}

// asFloat normalizes the value shapes a JSON round trip can produce
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
