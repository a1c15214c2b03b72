package patterns

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mus-format/mus-go/varint"

	"patternstore/database/types"
)

// blobFormatVersion is bumped whenever the binary layout changes.
// Decoders reject blobs from a different version instead of guessing.
const blobFormatVersion = 1

var (
	// ErrBlobVersion means the blob was written by an incompatible layout version
	ErrBlobVersion = errors.New("unsupported pattern blob version")
	// ErrBlobTruncated means the blob ended before its declared contents
	ErrBlobTruncated = errors.New("truncated pattern blob")
)

// MarshalPatternSet encodes the full extraction output as a versioned
// MUS binary blob. Counts and lengths use the positive-int encoding,
// cluster labels the zigzag one (noise labels can be negative), and
// timestamps are stored as Unix microseconds. Representative entries
// are written in ascending cluster order so the encoding is
// deterministic.
func MarshalPatternSet(set *types.PatternSet) []byte {
	buf := make([]byte, sizePatternSet(set))
	n := varint.PositiveInt.Marshal(blobFormatVersion, buf)

	n += marshalString(set.Metadata.ExtractionDate, buf[n:])
	n += varint.PositiveInt.Marshal(set.Metadata.WindowSize, buf[n:])
	n += varint.PositiveInt.Marshal(set.Metadata.GridRows, buf[n:])
	n += varint.PositiveInt.Marshal(set.Metadata.GridCols, buf[n:])

	clusters := make([]int, 0, len(set.Metadata.Representatives))
	for cluster := range set.Metadata.Representatives {
		clusters = append(clusters, cluster)
	}
	sort.Ints(clusters)
	n += varint.PositiveInt.Marshal(len(clusters), buf[n:])
	for _, cluster := range clusters {
		rep := set.Metadata.Representatives[cluster]
		n += varint.Int.Marshal(cluster, buf[n:])
		n += varint.Int.Marshal(rep.Index, buf[n:])
		n += marshalString(rep.Timestamp, buf[n:])
	}

	n += varint.PositiveInt.Marshal(len(set.Windows), buf[n:])
	for _, window := range set.Windows {
		n += marshalWindowInto(window, buf[n:])
	}

	n += varint.PositiveInt.Marshal(len(set.Timestamps), buf[n:])
	for _, ts := range set.Timestamps {
		n += varint.Int64.Marshal(ts.UnixMicro(), buf[n:])
	}

	n += varint.PositiveInt.Marshal(len(set.ClusterLabels), buf[n:])
	for _, label := range set.ClusterLabels {
		n += varint.Int.Marshal(label, buf[n:])
	}

	n += varint.PositiveInt.Marshal(len(set.DistanceRows), buf[n:])
	for _, row := range set.DistanceRows {
		n += varint.PositiveInt.Marshal(len(row), buf[n:])
		for _, v := range row {
			n += varint.Float64.Marshal(v, buf[n:])
		}
	}

	return buf[:n]
}

// UnmarshalPatternSet decodes a blob written by MarshalPatternSet
func UnmarshalPatternSet(data []byte) (*types.PatternSet, error) {
	version, n, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: %w", err)
	}
	if version != blobFormatVersion {
		return nil, fmt.Errorf("UnmarshalPatternSet: %w: got %d, want %d", ErrBlobVersion, version, blobFormatVersion)
	}

	var set types.PatternSet
	var m int

	if set.Metadata.ExtractionDate, m, err = unmarshalString(data[n:]); err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: extraction date: %w", err)
	}
	n += m
	if set.Metadata.WindowSize, m, err = varint.PositiveInt.Unmarshal(data[n:]); err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: window size: %w", err)
	}
	n += m
	if set.Metadata.GridRows, m, err = varint.PositiveInt.Unmarshal(data[n:]); err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: grid rows: %w", err)
	}
	n += m
	if set.Metadata.GridCols, m, err = varint.PositiveInt.Unmarshal(data[n:]); err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: grid cols: %w", err)
	}
	n += m

	repCount, m, err := varint.PositiveInt.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: representatives: %w", err)
	}
	n += m
	if repCount > 0 {
		set.Metadata.Representatives = make(map[int]types.RepresentativeMeta, repCount)
	}
	for i := 0; i < repCount; i++ {
		cluster, m, err := varint.Int.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: representative cluster: %w", err)
		}
		n += m
		var rep types.RepresentativeMeta
		if rep.Index, m, err = varint.Int.Unmarshal(data[n:]); err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: representative index: %w", err)
		}
		n += m
		if rep.Timestamp, m, err = unmarshalString(data[n:]); err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: representative timestamp: %w", err)
		}
		n += m
		set.Metadata.Representatives[cluster] = rep
	}

	windowCount, m, err := varint.PositiveInt.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: windows: %w", err)
	}
	n += m
	set.Windows = make([]types.Window, 0, windowCount)
	for i := 0; i < windowCount; i++ {
		window, m, err := unmarshalWindowFrom(data[n:])
		if err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: window %d: %w", i, err)
		}
		n += m
		set.Windows = append(set.Windows, window)
	}

	tsCount, m, err := varint.PositiveInt.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: timestamps: %w", err)
	}
	n += m
	set.Timestamps = make([]time.Time, 0, tsCount)
	for i := 0; i < tsCount; i++ {
		micros, m, err := varint.Int64.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: timestamp %d: %w", i, err)
		}
		n += m
		set.Timestamps = append(set.Timestamps, time.UnixMicro(micros).UTC())
	}

	labelCount, m, err := varint.PositiveInt.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: labels: %w", err)
	}
	n += m
	set.ClusterLabels = make([]int, 0, labelCount)
	for i := 0; i < labelCount; i++ {
		label, m, err := varint.Int.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: label %d: %w", i, err)
		}
		n += m
		set.ClusterLabels = append(set.ClusterLabels, label)
	}

	rowCount, m, err := varint.PositiveInt.Unmarshal(data[n:])
	if err != nil {
		return nil, fmt.Errorf("UnmarshalPatternSet: distance rows: %w", err)
	}
	n += m
	for i := 0; i < rowCount; i++ {
		colCount, m, err := varint.PositiveInt.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("UnmarshalPatternSet: distance row %d: %w", i, err)
		}
		n += m
		row := make([]float64, 0, colCount)
		for j := 0; j < colCount; j++ {
			v, m, err := varint.Float64.Unmarshal(data[n:])
			if err != nil {
				return nil, fmt.Errorf("UnmarshalPatternSet: distance row %d: %w", i, err)
			}
			n += m
			row = append(row, v)
		}
		set.DistanceRows = append(set.DistanceRows, row)
	}

	return &set, nil
}

// MarshalWindow encodes one occurrence's raw samples for the instance
// blob column.
func MarshalWindow(window types.Window) []byte {
	buf := make([]byte, varint.PositiveInt.Size(blobFormatVersion)+sizeWindow(window))
	n := varint.PositiveInt.Marshal(blobFormatVersion, buf)
	n += marshalWindowInto(window, buf[n:])
	return buf[:n]
}

// UnmarshalWindow decodes a blob written by MarshalWindow
func UnmarshalWindow(data []byte) (types.Window, error) {
	version, n, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("UnmarshalWindow: %w", err)
	}
	if version != blobFormatVersion {
		return nil, fmt.Errorf("UnmarshalWindow: %w: got %d, want %d", ErrBlobVersion, version, blobFormatVersion)
	}
	window, _, err := unmarshalWindowFrom(data[n:])
	if err != nil {
		return nil, fmt.Errorf("UnmarshalWindow: %w", err)
	}
	return window, nil
}

func sizePatternSet(set *types.PatternSet) int {
	size := varint.PositiveInt.Size(blobFormatVersion)
	size += sizeString(set.Metadata.ExtractionDate)
	size += varint.PositiveInt.Size(set.Metadata.WindowSize)
	size += varint.PositiveInt.Size(set.Metadata.GridRows)
	size += varint.PositiveInt.Size(set.Metadata.GridCols)

	size += varint.PositiveInt.Size(len(set.Metadata.Representatives))
	for cluster, rep := range set.Metadata.Representatives {
		size += varint.Int.Size(cluster)
		size += varint.Int.Size(rep.Index)
		size += sizeString(rep.Timestamp)
	}

	size += varint.PositiveInt.Size(len(set.Windows))
	for _, window := range set.Windows {
		size += sizeWindow(window)
	}

	size += varint.PositiveInt.Size(len(set.Timestamps))
	for _, ts := range set.Timestamps {
		size += varint.Int64.Size(ts.UnixMicro())
	}

	size += varint.PositiveInt.Size(len(set.ClusterLabels))
	for _, label := range set.ClusterLabels {
		size += varint.Int.Size(label)
	}

	size += varint.PositiveInt.Size(len(set.DistanceRows))
	for _, row := range set.DistanceRows {
		size += varint.PositiveInt.Size(len(row))
		for _, v := range row {
			size += varint.Float64.Size(v)
		}
	}
	return size
}

func sizeWindow(window types.Window) int {
	size := varint.PositiveInt.Size(len(window))
	for _, sample := range window {
		size += varint.Float64.Size(sample.Open)
		size += varint.Float64.Size(sample.High)
		size += varint.Float64.Size(sample.Low)
		size += varint.Float64.Size(sample.Close)
	}
	return size
}

func marshalWindowInto(window types.Window, bs []byte) int {
	n := varint.PositiveInt.Marshal(len(window), bs)
	for _, sample := range window {
		n += varint.Float64.Marshal(sample.Open, bs[n:])
		n += varint.Float64.Marshal(sample.High, bs[n:])
		n += varint.Float64.Marshal(sample.Low, bs[n:])
		n += varint.Float64.Marshal(sample.Close, bs[n:])
	}
	return n
}

func unmarshalWindowFrom(data []byte) (types.Window, int, error) {
	count, n, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return nil, n, err
	}
	window := make(types.Window, 0, count)
	for i := 0; i < count; i++ {
		var sample types.Sample
		var m int
		if sample.Open, m, err = varint.Float64.Unmarshal(data[n:]); err != nil {
			return nil, n, err
		}
		n += m
		if sample.High, m, err = varint.Float64.Unmarshal(data[n:]); err != nil {
			return nil, n, err
		}
		n += m
		if sample.Low, m, err = varint.Float64.Unmarshal(data[n:]); err != nil {
			return nil, n, err
		}
		n += m
		if sample.Close, m, err = varint.Float64.Unmarshal(data[n:]); err != nil {
			return nil, n, err
		}
		n += m
		window = append(window, sample)
	}
	return window, n, nil
}

// Strings are length-prefixed with a positive varint
func sizeString(s string) int {
	return varint.PositiveInt.Size(len(s)) + len(s)
}

func marshalString(s string, bs []byte) int {
	n := varint.PositiveInt.Marshal(len(s), bs)
	n += copy(bs[n:], s)
	return n
}

func unmarshalString(bs []byte) (string, int, error) {
	length, n, err := varint.PositiveInt.Unmarshal(bs)
	if err != nil {
		return "", n, err
	}
	if length < 0 || n+length > len(bs) {
		return "", n, ErrBlobTruncated
	}
	return string(bs[n : n+length]), n + length, nil
}
