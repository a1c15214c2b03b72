// Package bulk bounds per-operation resource usage by splitting large
// record sets into fixed-size chunks before they hit the relational
// backend. Unbounded single-statement inserts risk exceeding backend
// parameter limits and hold locks disproportionately long.
package bulk

// DefaultChunkSize is the chunk size used when a caller passes 0
const DefaultChunkSize = 500

// WriteMany splits an ordered record slice into chunks of at most
// chunkSize and calls insert once per chunk, in order. There is no
// partial-chunk retry: the first failing chunk stops the write, and
// the count of already-committed chunks is returned alongside the
// error so a duplicate-avoiding retry is possible upstream.
func WriteMany[T any](items []T, chunkSize int, insert func([]T) error) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	committed := 0
	for start := 0; start < len(items); start += chunkSize {
		end := min(start+chunkSize, len(items))
		if err := insert(items[start:end]); err != nil {
			return committed, err
		}
		committed++
	}
	return committed, nil
}
