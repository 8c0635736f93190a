package chronicle

// Per-request limits for bulk row creation.
const (
	maxRowsPerRequest  = 1000
	maxBytesPerRequest = 4_000_000
)

// chunkLimits bounds a single bulk request.
type chunkLimits struct {
	MaxItems int
	MaxBytes int
}

var defaultChunkLimits = chunkLimits{
	MaxItems: maxRowsPerRequest,
	MaxBytes: maxBytesPerRequest,
}

// chunkBatch splits items into consecutive chunks that each satisfy limits,
// preserving order. A candidate chunk over the byte limit is halved, and
// its tail goes back to the front of the queue.
//
// The whole batch is planned up front: if any single item exceeds MaxBytes
// on its own, no chunks are returned and the error names that item.
func chunkBatch[T any](items []T, size func(T) int, limits chunkLimits) ([][]T, error) {
	if len(items) == 0 {
		return nil, nil
	}
	maxItems := limits.MaxItems
	if maxItems <= 0 {
		maxItems = len(items)
	}

	sizes := make([]int, len(items))
	for i, item := range items {
		sizes[i] = size(item)
	}

	var chunks [][]T
	for pos := 0; pos < len(items); {
		n := min(maxItems, len(items)-pos)
		for limits.MaxBytes > 0 && sum(sizes[pos:pos+n]) > limits.MaxBytes {
			if n == 1 {
				return nil, &RowTooLargeError{Index: pos, Size: sizes[pos], Limit: limits.MaxBytes}
			}
			n /= 2
		}
		chunks = append(chunks, items[pos:pos+n:pos+n])
		pos += n
	}
	return chunks, nil
}

func sum(xs []int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}
