package chronicle

import (
	"errors"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(n int) int { return n }

func TestChunkBatch(t *testing.T) {
	t.Run("splits by row count", func(t *testing.T) {
		rows := make([]int, 2500)
		for i := range rows {
			rows[i] = 10
		}

		chunks, err := chunkBatch(rows, identity, defaultChunkLimits)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], 1000)
		assert.Len(t, chunks[1], 1000)
		assert.Len(t, chunks[2], 500)
	})

	t.Run("halves when over the byte limit", func(t *testing.T) {
		rows := []int{40, 40, 40, 40}

		chunks, err := chunkBatch(rows, identity, chunkLimits{MaxItems: 4, MaxBytes: 100})
		require.NoError(t, err)
		assert.Equal(t, [][]int{{40, 40}, {40, 40}}, chunks)
	})

	t.Run("oversized row plans nothing", func(t *testing.T) {
		rows := []int{10, 10, 500, 10}

		chunks, err := chunkBatch(rows, identity, chunkLimits{MaxItems: 10, MaxBytes: 100})
		require.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, chunks)

		var tooLarge *RowTooLargeError
		require.True(t, errors.As(err, &tooLarge))
		assert.Equal(t, 2, tooLarge.Index)
		assert.Equal(t, 500, tooLarge.Size)
	})

	t.Run("empty batch", func(t *testing.T) {
		chunks, err := chunkBatch([]int{}, identity, defaultChunkLimits)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

func TestChunkBatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	limits := chunkLimits{MaxItems: 7, MaxBytes: 100}
	rowSizes := gen.SliceOf(gen.IntRange(1, 100))

	properties.Property("concatenated chunks equal the input", prop.ForAll(
		func(rows []int) bool {
			chunks, err := chunkBatch(rows, identity, limits)
			if err != nil {
				return false
			}
			return slices.Equal(slices.Concat(chunks...), rows)
		},
		rowSizes,
	))

	properties.Property("every chunk respects both limits", prop.ForAll(
		func(rows []int) bool {
			chunks, err := chunkBatch(rows, identity, limits)
			if err != nil {
				return false
			}
			for _, c := range chunks {
				if len(c) == 0 || len(c) > limits.MaxItems || sum(c) > limits.MaxBytes {
					return false
				}
			}
			return true
		},
		rowSizes,
	))

	properties.Property("any row over the limit fails the whole batch", prop.ForAll(
		func(rows []int, at int) bool {
			if len(rows) == 0 {
				return true
			}
			rows = slices.Clone(rows)
			idx := at % len(rows)
			rows[idx] = limits.MaxBytes + 1
			chunks, err := chunkBatch(rows, identity, limits)
			var tooLarge *RowTooLargeError
			return chunks == nil && errors.As(err, &tooLarge) && tooLarge.Index <= idx
		},
		rowSizes,
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
