package utils

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRandomElement(t *testing.T) {
	t.Run("returns element from single-element slice", func(t *testing.T) {
		got, ok := GetRandomElement(nil, []int{42})
		require.True(t, ok)
		assert.Equal(t, 42, got)
	})

	t.Run("empty slice reports false", func(t *testing.T) {
		got, ok := GetRandomElement[string](nil, nil)
		assert.False(t, ok)
		assert.Empty(t, got)
	})

	t.Run("returns only elements from the slice", func(t *testing.T) {
		arr := []string{"a", "b", "c"}
		for i := 0; i < 50; i++ {
			got, ok := GetRandomElement(nil, arr)
			require.True(t, ok)
			assert.Contains(t, arr, got)
		}
	})

	t.Run("seeded source is deterministic", func(t *testing.T) {
		arr := []int{1, 2, 3, 4, 5, 6, 7, 8}
		a := rand.New(rand.NewPCG(7, 11))
		b := rand.New(rand.NewPCG(7, 11))
		for i := 0; i < 20; i++ {
			x, _ := GetRandomElement(a, arr)
			y, _ := GetRandomElement(b, arr)
			assert.Equal(t, x, y)
		}
	})

	t.Run("every element is eventually picked", func(t *testing.T) {
		arr := []string{"a", "b", "c", "d"}
		rng := rand.New(rand.NewPCG(1, 2))
		seen := make(map[string]bool)
		for i := 0; i < 1000; i++ {
			got, _ := GetRandomElement(rng, arr)
			seen[got] = true
		}
		assert.Len(t, seen, len(arr))
	})
}
