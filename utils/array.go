// Package utils provides small generic helpers shared across the chat server.
package utils

import "math/rand/v2"

// GetRandomElement returns a uniformly chosen element of arr. A nil rng uses
// the package-level generator, which is safe for concurrent use; a non-nil rng
// is not, and callers sharing one must serialize access themselves.
//
// Parameters:
//   - rng: The source of randomness, or nil for the global source
//   - arr: The slice to pick from
//
// Returns:
//   - A random element of arr, or the zero value of T if arr is empty
//   - false if arr is empty
func GetRandomElement[T any](rng *rand.Rand, arr []T) (T, bool) {
	if len(arr) == 0 {
		var zero T
		return zero, false
	}

	if rng == nil {
		return arr[rand.IntN(len(arr))], true
	}

	return arr[rng.IntN(len(arr))], true
}
