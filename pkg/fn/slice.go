package fn

// Keep returns the items pred accepts, in order, along with how many it
// rejected.
func Keep[T any](items []T, pred func(T) bool) (kept []T, dropped int) {
	kept = make([]T, 0, len(items))
	for _, v := range items {
		if pred(v) {
			kept = append(kept, v)
		}
	}
	return kept, len(items) - len(kept)
}

// DistinctBy drops every item whose key was already seen. The first
// occurrence wins and order is preserved; dupes counts the dropped items.
func DistinctBy[T any, K comparable](items []T, key func(T) K) (out []T, dupes int) {
	seen := make(map[K]bool, len(items))
	return Keep(items, func(v T) bool {
		k := key(v)
		if seen[k] {
			return false
		}
		seen[k] = true
		return true
	})
}
