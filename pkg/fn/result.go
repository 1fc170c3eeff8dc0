package fn

// Result holds the value a step produced or the error that stopped it.
// The zero Result is a success carrying the zero value.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps v as a success.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps err as a failure. A nil err yields a success.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// Of adapts the usual (value, error) return pair.
func Of[T any](v T, err error) Result[T] {
	if err != nil {
		return Result[T]{err: err}
	}
	return Result[T]{val: v}
}

// Failed reports whether the step returned an error.
func (r Result[T]) Failed() bool { return r.err != nil }

// Get splits the Result back into a (value, error) pair.
func (r Result[T]) Get() (T, error) { return r.val, r.err }

// Or returns the value, or fallback when the step failed.
func (r Result[T]) Or(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.val
}
