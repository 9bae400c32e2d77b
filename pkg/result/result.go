// Package result provides an explicit success-or-failure value for ledger
// operations that want to be chained without intermediate error checks.
//
// A Result is either Ok (holding a value) or Err (holding a non-nil error).
// It converts to and from the ordinary (T, error) pair with From and Unwrap,
// so it composes with the rest of the Go code base.
package result

import "fmt"

// Result holds either a value of type T or an error.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Err wraps a failure. A nil err is a programming error and panics.
func Err[T any](err error) Result[T] {
	if err == nil {
		panic("result: Err called with nil error")
	}
	return Result[T]{err: err}
}

// From converts a (value, error) pair into a Result.
func From[T any](v T, err error) Result[T] {
	if err != nil {
		return Result[T]{err: err}
	}
	return Result[T]{value: v}
}

// IsOk reports whether r holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether r holds an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Error returns the held error, or nil for an Ok result.
func (r Result[T]) Error() error { return r.err }

// Unwrap returns the value and error as an ordinary Go pair.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// UnwrapOr returns the value, or fallback when r is an Err.
func (r Result[T]) UnwrapOr(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// MustGet returns the value and panics on Err. Use only where an error
// indicates a broken internal invariant.
func (r Result[T]) MustGet() T {
	if r.err != nil {
		panic(fmt.Sprintf("result: MustGet on error: %v", r.err))
	}
	return r.value
}

// Map applies f to the value of an Ok result.
func Map[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return Ok(f(r.value))
}

// FlatMap applies a fallible f to the value of an Ok result.
func FlatMap[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return f(r.value)
}

// Match calls onOk or onErr depending on the state of r and returns its output.
func Match[T, U any](r Result[T], onOk func(T) U, onErr func(error) U) U {
	if r.err != nil {
		return onErr(r.err)
	}
	return onOk(r.value)
}
