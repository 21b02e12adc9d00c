// Package neterrors defines the error kinds raised across the networking core.
//
// Each kind is a sentinel that callers can match with errors.Is; the
// underlying cause (transport error, decode error, ...) is wrapped with
// fmt.Errorf("%w: ...") so both the kind and the cause survive.
package neterrors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL is raised when the descriptor fails to compose a request URL.
	ErrInvalidURL = errors.New("invalid url")

	// ErrNoResponse is raised when the transport returns neither a response nor an error.
	ErrNoResponse = errors.New("no response")

	// ErrTransport wraps an error surfaced verbatim from the underlying transport.
	ErrTransport = errors.New("transport error")

	// ErrHandled wraps an error returned by the descriptor's Handle hook.
	ErrHandled = errors.New("handled error")

	// ErrDecode is raised when the response decoder fails. The cache is not written.
	ErrDecode = errors.New("decode error")

	// ErrCacheDecodeFailure is raised when previously-cached bytes no longer decode.
	ErrCacheDecodeFailure = errors.New("cache decode failure")

	// ErrCacheIO is raised on disk I/O failure during a cache write. Logged, not fatal.
	ErrCacheIO = errors.New("cache io error")

	// ErrMergeIncompatible is raised when two tasks with equal fingerprints carry
	// incompatible descriptor types and cannot be coalesced.
	ErrMergeIncompatible = errors.New("merge incompatible")
)

// Wrap annotates cause with kind so both errors.Is(err, kind) and the
// original cause remain inspectable.
func Wrap(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Wrapf is like Wrap but with a formatted message appended to the cause position.
func Wrapf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{kind}, args...)...)
}
