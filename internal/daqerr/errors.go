// Package daqerr defines the error categories of the acquisition
// pipeline: configuration, resource, protocol, range overflow and
// contract violations. Transport conditions (a read timeout, a closed
// socket) have no category here: internal/ingest returns them as plain
// network errors and treats them as end of stream, and lost packets are
// repaired locally.
package daqerr

import (
	goerrors "github.com/agilira/go-errors"
)

// Category identifies which branch of the error taxonomy an error belongs
// to, so callers can switch on it without string matching.
type Category string

const (
	// CategoryConfiguration covers bad MTU, mismatched masks/resolutions,
	// non-power-of-two buffer sizes. Always fails at init.
	CategoryConfiguration Category = "configuration"

	// CategoryResource covers failures to obtain or manage a system
	// resource: ring allocation, memory pinning, setting a socket read
	// deadline, or goroutines not exiting before a stop deadline.
	CategoryResource Category = "resource"

	// CategoryProtocol covers a packet counter that decreased, which is
	// fatal for the offending stream.
	CategoryProtocol Category = "protocol"

	// CategoryRangeOverflow covers a wrapped ring buffer read that does
	// not fit the extra flattening space. A programming error, not a
	// runtime condition.
	CategoryRangeOverflow Category = "range_overflow"

	// CategoryContract covers a broken contract between pipeline stages:
	// a processor failing to initialize, or a channel value that would
	// spill more than 2 bytes across a packet boundary.
	CategoryContract Category = "contract_violation"
)

// New builds a daqerr.Error in the given category. message should name the
// concrete condition ("MTU must be > 0"), not repeat the category.
func New(cat Category, message string) *goerrors.Error {
	return goerrors.New(string(cat), message)
}

// Newf is New with fmt-style formatting.
func Newf(cat Category, format string, args ...any) *goerrors.Error {
	return goerrors.New(string(cat), goerrors.Sprintf(format, args...))
}

// Wrap annotates an existing error with a category, preserving it as the
// cause via errors.Unwrap.
func Wrap(cat Category, err error, message string) *goerrors.Error {
	return goerrors.Wrap(err, string(cat), message)
}

// Is reports whether err (or any error it wraps) belongs to cat.
func Is(err error, cat Category) bool {
	var e *goerrors.Error
	if !goerrors.As(err, &e) {
		return false
	}
	return e.Code() == string(cat)
}
