// Package rmerrors defines the error kinds the record manager emits.
//
// Errors raised by the buffer pool collaborator are never replaced: they
// are wrapped with github.com/pkg/errors so that errors.Cause (and the
// standard library's errors.Is/As, which pkg/errors' Wrap supports via
// Unwrap) still recovers the original error, satisfying the "pass-through"
// policy of keeping a buffer-pool error's identity intact as it bubbles up.
package rmerrors

import "github.com/pkg/errors"

var (
	// ErrAlreadyOpen is raised when an already-open PageSlot or FileHandle
	// is opened again.
	ErrAlreadyOpen = errors.New("already open")

	// ErrPageFull is raised by PageSlot.Insert when record_num equals
	// record_capacity.
	ErrPageFull = errors.New("page full")

	// ErrInvalidArgument is raised for out-of-range slot numbers, nil
	// inputs, or record sizes that cannot be honored.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRecordNotExist is raised by Update/Delete when the target slot's
	// bit is unset.
	ErrRecordNotExist = errors.New("record does not exist")

	// ErrInvalidRID is raised by Get when the slot is out of range.
	ErrInvalidRID = errors.New("invalid rid")

	// ErrEndOfPage signals iteration exhaustion within a single page.
	ErrEndOfPage = errors.New("end of page")

	// ErrEndOfFile signals a scan has visited every page of a file.
	ErrEndOfFile = errors.New("end of file")

	// ErrClosed is raised when a Scanner is used after CloseScan.
	ErrClosed = errors.New("scanner closed")

	// ErrRecordTooLarge is raised when a requested record exceeds 2*HALF,
	// or a record_real_size would yield a page capacity of zero.
	ErrRecordTooLarge = errors.New("record too large")

	// ErrInvalidPageNum is the buffer pool's distinguished error for "page
	// exists in numbering range but is not materialized".
	ErrInvalidPageNum = errors.New("invalid page number")

	// ErrFileLockedByOther is raised when a heap file is already
	// advisory-locked by another process.
	ErrFileLockedByOther = errors.New("heap file locked by another process")

	// ErrBufferPoolExhausted is raised when every frame in the pool is
	// pinned and a new page must be paged in.
	ErrBufferPoolExhausted = errors.New("buffer pool exhausted: all frames pinned")
)

// Wrap attaches context to err without discarding its identity: errors.Is
// and errors.Cause against the sentinel values above keep working on the
// result.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, context)
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err (or any error it wraps) is target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
