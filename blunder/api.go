// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface.
//
// This package provides APIs to add a page error code (with its errno and HTTP
// status equivalents) to regular Go errors.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   From merry godoc:
//     You can add any context information to an error with `e = merry.WithValue(e, "code", 12345)`
//     You can retrieve that value with `v, _ := merry.Value(e, "code").(int)`
//
package blunder

import (
	"fmt"
	"net/http"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/pagecache/logger"
)

// PageError values are errno based so that they may be reported by daemons
// that speak errno as well as those that speak HTTP.
//
type PageError int

const (
	NotFoundError     PageError = PageError(int(unix.ENOENT))    // No such page or document
	IOError           PageError = PageError(int(unix.EIO))       // Backend failed to produce the page
	InvalidArgError   PageError = PageError(int(unix.EINVAL))    // Invalid argument
	TryAgainError     PageError = PageError(int(unix.EAGAIN))    // Backend not yet ready
	NotSupportedError PageError = PageError(int(unix.ENOTSUP))   // No backend for the document type
	CanceledError     PageError = PageError(int(unix.ECANCELED)) // Request canceled before delivery
	TimedOutError     PageError = PageError(int(unix.ETIMEDOUT)) // Delivery did not arrive in time
)

// SuccessError is the PageError of a nil error.
const SuccessError PageError = 0

const (
	errnoKey     = "errno"
	successErrno = 0
	failureErrno = -1
)

// Value returns the int value for the specified PageError constant.
func (errValue PageError) Value() int {
	return int(errValue)
}

// HTTPCode returns the HTTP status that best represents errValue.
func (errValue PageError) HTTPCode() int {
	switch errValue {
	case SuccessError:
		return http.StatusOK
	case NotFoundError:
		return http.StatusNotFound
	case InvalidArgError:
		return http.StatusBadRequest
	case TryAgainError:
		return http.StatusServiceUnavailable
	case NotSupportedError:
		return http.StatusNotImplemented
	case CanceledError:
		return http.StatusServiceUnavailable
	case TimedOutError:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (errValue PageError) String() string {
	switch errValue {
	case SuccessError:
		return "SuccessError"
	case NotFoundError:
		return "NotFoundError"
	case IOError:
		return "IOError"
	case InvalidArgError:
		return "InvalidArgError"
	case TryAgainError:
		return "TryAgainError"
	case NotSupportedError:
		return "NotSupportedError"
	case CanceledError:
		return "CanceledError"
	case TimedOutError:
		return "TimedOutError"
	default:
		return fmt.Sprintf("PageError(%d)", int(errValue))
	}
}

// NewError creates a new merry/blunder.PageError-annotated error using the given
// format string and arguments.
//
func NewError(errValue PageError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue(errnoKey, int(errValue)).WithHTTPCode(errValue.HTTPCode())
}

// AddError is used to add page error detail to a Go error. A nil e is replaced
// by a new, generic error carrying errValue.
//
func AddError(e error, errValue PageError) error {
	if nil == e {
		return merry.New("regular error").WithValue(errnoKey, int(errValue)).WithHTTPCode(errValue.HTTPCode())
	}

	prevValue := Errno(e)
	if (successErrno != prevValue) && (failureErrno != prevValue) && (int(errValue) != prevValue) {
		logger.Warnf("replacing error value %v with value %v for error %v", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, int(errValue)).WithHTTPCode(errValue.HTTPCode())
}

// Copy returns an error value distinct from e carrying the same message and
// annotations. Each page request holds its own Copy so that no two requests
// share an error value. Copy(nil) is nil.
//
func Copy(e error) error {
	if nil == e {
		return nil
	}

	return merry.WrapSkipping(e, 1).WithValue(errnoKey, Errno(e))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
//
func Errno(e error) int {
	if nil == e {
		return successErrno
	}

	errno, ok := merry.Value(e, errnoKey).(int)
	if !ok {
		return failureErrno
	}

	return errno
}

// Code returns the PageError carried by e (SuccessError for nil, IOError
// when e carries none).
//
func Code(e error) PageError {
	errno := Errno(e)

	if failureErrno == errno {
		return IOError
	}

	return PageError(errno)
}

// Is reports whether e carries theError.
func Is(e error, theError PageError) bool {
	return Errno(e) == theError.Value()
}

// IsNot reports whether e does not carry theError.
func IsNot(e error, theError PageError) bool {
	return Errno(e) != theError.Value()
}

// ErrorString returns e.Error() followed by its error value, if set.
func ErrorString(e error) string {
	if nil == e {
		return ""
	}

	errno, ok := merry.Value(e, errnoKey).(int)
	if !ok {
		return e.Error()
	}

	return fmt.Sprintf("%s. Error Value: %v", e.Error(), errno)
}

// HTTPCode wraps merry.HTTPCode, which returns the HTTP status code. Default value is 500.
func HTTPCode(e error) int {
	if nil == e {
		return http.StatusOK
	}

	return merry.HTTPCode(e)
}

// SourceLine returns the file and line number of the code that generated the error.
// Returns an empty string if e has no stacktrace.
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}
