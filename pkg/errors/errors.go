/*
 * Copyright 2025 The Yorkie Authors. All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package errors

import (
	"context"
	"errors"
)

// StatusError represents an error that carries an error status.
type StatusError interface {
	error
	Status() StatusCode
	Code() string
	WithCode(code string) StatusError
}

// errorWithStatus is the internal implementation of StatusError.
type errorWithStatus struct {
	err    error
	status StatusCode
	code   string
}

// Error returns the error message.
func (e errorWithStatus) Error() string {
	return e.err.Error()
}

// Status returns the error status.
func (e errorWithStatus) Status() StatusCode {
	return e.status
}

// Code returns the custom code of the error, if any.
func (e errorWithStatus) Code() string {
	return e.code
}

// Unwrap returns the underlying error for error chain compatibility.
func (e errorWithStatus) Unwrap() error {
	return e.err
}

// WithCode returns a new StatusError with the specified custom code.
func (e errorWithStatus) WithCode(code string) StatusError {
	return errorWithStatus{
		err:    e.err,
		status: e.status,
		code:   code,
	}
}

func newErrorWithStatus(err error, status StatusCode) StatusError {
	return errorWithStatus{
		err:    err,
		status: status,
	}
}

// New creates a new error with the given status and message.
func New(status StatusCode, message string) StatusError {
	return newErrorWithStatus(errors.New(message), status)
}

// Wrap attaches the given status to err. The message of err is kept.
func Wrap(err error, status StatusCode) StatusError {
	return newErrorWithStatus(err, status)
}

// NotFound creates a new "not found" error.
func NotFound(message string) StatusError {
	return New(ErrCodeNotFound, message)
}

// InvalidArgument creates a new "invalid argument" error.
func InvalidArgument(message string) StatusError {
	return New(ErrCodeInvalidArgument, message)
}

// AlreadyExists creates a new "already exists" error.
func AlreadyExists(message string) StatusError {
	return New(ErrCodeAlreadyExists, message)
}

// PermissionDenied creates a new "permission denied" error.
func PermissionDenied(message string) StatusError {
	return New(ErrCodePermissionDenied, message)
}

// ResourceExhausted creates a new "resource exhausted" error.
func ResourceExhausted(message string) StatusError {
	return New(ErrCodeResourceExhausted, message)
}

// FailedPrecond creates a new "failed precondition" error.
func FailedPrecond(message string) StatusError {
	return New(ErrCodeFailedPrecondition, message)
}

// Aborted creates a new "aborted" error.
func Aborted(message string) StatusError {
	return New(ErrCodeAborted, message)
}

// Unauthenticated creates a new "unauthenticated" error.
func Unauthenticated(message string) StatusError {
	return New(ErrCodeUnauthenticated, message)
}

// Internal creates a new "internal" error.
func Internal(message string) StatusError {
	return New(ErrCodeInternal, message)
}

// Unavailable creates a new "unavailable" error.
func Unavailable(message string) StatusError {
	return New(ErrCodeUnavailable, message)
}

// Canceled creates a new "canceled" error.
func Canceled(message string) StatusError {
	return New(ErrCodeCanceled, message)
}

// StatusOf extracts the error status from an error. Context errors are
// mapped to their natural codes and any other unclassified error reports
// ErrCodeUnknown.
func StatusOf(err error) StatusCode {
	if err == nil {
		return ErrCodeOK
	}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrCodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeDeadlineExceeded
	}

	return ErrCodeUnknown
}

// IsStatus checks if the given error has the specified error status.
func IsStatus(err error, code StatusCode) bool {
	return StatusOf(err) == code
}

// IsRetryable returns true if the failed operation may succeed when it is
// attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return StatusOf(err).IsRetryable()
}

// IsPermanentError returns true if the error is caused by the request itself.
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	return StatusOf(err).IsPermanent()
}

// IsPermanentWriteError returns true if a write batch that failed with err
// must be rejected instead of being resent.
func IsPermanentWriteError(err error) bool {
	return IsPermanentError(err) && !IsStatus(err, ErrCodeAborted)
}

// ErrorInfo provides detailed information about an error.
type ErrorInfo struct {
	Status       StatusCode
	Code         string
	Message      string
	Retryable    bool
	StatusString string
}

// ErrorInfoOf extracts comprehensive information from an error. This is
// useful for logging.
func ErrorInfoOf(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{}
	}

	code := ""
	var statusErr StatusError
	if errors.As(err, &statusErr) {
		code = statusErr.Code()
	}

	status := StatusOf(err)
	return ErrorInfo{
		Status:       status,
		Code:         code,
		Message:      err.Error(),
		Retryable:    status.IsRetryable(),
		StatusString: status.String(),
	}
}
