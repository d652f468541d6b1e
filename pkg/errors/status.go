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

// Package errors provides structured status errors shared by the local
// store, the remote streams and the caller-facing client.
package errors

import "fmt"

// StatusCode represents the error codes used throughout the sync engine.
// The numeric values follow the gRPC status codes so that errors received
// from the network can be carried without translation.
type StatusCode int

const (
	// ErrCodeOK is never attached to an error. It is returned by StatusOf
	// for a nil error.
	ErrCodeOK StatusCode = 0

	// ErrCodeCanceled indicates the operation was cancelled, typically by the caller.
	ErrCodeCanceled StatusCode = 1

	// ErrCodeUnknown indicates an error whose cause could not be classified.
	ErrCodeUnknown StatusCode = 2

	// ErrCodeInvalidArgument indicates that the client specified an invalid argument.
	ErrCodeInvalidArgument StatusCode = 3

	// ErrCodeDeadlineExceeded indicates the deadline expired before the operation completed.
	ErrCodeDeadlineExceeded StatusCode = 4

	// ErrCodeNotFound indicates that some requested entity was not found.
	ErrCodeNotFound StatusCode = 5

	// ErrCodeAlreadyExists indicates that the entity that a client attempted to create already exists.
	ErrCodeAlreadyExists StatusCode = 6

	// ErrCodePermissionDenied indicates that the caller does not have permission to execute the operation.
	ErrCodePermissionDenied StatusCode = 7

	// ErrCodeResourceExhausted indicates that some resource has been exhausted, perhaps a per-user quota.
	ErrCodeResourceExhausted StatusCode = 8

	// ErrCodeFailedPrecondition indicates that the operation was rejected because the system is not
	// in a state required for the operation's execution.
	ErrCodeFailedPrecondition StatusCode = 9

	// ErrCodeAborted indicates the operation was aborted, typically due to a concurrency issue.
	ErrCodeAborted StatusCode = 10

	// ErrCodeOutOfRange indicates the operation was attempted past the valid range.
	ErrCodeOutOfRange StatusCode = 11

	// ErrCodeUnimplemented indicates the operation is not implemented or not supported.
	ErrCodeUnimplemented StatusCode = 12

	// ErrCodeInternal indicates that some invariants expected by the underlying system have been broken.
	ErrCodeInternal StatusCode = 13

	// ErrCodeUnavailable indicates that the service is currently unavailable.
	// This is usually temporary, so clients can back off and retry.
	ErrCodeUnavailable StatusCode = 14

	// ErrCodeDataLoss indicates unrecoverable data loss or corruption.
	ErrCodeDataLoss StatusCode = 15

	// ErrCodeUnauthenticated indicates that the request does not have valid authentication credentials.
	ErrCodeUnauthenticated StatusCode = 16
)

// String returns the string representation of the error code.
func (c StatusCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeCanceled:
		return "canceled"
	case ErrCodeUnknown:
		return "unknown"
	case ErrCodeInvalidArgument:
		return "invalid_argument"
	case ErrCodeDeadlineExceeded:
		return "deadline_exceeded"
	case ErrCodeNotFound:
		return "not_found"
	case ErrCodeAlreadyExists:
		return "already_exists"
	case ErrCodePermissionDenied:
		return "permission_denied"
	case ErrCodeResourceExhausted:
		return "resource_exhausted"
	case ErrCodeFailedPrecondition:
		return "failed_precondition"
	case ErrCodeAborted:
		return "aborted"
	case ErrCodeOutOfRange:
		return "out_of_range"
	case ErrCodeUnimplemented:
		return "unimplemented"
	case ErrCodeInternal:
		return "internal"
	case ErrCodeUnavailable:
		return "unavailable"
	case ErrCodeDataLoss:
		return "data_loss"
	case ErrCodeUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// IsRetryable returns true if an operation that failed with this code can be
// attempted again without changing the request.
func (c StatusCode) IsRetryable() bool {
	switch c {
	case ErrCodeUnknown, ErrCodeDeadlineExceeded, ErrCodeResourceExhausted,
		ErrCodeAborted, ErrCodeInternal, ErrCodeUnavailable, ErrCodeUnauthenticated,
		ErrCodeCanceled:
		return true
	default:
		return false
	}
}

// IsPermanent returns true if the code means the request itself is at fault
// and retrying it cannot succeed.
func (c StatusCode) IsPermanent() bool {
	switch c {
	case ErrCodeInvalidArgument, ErrCodeNotFound, ErrCodeAlreadyExists,
		ErrCodePermissionDenied, ErrCodeFailedPrecondition, ErrCodeOutOfRange,
		ErrCodeUnimplemented, ErrCodeDataLoss:
		return true
	default:
		return false
	}
}
