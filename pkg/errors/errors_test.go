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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode_String(t *testing.T) {
	tests := []struct {
		name string
		code StatusCode
		want string
	}{
		{"Canceled", ErrCodeCanceled, "canceled"},
		{"InvalidArgument", ErrCodeInvalidArgument, "invalid_argument"},
		{"DeadlineExceeded", ErrCodeDeadlineExceeded, "deadline_exceeded"},
		{"Aborted", ErrCodeAborted, "aborted"},
		{"Unavailable", ErrCodeUnavailable, "unavailable"},
		{"Unknown", StatusCode(999), "code_999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.String())
		})
	}
}

func TestClassification(t *testing.T) {
	t.Run("transient codes test", func(t *testing.T) {
		for _, err := range []error{
			Unavailable("offline"),
			Internal("broken"),
			ResourceExhausted("quota"),
			Aborted("contention"),
			New(ErrCodeDeadlineExceeded, "slow"),
		} {
			assert.True(t, IsRetryable(err), err.Error())
			assert.False(t, IsPermanentError(err), err.Error())
			assert.False(t, IsPermanentWriteError(err), err.Error())
		}
	})

	t.Run("permanent codes test", func(t *testing.T) {
		for _, err := range []error{
			InvalidArgument("bad"),
			FailedPrecond("precondition"),
			PermissionDenied("denied"),
			AlreadyExists("exists"),
			NotFound("missing"),
		} {
			assert.False(t, IsRetryable(err), err.Error())
			assert.True(t, IsPermanentError(err), err.Error())
			assert.True(t, IsPermanentWriteError(err), err.Error())
		}
	})

	t.Run("wrapped status test", func(t *testing.T) {
		err := fmt.Errorf("write batch 3: %w", PermissionDenied("denied"))
		assert.Equal(t, ErrCodePermissionDenied, StatusOf(err))
		assert.True(t, IsPermanentWriteError(err))
	})

	t.Run("context errors test", func(t *testing.T) {
		assert.Equal(t, ErrCodeCanceled, StatusOf(context.Canceled))
		assert.Equal(t, ErrCodeDeadlineExceeded, StatusOf(fmt.Errorf("x: %w", context.DeadlineExceeded)))
		assert.Equal(t, ErrCodeUnknown, StatusOf(errors.New("plain")))
		assert.Equal(t, ErrCodeOK, StatusOf(nil))
	})
}

func TestErrorInfoOf(t *testing.T) {
	err := Unavailable("stream closed").WithCode("ErrStreamClosed")
	info := ErrorInfoOf(err)
	assert.Equal(t, ErrCodeUnavailable, info.Status)
	assert.Equal(t, "ErrStreamClosed", info.Code)
	assert.Equal(t, "stream closed", info.Message)
	assert.True(t, info.Retryable)
	assert.Equal(t, "unavailable", info.StatusString)

	assert.Equal(t, ErrorInfo{}, ErrorInfoOf(nil))
}
