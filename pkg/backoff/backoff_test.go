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

package backoff_test

import (
	"context"
	"errors"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/backoff"
)

func TestBackoff(t *testing.T) {
	config := backoff.Config{
		InitialDelay: 10 * gotime.Millisecond,
		MaxDelay:     40 * gotime.Millisecond,
		Factor:       2,
	}

	t.Run("exponential growth with cap test", func(t *testing.T) {
		b := backoff.New(config)
		var delays []gotime.Duration
		for i := 0; i < 6; i++ {
			delays = append(delays, b.Next())
		}
		assert.Equal(t, []gotime.Duration{
			0,
			10 * gotime.Millisecond,
			20 * gotime.Millisecond,
			40 * gotime.Millisecond,
			40 * gotime.Millisecond,
			40 * gotime.Millisecond,
		}, delays)
	})

	t.Run("reset test", func(t *testing.T) {
		b := backoff.New(config)
		b.Next()
		b.Next()
		b.Reset()
		assert.Equal(t, gotime.Duration(0), b.Next())

		b.ResetToMax()
		assert.Equal(t, 40*gotime.Millisecond, b.Next())
	})

	t.Run("jitter stays in range test", func(t *testing.T) {
		jittered := config
		jittered.Jitter = 0.5
		b := backoff.New(jittered)
		b.Next()
		for i := 0; i < 20; i++ {
			base := b.Current()
			d := b.Next()
			assert.GreaterOrEqual(t, d, base/2)
			assert.LessOrEqual(t, d, base+base/2)
		}
	})

	t.Run("retry test", func(t *testing.T) {
		errTransient := errors.New("transient")
		errFatal := errors.New("fatal")
		shouldRetry := func(err error) bool { return errors.Is(err, errTransient) }

		attempts := 0
		err := backoff.Retry(context.Background(), backoff.New(config), 5, shouldRetry, func() error {
			attempts++
			if attempts < 3 {
				return errTransient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)

		attempts = 0
		err = backoff.Retry(context.Background(), backoff.New(config), 5, shouldRetry, func() error {
			attempts++
			return errFatal
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, attempts)

		attempts = 0
		err = backoff.Retry(context.Background(), backoff.New(config), 2, shouldRetry, func() error {
			attempts++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 2, attempts)
	})
}
