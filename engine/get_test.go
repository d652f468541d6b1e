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


package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOneShotListen(t *testing.T) {
	t.Run("cancel after deliver does not unlisten again test", func(t *testing.T) {
		unlistens := 0
		once := newOneShotListen(func() { unlistens++ })

		once.deliver(getResult{})
		once.cancel()

		assert.Equal(t, 1, unlistens)
		assert.Len(t, once.results, 1)
	})

	t.Run("deliver after cancel is dropped test", func(t *testing.T) {
		unlistens := 0
		once := newOneShotListen(func() { unlistens++ })

		once.cancel()
		once.deliver(getResult{})
		once.cancel()

		assert.Equal(t, 1, unlistens)
		assert.Len(t, once.results, 0)
	})

	t.Run("failed listen is not unlistened test", func(t *testing.T) {
		unlistens := 0
		once := newOneShotListen(func() { unlistens++ })

		once.fail(errors.New("rejected"))
		once.fail(errors.New("rejected again"))
		once.cancel()

		assert.Equal(t, 0, unlistens)
		r := <-once.results
		assert.EqualError(t, r.err, "rejected")
	})
}
