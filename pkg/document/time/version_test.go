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

package time_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yorkie-team/docsync/pkg/document/time"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, -1, time.Version(1).Compare(5))
	assert.Equal(t, 0, time.Version(5).Compare(5))
	assert.True(t, time.Version(5).After(time.MinVersion))
	assert.True(t, time.MinVersion.IsMin())
	assert.Equal(t, "T5", time.Version(5).String())
	assert.Equal(t, time.Version(7), time.Max(7, 3))
}
