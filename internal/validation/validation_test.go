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

package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidation(t *testing.T) {
	t.Run("ValidateValue test", func(t *testing.T) {
		assert.NoError(t, ValidateValue("rooms", "required,path_segment"))

		err := ValidateValue("rooms/r1", "required,path_segment")
		require.Error(t, err)
		assert.Equal(t, "path_segment", err.(Violation).Tag)
		assert.Contains(t, err.Error(), "must not contain slashes")

		err = ValidateValue("", "required,path_segment")
		assert.Equal(t, "required", err.(Violation).Tag)

		assert.NoError(t, ValidateValue("1h30m20s", "duration"))
		assert.NoError(t, ValidateValue("300ms", "duration"))
		assert.Equal(t, "duration", ValidateValue("one hour", "duration").(Violation).Tag)
		assert.Equal(t, "duration", ValidateValue("-1s", "duration").(Violation).Tag)

		assert.NoError(t, ValidateValue("DEBUG", "log_level"))
		assert.Equal(t, "log_level", ValidateValue("verbose", "log_level").(Violation).Tag)
	})

	t.Run("ValidateStruct test", func(t *testing.T) {
		type Section struct {
			Attempts int `validate:"gte=1"`
		}
		type Options struct {
			Interval string   `validate:"required,duration"`
			Level    string   `validate:"log_level"`
			Section  *Section `validate:"required"`
		}

		err := ValidateStruct(Options{Interval: "soon", Level: "info", Section: &Section{}})
		structError := err.(*StructError)
		require.Len(t, structError.Violations, 2)
		assert.Equal(t, "Interval", structError.Violations[0].Field)
		assert.Equal(t, "duration", structError.Violations[0].Tag)
		assert.Equal(t, "Attempts", structError.Violations[1].Field)

		assert.NoError(t, ValidateStruct(Options{Interval: "1s", Level: "warn", Section: &Section{Attempts: 1}}))
	})

	t.Run("custom rule test", func(t *testing.T) {
		require.NoError(t, RegisterRule("even", "{0} must be even", func(level FieldLevel) bool {
			return level.Field().Int()%2 == 0
		}))

		assert.NoError(t, ValidateValue(2, "even"))
		err := ValidateValue(3, "even")
		assert.Equal(t, "even", err.(Violation).Tag)
	})
}
