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

package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) string {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestCommands(t *testing.T) {
	t.Run("version test", func(t *testing.T) {
		var info versionInfo
		require.NoError(t, json.Unmarshal([]byte(execute(t, "version", "-o", "json")), &info))
		assert.NotEmpty(t, info.GoVersion)
	})

	t.Run("config test", func(t *testing.T) {
		out := execute(t, "config", "-o", "yaml", "--log-level", "debug")
		assert.Contains(t, out, "LogLevel: debug")
		assert.Contains(t, out, "MaxPendingWrites: 10")
	})

	t.Run("simulate offline writes test", func(t *testing.T) {
		out := execute(t, "simulate", "--docs", "3", "--offline", "-o", "json", "--log-level", "warn")

		// The line about the pending writes precedes the rows.
		start := bytes.IndexByte([]byte(out), '[')
		require.GreaterOrEqual(t, start, 0, out)
		var rows []snapshotRow
		require.NoError(t, json.Unmarshal([]byte(out[start:]), &rows))
		assert.Len(t, rows, 3)
		for _, row := range rows {
			assert.False(t, row.Pending)
		}
	})
	t.Run("simulate invalid collection test", func(t *testing.T) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs([]string{"simulate", "--collection", "rooms/r1"})
		err := rootCmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--collection")
	})
}
