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

package logging_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yorkie-team/docsync/engine/logging"
)

func TestLogging(t *testing.T) {
	t.Run("log level test", func(t *testing.T) {
		assert.Error(t, logging.SetLogLevel("verbose"))

		assert.NoError(t, logging.SetLogLevel("warn"))
		assert.False(t, logging.Enabled(zapcore.InfoLevel))
		assert.True(t, logging.Enabled(zapcore.ErrorLevel))

		assert.NoError(t, logging.SetLogLevel("info"))
		assert.True(t, logging.Enabled(zapcore.InfoLevel))
	})

	t.Run("context logger test", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		logger := logging.NewFromZap(zap.New(core), "sync", logging.NewField("client", "c1"))

		ctx := logging.With(context.Background(), logger)
		logging.From(ctx).Info("listen")

		entries := logs.All()
		assert.Len(t, entries, 1)
		assert.Equal(t, "sync", entries[0].LoggerName)
		assert.Equal(t, "c1", entries[0].ContextMap()["client"])

		assert.Equal(t, logging.DefaultLogger(), logging.From(context.Background()))
	})
}
