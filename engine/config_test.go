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

package engine_test

import (
	"os"
	"path/filepath"
	"testing"
	gotime "time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorkie-team/docsync/engine"
	"github.com/yorkie-team/docsync/pkg/errors"
)

func TestConfig(t *testing.T) {
	t.Run("default config test", func(t *testing.T) {
		conf := engine.NewConfig()
		assert.NoError(t, conf.Validate())
		assert.Equal(t, engine.DefaultLogLevel, conf.LogLevel)
		assert.Equal(t, engine.DefaultMaxPendingWrites, conf.Remote.MaxPendingWrites)
		assert.Equal(t, engine.DefaultOverlayMemoSize, conf.Local.OverlayMemoSize)

		opts := conf.SyncOptions()
		assert.Equal(t, engine.DefaultOnlineStateTimeout, opts.Remote.OnlineStateTimeout)
		assert.Equal(t, engine.DefaultInitialBackoff, opts.Remote.Backoff.InitialDelay)
		assert.Equal(t, engine.DefaultMaxConcurrentLimboResolutions, opts.MaxConcurrentLimboResolutions)
	})

	t.Run("config from file test", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "docsync.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
LogLevel: debug
Local:
  CacheSizeBytes: -1
Remote:
  Addr: localhost:9090
  IdleTimeout: 5s
Sync:
  MaxConcurrentLimboResolutions: 3
`), 0o600))

		conf, err := engine.NewConfigFromFile(path)
		require.NoError(t, err)
		assert.NoError(t, conf.Validate())
		assert.Equal(t, "debug", conf.LogLevel)
		assert.Equal(t, int64(-1), conf.LRUParams().CacheSizeCollectionThreshold)
		assert.Equal(t, "localhost:9090", conf.Remote.Addr)
		assert.Equal(t, 5*gotime.Second, conf.SyncOptions().Remote.IdleTimeout)
		assert.Equal(t, 3, conf.SyncOptions().MaxConcurrentLimboResolutions)

		// Omitted values fall back to the defaults.
		assert.Equal(t, engine.DefaultMaxPendingWrites, conf.Remote.MaxPendingWrites)
		assert.Equal(t, engine.DefaultGCRegularDelay.String(), conf.Local.GCRegularDelay)
	})

	t.Run("missing config file test", func(t *testing.T) {
		_, err := engine.NewConfigFromFile(filepath.Join(t.TempDir(), "missing.yml"))
		assert.Error(t, err)
	})

	t.Run("invalid values test", func(t *testing.T) {
		conf := engine.NewConfig()
		conf.Remote.IdleTimeout = "soon"
		assert.Error(t, conf.Validate())

		conf = engine.NewConfig()
		conf.LogLevel = "verbose"
		assert.Error(t, conf.Validate())

		conf = engine.NewConfig()
		conf.Local.PercentileToCollect = 101
		assert.Error(t, conf.Validate())

		conf = engine.NewConfig()
		conf.Remote.InitialBackoff = "1m"
		conf.Remote.MaxBackoff = "1s"
		err := conf.Validate()
		assert.ErrorIs(t, err, engine.ErrInvalidConfig)
		assert.True(t, errors.IsStatus(err, errors.ErrCodeInvalidArgument))
	})
}

func TestEngineConfigValidation(t *testing.T) {
	conf := engine.NewConfig()
	conf.Sync.MaxConcurrentLimboResolutions = -1
	_, err := engine.New(conf, engine.Options{})
	assert.Error(t, err)
}
