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
	"fmt"
	"os"
	"path/filepath"
	gotime "time"

	"gopkg.in/yaml.v3"

	"github.com/yorkie-team/docsync/engine/local"
	"github.com/yorkie-team/docsync/engine/profiling"
	"github.com/yorkie-team/docsync/engine/remote"
	"github.com/yorkie-team/docsync/engine/syncengine"
	"github.com/yorkie-team/docsync/internal/validation"
	"github.com/yorkie-team/docsync/pkg/backoff"
	"github.com/yorkie-team/docsync/pkg/errors"
)

// Below are the default values of the engine config.
const (
	DefaultLogLevel = "info"

	DefaultCacheSizeBytes              = local.DefaultCacheSizeBytes
	DefaultPercentileToCollect         = local.DefaultPercentileToCollect
	DefaultMaxSequenceNumbersToCollect = local.DefaultMaxSequenceNumbersToCollect
	DefaultGCInitialDelay              = local.DefaultGCInitialDelay
	DefaultGCRegularDelay              = local.DefaultGCRegularDelay
	DefaultOverlayMemoSize             = 1000
	DefaultTransactionAttempts         = 5

	DefaultInitialBackoff     = backoff.DefaultInitialDelay
	DefaultMaxBackoff         = backoff.DefaultMaxDelay
	DefaultBackoffFactor      = backoff.DefaultFactor
	DefaultBackoffJitter      = backoff.DefaultJitter
	DefaultIdleTimeout        = 60 * gotime.Second
	DefaultOnlineStateTimeout = 10 * gotime.Second
	DefaultMaxPendingWrites   = 10

	DefaultMaxConcurrentLimboResolutions = syncengine.DefaultMaxConcurrentLimboResolutions

	DefaultProfilingPort = 8081
)

// ErrInvalidConfig is returned when the values of a config conflict.
var ErrInvalidConfig = errors.InvalidArgument("invalid config").WithCode("ErrInvalidConfig")

// Config is the configuration for creating an Engine.
type Config struct {
	// LogLevel is the level of the engine loggers.
	LogLevel string `yaml:"LogLevel" validate:"log_level"`

	Local     *LocalConfig      `yaml:"Local" validate:"required"`
	Remote    *RemoteConfig     `yaml:"Remote" validate:"required"`
	Sync      *SyncConfig       `yaml:"Sync" validate:"required"`
	Profiling *profiling.Config `yaml:"Profiling"`
}

// LocalConfig is the configuration of the local store and its garbage
// collection.
type LocalConfig struct {
	// CacheSizeBytes is the size of the cache above which unused documents
	// are collected. -1 disables the collection.
	CacheSizeBytes int64 `yaml:"CacheSizeBytes" validate:"gte=-1"`

	// PercentileToCollect is the percentage of the sequence numbers that a
	// collection removes.
	PercentileToCollect int `yaml:"PercentileToCollect" validate:"gte=1,lte=100"`

	// MaxSequenceNumbersToCollect caps the sequence numbers a collection
	// removes.
	MaxSequenceNumbersToCollect int `yaml:"MaxSequenceNumbersToCollect" validate:"gte=1"`

	// GCInitialDelay is the delay of the first collection.
	GCInitialDelay string `yaml:"GCInitialDelay" validate:"duration"`

	// GCRegularDelay is the delay between collections.
	GCRegularDelay string `yaml:"GCRegularDelay" validate:"duration"`

	// OverlayMemoSize bounds the memoized overlay reads. 0 disables the memo.
	OverlayMemoSize int `yaml:"OverlayMemoSize" validate:"gte=0"`

	// TransactionAttempts is the number of attempts of a failing transaction.
	TransactionAttempts int `yaml:"TransactionAttempts" validate:"gte=1"`
}

// RemoteConfig is the configuration of the streams to the backend.
type RemoteConfig struct {
	// Addr is the address of the backend. An empty address runs the engine
	// against an in-process backend.
	Addr string `yaml:"Addr"`

	// CertFile is the certificate of the backend. Without it the connection
	// is not encrypted.
	CertFile string `yaml:"CertFile"`

	// ServerNameOverride overrides the server name of the certificate.
	ServerNameOverride string `yaml:"ServerNameOverride"`

	InitialBackoff string  `yaml:"InitialBackoff" validate:"duration"`
	MaxBackoff     string  `yaml:"MaxBackoff" validate:"duration"`
	BackoffFactor  float64 `yaml:"BackoffFactor" validate:"gte=1"`
	BackoffJitter  float64 `yaml:"BackoffJitter" validate:"gte=0,lte=1"`

	// IdleTimeout is the time an unused stream stays open.
	IdleTimeout string `yaml:"IdleTimeout" validate:"duration"`

	// OnlineStateTimeout is the time the listen stream may take to connect
	// before the engine is considered offline.
	OnlineStateTimeout string `yaml:"OnlineStateTimeout" validate:"duration"`

	// MaxPendingWrites is the number of batches written without being
	// acknowledged.
	MaxPendingWrites int `yaml:"MaxPendingWrites" validate:"gte=1"`
}

// SyncConfig is the configuration of the sync engine.
type SyncConfig struct {
	// MaxConcurrentLimboResolutions is the number of limbo documents that are
	// resolved at the same time.
	MaxConcurrentLimboResolutions int `yaml:"MaxConcurrentLimboResolutions" validate:"gte=1"`
}

// NewConfig returns a Config struct that contains reasonable defaults
// for most of the configurations.
func NewConfig() *Config {
	conf := &Config{
		Local:  &LocalConfig{},
		Remote: &RemoteConfig{},
		Sync:   &SyncConfig{},
	}
	conf.ensureDefaultValue()

	// Zero is meaningful for these, so they are only defaulted here.
	conf.Local.OverlayMemoSize = DefaultOverlayMemoSize
	conf.Remote.BackoffJitter = DefaultBackoffJitter
	return conf
}

// NewConfigFromFile returns a Config struct for the given conf file.
func NewConfigFromFile(path string) (*Config, error) {
	conf := &Config{}
	bytes, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err = yaml.Unmarshal(bytes, conf); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	conf.ensureDefaultValue()
	return conf, nil
}

// Validate returns an error if the provided Config is invalidated.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if c.Profiling != nil {
		if err := c.Profiling.Validate(); err != nil {
			return err
		}
	}

	initialDelay := mustParseDuration(c.Remote.InitialBackoff)
	if mustParseDuration(c.Remote.MaxBackoff) < initialDelay {
		return fmt.Errorf(
			"max backoff %s is shorter than initial backoff %s: %w",
			c.Remote.MaxBackoff,
			c.Remote.InitialBackoff,
			ErrInvalidConfig,
		)
	}

	return nil
}

// LocalOptions returns the options of the local store.
func (c *Config) LocalOptions() local.Options {
	return local.Options{
		OverlayMemoSize:     c.Local.OverlayMemoSize,
		TransactionAttempts: c.Local.TransactionAttempts,
	}
}

// LRUParams returns the parameters of the garbage collector.
func (c *Config) LRUParams() local.LRUParams {
	return local.LRUParams{
		CacheSizeCollectionThreshold:    c.Local.CacheSizeBytes,
		PercentileToCollect:             c.Local.PercentileToCollect,
		MaximumSequenceNumbersToCollect: c.Local.MaxSequenceNumbersToCollect,
	}
}

// SyncOptions returns the options of the sync engine and its remote store.
func (c *Config) SyncOptions() syncengine.Options {
	return syncengine.Options{
		MaxConcurrentLimboResolutions: c.Sync.MaxConcurrentLimboResolutions,
		Remote: remote.Options{
			Backoff: backoff.Config{
				InitialDelay: mustParseDuration(c.Remote.InitialBackoff),
				MaxDelay:     mustParseDuration(c.Remote.MaxBackoff),
				Factor:       c.Remote.BackoffFactor,
				Jitter:       c.Remote.BackoffJitter,
			},
			IdleTimeout:        mustParseDuration(c.Remote.IdleTimeout),
			OnlineStateTimeout: mustParseDuration(c.Remote.OnlineStateTimeout),
			MaxPendingWrites:   c.Remote.MaxPendingWrites,
		},
	}
}

// ensureDefaultValue sets the value of the option to which the default value
// should be applied when the user does not input it.
func (c *Config) ensureDefaultValue() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	if c.Local == nil {
		c.Local = &LocalConfig{}
	}
	if c.Local.CacheSizeBytes == 0 {
		c.Local.CacheSizeBytes = DefaultCacheSizeBytes
	}
	if c.Local.PercentileToCollect == 0 {
		c.Local.PercentileToCollect = DefaultPercentileToCollect
	}
	if c.Local.MaxSequenceNumbersToCollect == 0 {
		c.Local.MaxSequenceNumbersToCollect = DefaultMaxSequenceNumbersToCollect
	}
	if c.Local.GCInitialDelay == "" {
		c.Local.GCInitialDelay = DefaultGCInitialDelay.String()
	}
	if c.Local.GCRegularDelay == "" {
		c.Local.GCRegularDelay = DefaultGCRegularDelay.String()
	}
	if c.Local.TransactionAttempts == 0 {
		c.Local.TransactionAttempts = DefaultTransactionAttempts
	}

	if c.Remote == nil {
		c.Remote = &RemoteConfig{}
	}
	if c.Remote.InitialBackoff == "" {
		c.Remote.InitialBackoff = DefaultInitialBackoff.String()
	}
	if c.Remote.MaxBackoff == "" {
		c.Remote.MaxBackoff = DefaultMaxBackoff.String()
	}
	if c.Remote.BackoffFactor == 0 {
		c.Remote.BackoffFactor = DefaultBackoffFactor
	}
	if c.Remote.IdleTimeout == "" {
		c.Remote.IdleTimeout = DefaultIdleTimeout.String()
	}
	if c.Remote.OnlineStateTimeout == "" {
		c.Remote.OnlineStateTimeout = DefaultOnlineStateTimeout.String()
	}
	if c.Remote.MaxPendingWrites == 0 {
		c.Remote.MaxPendingWrites = DefaultMaxPendingWrites
	}

	if c.Sync == nil {
		c.Sync = &SyncConfig{}
	}
	if c.Sync.MaxConcurrentLimboResolutions == 0 {
		c.Sync.MaxConcurrentLimboResolutions = DefaultMaxConcurrentLimboResolutions
	}
}

// mustParseDuration parses a duration that passed validation.
func mustParseDuration(s string) gotime.Duration {
	d, err := gotime.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
