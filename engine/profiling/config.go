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

// Package profiling serves the metrics and the pprof profiles of a running
// sync engine over HTTP.
package profiling

import (
	"fmt"

	"github.com/yorkie-team/docsync/pkg/errors"
)

// ErrInvalidProfilingPort occurs when the port in the config is invalid.
var ErrInvalidProfilingPort = errors.InvalidArgument("invalid port number for profiling server").
	WithCode("ErrInvalidProfilingPort")

// Config is the configuration for creating a Server instance.
type Config struct {
	// Port is the port of the profiling server. 0 picks a free port.
	Port int `yaml:"Port"`

	// EnablePprof exposes the pprof handlers under /debug/pprof.
	EnablePprof bool `yaml:"EnablePprof"`
}

// Validate validates the port number.
func (c *Config) Validate() error {
	if c.Port < 0 || 65535 < c.Port {
		return fmt.Errorf("must be between 0 and 65535, given %d: %w", c.Port, ErrInvalidProfilingPort)
	}

	return nil
}
