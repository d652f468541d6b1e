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

// Package backoff provides exponential backoff with jitter for reconnecting
// streams and retrying failed operations.
package backoff

import (
	"context"
	"math/rand"
	"sync"
	gotime "time"
)

const (
	// DefaultInitialDelay is the delay before the first retry after a reset failure.
	DefaultInitialDelay = 1 * gotime.Second

	// DefaultMaxDelay caps the delay between retries.
	DefaultMaxDelay = 60 * gotime.Second

	// DefaultFactor multiplies the delay after each retry.
	DefaultFactor = 1.5

	// DefaultJitter is the fraction of the delay randomly added or removed.
	DefaultJitter = 0.5
)

// Config configures a Backoff.
type Config struct {
	InitialDelay gotime.Duration
	MaxDelay     gotime.Duration
	Factor       float64
	Jitter       float64
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Factor:       DefaultFactor,
		Jitter:       DefaultJitter,
	}
}

// Backoff computes the delays between retries. The first attempt after New
// or Reset is immediate; each later delay grows by the factor up to the max.
type Backoff struct {
	config Config

	mu      sync.Mutex
	current gotime.Duration
	rand    *rand.Rand
}

// New creates a backoff with the given configuration.
func New(config Config) *Backoff {
	if config.Factor < 1 {
		config.Factor = 1
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}

	return &Backoff{
		config: config,
		rand:   rand.New(rand.NewSource(gotime.Now().UnixNano())),
	}
}

// Next returns the delay before the next attempt and advances the backoff.
func (b *Backoff) Next() gotime.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.config.Jitter > 0 && delay > 0 {
		jitter := (b.rand.Float64() - 0.5) * 2 * b.config.Jitter * float64(delay)
		delay += gotime.Duration(jitter)
	}
	if delay < 0 {
		delay = 0
	}

	b.current = waitInterval(b.current, b.config)
	return delay
}

// Current returns the base delay of the next attempt, without jitter.
func (b *Backoff) Current() gotime.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset makes the next attempt immediate.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = 0
}

// ResetToMax makes the next attempt wait for the max delay. It is used when
// the server reports exhausted resources.
func (b *Backoff) ResetToMax() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.MaxDelay
}

// waitInterval returns the base delay that follows current.
func waitInterval(current gotime.Duration, config Config) gotime.Duration {
	next := gotime.Duration(float64(current) * config.Factor)
	if next < config.InitialDelay {
		next = config.InitialDelay
	}
	if config.MaxDelay < next {
		return config.MaxDelay
	}
	return next
}

// Retry calls fn until it succeeds, fails with an error shouldRetry rejects,
// or maxAttempts attempts were made. It waits between attempts as given by b.
func Retry(
	ctx context.Context,
	b *Backoff,
	maxAttempts int,
	shouldRetry func(error) bool,
	fn func() error,
) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil || !shouldRetry(err) || attempt >= maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-gotime.After(b.Next()):
		}
	}
}
