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

// Package bloom provides the membership filter a server attaches to an
// existence filter. A filter may report false positives but never false
// negatives.
package bloom

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/yorkie-team/docsync/pkg/errors"
)

// ErrInvalidFilter is returned when the bitmap, padding and hash count of a
// received filter are inconsistent.
var ErrInvalidFilter = errors.InvalidArgument("invalid bloom filter").WithCode("ErrInvalidBloomFilter")

// Filter is a bloom filter over document paths. Each path is hashed once with
// MD5 and the two halves of the digest derive the bit positions.
type Filter struct {
	bits      []byte
	bitCount  uint64
	hashCount int
}

// New creates an empty filter sized for the expected number of entries at
// the given false positive rate.
func New(expected int, falsePositiveRate float64) *Filter {
	if expected < 1 {
		expected = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	bitCount := math.Ceil(-float64(expected) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2))
	hashCount := int(math.Max(1, math.Round(bitCount/float64(expected)*math.Ln2)))
	byteCount := (int(bitCount) + 7) / 8

	return &Filter{
		bits:      make([]byte, byteCount),
		bitCount:  uint64(byteCount * 8),
		hashCount: hashCount,
	}
}

// FromBits creates a filter from its wire representation. padding is the
// number of unused bits at the end of the bitmap.
func FromBits(bits []byte, padding int, hashCount int) (*Filter, error) {
	if padding < 0 || padding >= 8 {
		return nil, fmt.Errorf("padding %d: %w", padding, ErrInvalidFilter)
	}
	if hashCount < 0 {
		return nil, fmt.Errorf("hash count %d: %w", hashCount, ErrInvalidFilter)
	}
	if len(bits) == 0 && (padding != 0 || hashCount != 0) {
		return nil, fmt.Errorf("empty bitmap with padding %d and hash count %d: %w", padding, hashCount, ErrInvalidFilter)
	}
	if len(bits) > 0 && hashCount == 0 {
		return nil, fmt.Errorf("zero hash count: %w", ErrInvalidFilter)
	}

	return &Filter{
		bits:      append([]byte(nil), bits...),
		bitCount:  uint64(len(bits)*8 - padding),
		hashCount: hashCount,
	}, nil
}

// Bits returns the bitmap of the filter.
func (f *Filter) Bits() []byte {
	return f.bits
}

// Padding returns the number of unused bits at the end of the bitmap.
func (f *Filter) Padding() int {
	return len(f.bits)*8 - int(f.bitCount)
}

// HashCount returns the number of hash positions per entry.
func (f *Filter) HashCount() int {
	return f.hashCount
}

// BitCount returns the number of usable bits.
func (f *Filter) BitCount() uint64 {
	return f.bitCount
}

// Add inserts the given path.
func (f *Filter) Add(path string) {
	if f.bitCount == 0 {
		return
	}

	h1, h2 := digest(path)
	for i := 0; i < f.hashCount; i++ {
		f.setBit(f.index(h1, h2, i))
	}
}

// MightContain returns false if the path was certainly never added.
func (f *Filter) MightContain(path string) bool {
	if f.bitCount == 0 {
		return false
	}

	h1, h2 := digest(path)
	for i := 0; i < f.hashCount; i++ {
		if !f.isBitSet(f.index(h1, h2, i)) {
			return false
		}
	}
	return true
}

func (f *Filter) index(h1, h2 uint64, i int) uint64 {
	return (h1 + uint64(i)*h2) % f.bitCount
}

func (f *Filter) setBit(idx uint64) {
	f.bits[idx/8] |= 1 << (idx % 8)
}

func (f *Filter) isBitSet(idx uint64) bool {
	return f.bits[idx/8]&(1<<(idx%8)) != 0
}

func digest(path string) (uint64, uint64) {
	sum := md5.Sum([]byte(path))
	return binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:])
}
