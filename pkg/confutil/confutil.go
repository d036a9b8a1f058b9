// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package confutil resolves optional pointer-valued configuration against defaults.
// It must not import the logging package, which itself depends on it.
package confutil

import (
	"math/big"
	"time"

	"github.com/docker/go-units"
)

func P[T any](v T) *T {
	return &v
}

func Int(iVal *int, def int) int {
	if iVal == nil {
		return def
	}
	return *iVal
}

func IntMin(iVal *int, min int, def int) int {
	switch {
	case iVal == nil:
		return def
	case *iVal < min:
		return min
	default:
		return *iVal
	}
}

func Float64Min(fVal *float64, min float64, def float64) float64 {
	switch {
	case fVal == nil:
		return def
	case *fVal < min:
		return min
	default:
		return *fVal
	}
}

func Bool(bVal *bool, def bool) bool {
	if bVal == nil {
		return def
	}
	return *bVal
}

func StringNotEmpty(sVal *string, def string) string {
	if sVal == nil || *sVal == "" {
		return def
	}
	return *sVal
}

func StringSlice(sVal []string, def []string) []string {
	if sVal == nil {
		return def
	}
	return sVal
}

// DurationMin parses a Go duration string, falling back to def when unset or
// unparseable, and clamping to min.
func DurationMin(sVal *string, min time.Duration, def string) time.Duration {
	if sVal != nil {
		if d, err := time.ParseDuration(*sVal); err == nil {
			if d < min {
				return min
			}
			return d
		}
	}
	d, _ := time.ParseDuration(def)
	return d
}

// BigIntOrNil accepts decimal or 0x-prefixed integer strings.
func BigIntOrNil(sVal *string) *big.Int {
	if sVal == nil {
		return nil
	}
	if bi, ok := new(big.Int).SetString(*sVal, 0); ok {
		return bi
	}
	return nil
}

// ByteSize accepts human sizes such as "100Mb" or "1.5GiB".
func ByteSize(sVal *string, min int64, def string) int64 {
	if sVal != nil {
		if i, err := units.RAMInBytes(*sVal); err == nil {
			if i < min {
				return min
			}
			return i
		}
	}
	i, _ := units.RAMInBytes(def)
	return i
}
