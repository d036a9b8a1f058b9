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

package hashing

import (
	"strconv"
	"strings"
)

type pathRef struct {
	path     string
	segments []string
	tag      string
	optional bool
}

func parsePath(p string) pathRef {
	ref := pathRef{}
	p, ref.optional = strings.CutSuffix(p, "?")
	if i := strings.LastIndex(p, ":"); i >= 0 {
		p, ref.tag = p[:i], p[i+1:]
	}
	ref.path = p
	ref.segments = splitPath(p)
	return ref
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}

// resolve walks maps by key and arrays by numeric index. A JSON null is absent.
func resolve(obj any, segments []string) (any, bool) {
	v := obj
	for _, s := range segments {
		switch node := v.(type) {
		case map[string]any:
			child, ok := node[s]
			if !ok {
				return nil, false
			}
			v = child
		case []any:
			idx, err := strconv.Atoi(s)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			v = node[idx]
		default:
			return nil, false
		}
	}
	return v, v != nil
}
