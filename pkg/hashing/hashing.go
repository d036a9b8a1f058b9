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

// Package hashing computes deterministic keccak256 digests over selected fields of
// JSON-like trees. The packed encoding matches Solidity abi.encodePacked, so a digest
// computed here agrees byte-for-byte with the one an on-chain verifier computes.
package hashing

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"golang.org/x/crypto/sha3"
)

type groupKind int

const (
	fieldsGroup groupKind = iota
	nestedGroup
	globGroup
)

const (
	globEach    = ".*"
	globIndexed = ".[]"
)

// Group is one entry of a Layout. Build groups with Fields, Nested or Glob.
type Group struct {
	kind   groupKind
	paths  []string
	nested Layout
}

// Layout is an ordered list of groups. The digest of a Layout is the keccak256 of the
// concatenated 32 byte group digests.
type Layout []Group

// Fields hashes the packed values at the given dotted paths as one combined value.
//
// A path may carry a type tag after a colon ("seals.wallet.signature.v:uint8") to force
// the packed width, and a trailing "?" to mark it optional.
func Fields(paths ...string) Group {
	return Group{kind: fieldsGroup, paths: paths}
}

// Nested hashes a sub-layout first; its digest then participates in the parent.
func Nested(groups ...Group) Group {
	return Group{kind: nestedGroup, nested: groups}
}

// Glob expands an array path. "arr.*" hashes every element independently and
// combines the element digests. "arr.[]" folds each element into a running hash
// along with its index, so the result is order sensitive.
func Glob(path string) Group {
	return Group{kind: globGroup, paths: []string{path}}
}

// MissingFieldError reports a required path that was absent from the hashed object.
type MissingFieldError struct {
	Path string
	err  error
}

func (e *MissingFieldError) Error() string {
	return e.err.Error()
}

func (e *MissingFieldError) Unwrap() error {
	return e.err
}

func missingField(ctx context.Context, path string) error {
	return &MissingFieldError{Path: path, err: i18n.NewError(ctx, msgs.MsgHashMissingField, path)}
}

func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	return h.Sum(nil)
}

// ToTree converts any JSON serializable value into the generic tree the hasher
// walks. Numbers are kept as json.Number to avoid float rounding.
func ToTree(ctx context.Context, v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgHashTreeConvertFailed, v)
	}
	d := json.NewDecoder(strings.NewReader(string(b)))
	d.UseNumber()
	var tree any
	if err := d.Decode(&tree); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgHashTreeConvertFailed, v)
	}
	return tree, nil
}

// Hash computes the digest of obj under layout. Values that are not already a
// generic tree are converted with ToTree.
func Hash(ctx context.Context, obj any, layout Layout) (ethtypes.HexBytes0xPrefix, error) {
	switch obj.(type) {
	case map[string]any, []any:
	default:
		tree, err := ToTree(ctx, obj)
		if err != nil {
			return nil, err
		}
		obj = tree
	}
	return hashLayout(ctx, obj, layout)
}

func hashLayout(ctx context.Context, obj any, layout Layout) ([]byte, error) {
	digests := make([][]byte, 0, len(layout))
	for _, g := range layout {
		var digest []byte
		var err error
		switch g.kind {
		case nestedGroup:
			digest, err = hashLayout(ctx, obj, g.nested)
		case globGroup:
			digest, err = hashGlob(ctx, obj, g.paths[0])
		default:
			digest, err = hashFields(ctx, obj, g.paths)
		}
		if err != nil {
			return nil, err
		}
		digests = append(digests, digest)
	}
	return Keccak256(digests...), nil
}

func hashFields(ctx context.Context, obj any, paths []string) ([]byte, error) {
	var packed []byte
	for _, p := range paths {
		ref := parsePath(p)
		v, found := resolve(obj, ref.segments)
		if !found {
			if ref.optional {
				continue
			}
			return nil, missingField(ctx, ref.path)
		}
		b, err := packValue(ctx, ref.path, ref.tag, v)
		if err != nil {
			return nil, err
		}
		packed = append(packed, b...)
	}
	return Keccak256(packed), nil
}

func hashGlob(ctx context.Context, obj any, globPath string) ([]byte, error) {
	ref := parsePath(globPath)
	var indexed bool
	var base string
	switch {
	case strings.HasSuffix(ref.path, globIndexed):
		indexed, base = true, strings.TrimSuffix(ref.path, globIndexed)
	case strings.HasSuffix(ref.path, globEach):
		base = strings.TrimSuffix(ref.path, globEach)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidGlob, globPath)
	}
	v, found := resolve(obj, splitPath(base))
	if !found {
		if ref.optional {
			return Keccak256(), nil
		}
		return nil, missingField(ctx, base)
	}
	elements, ok := v.([]any)
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgHashGlobNotArray, globPath, v)
	}

	if indexed {
		var acc []byte
		for i, e := range elements {
			flat, err := packValue(ctx, base, "", e)
			if err != nil {
				return nil, err
			}
			acc = Keccak256(acc, packUint(uint64(i)), flat)
		}
		if acc == nil {
			acc = Keccak256()
		}
		return acc, nil
	}

	digests := make([][]byte, len(elements))
	for i, e := range elements {
		flat, err := packValue(ctx, base, "", e)
		if err != nil {
			return nil, err
		}
		digests[i] = Keccak256(flat)
	}
	return Keccak256(digests...), nil
}
