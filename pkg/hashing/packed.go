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
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

var decimalInteger = regexp.MustCompile(`^-?[0-9]+$`)

// packValue encodes one value as abi.encodePacked would. Objects and arrays are
// flattened depth first, with object keys in lexicographic order.
func packValue(ctx context.Context, path, tag string, v any) ([]byte, error) {
	switch node := v.(type) {
	case map[string]any:
		if tag != "" {
			return nil, i18n.NewError(ctx, msgs.MsgHashInvalidFieldType, v, path)
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var packed []byte
		for _, k := range keys {
			if node[k] == nil {
				continue
			}
			b, err := packValue(ctx, path+"."+k, "", node[k])
			if err != nil {
				return nil, err
			}
			packed = append(packed, b...)
		}
		return packed, nil
	case []any:
		if tag != "" {
			return nil, i18n.NewError(ctx, msgs.MsgHashInvalidFieldType, v, path)
		}
		var packed []byte
		for i, e := range node {
			if e == nil {
				continue
			}
			b, err := packValue(ctx, fmt.Sprintf("%s.%d", path, i), "", e)
			if err != nil {
				return nil, err
			}
			packed = append(packed, b...)
		}
		return packed, nil
	}
	if tag == "" {
		return packInferred(ctx, path, v)
	}
	return packTagged(ctx, path, tag, v)
}

func packInferred(ctx context.Context, path string, v any) ([]byte, error) {
	switch val := v.(type) {
	case bool:
		return packBool(val), nil
	case string:
		switch {
		case strings.HasPrefix(val, "0x"):
			// addresses, hashes and arbitrary bytes all pack as their raw bytes
			return decodeHex(ctx, path, val)
		case decimalInteger.MatchString(val):
			return packInferredInteger(ctx, path, val)
		default:
			return []byte(val), nil
		}
	case json.Number, float64, int, int64, uint64, uint8, uint32, int32:
		return packInferredInteger(ctx, path, val)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidFieldType, v, path)
	}
}

func packTagged(ctx context.Context, path, tag string, v any) ([]byte, error) {
	switch {
	case tag == "address":
		b, err := hexValue(ctx, path, v)
		if err == nil && len(b) != 20 {
			err = i18n.NewError(ctx, msgs.MsgHashFixedBytesMismatch, path, len(b), tag, 20)
		}
		return b, err
	case tag == "bytes":
		return hexValue(ctx, path, v)
	case tag == "string":
		return []byte(fmt.Sprint(v)), nil
	case tag == "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, i18n.NewError(ctx, msgs.MsgHashInvalidFieldType, v, path)
		}
		return packBool(b), nil
	case strings.HasPrefix(tag, "bytes"):
		size, err := strconv.Atoi(strings.TrimPrefix(tag, "bytes"))
		if err != nil || size < 1 || size > 32 {
			return nil, i18n.NewError(ctx, msgs.MsgHashInvalidTypeTag, tag, path)
		}
		b, err := hexValue(ctx, path, v)
		if err != nil {
			return nil, err
		}
		if len(b) > size {
			return nil, i18n.NewError(ctx, msgs.MsgHashFixedBytesMismatch, path, len(b), tag, size)
		}
		padded := make([]byte, size)
		copy(padded, b)
		return padded, nil
	case strings.HasPrefix(tag, "uint"):
		return packInteger(ctx, path, tag, strings.TrimPrefix(tag, "uint"), false, v)
	case strings.HasPrefix(tag, "int"):
		return packInteger(ctx, path, tag, strings.TrimPrefix(tag, "int"), true, v)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidTypeTag, tag, path)
	}
}

// packInferredInteger packs an untagged number as uint256, or int256 when negative.
func packInferredInteger(ctx context.Context, path string, v any) ([]byte, error) {
	i, err := integerValue(ctx, path, "uint256", v)
	if err != nil {
		return nil, err
	}
	if i.Sign() < 0 {
		return packInteger(ctx, path, "int256", "256", true, v)
	}
	return packInteger(ctx, path, "uint256", "256", false, v)
}

// packInteger writes a big endian integer of the tagged width.
func packInteger(ctx context.Context, path, tag, bitsStr string, signed bool, v any) ([]byte, error) {
	bits := 256
	if bitsStr != "" {
		var err error
		bits, err = strconv.Atoi(bitsStr)
		if err != nil || bits < 8 || bits > 256 || bits%8 != 0 {
			return nil, i18n.NewError(ctx, msgs.MsgHashInvalidTypeTag, tag, path)
		}
	}
	i, err := integerValue(ctx, path, tag, v)
	if err != nil {
		return nil, err
	}
	if !signed && i.Sign() < 0 || !fitsWidth(i, bits, signed) {
		return nil, i18n.NewError(ctx, msgs.MsgHashValueOutOfRange, i.Text(10), tag, path)
	}
	size := bits / 8
	out := make([]byte, size)
	if i.Sign() >= 0 {
		i.FillBytes(out)
		return out, nil
	}
	// two's complement
	tc := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), uint(bits)), i)
	tc.FillBytes(out)
	return out, nil
}

func fitsWidth(i *big.Int, bits int, signed bool) bool {
	if !signed {
		return i.BitLen() <= bits
	}
	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	if i.Sign() >= 0 {
		return i.Cmp(limit) < 0
	}
	return new(big.Int).Neg(i).Cmp(limit) <= 0
}

func integerValue(ctx context.Context, path, tag string, v any) (*big.Int, error) {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		if val != math.Trunc(val) {
			return nil, i18n.NewError(ctx, msgs.MsgHashInvalidNumber, v, tag, path)
		}
		s = strconv.FormatFloat(val, 'f', 0, 64)
	case int, int64, uint64, uint8, uint32, int32:
		s = fmt.Sprint(val)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidNumber, v, tag, path)
	}
	i, ok := parseInteger(s)
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidNumber, v, tag, path)
	}
	return i, nil
}

// parseInteger reads plain decimal, leading zeros included, or 0x-prefixed hex.
func parseInteger(s string) (*big.Int, bool) {
	if digits, isHex := strings.CutPrefix(s, "0x"); isHex {
		return new(big.Int).SetString(digits, 16)
	}
	if !decimalInteger.MatchString(s) {
		return nil, false
	}
	return new(big.Int).SetString(s, 10)
}

func hexValue(ctx context.Context, path string, v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidHex, v, path)
	}
	return decodeHex(ctx, path, s)
}

func decodeHex(ctx context.Context, path, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, i18n.NewError(ctx, msgs.MsgHashInvalidHex, s, path)
	}
	return b, nil
}

func packBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func packUint(i uint64) []byte {
	out := make([]byte, 32)
	new(big.Int).SetUint64(i).FillBytes(out)
	return out
}
