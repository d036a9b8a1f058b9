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
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0x0102030405060708090a0b0c0d0e0f1011121314"

func word(i int64) []byte {
	out := make([]byte, 32)
	if i >= 0 {
		big.NewInt(i).FillBytes(out)
		return out
	}
	for j := range out {
		out[j] = 0xff
	}
	new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(i)).FillBytes(out)
	return out
}

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s[2:])
	require.NoError(t, err)
	return b
}

func TestKeccakEmpty(t *testing.T) {
	assert.Equal(t, "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470", hex.EncodeToString(Keccak256()))
}

func TestHashFieldsPacked(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{
		"amount": "1000",
		"currency": map[string]any{
			"ct": testAddr,
			"id": "0",
		},
		"v": 27,
	}
	digest, err := Hash(ctx, obj, Layout{
		Fields("amount", "currency.ct", "currency.id"),
		Fields("v:uint8"),
	})
	require.NoError(t, err)

	g1 := Keccak256(word(1000), mustHex(t, testAddr), word(0))
	g2 := Keccak256([]byte{27})
	assert.Equal(t, Keccak256(g1, g2), []byte(digest))
}

func TestHashWidthTagChangesDigest(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{"v": 28}
	tagged, err := Hash(ctx, obj, Layout{Fields("v:uint8")})
	require.NoError(t, err)
	untagged, err := Hash(ctx, obj, Layout{Fields("v")})
	require.NoError(t, err)
	assert.NotEqual(t, tagged, untagged)
}

func TestHashMissingField(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{"sender": map[string]any{"wallet": testAddr}}
	_, err := Hash(ctx, obj, Layout{Fields("sender.wallet", "sender.nonce")})
	require.Error(t, err)
	var mfe *MissingFieldError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, "sender.nonce", mfe.Path)
	assert.Regexp(t, "NM010100.*sender.nonce", err)

	_, err = Hash(ctx, map[string]any{"a": nil}, Layout{Fields("a")})
	assert.Regexp(t, "NM010100", err)
}

func TestHashOptionalField(t *testing.T) {
	ctx := context.Background()
	without := map[string]any{"wallet": testAddr}
	with := map[string]any{"wallet": testAddr, "data": "aGVsbG8="}
	layout := Layout{Fields("wallet", "data?")}

	d1, err := Hash(ctx, without, layout)
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256(mustHex(t, testAddr))), []byte(d1))

	d2, err := Hash(ctx, with, layout)
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256(mustHex(t, testAddr), []byte("aGVsbG8="))), []byte(d2))
}

func TestHashNested(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{"a": "1", "b": "2"}
	digest, err := Hash(ctx, obj, Layout{
		Fields("a"),
		Nested(Fields("b")),
	})
	require.NoError(t, err)
	inner := Keccak256(Keccak256(word(2)))
	assert.Equal(t, Keccak256(Keccak256(word(1)), inner), []byte(digest))
}

func TestHashGlobIndexed(t *testing.T) {
	ctx := context.Background()
	fee := func(amount string) map[string]any {
		return map[string]any{
			"amount":   amount,
			"currency": map[string]any{"ct": testAddr, "id": "0"},
		}
	}
	obj := map[string]any{"fees": []any{fee("10"), fee("20")}}
	digest, err := Hash(ctx, obj, Layout{Glob("fees.[]")})
	require.NoError(t, err)

	acc := Keccak256(word(0), word(10), mustHex(t, testAddr), word(0))
	acc = Keccak256(acc, word(1), word(20), mustHex(t, testAddr), word(0))
	assert.Equal(t, Keccak256(acc), []byte(digest))

	swapped := map[string]any{"fees": []any{fee("20"), fee("10")}}
	digest2, err := Hash(ctx, swapped, Layout{Glob("fees.[]")})
	require.NoError(t, err)
	assert.NotEqual(t, digest, digest2)

	empty, err := Hash(ctx, map[string]any{"fees": []any{}}, Layout{Glob("fees.[]")})
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256()), []byte(empty))
}

func TestHashGlobEach(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{"list": []any{"1", "2"}}
	digest, err := Hash(ctx, obj, Layout{Glob("list.*")})
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256(Keccak256(word(1)), Keccak256(word(2)))), []byte(digest))
}

func TestHashGlobErrors(t *testing.T) {
	ctx := context.Background()
	_, err := Hash(ctx, map[string]any{"list": "x"}, Layout{Glob("list.*")})
	assert.Regexp(t, "NM010106", err)
	_, err = Hash(ctx, map[string]any{"list": []any{}}, Layout{Glob("list")})
	assert.Regexp(t, "NM010107", err)
	_, err = Hash(ctx, map[string]any{}, Layout{Glob("list.[]")})
	assert.Regexp(t, "NM010100", err)
	d, err := Hash(ctx, map[string]any{}, Layout{Glob("list.[]?")})
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256()), []byte(d))
}

func TestHashObjectFlattenedSorted(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{
		"single": map[string]any{
			"currency": map[string]any{"id": "0", "ct": testAddr},
			"amount":   "5",
		},
	}
	digest, err := Hash(ctx, obj, Layout{Fields("single")})
	require.NoError(t, err)
	// amount, currency.ct, currency.id
	assert.Equal(t, Keccak256(Keccak256(word(5), mustHex(t, testAddr), word(0))), []byte(digest))
}

func TestHashNegativeAndBool(t *testing.T) {
	ctx := context.Background()
	digest, err := Hash(ctx, map[string]any{"n": "-1", "b": true}, Layout{Fields("n", "b")})
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256(bytes.Repeat([]byte{0xff}, 32), []byte{1})), []byte(digest))
}

func TestHashDecimalLeadingZeros(t *testing.T) {
	ctx := context.Background()
	ten, err := Hash(ctx, map[string]any{"v": "10"}, Layout{Fields("v")})
	require.NoError(t, err)
	padded, err := Hash(ctx, map[string]any{"v": "010"}, Layout{Fields("v")})
	require.NoError(t, err)
	assert.Equal(t, ten, padded)

	nine, err := Hash(ctx, map[string]any{"v": "09"}, Layout{Fields("v:uint256")})
	require.NoError(t, err)
	expected, err := Hash(ctx, map[string]any{"v": "0x9"}, Layout{Fields("v:uint256")})
	require.NoError(t, err)
	assert.Equal(t, expected, nine)

	_, err = Hash(ctx, map[string]any{"v": "1_000"}, Layout{Fields("v:uint256")})
	assert.Regexp(t, "NM010103", err)
}

func TestHashTaggedTypes(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{
		"addr":  testAddr,
		"small": "0x01",
		"text":  "1234",
		"i16":   "-2",
		"flag":  false,
	}
	digest, err := Hash(ctx, obj, Layout{Fields("addr:address", "small:bytes4", "text:string", "i16:int16", "flag:bool")})
	require.NoError(t, err)
	expected := Keccak256(Keccak256(mustHex(t, testAddr), []byte{1, 0, 0, 0}, []byte("1234"), []byte{0xff, 0xfe}, []byte{0}))
	assert.Equal(t, expected, []byte(digest))
}

func TestHashTagErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		obj   map[string]any
		field string
		code  string
	}{
		{map[string]any{"v": 256}, "v:uint8", "NM010104"},
		{map[string]any{"v": "-1"}, "v:uint64", "NM010104"},
		{map[string]any{"v": 1.5}, "v:uint8", "NM010103"},
		{map[string]any{"v": "abc"}, "v:uint8", "NM010103"},
		{map[string]any{"v": "1"}, "v:uint7", "NM010102"},
		{map[string]any{"v": "1"}, "v:fixed", "NM010102"},
		{map[string]any{"v": "0x1234"}, "v:address", "NM010109"},
		{map[string]any{"v": "0x1234"}, "v:bytes1", "NM010109"},
		{map[string]any{"v": "0x1234"}, "v:bytes33", "NM010102"},
		{map[string]any{"v": "0xzz"}, "v", "NM010105"},
		{map[string]any{"v": 1}, "v:bytes", "NM010105"},
		{map[string]any{"v": "true"}, "v:bool", "NM010101"},
		{map[string]any{"v": map[string]any{}}, "v:uint8", "NM010101"},
		{map[string]any{"v": []any{"1"}}, "v:uint8", "NM010101"},
	}
	for _, c := range cases {
		_, err := Hash(ctx, c.obj, Layout{Fields(c.field)})
		assert.Regexp(t, c.code, err, c.field)
	}

	_, err := Hash(ctx, map[string]any{"v": struct{}{}}, Layout{Fields("v")})
	assert.Regexp(t, "NM010101", err)
}

func TestHashArrayIndexPath(t *testing.T) {
	ctx := context.Background()
	obj := map[string]any{"list": []any{"7", "8"}}
	digest, err := Hash(ctx, obj, Layout{Fields("list.1")})
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256(word(8))), []byte(digest))

	_, err = Hash(ctx, obj, Layout{Fields("list.2")})
	assert.Regexp(t, "NM010100", err)
	_, err = Hash(ctx, obj, Layout{Fields("list.x")})
	assert.Regexp(t, "NM010100", err)
}

func TestHashStruct(t *testing.T) {
	ctx := context.Background()
	type wallet struct {
		Wallet string `json:"wallet"`
		Nonce  uint64 `json:"nonce"`
	}
	digest, err := Hash(ctx, &wallet{Wallet: testAddr, Nonce: 3}, Layout{Fields("wallet", "nonce")})
	require.NoError(t, err)
	assert.Equal(t, Keccak256(Keccak256(mustHex(t, testAddr), word(3))), []byte(digest))

	_, err = Hash(ctx, map[string]any{"c": make(chan int)}, Layout{})
	require.NoError(t, err, "generic trees are not converted")
	_, err = Hash(ctx, make(chan int), Layout{})
	assert.Regexp(t, "NM010108", err)
}
