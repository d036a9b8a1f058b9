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

package nahmiitypes

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"regexp"
	"strings"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

var decimalInteger = regexp.MustCompile(`^-?[0-9]+$`)

// BigInt is an arbitrary precision integer that serializes as a decimal
// string, so amounts never pass through floating point on the wire.
type BigInt big.Int

func NewBigInt(x int64) *BigInt {
	return (*BigInt)(big.NewInt(x))
}

func NewBigIntFromBig(x *big.Int) *BigInt {
	if x == nil {
		return nil
	}
	return (*BigInt)(new(big.Int).Set(x))
}

// ParseBigInt accepts decimal or 0x-prefixed hex.
func ParseBigInt(ctx context.Context, s string) (*BigInt, error) {
	var i *big.Int
	ok := false
	if digits, isHex := strings.CutPrefix(s, "0x"); isHex {
		i, ok = new(big.Int).SetString(digits, 16)
	} else if decimalInteger.MatchString(s) {
		i, ok = new(big.Int).SetString(s, 10)
	}
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgBigIntParseFailed, s)
	}
	return (*BigInt)(i), nil
}

func MustParseBigInt(s string) *BigInt {
	i, err := ParseBigInt(context.Background(), s)
	if err != nil {
		panic(err)
	}
	return i
}

func (i BigInt) MarshalText() ([]byte, error) {
	return []byte((*big.Int)(&i).Text(10)), nil
}

func (i *BigInt) UnmarshalJSON(b []byte) error {
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	var val interface{}
	if err := d.Decode(&val); err != nil {
		return i18n.WrapError(context.Background(), err, msgs.MsgBigIntParseFailed, b)
	}
	var s string
	switch val := val.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	default:
		return i18n.NewError(context.Background(), msgs.MsgBigIntParseFailed, b)
	}
	parsed, err := ParseBigInt(context.Background(), s)
	if err != nil {
		return err
	}
	i.Int().Set(parsed.Int())
	return nil
}

// Int exposes the underlying value, which callers must not mutate.
func (i *BigInt) Int() *big.Int {
	return (*big.Int)(i)
}

func (i *BigInt) String() string {
	if i == nil {
		return "<nil>"
	}
	return i.Int().Text(10)
}

func (i *BigInt) Uint64() uint64 {
	if i == nil || !i.Int().IsUint64() {
		return 0
	}
	return i.Int().Uint64()
}

func (i *BigInt) Sign() int {
	if i == nil {
		return 0
	}
	return i.Int().Sign()
}

// Cmp treats nil as zero.
func (i *BigInt) Cmp(i2 *BigInt) int {
	return i.orZero().Cmp(i2.orZero())
}

func (i *BigInt) Equals(i2 *BigInt) bool {
	switch {
	case i == nil && i2 == nil:
		return true
	case i == nil || i2 == nil:
		return false
	default:
		return i.Int().Cmp(i2.Int()) == 0
	}
}

func (i *BigInt) Sub(i2 *BigInt) *BigInt {
	return (*BigInt)(new(big.Int).Sub(i.orZero(), i2.orZero()))
}

func (i *BigInt) Add(i2 *BigInt) *BigInt {
	return (*BigInt)(new(big.Int).Add(i.orZero(), i2.orZero()))
}

func (i *BigInt) orZero() *big.Int {
	if i == nil {
		return new(big.Int)
	}
	return i.Int()
}
