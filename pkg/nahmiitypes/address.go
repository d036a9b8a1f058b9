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
	"encoding/json"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// Address is a 20 byte address that serializes back to the exact text it was
// parsed from, so checksummed input survives a JSON round trip. Compare with
// Equals, as two spellings of the same address differ under ==.
type Address struct {
	ethtypes.Address0xHex
	text string
}

func NewAddress(a ethtypes.Address0xHex) Address {
	return Address{Address0xHex: a}
}

func (a Address) Equals(b Address) bool {
	return a.Address0xHex == b.Address0xHex
}

func (a *Address) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if err := a.Address0xHex.SetString(s); err != nil {
		return err
	}
	a.text = s
	return nil
}

func (a Address) MarshalJSON() ([]byte, error) {
	if a.text == "" {
		return a.Address0xHex.MarshalJSON()
	}
	return json.Marshal(a.text)
}
