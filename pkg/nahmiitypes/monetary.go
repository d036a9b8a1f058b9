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
	"context"
	"fmt"
	"strings"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// ParseAddress parses a 0x-prefixed 20 byte hex address.
func ParseAddress(ctx context.Context, s string) (*ethtypes.Address0xHex, error) {
	a, err := ethtypes.NewAddress(s)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgInvalidAddress, s)
	}
	return a, nil
}

func AddressEqual(a, b *ethtypes.Address0xHex) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Currency identifies a token by contract address and id. The zero address is the
// native chain currency.
type Currency struct {
	CT Address `json:"ct"`
	ID *BigInt `json:"id"`
}

func NewCurrency(ct ethtypes.Address0xHex, id int64) Currency {
	return Currency{CT: NewAddress(ct), ID: NewBigInt(id)}
}

func (c Currency) Equals(c2 Currency) bool {
	return c.CT.Equals(c2.CT) && c.ID.Cmp(c2.ID) == 0
}

func (c Currency) String() string {
	return fmt.Sprintf("%s/%s", strings.ToLower(c.CT.String()), c.ID.orZero().Text(10))
}

// MonetaryAmount is an immutable amount of a currency, in minor units.
type MonetaryAmount struct {
	Amount   *BigInt  `json:"amount"`
	Currency Currency `json:"currency"`
}

func NewMonetaryAmount(amount *BigInt, currency Currency) *MonetaryAmount {
	return &MonetaryAmount{
		Amount:   NewBigIntFromBig(amount.orZero()),
		Currency: currency,
	}
}

// WithAmount returns a copy of this amount with a different value in the same currency.
func (m *MonetaryAmount) WithAmount(amount *BigInt) *MonetaryAmount {
	return NewMonetaryAmount(amount, m.Currency)
}

func (m *MonetaryAmount) String() string {
	return fmt.Sprintf("%s %s", m.Amount, m.Currency)
}

// ValidateCurrency fails if the currencies differ.
func (m *MonetaryAmount) ValidateCurrency(ctx context.Context, c Currency) error {
	if !m.Currency.Equals(c) {
		return i18n.NewError(ctx, msgs.MsgSettlementCurrencyMismatch, c, m.Currency)
	}
	return nil
}
