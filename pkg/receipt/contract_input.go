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

package receipt

import (
	"strconv"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/payment"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

func figureInput(m *nahmiitypes.MonetaryAmount) map[string]any {
	if m == nil {
		m = nahmiitypes.NewMonetaryAmount(nahmiitypes.NewBigInt(0), nahmiitypes.NewCurrency(ethtypes.Address0xHex{}, 0))
	}
	return map[string]any{
		"amount":   m.Amount.String(),
		"currency": currencyInput(m.Currency),
	}
}

func currencyInput(c nahmiitypes.Currency) map[string]any {
	return map[string]any{
		"ct": c.CT.String(),
		"id": c.ID.String(),
	}
}

func partyInput(wallet ethtypes.Address0xHex, p *Party) map[string]any {
	totals := make([]any, len(p.Fees.Total))
	for i, f := range p.Fees.Total {
		totals[i] = figureInput(f)
	}
	return map[string]any{
		"nonce":  strconv.FormatUint(p.Nonce, 10),
		"wallet": wallet.String(),
		"balances": map[string]any{
			"current":  p.Balances.Current.String(),
			"previous": p.Balances.Previous.String(),
		},
		"fees": map[string]any{
			"single": figureInput(p.Fees.Single),
			"total":  totals,
		},
	}
}

func sealInput(s *payment.Seal) map[string]any {
	if s == nil || s.Signature == nil {
		zero := make(ethtypes.HexBytes0xPrefix, 32)
		return map[string]any{
			"hash":      zero.String(),
			"signature": map[string]any{"r": zero.String(), "s": zero.String(), "v": "0"},
		}
	}
	return map[string]any{
		"hash": s.Hash.String(),
		"signature": map[string]any{
			"r": s.Signature.R.String(),
			"s": s.Signature.S.String(),
			"v": strconv.Itoa(int(s.Signature.V)),
		},
	}
}

// ContractInput renders the receipt as the payment tuple taken by the driip
// settlement contracts.
func (r *Receipt) ContractInput() map[string]any {
	p := r.payment
	sender := partyInput(p.Sender(), &r.details.Sender)
	sender["data"] = string(p.SenderData())
	return map[string]any{
		"amount":    p.Amount().Amount.String(),
		"currency":  currencyInput(p.Currency()),
		"sender":    sender,
		"recipient": partyInput(p.Recipient(), &r.details.Recipient),
		"transfers": map[string]any{
			"single": r.details.Transfers.Single.String(),
			"total":  r.details.Transfers.Total.String(),
		},
		"seals": map[string]any{
			"wallet":   sealInput(p.WalletSeal()),
			"operator": sealInput(r.operatorSeal),
		},
		"blockNumber": strconv.FormatUint(r.details.BlockNumber, 10),
		"operator": map[string]any{
			"id":   strconv.FormatUint(r.details.Operator.ID, 10),
			"data": r.details.Operator.Data,
		},
	}
}
