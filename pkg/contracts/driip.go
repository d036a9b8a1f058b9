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

package contracts

import (
	"context"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/wallet"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

type SettlementParty struct {
	Wallet ethtypes.Address0xHex `json:"wallet"`
	Done   bool                  `json:"done"`
}

// SettlementRecord is the on-chain record of a driip settlement, keyed by the
// receipt nonce.
type SettlementRecord struct {
	Origin SettlementParty `json:"origin"`
	Target SettlementParty `json:"target"`
}

// DoneFor reports whether the wallet has already settled its side.
func (s *SettlementRecord) DoneFor(wallet ethtypes.Address0xHex) bool {
	switch {
	case s.Origin.Wallet == wallet:
		return s.Origin.Done
	case s.Target.Wallet == wallet:
		return s.Target.Done
	default:
		return false
	}
}

// DriipSettlementContracts covers the payment driip settlement challenge and the
// settlement itself, with the settlement history used to detect replays.
type DriipSettlementContracts struct {
	proposalViews
	settlement *boundContract
	state      *boundContract
}

func NewDriipSettlementContracts(ctx context.Context, r *Registry, ec ethclient.EthClient, signer wallet.Wallet) (*DriipSettlementContracts, error) {
	challenge, err := r.bind(ctx, ec, DriipSettlementChallengeByPayment, signer)
	if err != nil {
		return nil, err
	}
	settlement, err := r.bind(ctx, ec, DriipSettlementByPayment, signer)
	if err != nil {
		return nil, err
	}
	state, err := r.bind(ctx, ec, DriipSettlementState, signer)
	if err != nil {
		return nil, err
	}
	return &DriipSettlementContracts{
		proposalViews: proposalViews{challenge},
		settlement:    settlement,
		state:         state,
	}, nil
}

// SettlementByNonce fails with an ethclient.CallExceptionError when no
// settlement exists for the nonce.
func (dc *DriipSettlementContracts) SettlementByNonce(ctx context.Context, nonce *nahmiitypes.BigInt) (*SettlementRecord, error) {
	var out struct {
		Value SettlementRecord `json:"0"`
	}
	if err := dc.state.call(ctx, "settlementByNonce", map[string]any{"nonce": nonce.String()}, &out); err != nil {
		return nil, err
	}
	return &out.Value, nil
}

// StartChallengeFromPayment takes the receipt in its contract tuple form.
func (dc *DriipSettlementContracts) StartChallengeFromPayment(ctx context.Context, payment map[string]any, stageAmount *nahmiitypes.BigInt, opts *TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	return dc.send(ctx, "startChallengeFromPayment", map[string]any{
		"payment":     payment,
		"stageAmount": stageAmount.String(),
	}, opts)
}

func (dc *DriipSettlementContracts) SettlePayment(ctx context.Context, payment map[string]any, opts *TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	return dc.settlement.send(ctx, "settlePayment", map[string]any{
		"payment": payment,
	}, opts)
}
