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

type NullSettlementContracts struct {
	proposalViews
	settlement *boundContract
	state      *boundContract
	locker     *boundContract
}

func NewNullSettlementContracts(ctx context.Context, r *Registry, ec ethclient.EthClient, signer wallet.Wallet) (*NullSettlementContracts, error) {
	challenge, err := r.bind(ctx, ec, NullSettlementChallengeByPayment, signer)
	if err != nil {
		return nil, err
	}
	settlement, err := r.bind(ctx, ec, NullSettlement, signer)
	if err != nil {
		return nil, err
	}
	state, err := r.bind(ctx, ec, NullSettlementState, signer)
	if err != nil {
		return nil, err
	}
	locker, err := r.bind(ctx, ec, WalletLocker, signer)
	if err != nil {
		return nil, err
	}
	return &NullSettlementContracts{
		proposalViews: proposalViews{challenge},
		settlement:    settlement,
		state:         state,
		locker:        locker,
	}, nil
}

func (nc *NullSettlementContracts) IsLockedWallet(ctx context.Context, wallet ethtypes.Address0xHex) (bool, error) {
	var out boolOutput
	if err := nc.locker.call(ctx, "isLockedWallet", map[string]any{"wallet": wallet.String()}, &out); err != nil {
		return false, err
	}
	return out.Value, nil
}

func (nc *NullSettlementContracts) WalletCurrencyMaxNullNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	var out uintOutput
	if err := nc.state.call(ctx, "walletCurrencyMaxNullNonce", keyInput(wallet, currency), &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (nc *NullSettlementContracts) StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, opts *TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	return nc.send(ctx, "startChallenge", map[string]any{
		"stageAmount": stageAmount.Amount.String(),
		"currencyCt":  stageAmount.Currency.CT.String(),
		"currencyId":  stageAmount.Currency.ID.String(),
	}, opts)
}

func (nc *NullSettlementContracts) SettleNull(ctx context.Context, currency nahmiitypes.Currency, opts *TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	return nc.settlement.send(ctx, "settleNull", map[string]any{
		"currencyCt": currency.CT.String(),
		"currencyId": currency.ID.String(),
	}, opts)
}
