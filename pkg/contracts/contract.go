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
	"math/big"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/wallet"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

type ProposalStatus int

const (
	ProposalStatusQualified ProposalStatus = iota
	ProposalStatusDisqualified
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalStatusQualified:
		return "Qualified"
	case ProposalStatusDisqualified:
		return "Disqualified"
	default:
		return "Unknown"
	}
}

// TxOptions overrides gas settings for a settlement transaction. Zero values
// are estimated from the node.
type TxOptions struct {
	GasLimit uint64
	GasPrice *big.Int
}

type uintOutput struct {
	Value *nahmiitypes.BigInt `json:"0"`
}

type boolOutput struct {
	Value bool `json:"0"`
}

type boundContract struct {
	name    string
	address ethtypes.Address0xHex
	abic    ethclient.ABIClient
	signer  wallet.Wallet
}

func (r *Registry) bind(ctx context.Context, ec ethclient.EthClient, name string, signer wallet.Wallet) (*boundContract, error) {
	d, err := r.Deployment(ctx, name)
	if err != nil {
		return nil, err
	}
	abic, err := ec.ABI(ctx, d.ABI)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgContractsInvalidABI, name)
	}
	return &boundContract{name: name, address: d.Address, abic: abic, signer: signer}, nil
}

func (bc *boundContract) Address() ethtypes.Address0xHex {
	return bc.address
}

func (bc *boundContract) call(ctx context.Context, function string, input, output any) error {
	fn, err := bc.abic.Function(ctx, function)
	if err != nil {
		return err
	}
	req := fn.R(ctx).To(&bc.address).Output(output)
	if input != nil {
		req = req.Input(input)
	}
	if bc.signer != nil {
		req = req.Signer(bc.signer)
	}
	return req.Call()
}

func (bc *boundContract) send(ctx context.Context, function string, input any, opts *TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	fn, err := bc.abic.Function(ctx, function)
	if err != nil {
		return nil, err
	}
	req := fn.R(ctx).Signer(bc.signer).To(&bc.address).Input(input)
	if opts != nil {
		req = req.GasLimit(opts.GasLimit).GasPrice(opts.GasPrice)
	}
	txHash, err := req.SignAndSend()
	if err != nil {
		log.L(ctx).Errorf("%s.%s failed: %s", bc.name, function, err)
		return nil, err
	}
	return txHash, nil
}

func keyInput(wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) map[string]any {
	return map[string]any{
		"wallet":     wallet.String(),
		"currencyCt": currency.CT.String(),
		"currencyId": currency.ID.String(),
	}
}

// proposalViews are the per (wallet, currency) proposal reads shared by both
// challenge contracts. Each one fails with an ethclient.CallExceptionError when
// there is no proposal.
type proposalViews struct {
	*boundContract
}

func (pv *proposalViews) uintView(ctx context.Context, function string, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	var out uintOutput
	if err := pv.call(ctx, function, keyInput(wallet, currency), &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

func (pv *proposalViews) ProposalNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	return pv.uintView(ctx, "proposalNonce", wallet, currency)
}

// ProposalExpirationTime is in unix seconds.
func (pv *proposalViews) ProposalExpirationTime(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	return pv.uintView(ctx, "proposalExpirationTime", wallet, currency)
}

func (pv *proposalViews) ProposalStageAmount(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	return pv.uintView(ctx, "proposalStageAmount", wallet, currency)
}

func (pv *proposalViews) HasProposalExpired(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (bool, error) {
	var out boolOutput
	if err := pv.call(ctx, "hasProposalExpired", keyInput(wallet, currency), &out); err != nil {
		return false, err
	}
	return out.Value, nil
}

func (pv *proposalViews) ProposalStatus(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (ProposalStatus, error) {
	v, err := pv.uintView(ctx, "proposalStatus", wallet, currency)
	if err != nil {
		return 0, err
	}
	status := ProposalStatus(v.Uint64())
	if !v.Int().IsUint64() || status > ProposalStatusDisqualified {
		return 0, i18n.NewError(ctx, msgs.MsgContractsUnknownStatus, v.Uint64())
	}
	return status, nil
}
