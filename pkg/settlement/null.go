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

package settlement

import (
	"context"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/contracts"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"golang.org/x/sync/errgroup"
)

// NullSettlement challenges and settles a balance without a receipt. A locked
// wallet can neither start nor settle.
type NullSettlement struct {
	proposalQueries
	contracts NullContracts
}

func NewNullSettlement(c NullContracts) *NullSettlement {
	return &NullSettlement{
		proposalQueries: proposalQueries{challengeType: ChallengeTypeNull, reader: c},
		contracts:       c,
	}
}

func (ns *NullSettlement) IsWalletLocked(ctx context.Context, wallet ethtypes.Address0xHex) (QueryResult[bool], error) {
	return queryProposal(ctx, ns.queryName("isLockedWallet"), func() (bool, error) {
		return ns.contracts.IsLockedWallet(ctx, wallet)
	})
}

func (ns *NullSettlement) GetMaxNullNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (QueryResult[*nahmiitypes.BigInt], error) {
	return queryProposal(ctx, ns.queryName("walletCurrencyMaxNullNonce"), func() (*nahmiitypes.BigInt, error) {
		return ns.contracts.WalletCurrencyMaxNullNonce(ctx, wallet, currency)
	})
}

// CheckStartChallenge only blocks on an explicit unexpired proposal. Having no
// proposal at all does not block a null challenge, unlike the payment driip
// checks which need an explicit expiry.
func (ns *NullSettlement) CheckStartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) (*CheckResult, error) {
	if stageAmount == nil {
		return nil, i18n.NewError(ctx, msgs.MsgSettlementZeroStageAmount)
	}
	var locked, expired QueryResult[bool]
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		locked, err = ns.IsWalletLocked(gCtx, wallet)
		return err
	})
	g.Go(func() (err error) {
		expired, err = ns.HasProposalExpired(gCtx, wallet, stageAmount.Currency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reasons := []error{}
	if explicitlyTrue(locked) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementWalletLocked, wallet))
	}
	if explicitlyFalse(expired) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementNotExpired))
	}
	log.L(ctx).Debugf("Start null check for wallet %s in %s: %d reasons", wallet, stageAmount.Currency, len(reasons))
	return newCheckResult(reasons), nil
}

// CheckSettleNull requires an explicitly expired, qualified proposal with a
// nonce above the highest null settled nonce.
func (ns *NullSettlement) CheckSettleNull(ctx context.Context, currency nahmiitypes.Currency, wallet ethtypes.Address0xHex) (*CheckResult, error) {
	var locked, expired QueryResult[bool]
	var status QueryResult[contracts.ProposalStatus]
	var nonce, maxNonce QueryResult[*nahmiitypes.BigInt]
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		locked, err = ns.IsWalletLocked(gCtx, wallet)
		return err
	})
	g.Go(func() (err error) {
		expired, err = ns.HasProposalExpired(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		status, err = ns.GetCurrentProposalStatus(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		nonce, err = ns.GetCurrentProposalNonce(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		maxNonce, err = ns.GetMaxNullNonce(gCtx, wallet, currency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reasons := []error{}
	if explicitlyTrue(locked) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementWalletLocked, wallet))
	}
	if !explicitlyTrue(expired) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementNotExpired))
	}
	if status.Found && status.Value == contracts.ProposalStatusDisqualified {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementDisqualified))
	}
	maxNullNonce := maxNonce.Value
	if maxNullNonce == nil {
		maxNullNonce = nahmiitypes.NewBigInt(0)
	}
	switch {
	case !nonce.Found:
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementNoProposalNonce))
	case nonce.Value.Cmp(maxNullNonce) <= 0:
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementNullNonceReplay, nonce.Value, maxNullNonce))
	}
	log.L(ctx).Debugf("Settle null check for wallet %s in %s: %d reasons", wallet, currency, len(reasons))
	return newCheckResult(reasons), nil
}

func (ns *NullSettlement) StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	if err := validateStageAmount(ctx, stageAmount); err != nil {
		return nil, err
	}
	check, err := ns.CheckStartChallenge(ctx, stageAmount, wallet)
	if err != nil {
		return nil, err
	}
	if err := check.Err(ctx, ChallengeTypeNull); err != nil {
		return nil, err
	}
	txHash, err := ns.contracts.StartChallenge(ctx, stageAmount, opts)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSettlementSubmitFailed, ChallengeTypeNull)
	}
	log.L(ctx).Infof("Started null challenge for %s staging %s: %s", wallet, stageAmount, txHash)
	return txHash, nil
}

func (ns *NullSettlement) SettleNull(ctx context.Context, currency nahmiitypes.Currency, wallet ethtypes.Address0xHex, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	check, err := ns.CheckSettleNull(ctx, currency, wallet)
	if err != nil {
		return nil, err
	}
	if err := check.Err(ctx, ChallengeTypeNull); err != nil {
		return nil, err
	}
	txHash, err := ns.contracts.SettleNull(ctx, currency, opts)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSettlementSubmitFailed, ChallengeTypeNull)
	}
	log.L(ctx).Infof("Settled null for %s in %s: %s", wallet, currency, txHash)
	return txHash, nil
}
