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
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/receipt"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"golang.org/x/sync/errgroup"
)

// DriipSettlement challenges and settles a balance on the strength of a
// receipt signed by the operator.
type DriipSettlement struct {
	proposalQueries
	contracts DriipContracts
}

func NewDriipSettlement(c DriipContracts) *DriipSettlement {
	return &DriipSettlement{
		proposalQueries: proposalQueries{challengeType: ChallengeTypePaymentDriip, reader: c},
		contracts:       c,
	}
}

// HasPaymentDriipSettled reports whether the wallet's side of the settlement
// for the nonce is done. Absent if there is no settlement for the nonce.
func (ds *DriipSettlement) HasPaymentDriipSettled(ctx context.Context, nonce *nahmiitypes.BigInt, wallet ethtypes.Address0xHex) (QueryResult[bool], error) {
	return queryProposal(ctx, ds.queryName("settlementByNonce"), func() (bool, error) {
		s, err := ds.contracts.SettlementByNonce(ctx, nonce)
		if err != nil {
			return false, err
		}
		return s.DoneFor(wallet), nil
	})
}

func (ds *DriipSettlement) CheckStartChallengeFromPayment(ctx context.Context, r *receipt.Receipt, wallet ethtypes.Address0xHex) (*CheckResult, error) {
	nonce, err := r.NonceForParty(ctx, wallet)
	if err != nil {
		return nil, err
	}
	currency := r.Currency()

	var expired, settled QueryResult[bool]
	var current QueryResult[*nahmiitypes.BigInt]
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		expired, err = ds.HasProposalExpired(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		settled, err = ds.HasPaymentDriipSettled(gCtx, nonce, wallet)
		return err
	})
	g.Go(func() (err error) {
		current, err = ds.GetCurrentProposalNonce(gCtx, wallet, currency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reasons := []error{}
	if !explicitlyTrue(expired) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementNotExpired))
	}
	if explicitlyTrue(settled) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementReplay, nonce))
	}
	if current.Found && nonce.Cmp(current.Value) <= 0 {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementRestart, nonce, current.Value))
	}
	log.L(ctx).Debugf("Start payment driip check for wallet %s nonce %s: %d reasons", wallet, nonce, len(reasons))
	return newCheckResult(reasons), nil
}

func (ds *DriipSettlement) CheckSettleDriipAsPayment(ctx context.Context, r *receipt.Receipt, wallet ethtypes.Address0xHex) (*CheckResult, error) {
	nonce, err := r.NonceForParty(ctx, wallet)
	if err != nil {
		return nil, err
	}
	currency := r.Currency()

	var expired, settled QueryResult[bool]
	var status QueryResult[contracts.ProposalStatus]
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		expired, err = ds.HasProposalExpired(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		status, err = ds.GetCurrentProposalStatus(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		settled, err = ds.HasPaymentDriipSettled(gCtx, nonce, wallet)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reasons := []error{}
	if !explicitlyTrue(expired) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementNotExpired))
	}
	if status.Found && status.Value == contracts.ProposalStatusDisqualified {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementDisqualified))
	}
	if explicitlyTrue(settled) {
		reasons = append(reasons, i18n.NewError(ctx, msgs.MsgSettlementReplay, nonce))
	}
	log.L(ctx).Debugf("Settle payment driip check for wallet %s nonce %s: %d reasons", wallet, nonce, len(reasons))
	return newCheckResult(reasons), nil
}

// StartChallengeFromPayment submits a challenge staging stageAmount on the
// strength of the receipt, returning the transaction hash.
func (ds *DriipSettlement) StartChallengeFromPayment(ctx context.Context, r *receipt.Receipt, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	if err := validateStageAmount(ctx, stageAmount); err != nil {
		return nil, err
	}
	if err := stageAmount.ValidateCurrency(ctx, r.Currency()); err != nil {
		return nil, err
	}
	check, err := ds.CheckStartChallengeFromPayment(ctx, r, wallet)
	if err != nil {
		return nil, err
	}
	if err := check.Err(ctx, ChallengeTypePaymentDriip); err != nil {
		return nil, err
	}
	txHash, err := ds.contracts.StartChallengeFromPayment(ctx, r.ContractInput(), stageAmount.Amount, opts)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSettlementSubmitFailed, ChallengeTypePaymentDriip)
	}
	log.L(ctx).Infof("Started payment driip challenge for %s staging %s: %s", wallet, stageAmount, txHash)
	return txHash, nil
}

func (ds *DriipSettlement) SettleDriipAsPayment(ctx context.Context, r *receipt.Receipt, wallet ethtypes.Address0xHex, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	check, err := ds.CheckSettleDriipAsPayment(ctx, r, wallet)
	if err != nil {
		return nil, err
	}
	if err := check.Err(ctx, ChallengeTypePaymentDriip); err != nil {
		return nil, err
	}
	txHash, err := ds.contracts.SettlePayment(ctx, r.ContractInput(), opts)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSettlementSubmitFailed, ChallengeTypePaymentDriip)
	}
	log.L(ctx).Infof("Settled payment driip for %s in %s: %s", wallet, r.Currency(), txHash)
	return txHash, nil
}

func validateStageAmount(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount) error {
	if stageAmount == nil || stageAmount.Amount.Sign() <= 0 {
		return i18n.NewError(ctx, msgs.MsgSettlementZeroStageAmount)
	}
	return nil
}
