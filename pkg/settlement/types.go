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

// Package settlement drives settlement challenges for a wallet and currency:
// payment driip challenges backed by a receipt, null challenges for the
// balance no receipt covers, and the sequencing of both.
package settlement

import (
	"context"
	"errors"
	"strings"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/contracts"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiapi"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/receipt"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

type ChallengeType string

const (
	ChallengeTypePaymentDriip ChallengeType = "payment-driip"
	ChallengeTypeNull         ChallengeType = "null"
)

type ProposalReader interface {
	ProposalNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error)
	ProposalExpirationTime(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error)
	ProposalStageAmount(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error)
	HasProposalExpired(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (bool, error)
	ProposalStatus(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (contracts.ProposalStatus, error)
}

// DriipContracts is satisfied by *contracts.DriipSettlementContracts.
type DriipContracts interface {
	ProposalReader
	SettlementByNonce(ctx context.Context, nonce *nahmiitypes.BigInt) (*contracts.SettlementRecord, error)
	StartChallengeFromPayment(ctx context.Context, payment map[string]any, stageAmount *nahmiitypes.BigInt, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error)
	SettlePayment(ctx context.Context, payment map[string]any, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error)
}

// NullContracts is satisfied by *contracts.NullSettlementContracts.
type NullContracts interface {
	ProposalReader
	IsLockedWallet(ctx context.Context, wallet ethtypes.Address0xHex) (bool, error)
	WalletCurrencyMaxNullNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error)
	StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error)
	SettleNull(ctx context.Context, currency nahmiitypes.Currency, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error)
}

// ReceiptSource is satisfied by nahmiiapi.Client.
type ReceiptSource interface {
	GetWalletReceipts(ctx context.Context, wallet ethtypes.Address0xHex, q *nahmiiapi.ReceiptQuery) ([]*receipt.Receipt, error)
}

// Confirmer is satisfied by ethclient.EthClient.
type Confirmer interface {
	WaitForConfirmation(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*ethclient.TransactionReceipt, error)
}

// QueryResult distinguishes a proposal read that found nothing (Found=false)
// from one that returned a value.
type QueryResult[T any] struct {
	Found bool
	Value T
}

func found[T any](v T) QueryResult[T] {
	return QueryResult[T]{Found: true, Value: v}
}

func explicitlyTrue(qr QueryResult[bool]) bool {
	return qr.Found && qr.Value
}

// explicitlyFalse does not match an absent value.
func explicitlyFalse(qr QueryResult[bool]) bool {
	return qr.Found && !qr.Value
}

// queryProposal runs a contract read, mapping a call exception to an absent
// result. Only proposal reads go through here, as a revert on a write is a
// genuine failure.
func queryProposal[T any](ctx context.Context, name string, fn func() (T, error)) (QueryResult[T], error) {
	v, err := fn()
	if err != nil {
		if ethclient.IsCallException(err) {
			log.L(ctx).Debugf("%s: no value (%s)", name, err)
			return QueryResult[T]{}, nil
		}
		return QueryResult[T]{}, &ContractQueryError{Query: name, err: i18n.WrapError(ctx, err, msgs.MsgSettlementContractQuery, name)}
	}
	return found(v), nil
}

type CheckResult struct {
	Valid   bool
	Reasons []error
}

func newCheckResult(reasons []error) *CheckResult {
	return &CheckResult{Valid: len(reasons) == 0, Reasons: reasons}
}

func (cr *CheckResult) reasons() []error {
	if cr == nil {
		return nil
	}
	return cr.Reasons
}

// Err returns a ValidationError if the check failed.
func (cr *CheckResult) Err(ctx context.Context, challengeType ChallengeType) error {
	if cr.Valid {
		return nil
	}
	return newValidationError(ctx, challengeType, cr.Reasons)
}

type ValidationError struct {
	Type    ChallengeType
	Reasons []error
	err     error
}

func newValidationError(ctx context.Context, challengeType ChallengeType, reasons []error) *ValidationError {
	texts := make([]string, len(reasons))
	for i, r := range reasons {
		texts[i] = r.Error()
	}
	return &ValidationError{
		Type:    challengeType,
		Reasons: reasons,
		err:     i18n.NewError(ctx, msgs.MsgSettlementValidation, challengeType, strings.Join(texts, "; ")),
	}
}

func (e *ValidationError) Error() string {
	return e.err.Error()
}

func (e *ValidationError) Unwrap() []error {
	return e.Reasons
}

type ContractQueryError struct {
	Query string
	err   error
}

func (e *ContractQueryError) Error() string {
	return e.err.Error()
}

func (e *ContractQueryError) Unwrap() error {
	return e.err
}

// ChallengeSequenceError aborts a start or settle sequence. Steps confirmed
// before it are returned alongside it and are not rolled back.
type ChallengeSequenceError struct {
	Type   ChallengeType
	TxHash string
	cause  error
	err    error
}

func NewChallengeSequenceError(ctx context.Context, challengeType ChallengeType, txHash string, cause error) *ChallengeSequenceError {
	return &ChallengeSequenceError{
		Type:   challengeType,
		TxHash: txHash,
		cause:  cause,
		err:    i18n.WrapError(ctx, cause, msgs.MsgSettlementSequenceFailed, challengeType, txHash),
	}
}

func (e *ChallengeSequenceError) Error() string {
	return e.err.Error()
}

func (e *ChallengeSequenceError) Unwrap() error {
	return e.cause
}

// IsTimeout reports an unknown outcome: the transaction may still be mined.
func (e *ChallengeSequenceError) IsTimeout() bool {
	var te *ethclient.ConfirmationTimeoutError
	return errors.As(e.cause, &te)
}
