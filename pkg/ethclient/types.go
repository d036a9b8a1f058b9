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

package ethclient

import (
	"context"
	"errors"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

type TransactionReceipt struct {
	TransactionHash ethtypes.HexBytes0xPrefix `json:"transactionHash"`
	BlockHash       ethtypes.HexBytes0xPrefix `json:"blockHash"`
	BlockNumber     *ethtypes.HexInteger      `json:"blockNumber"`
	From            *ethtypes.Address0xHex    `json:"from"`
	To              *ethtypes.Address0xHex    `json:"to"`
	GasUsed         *ethtypes.HexInteger      `json:"gasUsed"`
	Status          *ethtypes.HexInteger      `json:"status"`
	RevertReason    ethtypes.HexBytes0xPrefix `json:"revertReason,omitempty"`
}

func (r *TransactionReceipt) Success() bool {
	return r.Status != nil && r.Status.BigInt().Sign() > 0
}

func (r *TransactionReceipt) BlockNumberUint64() uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.BigInt().Uint64()
}

// CallExceptionError is a call that reverted, or returned no data at all.
// Contract views use it to detect that the callee holds no record for the
// requested key.
type CallExceptionError struct {
	Method     string
	Reason     string
	RevertData ethtypes.HexBytes0xPrefix
	err        error
}

func (e *CallExceptionError) Error() string {
	return e.err.Error()
}

func (e *CallExceptionError) Unwrap() error {
	return e.err
}

// NewCallExceptionError is a revert of the named method with a known reason.
func NewCallExceptionError(ctx context.Context, method, reason string) *CallExceptionError {
	return &CallExceptionError{
		Method: method,
		Reason: reason,
		err:    i18n.NewError(ctx, msgs.MsgEthClientCallReverted, reason),
	}
}

func IsCallException(err error) bool {
	var ce *CallExceptionError
	return errors.As(err, &ce)
}

func newCallException(ctx context.Context, errABI abi.ABI, revertData ethtypes.HexBytes0xPrefix, message string) *CallExceptionError {
	ce := &CallExceptionError{RevertData: revertData, Reason: message}
	if len(revertData) == 0 && message == "" {
		ce.err = i18n.NewError(ctx, msgs.MsgEthClientCallNoData)
		return ce
	}
	if len(revertData) > 0 {
		if errString, _ := errABI.ErrorStringCtx(ctx, revertData); errString != "" {
			ce.Reason = errString
		} else {
			ce.Reason = revertData.String()
		}
	}
	ce.err = i18n.NewError(ctx, msgs.MsgEthClientCallReverted, ce.Reason)
	return ce
}

// ConfirmationTimeoutError means the outcome of a submitted transaction is not
// known. It might still be mined later.
type ConfirmationTimeoutError struct {
	TxHash   string
	Attempts int
	Elapsed  time.Duration
	err      error
}

func NewConfirmationTimeoutError(ctx context.Context, txHash string, attempts int, elapsed time.Duration, cause error) *ConfirmationTimeoutError {
	return &ConfirmationTimeoutError{
		TxHash:   txHash,
		Attempts: attempts,
		Elapsed:  elapsed,
		err:      i18n.WrapError(ctx, cause, msgs.MsgEthClientConfirmTimeout, attempts, elapsed.Round(time.Millisecond), txHash),
	}
}

func (e *ConfirmationTimeoutError) Error() string {
	return e.err.Error()
}

func (e *ConfirmationTimeoutError) Unwrap() error {
	return e.err
}

// ConfirmationFailedError means the transaction was mined, but reverted.
type ConfirmationFailedError struct {
	TxHash  string
	Receipt *TransactionReceipt
	err     error
}

func NewConfirmationFailedError(ctx context.Context, txHash string, receipt *TransactionReceipt, reason string) *ConfirmationFailedError {
	return &ConfirmationFailedError{
		TxHash:  txHash,
		Receipt: receipt,
		err:     i18n.NewError(ctx, msgs.MsgEthClientConfirmFailed, txHash, receipt.BlockNumberUint64(), reason),
	}
}

func (e *ConfirmationFailedError) Error() string {
	return e.err.Error()
}

func (e *ConfirmationFailedError) Unwrap() error {
	return e.err
}
