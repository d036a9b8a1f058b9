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
	"encoding/json"
	"math/big"
	"strings"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/retry"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/rpcclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/wallet"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethsigner"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"golang.org/x/crypto/sha3"
)

// EthClient is the chain access used for contract views and settlement
// transactions.
type EthClient interface {
	ChainID() int64

	ABI(ctx context.Context, a abi.ABI) (ABIClient, error)
	ABIJSON(ctx context.Context, abiJson []byte) (ABIClient, error)
	MustABIJSON(abiJson []byte) ABIClient

	CallContract(ctx context.Context, tx *ethsigner.Transaction, block string, opts ...CallOption) (ethtypes.HexBytes0xPrefix, error)
	EstimateGas(ctx context.Context, tx *ethsigner.Transaction, opts ...CallOption) (ethtypes.HexUint64, error)
	GasPrice(ctx context.Context) (*ethtypes.HexInteger, error)
	GetTransactionCount(ctx context.Context, addr ethtypes.Address0xHex) (uint64, error)
	BuildRawTransaction(ctx context.Context, txVersion EthTXVersion, w wallet.Wallet, tx *ethsigner.Transaction, opts ...CallOption) (ethtypes.HexBytes0xPrefix, error)
	SendRawTransaction(ctx context.Context, rawTX ethtypes.HexBytes0xPrefix) (ethtypes.HexBytes0xPrefix, error)
	GetTransactionReceipt(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*TransactionReceipt, error)

	// WaitForConfirmation polls for the receipt of a submitted transaction, until
	// the configured attempts, the configured timeout, or the deadline on ctx.
	WaitForConfirmation(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*TransactionReceipt, error)
}

type CallOption interface {
	isCallOptions()
}

type callOptions struct {
	errABI abi.ABI
}

func (co *callOptions) isCallOptions() {}

// The supplied ABI will be used when attempting to process revert data (if available)
func WithErrorsFrom(a abi.ABI) CallOption {
	return &callOptions{
		errABI: a,
	}
}

type ethClient struct {
	chainID           int64
	gasEstimateFactor float64
	confirmTimeout    time.Duration
	confirmRetry      *retry.Retry
	rpc               rpcclient.Client
}

func NewEthClient(ctx context.Context, conf *nahmiiconf.EthClientConfig) (EthClient, error) {
	rpc, err := rpcclient.NewHTTPClient(ctx, &conf.HTTPClientConfig)
	if err != nil {
		return nil, err
	}
	return WrapRPCClient(ctx, rpc, conf)
}

// WrapRPCClient builds a client on an existing JSON/RPC connection, querying
// the chain ID once up front.
func WrapRPCClient(ctx context.Context, rpc rpcclient.Client, conf *nahmiiconf.EthClientConfig) (EthClient, error) {
	defs := nahmiiconf.EthClientDefaults
	ec := &ethClient{
		rpc:               rpc,
		gasEstimateFactor: confutil.Float64Min(conf.EstimateGasFactor, 1.0, *defs.EstimateGasFactor),
		confirmTimeout:    confutil.DurationMin(conf.Confirmation.Timeout, 0, *defs.Confirmation.Timeout),
		confirmRetry: retry.NewFixedInterval(
			confutil.DurationMin(conf.Confirmation.Interval, 0, *defs.Confirmation.Interval),
			confutil.IntMin(conf.Confirmation.MaxAttempts, 1, *defs.Confirmation.MaxAttempts),
		),
	}
	if err := ec.setupChainID(ctx); err != nil {
		return nil, err
	}
	return ec, nil
}

func (ec *ethClient) ChainID() int64 {
	return ec.chainID
}

func (ec *ethClient) setupChainID(ctx context.Context) error {
	var chainID ethtypes.HexUint64
	if rpcErr := ec.rpc.CallRPC(ctx, &chainID, "eth_chainId"); rpcErr != nil {
		log.L(ctx).Errorf("eth_chainId failed: %+v", rpcErr)
		return i18n.WrapError(ctx, rpcErr, msgs.MsgEthClientChainIDFailed)
	}
	ec.chainID = int64(chainID.Uint64())
	return nil
}

func isRevert(rpcErr *rpcclient.RPCError) bool {
	return rpcErr.Code == int64(rpcclient.RPCCodeExecutionError) ||
		strings.Contains(strings.ToLower(rpcErr.Message), "revert")
}

func (ec *ethClient) CallContract(ctx context.Context, tx *ethsigner.Transaction, block string, opts ...CallOption) (ethtypes.HexBytes0xPrefix, error) {
	errABI := abi.ABI{}
	for _, o := range opts {
		if co := o.(*callOptions); co.errABI != nil {
			errABI = co.errABI
		}
	}
	var data ethtypes.HexBytes0xPrefix
	if err := ec.rpc.CallRPC(ctx, &data, "eth_call", tx, block); err != nil {
		rpcErr := err.RPCError()
		var revertData ethtypes.HexBytes0xPrefix
		if len(rpcErr.Data) != 0 {
			log.L(ctx).Debugf("Received error data in revert: %s", rpcErr.Data)
			_ = json.Unmarshal(rpcErr.Data, &revertData)
		}
		if len(revertData) > 0 || isRevert(rpcErr) {
			log.L(ctx).Debugf("eth_call reverted: %s", rpcErr.Message)
			return nil, newCallException(ctx, errABI, revertData, rpcErr.Message)
		}
		log.L(ctx).Errorf("eth_call failed: %+v", rpcErr)
		return nil, i18n.WrapError(ctx, rpcErr, msgs.MsgEthClientCallFailed, tx.To)
	}
	if len(data) == 0 {
		return nil, newCallException(ctx, errABI, nil, "")
	}
	return data, nil
}

func (ec *ethClient) GasPrice(ctx context.Context) (*ethtypes.HexInteger, error) {
	var gasPrice ethtypes.HexInteger
	if rpcErr := ec.rpc.CallRPC(ctx, &gasPrice, "eth_gasPrice"); rpcErr != nil {
		log.L(ctx).Errorf("eth_gasPrice failed: %+v", rpcErr)
		return nil, i18n.WrapError(ctx, rpcErr, msgs.MsgEthClientGasPriceFailed)
	}
	return &gasPrice, nil
}

func (ec *ethClient) EstimateGas(ctx context.Context, tx *ethsigner.Transaction, opts ...CallOption) (gasLimit ethtypes.HexUint64, err error) {
	if rpcErr := ec.rpc.CallRPC(ctx, &gasLimit, "eth_estimateGas", tx); rpcErr != nil {
		log.L(ctx).Errorf("eth_estimateGas failed: %+v", rpcErr)
		// Fall back to a call, to see if we can get a revert reason
		if _, callErr := ec.CallContract(ctx, tx, "latest", opts...); callErr != nil {
			return 0, i18n.WrapError(ctx, callErr, msgs.MsgEthClientGasEstimateFailed)
		}
		return 0, i18n.WrapError(ctx, rpcErr, msgs.MsgEthClientGasEstimateFailed)
	}
	return gasLimit, nil
}

func (ec *ethClient) GetTransactionCount(ctx context.Context, addr ethtypes.Address0xHex) (uint64, error) {
	var transactionCount ethtypes.HexUint64
	if rpcErr := ec.rpc.CallRPC(ctx, &transactionCount, "eth_getTransactionCount", addr, "pending"); rpcErr != nil {
		log.L(ctx).Errorf("eth_getTransactionCount(%s) failed: %+v", addr, rpcErr)
		return 0, i18n.WrapError(ctx, rpcErr, msgs.MsgEthClientNonceFailed, addr)
	}
	return transactionCount.Uint64(), nil
}

func (ec *ethClient) BuildRawTransaction(ctx context.Context, txVersion EthTXVersion, w wallet.Wallet, tx *ethsigner.Transaction, opts ...CallOption) (ethtypes.HexBytes0xPrefix, error) {
	fromAddr := w.Address()
	fromJSON, _ := json.Marshal(fromAddr)
	tx.From = fromJSON

	// Nonce is taken from the node for each transaction, as settlement steps are
	// confirmed one at a time
	if tx.Nonce == nil {
		txNonce, err := ec.GetTransactionCount(ctx, fromAddr)
		if err != nil {
			return nil, err
		}
		tx.Nonce = ethtypes.NewHexIntegerU64(txNonce)
	}

	if tx.GasLimit == nil {
		gasEstimate, err := ec.EstimateGas(ctx, tx, opts...)
		if err != nil {
			return nil, err
		}
		factoredGasLimit := int64((float64)(gasEstimate) * ec.gasEstimateFactor)
		tx.GasLimit = ethtypes.NewHexInteger(big.NewInt(factoredGasLimit))
	}

	if err := ec.fillGasPrice(ctx, txVersion, tx); err != nil {
		return nil, err
	}

	var sigPayload *ethsigner.TransactionSignaturePayload
	switch txVersion {
	case EIP1559:
		sigPayload = tx.SignaturePayloadEIP1559(ec.chainID)
	case LEGACY_EIP155:
		sigPayload = tx.SignaturePayloadLegacyEIP155(ec.chainID)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgEthClientInvalidTXVersion, txVersion)
	}
	hash := sha3.NewLegacyKeccak256()
	_, _ = hash.Write(sigPayload.Bytes())
	sig, err := w.SignDigest(ctx, hash.Sum(nil))
	var rawTX []byte
	if err == nil {
		switch txVersion {
		case EIP1559:
			// typed transactions carry a 0/1 recovery id
			if sig.V.Int64() >= 27 {
				sig.V.SetInt64(sig.V.Int64() - 27)
			}
			rawTX, err = tx.FinalizeEIP1559WithSignature(sigPayload, sig)
		case LEGACY_EIP155:
			rawTX, err = tx.FinalizeLegacyEIP155WithSignature(sigPayload, sig, ec.chainID)
		}
	}
	if err != nil {
		log.L(ctx).Errorf("signing failed for %s: %s", fromAddr, err)
		return nil, i18n.WrapError(ctx, err, msgs.MsgWalletSignFailed, fromAddr)
	}

	signer, _, err := ethsigner.RecoverRawTransaction(ctx, ethtypes.HexBytes0xPrefix(rawTX), ec.chainID)
	if err != nil {
		return nil, err
	}
	if *signer != fromAddr {
		return nil, i18n.NewError(ctx, msgs.MsgEthClientSignerMismatch, signer, fromAddr)
	}
	return rawTX, nil
}

func (ec *ethClient) fillGasPrice(ctx context.Context, txVersion EthTXVersion, tx *ethsigner.Transaction) error {
	switch {
	case txVersion == EIP1559 && tx.MaxFeePerGas != nil:
		if tx.MaxPriorityFeePerGas == nil {
			tx.MaxPriorityFeePerGas = tx.MaxFeePerGas
		}
		return nil
	case txVersion == LEGACY_EIP155 && tx.GasPrice != nil:
		return nil
	}
	gasPrice := tx.GasPrice
	if gasPrice == nil {
		var err error
		if gasPrice, err = ec.GasPrice(ctx); err != nil {
			return err
		}
	}
	if txVersion == EIP1559 {
		tx.GasPrice = nil
		tx.MaxFeePerGas = gasPrice
		tx.MaxPriorityFeePerGas = gasPrice
	} else {
		tx.GasPrice = gasPrice
	}
	return nil
}

func (ec *ethClient) SendRawTransaction(ctx context.Context, rawTX ethtypes.HexBytes0xPrefix) (ethtypes.HexBytes0xPrefix, error) {
	var txHash ethtypes.HexBytes0xPrefix
	if rpcErr := ec.rpc.CallRPC(ctx, &txHash, "eth_sendRawTransaction", rawTX); rpcErr != nil {
		addr, decodedTX, err := ethsigner.RecoverRawTransaction(ctx, rawTX, ec.chainID)
		if err != nil {
			log.L(ctx).Errorf("Invalid transaction build during signing: %s", err)
		} else {
			log.L(ctx).Errorf("Rejected TX (from=%s, nonce=%+v)", addr, decodedTX.Nonce)
			log.L(ctx).Tracef("Rejected TX (from=%s): %+v", addr, logJSON(decodedTX.Transaction))
		}
		return nil, i18n.NewError(ctx, msgs.MsgEthClientSendFailed, rpcErr.Error())
	}
	return txHash, nil
}

func (ec *ethClient) GetTransactionReceipt(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*TransactionReceipt, error) {
	var receipt *TransactionReceipt
	if rpcErr := ec.rpc.CallRPC(ctx, &receipt, "eth_getTransactionReceipt", txHash); rpcErr != nil {
		log.L(ctx).Errorf("eth_getTransactionReceipt(%s) failed: %+v", txHash, rpcErr)
		return nil, i18n.WrapError(ctx, rpcErr, msgs.MsgEthClientReceiptFailed, txHash)
	}
	return receipt, nil
}

func (ec *ethClient) WaitForConfirmation(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*TransactionReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, ec.confirmTimeout)
	defer cancel()

	start := time.Now()
	var receipt *TransactionReceipt
	attempts := 0
	err := ec.confirmRetry.Do(ctx, func(attempt int) (bool, error) {
		attempts = attempt
		r, err := ec.GetTransactionReceipt(ctx, txHash)
		if err != nil {
			return true, err
		}
		if r == nil || r.BlockNumber == nil {
			return true, i18n.NewError(ctx, msgs.MsgEthClientNotMined, txHash)
		}
		receipt = r
		return false, nil
	})
	if receipt == nil {
		elapsed := time.Since(start)
		if err == nil {
			err = i18n.NewError(ctx, msgs.MsgEthClientNotMined, txHash)
		}
		log.L(ctx).Warnf("Transaction %s not confirmed after %d attempts (%s): %s", txHash, attempts, elapsed, err)
		return nil, NewConfirmationTimeoutError(ctx, txHash.String(), attempts, elapsed, err)
	}
	if !receipt.Success() {
		reason := "no reason"
		if len(receipt.RevertReason) > 0 {
			if errString, ok := (abi.ABI{}).ErrorStringCtx(ctx, receipt.RevertReason); ok {
				reason = errString
			} else {
				reason = receipt.RevertReason.String()
			}
		}
		return receipt, NewConfirmationFailedError(ctx, txHash.String(), receipt, reason)
	}
	log.L(ctx).Infof("Transaction %s confirmed in block %d after %d attempts", txHash, receipt.BlockNumberUint64(), attempts)
	return receipt, nil
}

func logJSON(v interface{}) string {
	ret := ""
	b, _ := json.Marshal(v)
	if len(b) > 0 {
		ret = (string)(b)
	}
	return ret
}
