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

package nahmiiconf

import (
	"encoding/json"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
)

type WalletConfig struct {
	// hex encoded secp256k1 private key
	PrivateKey *string `json:"privateKey"`
	// BIP-39 mnemonic, used when no private key is set
	Mnemonic *string `json:"mnemonic"`
	// BIP-44 derivation path for the mnemonic
	DerivationPath *string `json:"derivationPath"`
}

var WalletDefaults = &WalletConfig{
	DerivationPath: confutil.P("m/44'/60'/0'/0/0"),
}

type SettlementConfig struct {
	// upper bound on receipts scanned when locating a challenged receipt
	ReceiptScanLimit *int `json:"receiptScanLimit"`
	// gas limit applied to start and settle transactions, estimated when unset
	GasLimit *int `json:"gasLimit"`
	// gas price in wei applied to start and settle transactions
	GasPrice *string `json:"gasPrice"`
}

var SettlementDefaults = &SettlementConfig{
	ReceiptScanLimit: confutil.P(1000),
}

// NetworkConfig is the deployment descriptor map for one named network.
type NetworkConfig struct {
	ChainID   *int64                        `json:"chainId"`
	Operator  string                        `json:"operator"`
	Contracts map[string]ContractDeployment `json:"contracts"`
}

type ContractDeployment struct {
	Address string `json:"address"`
	// optional override of the embedded ABI
	ABI json.RawMessage `json:"abi,omitempty"`
}
