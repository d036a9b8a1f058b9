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

package msgs

import (
	"fmt"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const nahmiiPrefix = "NM01"

var registered = false
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	if !registered {
		i18n.RegisterPrefix(nahmiiPrefix, "nahmii SDK")
		registered = true
	}
	if !strings.HasPrefix(key, nahmiiPrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", nahmiiPrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Generic NM0100XX
	MsgContextCanceled       = ffe("NM010000", "Context canceled")
	MsgConfigFileMissing     = ffe("NM010001", "Config file not found at path: %s")
	MsgConfigFileInvalid     = ffe("NM010002", "Failed to parse config file %s")
	MsgBigIntParseFailed     = ffe("NM010003", "Failed to parse JSON value '%s' into BigInt")
	MsgBigIntTooLarge        = ffe("NM010004", "Integer exceeds 256 bits (bit length %d)")
	MsgInvalidAddress        = ffe("NM010005", "Invalid Ethereum address '%s'")
	MsgTypeRestoreFailed     = ffe("NM010006", "Failed to restore type '%T' into '%T'")
	MsgLogFileMaxSizeInvalid = ffe("NM010007", "Invalid log file max size '%s'")
	MsgMetricsListenFailed   = ffe("NM010008", "Failed to listen for metrics on %s")
	MsgCLIInvalidFlag        = ffe("NM010009", "Invalid value '%s' for --%s")

	// Hashing NM0101XX
	MsgHashMissingField       = ffe("NM010100", "Missing field '%s' while computing canonical hash")
	MsgHashInvalidFieldType   = ffe("NM010101", "Unsupported value type %T at '%s' while computing canonical hash")
	MsgHashInvalidTypeTag     = ffe("NM010102", "Invalid type tag '%s' on field '%s'")
	MsgHashInvalidNumber      = ffe("NM010103", "Invalid numeric value '%v' for %s at '%s'")
	MsgHashValueOutOfRange    = ffe("NM010104", "Value %s does not fit in %s at '%s'")
	MsgHashInvalidHex         = ffe("NM010105", "Invalid hex value '%s' at '%s'")
	MsgHashGlobNotArray       = ffe("NM010106", "Glob path '%s' does not resolve to an array (%T)")
	MsgHashInvalidGlob        = ffe("NM010107", "Invalid glob path '%s', must end in '.*' or '.[]'")
	MsgHashTreeConvertFailed  = ffe("NM010108", "Failed to convert %T into a hashable tree")
	MsgHashFixedBytesMismatch = ffe("NM010109", "Value at '%s' has %d bytes but %s requires %d")

	// Signatures NM0102XX
	MsgSignatureInvalidLength = ffe("NM010200", "Invalid signature length %d, expected 65 bytes")
	MsgSignatureInvalidHash   = ffe("NM010201", "Invalid message hash length %d, expected 32 bytes")
	MsgSignatureInvalidV      = ffe("NM010202", "Invalid signature recovery id %d")
	MsgSignatureRecoverFailed = ffe("NM010203", "Failed to recover signer from signature")
	MsgSignatureMissing       = ffe("NM010204", "Signature missing")

	// Wallet NM0103XX
	MsgWalletInvalidPrivateKey = ffe("NM010300", "Invalid private key")
	MsgWalletInvalidMnemonic   = ffe("NM010301", "Invalid BIP-39 mnemonic")
	MsgWalletInvalidPath       = ffe("NM010302", "Invalid BIP-44 derivation path '%s'")
	MsgWalletPathSegmentLarge  = ffe("NM010303", "BIP-32 derivation segment %d too large")
	MsgWalletSignFailed        = ffe("NM010304", "Signing failed for %s")
	MsgWalletNotConfigured     = ffe("NM010305", "No wallet configured, a private key or mnemonic is required")

	// Payment and receipt NM0104XX
	MsgNoSigner               = ffe("NM010400", "No signer bound to payment")
	MsgNoProvider             = ffe("NM010401", "No provider bound to %s")
	MsgPaymentInvalidJSON     = ffe("NM010402", "Invalid payment JSON")
	MsgReceiptInvalidJSON     = ffe("NM010403", "Invalid receipt JSON")
	MsgPaymentHashFailed      = ffe("NM010404", "Failed to compute payment hash")
	MsgReceiptHashFailed      = ffe("NM010405", "Failed to compute receipt hash")
	MsgPaymentSignFailed      = ffe("NM010406", "Failed to sign payment")
	MsgReceiptSignFailed      = ffe("NM010407", "Failed to sign receipt")
	MsgReceiptPaymentUnsigned = ffe("NM010408", "Receipt payment is not signed by the sender")
	MsgReceiptNotParty        = ffe("NM010409", "Wallet %s is not a party to the receipt")
	MsgPaymentRegisterFailed  = ffe("NM010410", "Failed to register payment")
	MsgReceiptEffectuate      = ffe("NM010411", "Failed to effectuate receipt")
	MsgPaymentInvalidData     = ffe("NM010412", "Sender data is not valid base64")
	MsgPaymentSignerNotSender = ffe("NM010413", "Signer %s is not the payment sender %s")
	MsgReceiptMissingField    = ffe("NM010414", "Receipt field '%s' is required")
	MsgPaymentMissingField    = ffe("NM010415", "Payment field '%s' is required")

	// Eth client NM0105XX
	MsgEthClientChainIDFailed     = ffe("NM010500", "Failed to query chain ID")
	MsgEthClientCallReverted      = ffe("NM010501", "Call reverted: %s")
	MsgEthClientCallNoData        = ffe("NM010502", "Call returned no data")
	MsgEthClientCallFailed        = ffe("NM010503", "Call to %s failed")
	MsgEthClientABIJson           = ffe("NM010504", "Invalid ABI JSON")
	MsgEthClientFunctionNotFound  = ffe("NM010505", "Function '%s' not found on ABI")
	MsgEthClientMissingInput      = ffe("NM010506", "Input required for function call")
	MsgEthClientMissingOutput     = ffe("NM010507", "Output destination required for call")
	MsgEthClientMissingTo         = ffe("NM010508", "Contract address required for function call")
	MsgEthClientMissingFrom       = ffe("NM010509", "Signer required for transaction submission")
	MsgEthClientInvalidInput      = ffe("NM010510", "Invalid input for %s")
	MsgEthClientOutputDecode      = ffe("NM010511", "Failed to decode output of %s")
	MsgEthClientSendFailed        = ffe("NM010512", "eth_sendRawTransaction failed: %s")
	MsgEthClientReceiptFailed     = ffe("NM010513", "eth_getTransactionReceipt failed for %s")
	MsgEthClientConfirmTimeout    = ffe("NM010514", "Timed out after %d attempts in %s waiting for confirmation of transaction %s")
	MsgEthClientConfirmFailed     = ffe("NM010515", "Transaction %s reverted in block %d: %s")
	MsgEthClientGasEstimateFailed = ffe("NM010516", "Gas estimation failed")
	MsgEthClientSignerMismatch    = ffe("NM010517", "Signed transaction is from %s, expected %s")
	MsgEthClientNotMined          = ffe("NM010518", "Transaction %s not yet mined")
	MsgEthClientInvalidTXVersion  = ffe("NM010519", "Invalid transaction version '%s'")
	MsgEthClientGasPriceFailed    = ffe("NM010520", "eth_gasPrice failed")
	MsgEthClientNonceFailed       = ffe("NM010521", "eth_getTransactionCount failed for %s")

	// JSON/RPC NM0106XX
	MsgRPCClientInvalidHTTPURL    = ffe("NM010600", "Invalid HTTP URL: %s")
	MsgRPCClientRequestFailed     = ffe("NM010601", "Backend RPC request failed: %s")
	MsgRPCClientResultParseFailed = ffe("NM010602", "Failed to parse result (expected=%T): %s")
	MsgRPCClientInvalidParam      = ffe("NM010603", "Invalid parameter at position %d for method %s: %s")

	// Contracts NM0107XX
	MsgContractsUnknownNetwork  = ffe("NM010700", "Unknown network '%s'")
	MsgContractsMissingContract = ffe("NM010701", "Contract '%s' not configured for network '%s'")
	MsgContractsInvalidABI      = ffe("NM010702", "Invalid ABI for contract '%s'")
	MsgContractsInvalidAddress  = ffe("NM010703", "Invalid address '%s' for contract '%s'")
	MsgContractsUnknownStatus   = ffe("NM010704", "Unknown proposal status %d")
	MsgContractsChainIDMismatch = ffe("NM010705", "Network '%s' expects chain ID %d but the node reports %d")
	MsgContractsInvalidOperator = ffe("NM010706", "Invalid operator address '%s' for network '%s'")

	// Off-chain API NM0108XX
	MsgAPIRequestFailed   = ffe("NM010800", "nahmii API request failed: %s")
	MsgAPIAuthFailed      = ffe("NM010801", "nahmii API authentication failed: %s")
	MsgAPITokenInvalid    = ffe("NM010802", "nahmii API returned an invalid access token")
	MsgAPIMissingAppCreds = ffe("NM010803", "nahmii API app ID and secret are required")

	// Settlement NM0109XX
	MsgSettlementValidation        = ffe("NM010900", "%s challenge preconditions not met: %s")
	MsgSettlementContractQuery     = ffe("NM010901", "Contract query %s failed")
	MsgSettlementNotExpired        = ffe("NM010902", "Current settlement challenge proposal has not expired")
	MsgSettlementReplay            = ffe("NM010903", "Settlement for nonce %s can not be replayed")
	MsgSettlementRestart           = ffe("NM010904", "Settlement challenge with nonce %s can not be restarted (current proposal nonce %s)")
	MsgSettlementDisqualified      = ffe("NM010905", "Current settlement challenge proposal is disqualified")
	MsgSettlementWalletLocked      = ffe("NM010906", "Wallet %s is locked")
	MsgSettlementNullOngoing       = ffe("NM010907", "Null settlement challenge is ongoing for wallet %s and currency %s")
	MsgSettlementDriipOngoing      = ffe("NM010908", "Payment driip settlement challenge is ongoing for wallet %s and currency %s")
	MsgSettlementNoReceipt         = ffe("NM010909", "No receipt found for wallet %s and currency %s")
	MsgSettlementNoProposal        = ffe("NM010910", "No settlement challenge proposal found")
	MsgSettlementSequenceFailed    = ffe("NM010911", "%s challenge transaction %s failed")
	MsgSettlementSubmitFailed      = ffe("NM010912", "%s challenge submission failed")
	MsgSettlementReceiptNotFound   = ffe("NM010913", "No receipt found with nonce %s for wallet %s")
	MsgSettlementZeroStageAmount   = ffe("NM010914", "Stage amount must be greater than zero")
	MsgSettlementCurrencyMismatch  = ffe("NM010915", "Receipt currency %s does not match stage amount currency %s")
	MsgSettlementUnknownChallenge  = ffe("NM010916", "Unknown challenge type '%s'")
	MsgSettlementNullNonceReplay   = ffe("NM010917", "Null settlement with proposal nonce %s can not be replayed (max null nonce %s)")
	MsgSettlementNoProposalNonce   = ffe("NM010918", "Null settlement can not be replayed without a current proposal nonce")
	MsgSettlementNoReceiptsAPI     = ffe("NM010919", "No receipt source configured")
	MsgSettlementReceiptsFetchFail = ffe("NM010920", "Failed to fetch receipts for wallet %s")
)
