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

// Package wallet provides the signing capability used to seal payments and
// to sign settlement transactions.
package wallet

import (
	"context"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/signature"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/tyler-smith/go-bip39"
)

const hardenedOffset uint64 = 0x80000000

type Wallet interface {
	Address() ethtypes.Address0xHex
	// SignMessage seals a 32 byte hash with the "Ethereum Signed Message" prefix
	SignMessage(ctx context.Context, messageHash []byte) (*signature.Signature, error)
	// SignDigest signs a 32 byte digest as-is, as needed for transactions
	SignDigest(ctx context.Context, digest []byte) (*secp256k1.SignatureData, error)
}

type keyWallet struct {
	kp *secp256k1.KeyPair
}

func NewPrivateKeyWallet(ctx context.Context, privateKeyHex string) (Wallet, error) {
	b, err := ethtypes.NewHexBytes0xPrefix(privateKeyHex)
	if err != nil || len(b) != 32 {
		return nil, i18n.NewError(ctx, msgs.MsgWalletInvalidPrivateKey)
	}
	return &keyWallet{kp: secp256k1.KeyPairFromBytes(b)}, nil
}

func NewKeyPairWallet(kp *secp256k1.KeyPair) Wallet {
	return &keyWallet{kp: kp}
}

// NewMnemonicWallet derives the key at a BIP-44 path such as m/44'/60'/0'/0/0
// from a BIP-39 mnemonic.
func NewMnemonicWallet(ctx context.Context, mnemonic, path string) (Wallet, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), "")
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgWalletInvalidMnemonic)
	}
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgWalletInvalidMnemonic)
	}
	segments := strings.Split(strings.ReplaceAll(path, " ", ""), "/")
	if len(segments) < 2 || segments[0] != "m" {
		return nil, i18n.NewError(ctx, msgs.MsgWalletInvalidPath, path)
	}
	for _, s := range segments[1:] {
		numStr, hardened := strings.CutSuffix(s, "'")
		index, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return nil, i18n.NewError(ctx, msgs.MsgWalletInvalidPath, path)
		}
		if index >= hardenedOffset {
			return nil, i18n.NewError(ctx, msgs.MsgWalletPathSegmentLarge, index)
		}
		if hardened {
			index += hardenedOffset
		}
		if key, err = key.Derive(uint32(index)); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgWalletInvalidPath, path)
		}
	}
	ecPrivKey, err := key.ECPrivKey()
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgWalletInvalidPath, path)
	}
	pkBytes := ecPrivKey.Key.Bytes()
	return &keyWallet{kp: secp256k1.KeyPairFromBytes(pkBytes[:])}, nil
}

// NewWallet builds a wallet from config, preferring a private key over a mnemonic.
func NewWallet(ctx context.Context, conf *nahmiiconf.WalletConfig) (Wallet, error) {
	if pk := confutil.StringNotEmpty(conf.PrivateKey, ""); pk != "" {
		return NewPrivateKeyWallet(ctx, pk)
	}
	if mnemonic := confutil.StringNotEmpty(conf.Mnemonic, ""); mnemonic != "" {
		return NewMnemonicWallet(ctx, mnemonic, confutil.StringNotEmpty(conf.DerivationPath, *nahmiiconf.WalletDefaults.DerivationPath))
	}
	return nil, i18n.NewError(ctx, msgs.MsgWalletNotConfigured)
}

func (w *keyWallet) Address() ethtypes.Address0xHex {
	return w.kp.Address
}

func (w *keyWallet) SignMessage(ctx context.Context, messageHash []byte) (*signature.Signature, error) {
	return signature.SignHash(ctx, w.kp, messageHash)
}

func (w *keyWallet) SignDigest(ctx context.Context, digest []byte) (*secp256k1.SignatureData, error) {
	sig, err := w.kp.SignDirect(digest)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgWalletSignFailed, w.kp.Address)
	}
	return sig, nil
}
