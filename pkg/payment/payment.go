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

// Package payment holds the sender-signed transfer intent that receipts are
// built from.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/hashing"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/signature"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/wallet"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// HashLayout selects the fields sealed by the sender.
var HashLayout = hashing.Layout{
	hashing.Fields("amount", "currency.ct", "currency.id"),
	hashing.Fields("sender.wallet", "sender.data:string?"),
	hashing.Fields("recipient.wallet"),
}

// Registrar submits a signed payment to the operator.
type Registrar interface {
	RegisterPayment(ctx context.Context, payment json.RawMessage) error
}

type Seal struct {
	Hash      ethtypes.HexBytes0xPrefix `json:"hash"`
	Signature *signature.Signature      `json:"signature"`
}

type Wire struct {
	Amount    *nahmiitypes.BigInt  `json:"amount"`
	Currency  nahmiitypes.Currency `json:"currency"`
	Sender    WireSender           `json:"sender"`
	Recipient WireRecipient        `json:"recipient"`
	Seals     *WireSeals           `json:"seals,omitempty"`
}

type WireSender struct {
	Wallet nahmiitypes.Address `json:"wallet"`
	Data   string              `json:"data,omitempty"`
}

type WireRecipient struct {
	Wallet nahmiitypes.Address `json:"wallet"`
}

type WireSeals struct {
	Wallet *Seal `json:"wallet,omitempty"`
}

type Payment struct {
	amount     *nahmiitypes.MonetaryAmount
	sender     nahmiitypes.Address
	recipient  nahmiitypes.Address
	senderData string
	walletSeal *Seal
	signer     wallet.Wallet
	registrar  Registrar
}

type Option func(p *Payment)

func WithSigner(w wallet.Wallet) Option {
	return func(p *Payment) { p.signer = w }
}

func WithRegistrar(r Registrar) Option {
	return func(p *Payment) { p.registrar = r }
}

// WithSenderData attaches an opaque sender blob, such as an encoded reference.
func WithSenderData(data []byte) Option {
	return func(p *Payment) {
		if len(data) > 0 {
			p.senderData = base64.StdEncoding.EncodeToString(data)
		}
	}
}

// WithWalletSeal restores the seal of a payment signed elsewhere.
func WithWalletSeal(seal *Seal) Option {
	return func(p *Payment) { p.walletSeal = seal }
}

func New(amount *nahmiitypes.MonetaryAmount, sender, recipient ethtypes.Address0xHex, opts ...Option) *Payment {
	p := &Payment{
		amount:    nahmiitypes.NewMonetaryAmount(amount.Amount, amount.Currency),
		sender:    nahmiitypes.NewAddress(sender),
		recipient: nahmiitypes.NewAddress(recipient),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func FromJSON(ctx context.Context, b []byte, opts ...Option) (*Payment, error) {
	var w Wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgPaymentInvalidJSON)
	}
	return FromWire(ctx, &w, opts...)
}

func FromWire(ctx context.Context, w *Wire, opts ...Option) (*Payment, error) {
	if w.Amount == nil {
		return nil, i18n.NewError(ctx, msgs.MsgPaymentMissingField, "amount")
	}
	if w.Currency.ID == nil {
		return nil, i18n.NewError(ctx, msgs.MsgPaymentMissingField, "currency.id")
	}
	if w.Sender.Data != "" {
		if _, err := base64.StdEncoding.DecodeString(w.Sender.Data); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgPaymentInvalidData)
		}
	}
	p := New(nahmiitypes.NewMonetaryAmount(w.Amount, w.Currency), w.Sender.Wallet.Address0xHex, w.Recipient.Wallet.Address0xHex, opts...)
	p.sender = w.Sender.Wallet
	p.recipient = w.Recipient.Wallet
	p.senderData = w.Sender.Data
	if w.Seals != nil && w.Seals.Wallet != nil {
		p.walletSeal = w.Seals.Wallet
	}
	return p, nil
}

func (p *Payment) Amount() *nahmiitypes.MonetaryAmount {
	return nahmiitypes.NewMonetaryAmount(p.amount.Amount, p.amount.Currency)
}

func (p *Payment) Currency() nahmiitypes.Currency {
	return p.amount.Currency
}

func (p *Payment) Sender() ethtypes.Address0xHex {
	return p.sender.Address0xHex
}

func (p *Payment) Recipient() ethtypes.Address0xHex {
	return p.recipient.Address0xHex
}

// SenderData returns the decoded sender blob, or nil if there is none.
func (p *Payment) SenderData() []byte {
	if p.senderData == "" {
		return nil
	}
	b, _ := base64.StdEncoding.DecodeString(p.senderData)
	return b
}

func (p *Payment) WalletSeal() *Seal {
	return p.walletSeal
}

// Wire returns the canonical JSON shape. The wallet seal is only included if
// withSeal is set and the payment has one.
func (p *Payment) Wire(withSeal bool) *Wire {
	w := &Wire{
		Amount:    p.amount.Amount,
		Currency:  p.amount.Currency,
		Sender:    WireSender{Wallet: p.sender, Data: p.senderData},
		Recipient: WireRecipient{Wallet: p.recipient},
	}
	if withSeal && p.walletSeal != nil {
		w.Seals = &WireSeals{Wallet: p.walletSeal}
	}
	return w
}

// Hash is the canonical hash of everything but the seal.
func (p *Payment) Hash(ctx context.Context) (ethtypes.HexBytes0xPrefix, error) {
	return hashing.Hash(ctx, p.Wire(false), HashLayout)
}

func (p *Payment) Sign(ctx context.Context) error {
	if p.signer == nil {
		return &NoSignerError{err: i18n.NewError(ctx, msgs.MsgNoSigner)}
	}
	if p.signer.Address() != p.sender.Address0xHex {
		return i18n.NewError(ctx, msgs.MsgPaymentSignerNotSender, p.signer.Address(), p.sender)
	}
	hash, err := p.Hash(ctx)
	if err != nil {
		return err
	}
	sig, err := p.signer.SignMessage(ctx, hash)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgPaymentSignFailed)
	}
	p.walletSeal = &Seal{Hash: hash, Signature: sig}
	log.L(ctx).Debugf("Signed payment %s from %s to %s", hash, p.sender, p.recipient)
	return nil
}

// IsSigned recomputes the hash from the current fields before checking the
// sender signature, so any change after signing is detected.
func (p *Payment) IsSigned(ctx context.Context) bool {
	if p.walletSeal == nil || p.walletSeal.Signature == nil {
		return false
	}
	hash, err := p.Hash(ctx)
	if err != nil {
		log.L(ctx).Debugf("Payment hash failed: %s", err)
		return false
	}
	if !bytes.Equal(hash, p.walletSeal.Hash) {
		return false
	}
	return signature.IsSignedBy(ctx, hash, p.walletSeal.Signature, p.sender.Address0xHex)
}

func (p *Payment) Register(ctx context.Context) error {
	if p.registrar == nil {
		return NewNoProviderError(ctx, "payment")
	}
	b, err := p.ToJSON()
	if err != nil {
		return err
	}
	if err := p.registrar.RegisterPayment(ctx, b); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgPaymentRegisterFailed)
	}
	return nil
}

func (p *Payment) ToJSON() ([]byte, error) {
	return json.Marshal(p.Wire(true))
}

func (p *Payment) MarshalJSON() ([]byte, error) {
	return p.ToJSON()
}
