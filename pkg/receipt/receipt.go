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

// Package receipt holds operator countersigned payments, as delivered to the
// wallets of both parties and used as evidence in driip settlement.
package receipt

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/hashing"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/payment"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/signature"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/wallet"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

func partyHashLayout(party string) hashing.Group {
	return hashing.Nested(
		hashing.Fields(party+".nonce", party+".balances.current", party+".balances.previous"),
		hashing.Fields(party+".fees.single?"),
		hashing.Glob(party+".fees.total.[]"),
	)
}

// HashLayout selects the fields sealed by the operator. It starts with the
// wallet signature, binding the receipt to one signed payment.
var HashLayout = hashing.Layout{
	hashing.Fields("seals.wallet.signature.v:uint8", "seals.wallet.signature.r", "seals.wallet.signature.s"),
	partyHashLayout("sender"),
	partyHashLayout("recipient"),
	hashing.Fields("transfers.single", "transfers.total"),
	hashing.Fields("operator.data:string?"),
}

// Effectuator hands a countersigned receipt back to the operator.
type Effectuator interface {
	EffectuatePayment(ctx context.Context, receipt json.RawMessage) error
}

type PartyRole int

const (
	PartyNone PartyRole = iota
	PartySender
	PartyRecipient
)

func (r PartyRole) String() string {
	switch r {
	case PartySender:
		return "sender"
	case PartyRecipient:
		return "recipient"
	default:
		return "none"
	}
}

type Balances struct {
	Current  *nahmiitypes.BigInt `json:"current"`
	Previous *nahmiitypes.BigInt `json:"previous"`
}

type Fees struct {
	Single *nahmiitypes.MonetaryAmount   `json:"single,omitempty"`
	Total  []*nahmiitypes.MonetaryAmount `json:"total"`
}

// Party is the state of one side of the payment after it was applied.
type Party struct {
	Nonce    uint64   `json:"nonce"`
	Balances Balances `json:"balances"`
	Fees     Fees     `json:"fees"`
}

type Transfers struct {
	Single *nahmiitypes.BigInt `json:"single"`
	Total  *nahmiitypes.BigInt `json:"total"`
}

type Operator struct {
	ID   uint64 `json:"id"`
	Data string `json:"data,omitempty"`
}

type WireSender struct {
	Wallet nahmiitypes.Address `json:"wallet"`
	Data   string              `json:"data,omitempty"`
	Party
}

type WireRecipient struct {
	Wallet nahmiitypes.Address `json:"wallet"`
	Party
}

type WireSeals struct {
	Wallet   *payment.Seal `json:"wallet"`
	Operator *payment.Seal `json:"operator,omitempty"`
}

type Wire struct {
	Amount      *nahmiitypes.BigInt  `json:"amount"`
	Currency    nahmiitypes.Currency `json:"currency"`
	Sender      WireSender           `json:"sender"`
	Recipient   WireRecipient        `json:"recipient"`
	Transfers   Transfers            `json:"transfers"`
	BlockNumber uint64               `json:"blockNumber"`
	Operator    Operator             `json:"operator"`
	Seals       WireSeals            `json:"seals"`
}

// Details is everything the operator adds to a signed payment.
type Details struct {
	BlockNumber uint64
	Operator    Operator
	Sender      Party
	Recipient   Party
	Transfers   Transfers
}

type Receipt struct {
	payment      *payment.Payment
	details      Details
	operatorSeal *payment.Seal
	effectuator  Effectuator
}

type Option func(r *Receipt)

func WithEffectuator(e Effectuator) Option {
	return func(r *Receipt) { r.effectuator = e }
}

func New(p *payment.Payment, details *Details, opts ...Option) *Receipt {
	r := &Receipt{payment: p, details: *details}
	for _, o := range opts {
		o(r)
	}
	return r
}

func FromJSON(ctx context.Context, b []byte, opts ...Option) (*Receipt, error) {
	var w Wire
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgReceiptInvalidJSON)
	}
	return FromWire(ctx, &w, opts...)
}

func FromWire(ctx context.Context, w *Wire, opts ...Option) (*Receipt, error) {
	required := []struct {
		path    string
		missing bool
	}{
		{"seals.wallet", w.Seals.Wallet == nil || w.Seals.Wallet.Signature == nil},
		{"sender.balances", w.Sender.Balances.Current == nil || w.Sender.Balances.Previous == nil},
		{"recipient.balances", w.Recipient.Balances.Current == nil || w.Recipient.Balances.Previous == nil},
		{"transfers", w.Transfers.Single == nil || w.Transfers.Total == nil},
	}
	for _, r := range required {
		if r.missing {
			return nil, i18n.NewError(ctx, msgs.MsgReceiptMissingField, r.path)
		}
	}
	p, err := payment.FromWire(ctx, &payment.Wire{
		Amount:    w.Amount,
		Currency:  w.Currency,
		Sender:    payment.WireSender{Wallet: w.Sender.Wallet, Data: w.Sender.Data},
		Recipient: payment.WireRecipient{Wallet: w.Recipient.Wallet},
		Seals:     &payment.WireSeals{Wallet: w.Seals.Wallet},
	})
	if err != nil {
		return nil, err
	}
	r := New(p, &Details{
		BlockNumber: w.BlockNumber,
		Operator:    w.Operator,
		Sender:      w.Sender.Party,
		Recipient:   w.Recipient.Party,
		Transfers:   w.Transfers,
	}, opts...)
	r.operatorSeal = w.Seals.Operator
	return r, nil
}

func (r *Receipt) Payment() *payment.Payment {
	return r.payment
}

func (r *Receipt) Currency() nahmiitypes.Currency {
	return r.payment.Currency()
}

func (r *Receipt) Amount() *nahmiitypes.MonetaryAmount {
	return r.payment.Amount()
}

func (r *Receipt) BlockNumber() uint64 {
	return r.details.BlockNumber
}

func (r *Receipt) Operator() Operator {
	return r.details.Operator
}

func (r *Receipt) OperatorSeal() *payment.Seal {
	return r.operatorSeal
}

func (r *Receipt) Transfers() Transfers {
	return r.details.Transfers
}

func (r *Receipt) PartyRole(addr ethtypes.Address0xHex) PartyRole {
	switch addr {
	case r.payment.Sender():
		return PartySender
	case r.payment.Recipient():
		return PartyRecipient
	default:
		return PartyNone
	}
}

func (r *Receipt) party(ctx context.Context, addr ethtypes.Address0xHex) (*Party, error) {
	switch r.PartyRole(addr) {
	case PartySender:
		return &r.details.Sender, nil
	case PartyRecipient:
		return &r.details.Recipient, nil
	default:
		return nil, i18n.NewError(ctx, msgs.MsgReceiptNotParty, addr)
	}
}

// NonceForParty is the nonce of whichever side of the payment addr is on.
func (r *Receipt) NonceForParty(ctx context.Context, addr ethtypes.Address0xHex) (*nahmiitypes.BigInt, error) {
	p, err := r.party(ctx, addr)
	if err != nil {
		return nil, err
	}
	return nahmiitypes.NewBigIntFromBig(new(big.Int).SetUint64(p.Nonce)), nil
}

// BalanceForParty is the current balance of whichever side of the payment addr
// is on, after the payment applied.
func (r *Receipt) BalanceForParty(ctx context.Context, addr ethtypes.Address0xHex) (*nahmiitypes.BigInt, error) {
	p, err := r.party(ctx, addr)
	if err != nil {
		return nil, err
	}
	return nahmiitypes.NewBigIntFromBig(p.Balances.Current.Int()), nil
}

func (r *Receipt) Wire() *Wire {
	pw := r.payment.Wire(true)
	w := &Wire{
		Amount:      pw.Amount,
		Currency:    pw.Currency,
		Sender:      WireSender{Wallet: pw.Sender.Wallet, Data: pw.Sender.Data, Party: r.details.Sender},
		Recipient:   WireRecipient{Wallet: pw.Recipient.Wallet, Party: r.details.Recipient},
		Transfers:   r.details.Transfers,
		BlockNumber: r.details.BlockNumber,
		Operator:    r.details.Operator,
		Seals:       WireSeals{Operator: r.operatorSeal},
	}
	if pw.Seals != nil {
		w.Seals.Wallet = pw.Seals.Wallet
	}
	for _, f := range []*Fees{&w.Sender.Fees, &w.Recipient.Fees} {
		if f.Total == nil {
			f.Total = []*nahmiitypes.MonetaryAmount{}
		}
	}
	return w
}

func (r *Receipt) Hash(ctx context.Context) (ethtypes.HexBytes0xPrefix, error) {
	return hashing.Hash(ctx, r.Wire(), HashLayout)
}

// Sign countersigns the receipt as the operator.
func (r *Receipt) Sign(ctx context.Context, operator wallet.Wallet) error {
	if !r.payment.IsSigned(ctx) {
		return i18n.NewError(ctx, msgs.MsgReceiptPaymentUnsigned)
	}
	hash, err := r.Hash(ctx)
	if err != nil {
		return err
	}
	sig, err := operator.SignMessage(ctx, hash)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgReceiptSignFailed)
	}
	r.operatorSeal = &payment.Seal{Hash: hash, Signature: sig}
	log.L(ctx).Debugf("Operator %s signed receipt %s", operator.Address(), hash)
	return nil
}

// IsSigned requires a valid sender seal on the payment, and an operator seal
// over the current receipt fields from the given operator.
func (r *Receipt) IsSigned(ctx context.Context, operator ethtypes.Address0xHex) bool {
	if !r.payment.IsSigned(ctx) {
		return false
	}
	if r.operatorSeal == nil || r.operatorSeal.Signature == nil {
		return false
	}
	hash, err := r.Hash(ctx)
	if err != nil {
		log.L(ctx).Debugf("Receipt hash failed: %s", err)
		return false
	}
	if !bytes.Equal(hash, r.operatorSeal.Hash) {
		return false
	}
	return signature.IsSignedBy(ctx, hash, r.operatorSeal.Signature, operator)
}

func (r *Receipt) Effectuate(ctx context.Context) error {
	if r.effectuator == nil {
		return payment.NewNoProviderError(ctx, "receipt")
	}
	b, err := r.ToJSON()
	if err != nil {
		return err
	}
	if err := r.effectuator.EffectuatePayment(ctx, b); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgReceiptEffectuate)
	}
	return nil
}

func (r *Receipt) ToJSON() ([]byte, error) {
	return json.Marshal(r.Wire())
}

func (r *Receipt) MarshalJSON() ([]byte, error) {
	return r.ToJSON()
}
