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

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/receipt"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/settlement"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/spf13/cobra"
)

type challengeView struct {
	Type         settlement.ChallengeType    `json:"type"`
	StageAmount  *nahmiitypes.MonetaryAmount `json:"stageAmount,omitempty"`
	Currency     *nahmiitypes.Currency       `json:"currency,omitempty"`
	ReceiptNonce *nahmiitypes.BigInt         `json:"receiptNonce,omitempty"`
	ReceiptBlock uint64                      `json:"receiptBlock,omitempty"`
}

type challengesView struct {
	Challenges     []*challengeView                       `json:"challenges"`
	InvalidReasons map[settlement.ChallengeType][]string `json:"invalidReasons,omitempty"`
}

type ongoingView struct {
	Type           settlement.ChallengeType    `json:"type"`
	ExpirationTime time.Time                   `json:"expirationTime"`
	StageAmount    *nahmiitypes.MonetaryAmount `json:"stageAmount,omitempty"`
}

type ongoingListView struct {
	Ongoing    []*ongoingView `json:"ongoing"`
	MaxTimeout *time.Time     `json:"maxTimeout,omitempty"`
}

type submittedView struct {
	Type        settlement.ChallengeType  `json:"type"`
	Action      string                    `json:"action"`
	TxHash      ethtypes.HexBytes0xPrefix `json:"txHash"`
	BlockNumber uint64                    `json:"blockNumber"`
}

type submittedListView struct {
	Submitted []*submittedView `json:"submitted"`
	// set when the sequence stopped part way
	Failed *failedView `json:"failed,omitempty"`
}

type failedView struct {
	Type    settlement.ChallengeType `json:"type"`
	TxHash  string                   `json:"txHash,omitempty"`
	Timeout bool                     `json:"timeout"`
	Error   string                   `json:"error"`
}

func reasonsView(reasons map[settlement.ChallengeType][]error) map[settlement.ChallengeType][]string {
	if len(reasons) == 0 {
		return nil
	}
	view := make(map[settlement.ChallengeType][]string, len(reasons))
	for ct, errs := range reasons {
		for _, err := range errs {
			view[ct] = append(view[ct], err.Error())
		}
	}
	return view
}

func receiptNonce(ctx context.Context, r *receipt.Receipt, wallet ethtypes.Address0xHex) *nahmiitypes.BigInt {
	if r == nil {
		return nil
	}
	nonce, err := r.NonceForParty(ctx, wallet)
	if err != nil {
		return nil
	}
	return nonce
}

func receiptBlock(r *receipt.Receipt) uint64 {
	if r == nil {
		return 0
	}
	return r.BlockNumber()
}

func submittedListFrom(submitted []*settlement.SubmittedChallenge, err error) *submittedListView {
	view := &submittedListView{Submitted: make([]*submittedView, len(submitted))}
	for i, sc := range submitted {
		view.Submitted[i] = &submittedView{Type: sc.Type, Action: sc.Action, TxHash: sc.TxHash, BlockNumber: sc.BlockNumber}
	}
	var cse *settlement.ChallengeSequenceError
	if errors.As(err, &cse) {
		view.Failed = &failedView{Type: cse.Type, TxHash: cse.TxHash, Timeout: cse.IsTimeout(), Error: err.Error()}
	}
	return view
}

type currencyFlags struct {
	ct     string
	id     int64
	amount string
}

func (cf *currencyFlags) register(cmd *cobra.Command, withAmount bool) {
	cmd.Flags().StringVar(&cf.ct, "currency", "0x0000000000000000000000000000000000000000", "currency contract address, the zero address for ETH")
	cmd.Flags().Int64Var(&cf.id, "currency-id", 0, "currency id within the contract")
	if withAmount {
		cmd.Flags().StringVar(&cf.amount, "amount", "", "amount to stage in minor units")
		_ = cmd.MarkFlagRequired("amount")
	}
}

func (cf *currencyFlags) currency(ctx context.Context) (nahmiitypes.Currency, error) {
	ct, err := nahmiitypes.ParseAddress(ctx, cf.ct)
	if err != nil {
		return nahmiitypes.Currency{}, i18n.WrapError(ctx, err, msgs.MsgCLIInvalidFlag, cf.ct, "currency")
	}
	return nahmiitypes.NewCurrency(*ct, cf.id), nil
}

func (cf *currencyFlags) stageAmount(ctx context.Context) (*nahmiitypes.MonetaryAmount, error) {
	currency, err := cf.currency(ctx)
	if err != nil {
		return nil, err
	}
	amount, err := nahmiitypes.ParseBigInt(ctx, cf.amount)
	if err != nil || amount.Sign() <= 0 {
		return nil, i18n.NewError(ctx, msgs.MsgCLIInvalidFlag, cf.amount, "amount")
	}
	return nahmiitypes.NewMonetaryAmount(amount, currency), nil
}

func (cc *cliContext) writeJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = cc.out.Write(append(b, '\n'))
	return err
}

// withEngine builds the engine for the duration of one command.
func (cc *cliContext) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine) error) error {
	ctx := cmd.Context()
	e, err := cc.engine(ctx)
	if err != nil {
		return err
	}
	if e.close != nil {
		defer e.close()
	}
	return fn(ctx, e)
}

func (cc *cliContext) settlementCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlement",
		Short: "Settlement challenges for the configured wallet",
	}
	cmd.AddCommand(
		cc.requiredCommand(),
		cc.ongoingCommand(),
		cc.settleableCommand(),
		cc.startCommand(),
		cc.settleCommand(),
	)
	return cmd
}

func (cc *cliContext) requiredCommand() *cobra.Command {
	var cf currencyFlags
	cmd := &cobra.Command{
		Use:   "required",
		Short: "Show the challenges needed to stage an amount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withEngine(cmd, func(ctx context.Context, e *engine) error {
				stageAmount, err := cf.stageAmount(ctx)
				if err != nil {
					return err
				}
				required, err := e.settlement.GetRequiredChallengesForIntendedStageAmount(ctx, stageAmount, e.wallet)
				if err != nil {
					return err
				}
				view := &challengesView{
					Challenges:     make([]*challengeView, len(required.Challenges)),
					InvalidReasons: reasonsView(required.InvalidReasons),
				}
				for i, rc := range required.Challenges {
					view.Challenges[i] = &challengeView{
						Type:         rc.Type,
						StageAmount:  rc.StageAmount,
						ReceiptNonce: receiptNonce(ctx, rc.Receipt, e.wallet),
						ReceiptBlock: receiptBlock(rc.Receipt),
					}
				}
				return cc.writeJSON(view)
			})
		},
	}
	cf.register(cmd, true)
	return cmd
}

func (cc *cliContext) ongoingCommand() *cobra.Command {
	var cf currencyFlags
	cmd := &cobra.Command{
		Use:   "ongoing",
		Short: "Show the ongoing challenges and when the last one expires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withEngine(cmd, func(ctx context.Context, e *engine) error {
				currency, err := cf.currency(ctx)
				if err != nil {
					return err
				}
				ongoing, err := e.settlement.GetOngoingChallenges(ctx, e.wallet, currency)
				if err != nil {
					return err
				}
				maxTimeout, err := e.settlement.GetMaxChallengesTimeout(ctx, e.wallet, currency)
				if err != nil {
					return err
				}
				view := &ongoingListView{Ongoing: make([]*ongoingView, len(ongoing))}
				for i, oc := range ongoing {
					view.Ongoing[i] = &ongoingView{Type: oc.Type, ExpirationTime: oc.ExpirationTime, StageAmount: oc.StageAmount}
				}
				if !maxTimeout.IsZero() {
					view.MaxTimeout = &maxTimeout
				}
				return cc.writeJSON(view)
			})
		},
	}
	cf.register(cmd, false)
	return cmd
}

func (cc *cliContext) settleableCommand() *cobra.Command {
	var cf currencyFlags
	cmd := &cobra.Command{
		Use:   "settleable",
		Short: "Show the challenges that can be settled now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withEngine(cmd, func(ctx context.Context, e *engine) error {
				currency, err := cf.currency(ctx)
				if err != nil {
					return err
				}
				settleable, err := e.settlement.GetSettleableChallenges(ctx, e.wallet, currency)
				if err != nil {
					return err
				}
				view := &challengesView{
					Challenges:     make([]*challengeView, len(settleable.Challenges)),
					InvalidReasons: reasonsView(settleable.InvalidReasons),
				}
				for i, sc := range settleable.Challenges {
					view.Challenges[i] = &challengeView{
						Type:         sc.Type,
						Currency:     &sc.Currency,
						ReceiptNonce: receiptNonce(ctx, sc.Receipt, e.wallet),
						ReceiptBlock: receiptBlock(sc.Receipt),
					}
				}
				return cc.writeJSON(view)
			})
		},
	}
	cf.register(cmd, false)
	return cmd
}

func (cc *cliContext) startCommand() *cobra.Command {
	var cf currencyFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the challenges staging an amount, waiting for each to confirm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withEngine(cmd, func(ctx context.Context, e *engine) error {
				stageAmount, err := cf.stageAmount(ctx)
				if err != nil {
					return err
				}
				return cc.writeSubmitted(e.settlement.StartChallenge(ctx, stageAmount, e.wallet))
			})
		},
	}
	cf.register(cmd, true)
	return cmd
}

func (cc *cliContext) settleCommand() *cobra.Command {
	var cf currencyFlags
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Settle the expired challenges, waiting for each to confirm",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cc.withEngine(cmd, func(ctx context.Context, e *engine) error {
				currency, err := cf.currency(ctx)
				if err != nil {
					return err
				}
				return cc.writeSubmitted(e.settlement.Settle(ctx, e.wallet, currency))
			})
		},
	}
	cf.register(cmd, false)
	return cmd
}

// writeSubmitted prints the confirmed steps even when the sequence failed part way.
func (cc *cliContext) writeSubmitted(submitted []*settlement.SubmittedChallenge, err error) error {
	var cse *settlement.ChallengeSequenceError
	if err != nil && !errors.As(err, &cse) {
		return err
	}
	if werr := cc.writeJSON(submittedListFrom(submitted, err)); werr != nil {
		return werr
	}
	return err
}
