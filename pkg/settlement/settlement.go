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
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/contracts"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiapi"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/receipt"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/settlement/metrics"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"golang.org/x/sync/errgroup"
)

const (
	actionStart  = "start"
	actionSettle = "settle"
)

type RequiredChallenge struct {
	Type        ChallengeType
	StageAmount *nahmiitypes.MonetaryAmount
	// the receipt backing a payment driip challenge
	Receipt *receipt.Receipt
}

type RequiredChallenges struct {
	Challenges     []*RequiredChallenge
	InvalidReasons map[ChallengeType][]error
}

type StartChallengeCheck struct {
	Driip *CheckResult
	Null  *CheckResult
	// latest receipt for the wallet in the currency, nil if there is none
	Receipt *receipt.Receipt
}

func (sc *StartChallengeCheck) invalidReasons() map[ChallengeType][]error {
	reasons := map[ChallengeType][]error{}
	if !sc.Driip.Valid {
		reasons[ChallengeTypePaymentDriip] = sc.Driip.Reasons
	}
	if !sc.Null.Valid {
		reasons[ChallengeTypeNull] = sc.Null.Reasons
	}
	return reasons
}

type SettleableChallenge struct {
	Type     ChallengeType
	Currency nahmiitypes.Currency
	// the challenged receipt for a payment driip settlement
	Receipt *receipt.Receipt
}

type SettleableChallenges struct {
	Challenges     []*SettleableChallenge
	InvalidReasons map[ChallengeType][]error
}

type OngoingChallenge struct {
	Type           ChallengeType
	ExpirationTime time.Time
	StageAmount    *nahmiitypes.MonetaryAmount
}

// SubmittedChallenge is a start or settle transaction that was confirmed.
type SubmittedChallenge struct {
	Type        ChallengeType
	Action      string
	TxHash      ethtypes.HexBytes0xPrefix
	BlockNumber uint64
}

type Settlement struct {
	driip     *DriipSettlement
	null      *NullSettlement
	receipts  ReceiptSource
	confirmer Confirmer
	metrics   metrics.SettlementMetrics
	scanLimit int
	txOpts    *contracts.TxOptions
	now       func() time.Time
}

type Option func(s *Settlement)

func WithMetrics(m metrics.SettlementMetrics) Option {
	return func(s *Settlement) {
		s.metrics = m
	}
}

func NewSettlement(ctx context.Context, driip *DriipSettlement, null *NullSettlement, receipts ReceiptSource, confirmer Confirmer, conf *nahmiiconf.SettlementConfig, opts ...Option) (*Settlement, error) {
	defs := nahmiiconf.SettlementDefaults
	txOpts := &contracts.TxOptions{
		GasLimit: uint64(confutil.IntMin(conf.GasLimit, 0, 0)),
	}
	if conf.GasPrice != nil {
		if txOpts.GasPrice = confutil.BigIntOrNil(conf.GasPrice); txOpts.GasPrice == nil {
			return nil, i18n.NewError(ctx, msgs.MsgBigIntParseFailed, *conf.GasPrice)
		}
	}
	s := &Settlement{
		driip:     driip,
		null:      null,
		receipts:  receipts,
		confirmer: confirmer,
		metrics:   metrics.NoopMetrics(),
		scanLimit: confutil.IntMin(conf.ReceiptScanLimit, 1, *defs.ReceiptScanLimit),
		txOpts:    txOpts,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Settlement) Driip() *DriipSettlement {
	return s.driip
}

func (s *Settlement) Null() *NullSettlement {
	return s.null
}

func (s *Settlement) fetchReceipts(ctx context.Context, wallet ethtypes.Address0xHex, q *nahmiiapi.ReceiptQuery) ([]*receipt.Receipt, error) {
	if s.receipts == nil {
		return nil, i18n.NewError(ctx, msgs.MsgSettlementNoReceiptsAPI)
	}
	all, err := s.receipts.GetWalletReceipts(ctx, wallet, q)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgSettlementReceiptsFetchFail, wallet)
	}
	return all, nil
}

func (s *Settlement) walletReceipts(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency, q *nahmiiapi.ReceiptQuery) ([]*receipt.Receipt, error) {
	all, err := s.fetchReceipts(ctx, wallet, q)
	if err != nil {
		return nil, err
	}
	matching := make([]*receipt.Receipt, 0, len(all))
	for _, r := range all {
		if r.Currency().Equals(currency) && r.PartyRole(wallet) != receipt.PartyNone {
			matching = append(matching, r)
		}
	}
	return matching, nil
}

// GetLatestReceipt returns the wallet's receipt in the currency with the highest
// nonce for the wallet, or nil if there is none. Wallet nonces span currencies,
// so pages are walked down from the newest until one holds the currency.
func (s *Settlement) GetLatestReceipt(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*receipt.Receipt, error) {
	q := &nahmiiapi.ReceiptQuery{Limit: s.scanLimit}
	for {
		page, err := s.fetchReceipts(ctx, wallet, q)
		if err != nil {
			return nil, err
		}
		var latest *receipt.Receipt
		var latestNonce, lowest uint64
		seen := false
		for _, r := range page {
			if r.PartyRole(wallet) == receipt.PartyNone {
				continue
			}
			nonce, err := r.NonceForParty(ctx, wallet)
			if err != nil {
				return nil, err
			}
			n := nonce.Uint64()
			if !seen || n < lowest {
				lowest, seen = n, true
			}
			if r.Currency().Equals(currency) && (latest == nil || n > latestNonce) {
				latest, latestNonce = r, n
			}
		}
		if latest != nil {
			return latest, nil
		}
		// stop once the page is empty or the cursor can no longer move down
		if !seen || lowest == 0 || (q.FromNonce != nil && lowest-1 >= *q.FromNonce) {
			return nil, nil
		}
		next := lowest - 1
		log.L(ctx).Debugf("No %s receipt for %s above nonce %d, paging from %d", currency, wallet, lowest, next)
		q = &nahmiiapi.ReceiptQuery{FromNonce: &next, Limit: s.scanLimit}
	}
}

// GetReceiptByNonce finds the wallet's receipt in the currency with the given
// nonce for the wallet, or nil if there is none.
func (s *Settlement) GetReceiptByNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency, nonce *nahmiitypes.BigInt) (*receipt.Receipt, error) {
	fromNonce := nonce.Uint64()
	receipts, err := s.walletReceipts(ctx, wallet, currency, &nahmiiapi.ReceiptQuery{
		FromNonce: &fromNonce,
		Limit:     s.scanLimit,
		Ascending: true,
	})
	if err != nil {
		return nil, err
	}
	for _, r := range receipts {
		n, err := r.NonceForParty(ctx, wallet)
		if err != nil {
			return nil, err
		}
		if n.Cmp(nonce) == 0 {
			return r, nil
		}
	}
	return nil, nil
}

// CheckStartChallenge runs the start checks of both challenge types. An ongoing
// challenge of one type blocks starting the other.
func (s *Settlement) CheckStartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) (*StartChallengeCheck, error) {
	if err := validateStageAmount(ctx, stageAmount); err != nil {
		return nil, err
	}
	currency := stageAmount.Currency
	check := &StartChallengeCheck{}
	var ongoing []*OngoingChallenge

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		check.Receipt, err = s.GetLatestReceipt(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		check.Null, err = s.null.CheckStartChallenge(gCtx, stageAmount, wallet)
		return err
	})
	g.Go(func() (err error) {
		ongoing, err = s.GetOngoingChallenges(gCtx, wallet, currency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if check.Receipt == nil {
		check.Driip = newCheckResult([]error{i18n.NewError(ctx, msgs.MsgSettlementNoReceipt, wallet, currency)})
	} else {
		var err error
		if check.Driip, err = s.driip.CheckStartChallengeFromPayment(ctx, check.Receipt, wallet); err != nil {
			return nil, err
		}
	}

	for _, oc := range ongoing {
		switch oc.Type {
		case ChallengeTypeNull:
			check.Driip = newCheckResult(append(check.Driip.Reasons, i18n.NewError(ctx, msgs.MsgSettlementNullOngoing, wallet, currency)))
		case ChallengeTypePaymentDriip:
			check.Null = newCheckResult(append(check.Null.Reasons, i18n.NewError(ctx, msgs.MsgSettlementDriipOngoing, wallet, currency)))
		}
	}
	return check, nil
}

// GetRequiredChallengesForIntendedStageAmount decides which challenges stage
// the amount. When both types can start and the amount exceeds the balance on
// the latest receipt, the receipt backed part is staged by a payment driip
// challenge and the remainder by a null challenge.
func (s *Settlement) GetRequiredChallengesForIntendedStageAmount(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) (*RequiredChallenges, error) {
	check, err := s.CheckStartChallenge(ctx, stageAmount, wallet)
	if err != nil {
		return nil, err
	}
	result := &RequiredChallenges{
		Challenges:     []*RequiredChallenge{},
		InvalidReasons: check.invalidReasons(),
	}
	driipChallenge := func(amount *nahmiitypes.MonetaryAmount) *RequiredChallenge {
		return &RequiredChallenge{Type: ChallengeTypePaymentDriip, StageAmount: amount, Receipt: check.Receipt}
	}
	nullChallenge := func(amount *nahmiitypes.MonetaryAmount) *RequiredChallenge {
		return &RequiredChallenge{Type: ChallengeTypeNull, StageAmount: amount}
	}

	switch {
	case check.Driip.Valid && check.Null.Valid:
		balance, err := check.Receipt.BalanceForParty(ctx, wallet)
		if err != nil {
			return nil, err
		}
		if stageAmount.Amount.Cmp(balance) > 0 {
			if balance.Sign() > 0 {
				result.Challenges = append(result.Challenges, driipChallenge(stageAmount.WithAmount(balance)))
			}
			result.Challenges = append(result.Challenges, nullChallenge(stageAmount.WithAmount(stageAmount.Amount.Sub(balance))))
		} else {
			result.Challenges = append(result.Challenges, driipChallenge(stageAmount))
		}
	case check.Driip.Valid:
		result.Challenges = append(result.Challenges, driipChallenge(stageAmount))
	case check.Null.Valid:
		result.Challenges = append(result.Challenges, nullChallenge(stageAmount))
	}
	log.L(ctx).Debugf("Required challenges to stage %s for %s: %d", stageAmount, wallet, len(result.Challenges))
	return result, nil
}

func (s *Settlement) GetOngoingChallenges(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) ([]*OngoingChallenge, error) {
	engines := []*proposalQueries{&s.driip.proposalQueries, &s.null.proposalQueries}
	results := make([]*OngoingChallenge, len(engines))
	g, gCtx := errgroup.WithContext(ctx)
	for i, pq := range engines {
		g.Go(func() error {
			expiry, err := pq.GetCurrentProposalExpirationTime(gCtx, wallet, currency)
			if err != nil || !expiry.Found || !expiry.Value.After(s.now()) {
				return err
			}
			stage, err := pq.GetCurrentProposalStageAmount(gCtx, wallet, currency)
			if err != nil {
				return err
			}
			results[i] = &OngoingChallenge{
				Type:           pq.challengeType,
				ExpirationTime: expiry.Value,
				StageAmount:    stage.Value,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ongoing := []*OngoingChallenge{}
	for _, oc := range results {
		if oc != nil {
			ongoing = append(ongoing, oc)
		}
	}
	return ongoing, nil
}

// GetMaxChallengesTimeout is the latest expiration time of the ongoing
// challenges, or the zero time if there are none.
func (s *Settlement) GetMaxChallengesTimeout(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (time.Time, error) {
	ongoing, err := s.GetOngoingChallenges(ctx, wallet, currency)
	if err != nil {
		return time.Time{}, err
	}
	var latest time.Time
	for _, oc := range ongoing {
		if oc.ExpirationTime.After(latest) {
			latest = oc.ExpirationTime
		}
	}
	return latest, nil
}

func (s *Settlement) settleableDriip(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*SettleableChallenge, []error, error) {
	nonce, err := s.driip.GetCurrentProposalNonce(ctx, wallet, currency)
	if err != nil {
		return nil, nil, err
	}
	if !nonce.Found {
		return nil, []error{i18n.NewError(ctx, msgs.MsgSettlementNoProposal)}, nil
	}
	r, err := s.GetReceiptByNonce(ctx, wallet, currency, nonce.Value)
	if err != nil {
		return nil, nil, err
	}
	if r == nil {
		return nil, []error{i18n.NewError(ctx, msgs.MsgSettlementReceiptNotFound, nonce.Value, wallet)}, nil
	}
	check, err := s.driip.CheckSettleDriipAsPayment(ctx, r, wallet)
	if err != nil || !check.Valid {
		return nil, check.reasons(), err
	}
	return &SettleableChallenge{Type: ChallengeTypePaymentDriip, Currency: currency, Receipt: r}, nil, nil
}

func (s *Settlement) settleableNull(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*SettleableChallenge, []error, error) {
	check, err := s.null.CheckSettleNull(ctx, currency, wallet)
	if err != nil || !check.Valid {
		return nil, check.reasons(), err
	}
	return &SettleableChallenge{Type: ChallengeTypeNull, Currency: currency}, nil, nil
}

// GetSettleableChallenges finds the challenges that can be settled now. The
// challenged receipt for a payment driip settlement is located by the nonce of
// the current proposal.
func (s *Settlement) GetSettleableChallenges(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*SettleableChallenges, error) {
	type candidate struct {
		challenge *SettleableChallenge
		reasons   []error
	}
	var driip, null candidate
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		driip.challenge, driip.reasons, err = s.settleableDriip(gCtx, wallet, currency)
		return err
	})
	g.Go(func() (err error) {
		null.challenge, null.reasons, err = s.settleableNull(gCtx, wallet, currency)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &SettleableChallenges{
		Challenges:     []*SettleableChallenge{},
		InvalidReasons: map[ChallengeType][]error{},
	}
	for ct, c := range map[ChallengeType]candidate{ChallengeTypePaymentDriip: driip, ChallengeTypeNull: null} {
		if c.challenge == nil {
			result.InvalidReasons[ct] = c.reasons
		}
	}
	// payment driip settles first
	for _, c := range []candidate{driip, null} {
		if c.challenge != nil {
			result.Challenges = append(result.Challenges, c.challenge)
		}
	}
	return result, nil
}

// StartChallenge stages the amount with the required challenges. It fails with
// the reasons of both types when no challenge can start.
func (s *Settlement) StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) ([]*SubmittedChallenge, error) {
	required, err := s.GetRequiredChallengesForIntendedStageAmount(ctx, stageAmount, wallet)
	if err != nil {
		return nil, err
	}
	if len(required.Challenges) == 0 {
		return nil, invalidReasonsErr(ctx, required.InvalidReasons)
	}
	return s.StartByRequiredChallenges(ctx, required.Challenges, wallet)
}

// StartByRequiredChallenges submits each challenge and waits for it to be
// confirmed before submitting the next. The first failure aborts the sequence
// with a ChallengeSequenceError, returned together with the confirmed steps.
func (s *Settlement) StartByRequiredChallenges(ctx context.Context, required []*RequiredChallenge, wallet ethtypes.Address0xHex) ([]*SubmittedChallenge, error) {
	ctx = log.WithLogField(ctx, "settlement", uuid.New().String())
	submitted := make([]*SubmittedChallenge, 0, len(required))
	for _, rc := range required {
		var txHash ethtypes.HexBytes0xPrefix
		var err error
		switch rc.Type {
		case ChallengeTypePaymentDriip:
			txHash, err = s.driip.StartChallengeFromPayment(ctx, rc.Receipt, rc.StageAmount, wallet, s.txOpts)
		case ChallengeTypeNull:
			txHash, err = s.null.StartChallenge(ctx, rc.StageAmount, wallet, s.txOpts)
		default:
			return submitted, i18n.NewError(ctx, msgs.MsgSettlementUnknownChallenge, rc.Type)
		}
		sc, err := s.confirm(ctx, rc.Type, actionStart, txHash, err)
		if err != nil {
			return submitted, err
		}
		submitted = append(submitted, sc)
	}
	return submitted, nil
}

func (s *Settlement) Settle(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) ([]*SubmittedChallenge, error) {
	settleable, err := s.GetSettleableChallenges(ctx, wallet, currency)
	if err != nil {
		return nil, err
	}
	if len(settleable.Challenges) == 0 {
		return nil, invalidReasonsErr(ctx, settleable.InvalidReasons)
	}
	return s.SettleBySettleableChallenges(ctx, settleable.Challenges, wallet)
}

// SettleBySettleableChallenges has the same sequencing as StartByRequiredChallenges.
func (s *Settlement) SettleBySettleableChallenges(ctx context.Context, settleable []*SettleableChallenge, wallet ethtypes.Address0xHex) ([]*SubmittedChallenge, error) {
	ctx = log.WithLogField(ctx, "settlement", uuid.New().String())
	submitted := make([]*SubmittedChallenge, 0, len(settleable))
	for _, sc := range settleable {
		var txHash ethtypes.HexBytes0xPrefix
		var err error
		switch sc.Type {
		case ChallengeTypePaymentDriip:
			txHash, err = s.driip.SettleDriipAsPayment(ctx, sc.Receipt, wallet, s.txOpts)
		case ChallengeTypeNull:
			txHash, err = s.null.SettleNull(ctx, sc.Currency, wallet, s.txOpts)
		default:
			return submitted, i18n.NewError(ctx, msgs.MsgSettlementUnknownChallenge, sc.Type)
		}
		confirmed, err := s.confirm(ctx, sc.Type, actionSettle, txHash, err)
		if err != nil {
			return submitted, err
		}
		submitted = append(submitted, confirmed)
	}
	return submitted, nil
}

func (s *Settlement) confirm(ctx context.Context, challengeType ChallengeType, action string, txHash ethtypes.HexBytes0xPrefix, submitErr error) (*SubmittedChallenge, error) {
	if submitErr != nil {
		s.metrics.IncFailed(string(challengeType), action, "submit")
		return nil, NewChallengeSequenceError(ctx, challengeType, "", submitErr)
	}
	s.metrics.IncSubmitted(string(challengeType), action)
	start := s.now()
	txReceipt, err := s.confirmer.WaitForConfirmation(ctx, txHash)
	if err != nil {
		var te *ethclient.ConfirmationTimeoutError
		reason := "failed"
		if errors.As(err, &te) {
			reason = "timeout"
		}
		s.metrics.IncFailed(string(challengeType), action, reason)
		log.L(ctx).Errorf("%s %s transaction %s not confirmed (%s): %s", challengeType, action, txHash, reason, err)
		return nil, NewChallengeSequenceError(ctx, challengeType, txHash.String(), err)
	}
	s.metrics.IncConfirmed(string(challengeType), action)
	s.metrics.ObserveConfirmation(string(challengeType), action, s.now().Sub(start).Seconds())
	log.L(ctx).Infof("%s %s transaction %s confirmed in block %d", challengeType, action, txHash, txReceipt.BlockNumberUint64())
	return &SubmittedChallenge{
		Type:        challengeType,
		Action:      action,
		TxHash:      txHash,
		BlockNumber: txReceipt.BlockNumberUint64(),
	}, nil
}

func invalidReasonsErr(ctx context.Context, invalid map[ChallengeType][]error) error {
	var errs []error
	for _, ct := range []ChallengeType{ChallengeTypePaymentDriip, ChallengeTypeNull} {
		if reasons, ok := invalid[ct]; ok {
			errs = append(errs, newValidationError(ctx, ct, reasons))
		}
	}
	return errors.Join(errs...)
}
