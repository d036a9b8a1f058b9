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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/contracts"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiapi"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/payment"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/receipt"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/settlement/metrics"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testWallet    = *ethtypes.MustNewAddress("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23")
	recipientAddr = *ethtypes.MustNewAddress("0x3333333333333333333333333333333333333333")
	tokenAddr     = *ethtypes.MustNewAddress("0x4444444444444444444444444444444444444444")
	otherToken    = *ethtypes.MustNewAddress("0x5555555555555555555555555555555555555555")
	testCurrency  = nahmiitypes.NewCurrency(tokenAddr, 0)
	testNow       = time.Unix(1700000000, 0)
)

func revert() error {
	return ethclient.NewCallExceptionError(context.Background(), "view", "execution reverted")
}

func bigInt(v int64) *nahmiitypes.BigInt {
	return nahmiitypes.NewBigInt(v)
}

func amount(v int64) *nahmiitypes.MonetaryAmount {
	return nahmiitypes.NewMonetaryAmount(bigInt(v), testCurrency)
}

func returnsInt(v int64) func() (*nahmiitypes.BigInt, error) {
	return func() (*nahmiitypes.BigInt, error) { return bigInt(v), nil }
}

func returnsBool(v bool) func() (bool, error) {
	return func() (bool, error) { return v, nil }
}

func returnsStatus(v contracts.ProposalStatus) func() (contracts.ProposalStatus, error) {
	return func() (contracts.ProposalStatus, error) { return v, nil }
}

type callLog struct {
	mux   sync.Mutex
	calls []string
}

func (cl *callLog) add(call string) {
	cl.mux.Lock()
	defer cl.mux.Unlock()
	cl.calls = append(cl.calls, call)
}

// mockProposals reverts on any read without a function set, as the contracts
// do for a wallet and currency with no proposal.
type mockProposals struct {
	nonce      func() (*nahmiitypes.BigInt, error)
	expiration func() (*nahmiitypes.BigInt, error)
	stage      func() (*nahmiitypes.BigInt, error)
	expired    func() (bool, error)
	status     func() (contracts.ProposalStatus, error)
}

func (m *mockProposals) ProposalNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	if m.nonce == nil {
		return nil, revert()
	}
	return m.nonce()
}

func (m *mockProposals) ProposalExpirationTime(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	if m.expiration == nil {
		return nil, revert()
	}
	return m.expiration()
}

func (m *mockProposals) ProposalStageAmount(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	if m.stage == nil {
		return nil, revert()
	}
	return m.stage()
}

func (m *mockProposals) HasProposalExpired(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (bool, error) {
	if m.expired == nil {
		return false, revert()
	}
	return m.expired()
}

func (m *mockProposals) ProposalStatus(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (contracts.ProposalStatus, error) {
	if m.status == nil {
		return 0, revert()
	}
	return m.status()
}

type mockDriipContracts struct {
	mockProposals
	log               *callLog
	settlementByNonce func(nonce *nahmiitypes.BigInt) (*contracts.SettlementRecord, error)
	submitErr         error
	stageAmounts      []string
}

func (m *mockDriipContracts) SettlementByNonce(ctx context.Context, nonce *nahmiitypes.BigInt) (*contracts.SettlementRecord, error) {
	if m.settlementByNonce == nil {
		return nil, revert()
	}
	return m.settlementByNonce(nonce)
}

func (m *mockDriipContracts) StartChallengeFromPayment(ctx context.Context, p map[string]any, stageAmount *nahmiitypes.BigInt, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	m.log.add("driip.start")
	m.stageAmounts = append(m.stageAmounts, stageAmount.String())
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return ethtypes.MustNewHexBytes0xPrefix("0xd1"), nil
}

func (m *mockDriipContracts) SettlePayment(ctx context.Context, p map[string]any, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	m.log.add("driip.settle")
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return ethtypes.MustNewHexBytes0xPrefix("0xd2"), nil
}

type mockNullContracts struct {
	mockProposals
	log          *callLog
	locked       func() (bool, error)
	maxNonce     func() (*nahmiitypes.BigInt, error)
	submitErr    error
	stageAmounts []string
	txOpts       []*contracts.TxOptions
}

func (m *mockNullContracts) IsLockedWallet(ctx context.Context, wallet ethtypes.Address0xHex) (bool, error) {
	if m.locked == nil {
		return false, nil
	}
	return m.locked()
}

func (m *mockNullContracts) WalletCurrencyMaxNullNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*nahmiitypes.BigInt, error) {
	if m.maxNonce == nil {
		return bigInt(0), nil
	}
	return m.maxNonce()
}

func (m *mockNullContracts) StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	m.log.add("null.start")
	m.stageAmounts = append(m.stageAmounts, stageAmount.Amount.String())
	m.txOpts = append(m.txOpts, opts)
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return ethtypes.MustNewHexBytes0xPrefix("0x01"), nil
}

func (m *mockNullContracts) SettleNull(ctx context.Context, currency nahmiitypes.Currency, opts *contracts.TxOptions) (ethtypes.HexBytes0xPrefix, error) {
	m.log.add("null.settle")
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return ethtypes.MustNewHexBytes0xPrefix("0x02"), nil
}

type mockReceipts struct {
	receipts []*receipt.Receipt
	pages    [][]*receipt.Receipt
	err      error
	queries  []*nahmiiapi.ReceiptQuery
	mux      sync.Mutex
}

func (m *mockReceipts) GetWalletReceipts(ctx context.Context, wallet ethtypes.Address0xHex, q *nahmiiapi.ReceiptQuery) ([]*receipt.Receipt, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.queries = append(m.queries, q)
	if m.pages != nil {
		if len(m.queries) > len(m.pages) {
			return nil, m.err
		}
		return m.pages[len(m.queries)-1], m.err
	}
	return m.receipts, m.err
}

type mockConfirmer struct {
	log      *callLog
	failures map[string]func(txHash string) error
}

func (m *mockConfirmer) WaitForConfirmation(ctx context.Context, txHash ethtypes.HexBytes0xPrefix) (*ethclient.TransactionReceipt, error) {
	m.log.add("confirm " + txHash.String())
	if fail := m.failures[txHash.String()]; fail != nil {
		return nil, fail(txHash.String())
	}
	return &ethclient.TransactionReceipt{
		TransactionHash: txHash,
		BlockNumber:     ethtypes.NewHexIntegerU64(42),
		Status:          ethtypes.NewHexIntegerU64(1),
	}, nil
}

type testSetup struct {
	driip     *mockDriipContracts
	null      *mockNullContracts
	receipts  *mockReceipts
	confirmer *mockConfirmer
	log       *callLog
	registry  *prometheus.Registry
	s         *Settlement
}

func newTestSetup(t *testing.T, confMods ...func(conf *nahmiiconf.SettlementConfig)) *testSetup {
	cl := &callLog{}
	ts := &testSetup{
		driip:     &mockDriipContracts{log: cl},
		null:      &mockNullContracts{log: cl},
		receipts:  &mockReceipts{},
		confirmer: &mockConfirmer{log: cl, failures: map[string]func(string) error{}},
		log:       cl,
		registry:  prometheus.NewRegistry(),
	}
	conf := &nahmiiconf.SettlementConfig{}
	for _, mod := range confMods {
		mod(conf)
	}
	s, err := NewSettlement(context.Background(), NewDriipSettlement(ts.driip), NewNullSettlement(ts.null), ts.receipts, ts.confirmer, conf,
		WithMetrics(metrics.InitMetrics(context.Background(), ts.registry)))
	require.NoError(t, err)
	s.now = func() time.Time { return testNow }
	ts.s = s
	return ts
}

// testReceipt has the test wallet as sender, with the given nonce and current balance.
func testReceipt(nonce uint64, balance int64) *receipt.Receipt {
	return testReceiptIn(testCurrency, nonce, balance)
}

func testReceiptIn(currency nahmiitypes.Currency, nonce uint64, balance int64) *receipt.Receipt {
	p := payment.New(nahmiitypes.NewMonetaryAmount(bigInt(10), currency), testWallet, recipientAddr)
	return receipt.New(p, &receipt.Details{
		BlockNumber: 100 + nonce,
		Sender:      receipt.Party{Nonce: nonce, Balances: receipt.Balances{Current: bigInt(balance), Previous: bigInt(balance + 10)}},
		Recipient:   receipt.Party{Nonce: 1, Balances: receipt.Balances{Current: bigInt(10), Previous: bigInt(0)}},
		Transfers:   receipt.Transfers{Single: bigInt(10), Total: bigInt(10)},
	})
}

func settledRecord(done bool) func(nonce *nahmiitypes.BigInt) (*contracts.SettlementRecord, error) {
	return func(nonce *nahmiitypes.BigInt) (*contracts.SettlementRecord, error) {
		return &contracts.SettlementRecord{
			Origin: contracts.SettlementParty{Wallet: testWallet, Done: done},
			Target: contracts.SettlementParty{Wallet: recipientAddr, Done: true},
		}, nil
	}
}

func assertReasons(t *testing.T, cr *CheckResult, codes ...string) {
	t.Helper()
	require.Len(t, cr.Reasons, len(codes), "reasons: %v", cr.Reasons)
	for i, code := range codes {
		assert.Regexp(t, code, cr.Reasons[i])
	}
	assert.Equal(t, len(codes) == 0, cr.Valid)
}

func TestQueryWrappers(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	d := ts.s.Driip()

	nonce, err := d.GetCurrentProposalNonce(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.False(t, nonce.Found)

	ts.driip.nonce = returnsInt(3)
	nonce, err = d.GetCurrentProposalNonce(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.True(t, nonce.Found)
	assert.Equal(t, "3", nonce.Value.String())

	ts.driip.expiration = returnsInt(testNow.Unix() + 60)
	expiry, err := d.GetCurrentProposalExpirationTime(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(60*time.Second), expiry.Value)

	ts.driip.stage = returnsInt(250)
	stage, err := d.GetCurrentProposalStageAmount(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Equal(t, "250", stage.Value.Amount.String())
	assert.True(t, stage.Value.Currency.Equals(testCurrency))

	ts.driip.status = func() (contracts.ProposalStatus, error) {
		return 0, fmt.Errorf("pop")
	}
	_, err = d.GetCurrentProposalStatus(ctx, testWallet, testCurrency)
	var cqe *ContractQueryError
	require.True(t, errors.As(err, &cqe))
	assert.Equal(t, "payment-driip.proposalStatus", cqe.Query)
	assert.Regexp(t, "NM010901.*pop", err)

	settled, err := d.HasPaymentDriipSettled(ctx, bigInt(3), testWallet)
	require.NoError(t, err)
	assert.False(t, settled.Found)

	ts.null.locked = func() (bool, error) { return false, revert() }
	locked, err := ts.s.Null().IsWalletLocked(ctx, testWallet)
	require.NoError(t, err)
	assert.False(t, locked.Found)
}

func TestDriipStartNonceMonotonicity(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.driip.nonce = returnsInt(3)

	check, err := ts.s.Driip().CheckStartChallengeFromPayment(ctx, testReceipt(2, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010904.*2.*3")

	check, err = ts.s.Driip().CheckStartChallengeFromPayment(ctx, testReceipt(3, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010904")

	ts.driip.settlementByNonce = settledRecord(false)
	check, err = ts.s.Driip().CheckStartChallengeFromPayment(ctx, testReceipt(4, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check)
}

func TestDriipStartRequiresExplicitExpiry(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	// no proposal at all
	check, err := ts.s.Driip().CheckStartChallengeFromPayment(ctx, testReceipt(1, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010902")

	ts.driip.expired = returnsBool(false)
	check, err = ts.s.Driip().CheckStartChallengeFromPayment(ctx, testReceipt(1, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010902")
}

func TestNullStartAllowsAbsentExpiry(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	check, err := ts.s.Null().CheckStartChallenge(ctx, amount(10), testWallet)
	require.NoError(t, err)
	assertReasons(t, check)

	ts.null.expired = returnsBool(false)
	check, err = ts.s.Null().CheckStartChallenge(ctx, amount(10), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010902")

	ts.null.expired = returnsBool(true)
	ts.null.locked = returnsBool(true)
	check, err = ts.s.Null().CheckStartChallenge(ctx, amount(10), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010906.*"+testWallet.String())
}

func TestDriipReplayPrevention(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.driip.status = returnsStatus(contracts.ProposalStatusQualified)
	ts.driip.settlementByNonce = settledRecord(true)

	check, err := ts.s.Driip().CheckStartChallengeFromPayment(ctx, testReceipt(5, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010903.*5")

	check, err = ts.s.Driip().CheckSettleDriipAsPayment(ctx, testReceipt(5, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010903.*5")
}

func TestDriipSettleCollectsAllReasons(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(false)
	ts.driip.status = returnsStatus(contracts.ProposalStatusDisqualified)
	ts.driip.settlementByNonce = settledRecord(true)

	check, err := ts.s.Driip().CheckSettleDriipAsPayment(ctx, testReceipt(5, 100), testWallet)
	require.NoError(t, err)
	assertReasons(t, check,
		"NM010902.*has not expired",
		"NM010905.*disqualified",
		"NM010903.*can not be replayed",
	)

	_, err = ts.s.Driip().SettleDriipAsPayment(ctx, testReceipt(5, 100), testWallet, nil)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ChallengeTypePaymentDriip, ve.Type)
	assert.Len(t, ve.Reasons, 3)
	assert.Regexp(t, "NM010900.*payment-driip.*NM010902.*NM010905.*NM010903", err)
	assert.Empty(t, ts.log.calls)
}

func TestDriipCheckNotParty(t *testing.T) {
	ts := newTestSetup(t)
	_, err := ts.s.Driip().CheckStartChallengeFromPayment(context.Background(), testReceipt(5, 100), otherToken)
	assert.Regexp(t, "NM010409", err)
	_, err = ts.s.Driip().CheckSettleDriipAsPayment(context.Background(), testReceipt(5, 100), otherToken)
	assert.Regexp(t, "NM010409", err)
}

func TestDriipCheckQueryFailure(t *testing.T) {
	ts := newTestSetup(t)
	ts.driip.expired = func() (bool, error) { return false, fmt.Errorf("connection refused") }
	_, err := ts.s.Driip().CheckStartChallengeFromPayment(context.Background(), testReceipt(5, 100), testWallet)
	assert.Regexp(t, "NM010901.*hasProposalExpired.*connection refused", err)
}

func TestDriipStartAndSettle(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)

	_, err := ts.s.Driip().StartChallengeFromPayment(ctx, testReceipt(5, 100), amount(0), testWallet, nil)
	assert.Regexp(t, "NM010914", err)
	_, err = ts.s.Driip().StartChallengeFromPayment(ctx, testReceipt(5, 100), nahmiitypes.NewMonetaryAmount(bigInt(5), nahmiitypes.NewCurrency(otherToken, 0)), testWallet, nil)
	assert.Regexp(t, "NM010915", err)

	txHash, err := ts.s.Driip().StartChallengeFromPayment(ctx, testReceipt(5, 100), amount(60), testWallet, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xd1", txHash.String())
	assert.Equal(t, []string{"60"}, ts.driip.stageAmounts)

	txHash, err = ts.s.Driip().SettleDriipAsPayment(ctx, testReceipt(5, 100), testWallet, nil)
	require.NoError(t, err)
	assert.Equal(t, "0xd2", txHash.String())

	ts.driip.submitErr = fmt.Errorf("insufficient funds")
	_, err = ts.s.Driip().SettleDriipAsPayment(ctx, testReceipt(5, 100), testWallet, nil)
	assert.Regexp(t, "NM010912.*payment-driip.*insufficient funds", err)
}

func TestNullSettleChecks(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	// no proposal
	check, err := ts.s.Null().CheckSettleNull(ctx, testCurrency, testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010902", "NM010918")

	ts.null.expired = returnsBool(true)
	ts.null.status = returnsStatus(contracts.ProposalStatusQualified)
	ts.null.nonce = returnsInt(4)
	ts.null.maxNonce = returnsInt(4)
	check, err = ts.s.Null().CheckSettleNull(ctx, testCurrency, testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010917.*4.*4")

	ts.null.maxNonce = func() (*nahmiitypes.BigInt, error) { return nil, revert() }
	check, err = ts.s.Null().CheckSettleNull(ctx, testCurrency, testWallet)
	require.NoError(t, err)
	assertReasons(t, check)

	ts.null.maxNonce = returnsInt(3)
	ts.null.locked = returnsBool(true)
	ts.null.status = returnsStatus(contracts.ProposalStatusDisqualified)
	check, err = ts.s.Null().CheckSettleNull(ctx, testCurrency, testWallet)
	require.NoError(t, err)
	assertReasons(t, check, "NM010906", "NM010905")

	_, err = ts.s.Null().SettleNull(ctx, testCurrency, testWallet, nil)
	assert.Regexp(t, "NM010900.*null.*NM010906", err)
	assert.Empty(t, ts.log.calls)
}

func TestNullStartAndSettle(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	txHash, err := ts.s.Null().StartChallenge(ctx, amount(30), testWallet, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x01", txHash.String())

	_, err = ts.s.Null().StartChallenge(ctx, amount(-1), testWallet, nil)
	assert.Regexp(t, "NM010914", err)

	ts.null.expired = returnsBool(true)
	ts.null.nonce = returnsInt(2)
	txHash, err = ts.s.Null().SettleNull(ctx, testCurrency, testWallet, nil)
	require.NoError(t, err)
	assert.Equal(t, "0x02", txHash.String())

	ts.null.submitErr = fmt.Errorf("nonce too low")
	_, err = ts.s.Null().StartChallenge(ctx, amount(30), testWallet, nil)
	assert.Regexp(t, "NM010912.*null.*nonce too low", err)
}

func TestRequiredChallengesSplit(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(4, 60), testReceipt(5, 100), testReceiptIn(nahmiitypes.NewCurrency(otherToken, 0), 6, 500)}

	required, err := ts.s.GetRequiredChallengesForIntendedStageAmount(ctx, amount(150), testWallet)
	require.NoError(t, err)
	require.Len(t, required.Challenges, 2)
	assert.Equal(t, ChallengeTypePaymentDriip, required.Challenges[0].Type)
	assert.Equal(t, "100", required.Challenges[0].StageAmount.Amount.String())
	assert.Equal(t, uint64(105), required.Challenges[0].Receipt.BlockNumber())
	assert.Equal(t, ChallengeTypeNull, required.Challenges[1].Type)
	assert.Equal(t, "50", required.Challenges[1].StageAmount.Amount.String())
	assert.Empty(t, required.InvalidReasons)

	required, err = ts.s.GetRequiredChallengesForIntendedStageAmount(ctx, amount(80), testWallet)
	require.NoError(t, err)
	require.Len(t, required.Challenges, 1)
	assert.Equal(t, ChallengeTypePaymentDriip, required.Challenges[0].Type)
	assert.Equal(t, "80", required.Challenges[0].StageAmount.Amount.String())

	require.Len(t, ts.receipts.queries, 2)
	assert.Equal(t, 1000, ts.receipts.queries[0].Limit)
}

func TestLatestReceiptPagesPastOtherCurrencies(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t, func(conf *nahmiiconf.SettlementConfig) {
		conf.ReceiptScanLimit = confutil.P(2)
	})
	other := nahmiitypes.NewCurrency(otherToken, 0)
	ts.receipts.pages = [][]*receipt.Receipt{
		{testReceiptIn(other, 10, 1), testReceiptIn(other, 9, 1)},
		{testReceiptIn(other, 8, 1), testReceiptIn(other, 7, 1)},
		{testReceiptIn(other, 6, 1), testReceipt(5, 100)},
	}

	latest, err := ts.s.GetLatestReceipt(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, uint64(105), latest.BlockNumber())

	require.Len(t, ts.receipts.queries, 3)
	assert.Nil(t, ts.receipts.queries[0].FromNonce)
	assert.Equal(t, uint64(8), *ts.receipts.queries[1].FromNonce)
	assert.Equal(t, uint64(6), *ts.receipts.queries[2].FromNonce)
	for _, q := range ts.receipts.queries {
		assert.Equal(t, 2, q.Limit)
		assert.False(t, q.Ascending)
	}
}

func TestLatestReceiptNoneInCurrency(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	other := nahmiitypes.NewCurrency(otherToken, 0)
	ts.receipts.pages = [][]*receipt.Receipt{
		{testReceiptIn(other, 2, 1), testReceiptIn(other, 1, 1)},
		{testReceiptIn(other, 0, 1)},
	}

	latest, err := ts.s.GetLatestReceipt(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.Len(t, ts.receipts.queries, 2)

	ts = newTestSetup(t)
	ts.receipts.pages = [][]*receipt.Receipt{{testReceiptIn(other, 4, 1)}}
	latest, err = ts.s.GetLatestReceipt(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Nil(t, latest)
	require.Len(t, ts.receipts.queries, 2)
	assert.Equal(t, uint64(3), *ts.receipts.queries[1].FromNonce)
}

func TestRequiredChallengesZeroReceiptBalance(t *testing.T) {
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 0)}

	required, err := ts.s.GetRequiredChallengesForIntendedStageAmount(context.Background(), amount(40), testWallet)
	require.NoError(t, err)
	require.Len(t, required.Challenges, 1)
	assert.Equal(t, ChallengeTypeNull, required.Challenges[0].Type)
	assert.Equal(t, "40", required.Challenges[0].StageAmount.Amount.String())
}

func TestRequiredChallengesSingleType(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	// no receipts, so only null can start
	required, err := ts.s.GetRequiredChallengesForIntendedStageAmount(ctx, amount(150), testWallet)
	require.NoError(t, err)
	require.Len(t, required.Challenges, 1)
	assert.Equal(t, ChallengeTypeNull, required.Challenges[0].Type)
	assert.Equal(t, "150", required.Challenges[0].StageAmount.Amount.String())
	require.Len(t, required.InvalidReasons[ChallengeTypePaymentDriip], 1)
	assert.Regexp(t, "NM010909", required.InvalidReasons[ChallengeTypePaymentDriip][0])

	// null is locked out, driip covers the full amount even above the receipt balance
	ts.null.locked = returnsBool(true)
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}
	required, err = ts.s.GetRequiredChallengesForIntendedStageAmount(ctx, amount(150), testWallet)
	require.NoError(t, err)
	require.Len(t, required.Challenges, 1)
	assert.Equal(t, ChallengeTypePaymentDriip, required.Challenges[0].Type)
	assert.Equal(t, "150", required.Challenges[0].StageAmount.Amount.String())
	assert.Regexp(t, "NM010906", required.InvalidReasons[ChallengeTypeNull][0])
}

func TestRequiredChallengesNone(t *testing.T) {
	ts := newTestSetup(t)
	ts.null.locked = returnsBool(true)

	required, err := ts.s.GetRequiredChallengesForIntendedStageAmount(context.Background(), amount(150), testWallet)
	require.NoError(t, err)
	assert.Empty(t, required.Challenges)
	assert.Len(t, required.InvalidReasons, 2)

	_, err = ts.s.StartChallenge(context.Background(), amount(150), testWallet)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ChallengeTypePaymentDriip, ve.Type)
	assert.Regexp(t, "NM010909", err)
	assert.Regexp(t, "NM010906", err)
}

func TestOngoingChallengeBlocksOtherType(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}
	ts.null.expiration = returnsInt(testNow.Unix() + 3600)
	ts.null.stage = returnsInt(20)

	check, err := ts.s.CheckStartChallenge(ctx, amount(50), testWallet)
	require.NoError(t, err)
	assertReasons(t, check.Driip, "NM010907")
	assertReasons(t, check.Null)

	ts.null.expiration = returnsInt(testNow.Unix() - 1)
	ts.driip.expiration = returnsInt(testNow.Unix() + 3600)
	check, err = ts.s.CheckStartChallenge(ctx, amount(50), testWallet)
	require.NoError(t, err)
	assertReasons(t, check.Driip)
	assertReasons(t, check.Null, "NM010908")
}

func TestCheckStartChallengeErrors(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	_, err := ts.s.CheckStartChallenge(ctx, amount(0), testWallet)
	assert.Regexp(t, "NM010914", err)
	_, err = ts.s.CheckStartChallenge(ctx, nil, testWallet)
	assert.Regexp(t, "NM010914", err)
	_, err = ts.s.StartChallenge(ctx, nil, testWallet)
	assert.Regexp(t, "NM010914", err)
	_, err = ts.s.Null().CheckStartChallenge(ctx, nil, testWallet)
	assert.Regexp(t, "NM010914", err)
	_, err = ts.s.Null().StartChallenge(ctx, nil, testWallet, nil)
	assert.Regexp(t, "NM010914", err)
	_, err = ts.s.Driip().StartChallengeFromPayment(ctx, testReceipt(1, 100), nil, testWallet, nil)
	assert.Regexp(t, "NM010914", err)

	ts.receipts.err = fmt.Errorf("pop")
	_, err = ts.s.CheckStartChallenge(ctx, amount(10), testWallet)
	assert.Regexp(t, "NM010920.*pop", err)

	s, err := NewSettlement(ctx, ts.s.Driip(), ts.s.Null(), nil, ts.confirmer, &nahmiiconf.SettlementConfig{})
	require.NoError(t, err)
	_, err = s.CheckStartChallenge(ctx, amount(10), testWallet)
	assert.Regexp(t, "NM010919", err)
}

func TestOngoingChallengesAndMaxTimeout(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	ongoing, err := ts.s.GetOngoingChallenges(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Empty(t, ongoing)
	timeout, err := ts.s.GetMaxChallengesTimeout(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.True(t, timeout.IsZero())

	ts.driip.expiration = returnsInt(testNow.Unix() + 100)
	ts.driip.stage = returnsInt(70)
	ts.null.expiration = returnsInt(testNow.Unix() + 200)
	ts.null.stage = returnsInt(30)
	ongoing, err = ts.s.GetOngoingChallenges(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	require.Len(t, ongoing, 2)
	assert.Equal(t, ChallengeTypePaymentDriip, ongoing[0].Type)
	assert.Equal(t, "70", ongoing[0].StageAmount.Amount.String())
	assert.Equal(t, ChallengeTypeNull, ongoing[1].Type)
	assert.Equal(t, "30", ongoing[1].StageAmount.Amount.String())

	timeout, err = ts.s.GetMaxChallengesTimeout(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(200*time.Second), timeout)

	ts.null.stage = func() (*nahmiitypes.BigInt, error) { return nil, fmt.Errorf("pop") }
	_, err = ts.s.GetMaxChallengesTimeout(ctx, testWallet, testCurrency)
	assert.Regexp(t, "NM010901.*null.proposalStageAmount", err)
}

func TestSettleableChallenges(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(4, 60), testReceipt(5, 100)}
	ts.driip.nonce = returnsInt(5)
	ts.driip.expired = returnsBool(true)
	ts.driip.status = returnsStatus(contracts.ProposalStatusQualified)
	ts.null.expired = returnsBool(true)
	ts.null.nonce = returnsInt(2)

	settleable, err := ts.s.GetSettleableChallenges(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	require.Len(t, settleable.Challenges, 2)
	assert.Equal(t, ChallengeTypePaymentDriip, settleable.Challenges[0].Type)
	assert.Equal(t, uint64(105), settleable.Challenges[0].Receipt.BlockNumber())
	assert.Equal(t, ChallengeTypeNull, settleable.Challenges[1].Type)
	assert.Empty(t, settleable.InvalidReasons)

	require.NotEmpty(t, ts.receipts.queries)
	q := ts.receipts.queries[0]
	assert.Equal(t, uint64(5), *q.FromNonce)
	assert.True(t, q.Ascending)
}

func TestSettleableChallengesInvalid(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)

	settleable, err := ts.s.GetSettleableChallenges(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Empty(t, settleable.Challenges)
	assert.Regexp(t, "NM010910", settleable.InvalidReasons[ChallengeTypePaymentDriip][0])
	assert.Regexp(t, "NM010902", settleable.InvalidReasons[ChallengeTypeNull][0])

	ts.driip.nonce = returnsInt(9)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}
	settleable, err = ts.s.GetSettleableChallenges(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Regexp(t, "NM010913.*9", settleable.InvalidReasons[ChallengeTypePaymentDriip][0])

	ts.driip.nonce = returnsInt(5)
	settleable, err = ts.s.GetSettleableChallenges(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	assert.Regexp(t, "NM010902", settleable.InvalidReasons[ChallengeTypePaymentDriip][0])

	_, err = ts.s.Settle(ctx, testWallet, testCurrency)
	assert.Regexp(t, "NM010900.*payment-driip", err)
	assert.Regexp(t, "NM010900.*null", err)

	ts.null.nonce = func() (*nahmiitypes.BigInt, error) { return nil, fmt.Errorf("pop") }
	_, err = ts.s.GetSettleableChallenges(ctx, testWallet, testCurrency)
	assert.Regexp(t, "NM010901", err)
}

func TestStartChallengeSequence(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t, func(conf *nahmiiconf.SettlementConfig) {
		conf.GasLimit = confutil.P(300000)
		conf.GasPrice = confutil.P("2000000000")
	})
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}

	submitted, err := ts.s.StartChallenge(ctx, amount(150), testWallet)
	require.NoError(t, err)
	require.Len(t, submitted, 2)
	assert.Equal(t, &SubmittedChallenge{Type: ChallengeTypePaymentDriip, Action: "start", TxHash: ethtypes.MustNewHexBytes0xPrefix("0xd1"), BlockNumber: 42}, submitted[0])
	assert.Equal(t, &SubmittedChallenge{Type: ChallengeTypeNull, Action: "start", TxHash: ethtypes.MustNewHexBytes0xPrefix("0x01"), BlockNumber: 42}, submitted[1])
	assert.Equal(t, []string{"driip.start", "confirm 0xd1", "null.start", "confirm 0x01"}, ts.log.calls)
	assert.Equal(t, []string{"50"}, ts.null.stageAmounts)
	assert.Equal(t, uint64(300000), ts.null.txOpts[0].GasLimit)
	assert.Equal(t, int64(2000000000), ts.null.txOpts[0].GasPrice.Int64())

	confirmed, err := testutil.GatherAndCount(ts.registry, "settlement_confirmed_txns_total")
	require.NoError(t, err)
	assert.Equal(t, 2, confirmed)
}

func TestStartChallengeSequenceAbortsOnConfirmationFailure(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}
	ts.confirmer.failures["0xd1"] = func(txHash string) error {
		return ethclient.NewConfirmationFailedError(ctx, txHash, &ethclient.TransactionReceipt{BlockNumber: ethtypes.NewHexIntegerU64(41)}, "reverted")
	}

	submitted, err := ts.s.StartChallenge(ctx, amount(150), testWallet)
	assert.Empty(t, submitted)
	var cse *ChallengeSequenceError
	require.True(t, errors.As(err, &cse))
	assert.Equal(t, ChallengeTypePaymentDriip, cse.Type)
	assert.Equal(t, "0xd1", cse.TxHash)
	assert.False(t, cse.IsTimeout())
	assert.Regexp(t, "NM010911.*payment-driip.*0xd1.*NM010515", err)
	var cfe *ethclient.ConfirmationFailedError
	assert.True(t, errors.As(err, &cfe))

	assert.Equal(t, []string{"driip.start", "confirm 0xd1"}, ts.log.calls)
	assert.Empty(t, ts.null.stageAmounts)
}

func TestStartChallengeSequencePartialCompletion(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.driip.expired = returnsBool(true)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}
	ts.confirmer.failures["0x01"] = func(txHash string) error {
		return ethclient.NewConfirmationTimeoutError(ctx, txHash, 150, 5*time.Minute, fmt.Errorf("not mined"))
	}

	submitted, err := ts.s.StartChallenge(ctx, amount(150), testWallet)
	require.Len(t, submitted, 1)
	assert.Equal(t, ChallengeTypePaymentDriip, submitted[0].Type)
	var cse *ChallengeSequenceError
	require.True(t, errors.As(err, &cse))
	assert.Equal(t, ChallengeTypeNull, cse.Type)
	assert.Equal(t, "0x01", cse.TxHash)
	assert.True(t, cse.IsTimeout())
	assert.Regexp(t, "NM010911.*null.*0x01.*NM010514", err)

	confirmed, err := testutil.GatherAndCount(ts.registry, "settlement_confirmed_txns_total")
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)
	failed, err := testutil.GatherAndCount(ts.registry, "settlement_failed_txns_total")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestStartSequenceSubmitFailure(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.null.submitErr = fmt.Errorf("underpriced")

	submitted, err := ts.s.StartByRequiredChallenges(ctx, []*RequiredChallenge{
		{Type: ChallengeTypeNull, StageAmount: amount(10)},
		{Type: ChallengeTypeNull, StageAmount: amount(20)},
	}, testWallet)
	assert.Empty(t, submitted)
	var cse *ChallengeSequenceError
	require.True(t, errors.As(err, &cse))
	assert.Empty(t, cse.TxHash)
	assert.Regexp(t, "NM010911.*NM010912.*underpriced", err)
	assert.Equal(t, []string{"null.start"}, ts.log.calls)

	_, err = ts.s.StartByRequiredChallenges(ctx, []*RequiredChallenge{{Type: "other"}}, testWallet)
	assert.Regexp(t, "NM010916.*other", err)
	_, err = ts.s.SettleBySettleableChallenges(ctx, []*SettleableChallenge{{Type: "other"}}, testWallet)
	assert.Regexp(t, "NM010916.*other", err)
}

func TestSettleSequence(t *testing.T) {
	ctx := context.Background()
	ts := newTestSetup(t)
	ts.receipts.receipts = []*receipt.Receipt{testReceipt(5, 100)}
	ts.driip.nonce = returnsInt(5)
	ts.driip.expired = returnsBool(true)
	ts.null.expired = returnsBool(true)
	ts.null.nonce = returnsInt(2)

	submitted, err := ts.s.Settle(ctx, testWallet, testCurrency)
	require.NoError(t, err)
	require.Len(t, submitted, 2)
	assert.Equal(t, "settle", submitted[0].Action)
	assert.Equal(t, []string{"driip.settle", "confirm 0xd2", "null.settle", "confirm 0x02"}, ts.log.calls)
}

func TestNewSettlementBadGasPrice(t *testing.T) {
	_, err := NewSettlement(context.Background(), nil, nil, nil, nil, &nahmiiconf.SettlementConfig{GasPrice: confutil.P("cheap")})
	assert.Regexp(t, "NM010003.*cheap", err)
}
