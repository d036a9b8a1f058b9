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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/settlement"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
log:
  level: info
network: ropsten
`

var testWallet = *ethtypes.MustNewAddress("0x2c7536e3605d9c16a7a3d7b1898e529396a65c23")

type fakeEngine struct {
	stageAmount *nahmiitypes.MonetaryAmount
	currency    nahmiitypes.Currency
	required    *settlement.RequiredChallenges
	ongoing     []*settlement.OngoingChallenge
	maxTimeout  time.Time
	settleable  *settlement.SettleableChallenges
	submitted   []*settlement.SubmittedChallenge
	err         error
}

func (f *fakeEngine) GetRequiredChallengesForIntendedStageAmount(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) (*settlement.RequiredChallenges, error) {
	f.stageAmount = stageAmount
	return f.required, f.err
}

func (f *fakeEngine) GetOngoingChallenges(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) ([]*settlement.OngoingChallenge, error) {
	f.currency = currency
	return f.ongoing, f.err
}

func (f *fakeEngine) GetMaxChallengesTimeout(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (time.Time, error) {
	return f.maxTimeout, f.err
}

func (f *fakeEngine) GetSettleableChallenges(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*settlement.SettleableChallenges, error) {
	f.currency = currency
	return f.settleable, f.err
}

func (f *fakeEngine) StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) ([]*settlement.SubmittedChallenge, error) {
	f.stageAmount = stageAmount
	return f.submitted, f.err
}

func (f *fakeEngine) Settle(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) ([]*settlement.SubmittedChallenge, error) {
	f.currency = currency
	return f.submitted, f.err
}

func writeConfig(t *testing.T) string {
	fileName := filepath.Join(t.TempDir(), "nahmii.yaml")
	require.NoError(t, os.WriteFile(fileName, []byte(testConfig), 0644))
	return fileName
}

func runCLI(t *testing.T, f *fakeEngine, args ...string) (map[string]any, error) {
	out := new(bytes.Buffer)
	cmd := newRootCommand(out, func(ctx context.Context, conf *nahmiiconf.Config) (*engine, error) {
		return &engine{settlement: f, wallet: testWallet}, nil
	})
	cmd.SetArgs(append([]string{"-c", writeConfig(t)}, args...))
	err := cmd.ExecuteContext(context.Background())
	var result map[string]any
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	}
	return result, err
}

func TestRequiredCommand(t *testing.T) {
	currency := nahmiitypes.NewCurrency(*ethtypes.MustNewAddress("0x4444444444444444444444444444444444444444"), 0)
	f := &fakeEngine{
		required: &settlement.RequiredChallenges{
			Challenges: []*settlement.RequiredChallenge{
				{Type: settlement.ChallengeTypeNull, StageAmount: nahmiitypes.NewMonetaryAmount(nahmiitypes.NewBigInt(50), currency)},
			},
			InvalidReasons: map[settlement.ChallengeType][]error{
				settlement.ChallengeTypePaymentDriip: {fmt.Errorf("no receipt")},
			},
		},
	}
	result, err := runCLI(t, f, "settlement", "required", "--currency", "0x4444444444444444444444444444444444444444", "--amount", "50")
	require.NoError(t, err)
	assert.Equal(t, "50", f.stageAmount.Amount.String())
	assert.True(t, f.stageAmount.Currency.Equals(currency))

	challenges := result["challenges"].([]any)
	require.Len(t, challenges, 1)
	assert.Equal(t, "null", challenges[0].(map[string]any)["type"])
	assert.Equal(t, []any{"no receipt"}, result["invalidReasons"].(map[string]any)["payment-driip"])
}

func TestRequiredCommandBadFlags(t *testing.T) {
	_, err := runCLI(t, &fakeEngine{}, "settlement", "required", "--amount=-5")
	assert.Regexp(t, "NM010009.*amount", err)

	_, err = runCLI(t, &fakeEngine{}, "settlement", "required", "--amount", "5", "--currency", "nope")
	assert.Regexp(t, "NM010009.*currency", err)

	_, err = runCLI(t, &fakeEngine{}, "settlement", "required")
	assert.Regexp(t, "amount", err)
}

func TestOngoingCommand(t *testing.T) {
	expiry := time.Unix(1700000000, 0).UTC()
	f := &fakeEngine{
		ongoing: []*settlement.OngoingChallenge{
			{Type: settlement.ChallengeTypePaymentDriip, ExpirationTime: expiry},
		},
		maxTimeout: expiry,
	}
	result, err := runCLI(t, f, "settlement", "ongoing", "--currency-id", "7")
	require.NoError(t, err)
	assert.Equal(t, "7", f.currency.ID.String())
	assert.Len(t, result["ongoing"], 1)
	assert.Equal(t, "2023-11-14T22:13:20Z", result["maxTimeout"])

	f = &fakeEngine{ongoing: []*settlement.OngoingChallenge{}}
	result, err = runCLI(t, f, "settlement", "ongoing")
	require.NoError(t, err)
	assert.NotContains(t, result, "maxTimeout")
}

func TestSettleableCommand(t *testing.T) {
	f := &fakeEngine{
		settleable: &settlement.SettleableChallenges{
			Challenges: []*settlement.SettleableChallenge{{Type: settlement.ChallengeTypeNull}},
		},
	}
	result, err := runCLI(t, f, "settlement", "settleable")
	require.NoError(t, err)
	assert.Len(t, result["challenges"], 1)
	assert.NotContains(t, result, "invalidReasons")
}

func TestStartCommandPartialFailure(t *testing.T) {
	f := &fakeEngine{
		submitted: []*settlement.SubmittedChallenge{
			{Type: settlement.ChallengeTypePaymentDriip, Action: "start", TxHash: ethtypes.MustNewHexBytes0xPrefix("0xd1"), BlockNumber: 42},
		},
		err: settlement.NewChallengeSequenceError(context.Background(), settlement.ChallengeTypeNull, "0x01", fmt.Errorf("pop")),
	}
	result, err := runCLI(t, f, "settlement", "start", "--amount", "150")
	assert.Error(t, err)
	assert.Len(t, result["submitted"], 1)
	failed := result["failed"].(map[string]any)
	assert.Equal(t, "null", failed["type"])
	assert.Equal(t, "0x01", failed["txHash"])
	assert.Equal(t, false, failed["timeout"])
	assert.Regexp(t, "NM010911.*pop", failed["error"])
}

func TestSettleCommand(t *testing.T) {
	f := &fakeEngine{
		submitted: []*settlement.SubmittedChallenge{
			{Type: settlement.ChallengeTypeNull, Action: "settle", TxHash: ethtypes.MustNewHexBytes0xPrefix("0x02"), BlockNumber: 43},
		},
	}
	result, err := runCLI(t, f, "settlement", "settle")
	require.NoError(t, err)
	submitted := result["submitted"].([]any)
	require.Len(t, submitted, 1)
	assert.Equal(t, "0x02", submitted[0].(map[string]any)["txHash"])
	assert.NotContains(t, result, "failed")

	f = &fakeEngine{err: ethclient.NewCallExceptionError(context.Background(), "settleNull", "boom")}
	result, err = runCLI(t, f, "settlement", "settle")
	assert.Regexp(t, "boom", err)
	assert.Nil(t, result)
}

func TestNetworkOverrideFromEnv(t *testing.T) {
	t.Setenv("NAHMII_NETWORK", "mainnet")
	out := new(bytes.Buffer)
	var network string
	cmd := newRootCommand(out, func(ctx context.Context, conf *nahmiiconf.Config) (*engine, error) {
		network = conf.Network
		return &engine{settlement: &fakeEngine{ongoing: []*settlement.OngoingChallenge{}}, wallet: testWallet}, nil
	})
	cmd.SetArgs([]string{"-c", writeConfig(t), "settlement", "ongoing"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "mainnet", network)
}

func TestExecuteMissingConfig(t *testing.T) {
	errOut := new(bytes.Buffer)
	rc := Execute(context.Background(), []string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "settlement", "settle"}, new(bytes.Buffer), errOut)
	assert.Equal(t, 1, rc)
	assert.Regexp(t, "NM010001", errOut.String())
}
