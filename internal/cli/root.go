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

// Package cli is the nahmii command line, a thin layer over the settlement
// engine configured from a YAML file.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/contracts"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/ethclient"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/metricsserver"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiapi"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/settlement"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/settlement/metrics"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/wallet"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "NAHMII"

// SettlementEngine is the part of *settlement.Settlement the commands drive.
type SettlementEngine interface {
	GetRequiredChallengesForIntendedStageAmount(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) (*settlement.RequiredChallenges, error)
	GetOngoingChallenges(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) ([]*settlement.OngoingChallenge, error)
	GetMaxChallengesTimeout(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (time.Time, error)
	GetSettleableChallenges(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (*settlement.SettleableChallenges, error)
	StartChallenge(ctx context.Context, stageAmount *nahmiitypes.MonetaryAmount, wallet ethtypes.Address0xHex) ([]*settlement.SubmittedChallenge, error)
	Settle(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) ([]*settlement.SubmittedChallenge, error)
}

type engine struct {
	settlement SettlementEngine
	wallet     ethtypes.Address0xHex
	close      func()
}

type engineFactory func(ctx context.Context, conf *nahmiiconf.Config) (*engine, error)

type cliContext struct {
	v         *viper.Viper
	out       io.Writer
	newEngine engineFactory
}

// Execute runs the command line with the given arguments, returning the
// process exit code.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	cmd := newRootCommand(out, buildEngine)
	cmd.SetArgs(args)
	cmd.SetErr(errOut)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 1
	}
	return 0
}

func newRootCommand(out io.Writer, newEngine engineFactory) *cobra.Command {
	cc := &cliContext{
		v:         viper.New(),
		out:       out,
		newEngine: newEngine,
	}
	cc.v.SetEnvPrefix(envPrefix)
	cc.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cc.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "nahmii",
		Short:         "Stage and settle nahmii balances on chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "nahmii.yaml", "YAML configuration file")
	flags.String("network", "", "network to use, overriding the configuration file")
	flags.String("log-level", "", "log level, overriding the configuration file")
	for _, name := range []string{"config", "network", "log-level"} {
		_ = cc.v.BindPFlag(name, flags.Lookup(name))
	}

	root.AddCommand(cc.settlementCommand())
	return root
}

func (cc *cliContext) loadConfig(ctx context.Context) (*nahmiiconf.Config, error) {
	conf := &nahmiiconf.Config{}
	if err := nahmiiconf.ReadAndParseYAMLFile(ctx, cc.v.GetString("config"), conf); err != nil {
		return nil, err
	}
	if network := cc.v.GetString("network"); network != "" {
		conf.Network = network
	}
	if level := cc.v.GetString("log-level"); level != "" {
		conf.Log.Level = &level
	}
	log.InitConfig(&conf.Log)
	return conf, nil
}

func (cc *cliContext) engine(ctx context.Context) (*engine, error) {
	conf, err := cc.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return cc.newEngine(ctx, conf)
}

func buildEngine(ctx context.Context, conf *nahmiiconf.Config) (*engine, error) {
	w, err := wallet.NewWallet(ctx, &conf.Wallet)
	if err != nil {
		return nil, err
	}
	registry, err := contracts.NewRegistry(ctx, conf.Network, conf.Networks)
	if err != nil {
		return nil, err
	}
	ec, err := ethclient.NewEthClient(ctx, &conf.Blockchain)
	if err != nil {
		return nil, err
	}
	if err := registry.CheckChainID(ctx, ec.ChainID()); err != nil {
		return nil, err
	}
	api, err := nahmiiapi.NewClient(ctx, &conf.API)
	if err != nil {
		return nil, err
	}
	checkOperator(ctx, api, registry)

	driipContracts, err := contracts.NewDriipSettlementContracts(ctx, registry, ec, w)
	if err != nil {
		return nil, err
	}
	nullContracts, err := contracts.NewNullSettlementContracts(ctx, registry, ec, w)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	s, err := settlement.NewSettlement(ctx,
		settlement.NewDriipSettlement(driipContracts),
		settlement.NewNullSettlement(nullContracts),
		api, ec, &conf.Settlement,
		settlement.WithMetrics(metrics.InitMetrics(ctx, promRegistry)))
	if err != nil {
		return nil, err
	}
	ms := metricsserver.NewMetricsServer(ctx, promRegistry, &conf.Metrics)
	if err := ms.Start(); err != nil {
		return nil, err
	}
	log.L(ctx).Infof("Using wallet %s on network %s", w.Address(), registry.Network())
	return &engine{settlement: s, wallet: w.Address(), close: ms.Stop}, nil
}

// checkOperator warns when the API is served by a different operator than the
// one the contracts are configured for.
func checkOperator(ctx context.Context, api nahmiiapi.Client, registry *contracts.Registry) {
	expected := registry.Operator()
	if expected == nil {
		return
	}
	actual, err := api.OperatorAddress(ctx)
	if err != nil {
		log.L(ctx).Warnf("Unable to query the operator address: %s", err)
		return
	}
	if !nahmiitypes.AddressEqual(expected, actual) {
		log.L(ctx).Warnf("API operator %s does not match the configured operator %s for network %s", actual, expected, registry.Network())
	}
}
