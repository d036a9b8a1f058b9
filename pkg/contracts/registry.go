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

// Package contracts binds the settlement contracts of a nahmii deployment,
// resolved from the per-network deployment map in config.
package contracts

import (
	"context"
	"embed"
	"encoding/json"
	"sort"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/abi"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

//go:embed abis/*.json
var abiFS embed.FS

const (
	DriipSettlementChallengeByPayment = "DriipSettlementChallengeByPayment"
	DriipSettlementByPayment          = "DriipSettlementByPayment"
	DriipSettlementState              = "DriipSettlementState"
	NullSettlementChallengeByPayment  = "NullSettlementChallengeByPayment"
	NullSettlement                    = "NullSettlement"
	NullSettlementState               = "NullSettlementState"
	WalletLocker                      = "WalletLocker"
)

type Deployment struct {
	Name    string
	Address ethtypes.Address0xHex
	ABI     abi.ABI
}

type Registry struct {
	network     string
	chainID     *int64
	operator    *ethtypes.Address0xHex
	deployments map[string]*Deployment
}

// EmbeddedABI returns the ABI shipped with this module for a contract name.
func EmbeddedABI(ctx context.Context, name string) (abi.ABI, error) {
	b, err := abiFS.ReadFile("abis/" + name + ".json")
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgContractsInvalidABI, name)
	}
	var a abi.ABI
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgContractsInvalidABI, name)
	}
	return a, nil
}

func NewRegistry(ctx context.Context, network string, networks map[string]nahmiiconf.NetworkConfig) (*Registry, error) {
	conf, ok := networks[network]
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgContractsUnknownNetwork, network)
	}
	r := &Registry{
		network:     network,
		chainID:     conf.ChainID,
		deployments: make(map[string]*Deployment, len(conf.Contracts)),
	}
	if conf.Operator != "" {
		op, err := nahmiitypes.ParseAddress(ctx, conf.Operator)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgContractsInvalidOperator, conf.Operator, network)
		}
		r.operator = op
	}
	for name, d := range conf.Contracts {
		addr, err := ethtypes.NewAddress(d.Address)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgContractsInvalidAddress, d.Address, name)
		}
		var a abi.ABI
		if len(d.ABI) > 0 {
			if err := json.Unmarshal(d.ABI, &a); err != nil {
				return nil, i18n.WrapError(ctx, err, msgs.MsgContractsInvalidABI, name)
			}
		} else if a, err = EmbeddedABI(ctx, name); err != nil {
			return nil, err
		}
		r.deployments[name] = &Deployment{Name: name, Address: *addr, ABI: a}
	}
	log.L(ctx).Debugf("Loaded %d contract deployments for network %s: %v", len(r.deployments), network, r.Names())
	return r, nil
}

func (r *Registry) Network() string {
	return r.network
}

// Operator is the configured operator address, or nil.
func (r *Registry) Operator() *ethtypes.Address0xHex {
	return r.operator
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.deployments))
	for n := range r.deployments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Deployment(ctx context.Context, name string) (*Deployment, error) {
	d := r.deployments[name]
	if d == nil {
		return nil, i18n.NewError(ctx, msgs.MsgContractsMissingContract, name, r.network)
	}
	return d, nil
}

// CheckChainID fails if the network pins a chain ID that the node does not report.
func (r *Registry) CheckChainID(ctx context.Context, chainID int64) error {
	if r.chainID != nil && *r.chainID != chainID {
		return i18n.NewError(ctx, msgs.MsgContractsChainIDMismatch, r.network, *r.chainID, chainID)
	}
	return nil
}
