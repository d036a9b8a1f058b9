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
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/contracts"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

// proposalQueries are the proposal reads common to both challenge types. The
// proposal state for a wallet and currency is never cached, each call reads
// the chain.
type proposalQueries struct {
	challengeType ChallengeType
	reader        ProposalReader
}

func (pq *proposalQueries) queryName(fn string) string {
	return string(pq.challengeType) + "." + fn
}

func (pq *proposalQueries) GetCurrentProposalNonce(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (QueryResult[*nahmiitypes.BigInt], error) {
	return queryProposal(ctx, pq.queryName("proposalNonce"), func() (*nahmiitypes.BigInt, error) {
		return pq.reader.ProposalNonce(ctx, wallet, currency)
	})
}

func (pq *proposalQueries) GetCurrentProposalExpirationTime(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (QueryResult[time.Time], error) {
	return queryProposal(ctx, pq.queryName("proposalExpirationTime"), func() (time.Time, error) {
		secs, err := pq.reader.ProposalExpirationTime(ctx, wallet, currency)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(secs.Int().Int64(), 0), nil
	})
}

func (pq *proposalQueries) GetCurrentProposalStageAmount(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (QueryResult[*nahmiitypes.MonetaryAmount], error) {
	return queryProposal(ctx, pq.queryName("proposalStageAmount"), func() (*nahmiitypes.MonetaryAmount, error) {
		amount, err := pq.reader.ProposalStageAmount(ctx, wallet, currency)
		if err != nil {
			return nil, err
		}
		return nahmiitypes.NewMonetaryAmount(amount, currency), nil
	})
}

func (pq *proposalQueries) GetCurrentProposalStatus(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (QueryResult[contracts.ProposalStatus], error) {
	return queryProposal(ctx, pq.queryName("proposalStatus"), func() (contracts.ProposalStatus, error) {
		return pq.reader.ProposalStatus(ctx, wallet, currency)
	})
}

func (pq *proposalQueries) HasProposalExpired(ctx context.Context, wallet ethtypes.Address0xHex, currency nahmiitypes.Currency) (QueryResult[bool], error) {
	return queryProposal(ctx, pq.queryName("hasProposalExpired"), func() (bool, error) {
		return pq.reader.HasProposalExpired(ctx, wallet, currency)
	})
}
