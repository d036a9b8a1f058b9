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

package nahmiiconf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
log:
  level: debug
blockchain:
  url: http://localhost:8545
  confirmation:
    interval: 500ms
    timeout: 1m
api:
  url: https://api.example.nahmii.io
  appId: app1
  appSecret: secret1
wallet:
  privateKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
network: ropsten
networks:
  ropsten:
    chainId: 3
    operator: "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"
    contracts:
      DriipSettlementChallengeByPayment:
        address: "0x1111111111111111111111111111111111111111"
      NullSettlementChallengeByPayment:
        address: "0x2222222222222222222222222222222222222222"
        abi: [{"type":"function","name":"proposalNonce","inputs":[],"outputs":[{"type":"uint256"}]}]
`

func TestReadAndParseYAMLFile(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "nahmii.yaml")
	require.NoError(t, os.WriteFile(fileName, []byte(sampleConfig), 0644))

	var conf Config
	err := ReadAndParseYAMLFile(context.Background(), fileName, &conf)
	require.NoError(t, err)

	assert.Equal(t, "debug", *conf.Log.Level)
	assert.Equal(t, "http://localhost:8545", conf.Blockchain.URL)
	assert.Equal(t, "500ms", *conf.Blockchain.Confirmation.Interval)
	assert.Nil(t, conf.Blockchain.Confirmation.MaxAttempts)
	assert.Equal(t, "app1", conf.API.AppID)
	assert.Equal(t, "https://api.example.nahmii.io", conf.API.URL)
	assert.Equal(t, "ropsten", conf.Network)

	ropsten := conf.Networks["ropsten"]
	assert.Equal(t, int64(3), *ropsten.ChainID)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", ropsten.Contracts["DriipSettlementChallengeByPayment"].Address)
	assert.Empty(t, ropsten.Contracts["DriipSettlementChallengeByPayment"].ABI)
	assert.JSONEq(t, `[{"type":"function","name":"proposalNonce","inputs":[],"outputs":[{"type":"uint256"}]}]`,
		string(ropsten.Contracts["NullSettlementChallengeByPayment"].ABI))
}

func TestReadAndParseYAMLFileMissing(t *testing.T) {
	var conf Config
	err := ReadAndParseYAMLFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), &conf)
	assert.Regexp(t, "NM010001", err)
}

func TestReadAndParseYAMLFileBadYAML(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(fileName, []byte("log: [: bad"), 0644))
	var conf Config
	err := ReadAndParseYAMLFile(context.Background(), fileName, &conf)
	assert.Regexp(t, "NM010002", err)
}
