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

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"sigs.k8s.io/yaml"
)

type Config struct {
	Log        LogConfig                `json:"log"`
	Blockchain EthClientConfig          `json:"blockchain"`
	API        APIClientConfig          `json:"api"`
	Wallet     WalletConfig             `json:"wallet"`
	Settlement SettlementConfig         `json:"settlement"`
	Metrics    MetricsServerConfig      `json:"metrics"`
	Network    string                   `json:"network"`
	Networks   map[string]NetworkConfig `json:"networks"`
}

func ReadAndParseYAMLFile(ctx context.Context, filePath string, config interface{}) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return i18n.NewError(ctx, msgs.MsgConfigFileMissing, filePath)
	}
	data, err := os.ReadFile(filePath)
	if err == nil {
		err = yaml.Unmarshal(data, config)
	}
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgConfigFileInvalid, filePath)
	}
	return nil
}
