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
	"net/http"

	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
)

type MetricsServerConfig struct {
	Enabled *bool   `json:"enabled"`
	Address *string `json:"address"`
	// how long to wait for in-flight scrapes on stop
	ShutdownTimeout *string    `json:"shutdownTimeout"`
	CORS            CORSConfig `json:"cors"`
}

type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	Debug            bool     `json:"debug"`
	AllowCredentials *bool    `json:"allowCredentials"`
	AllowedHeaders   []string `json:"allowedHeaders"`
	AllowedMethods   []string `json:"allowedMethods"`
	AllowedOrigins   []string `json:"allowedOrigins"`
	MaxAge           *string  `json:"maxAge"`
}

var MetricsServerDefaults = &MetricsServerConfig{
	Enabled:         confutil.P(false),
	Address:         confutil.P("127.0.0.1:9100"),
	ShutdownTimeout: confutil.P("5s"),
}

var CORSDefaults = &CORSConfig{
	AllowCredentials: confutil.P(false),
	AllowedMethods:   []string{http.MethodHead, http.MethodGet},
	AllowedHeaders:   []string{},
	AllowedOrigins:   []string{"*"},
	MaxAge:           confutil.P("0s"),
}
