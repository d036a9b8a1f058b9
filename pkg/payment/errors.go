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

package payment

import (
	"context"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

// NoSignerError is returned when signing without a bound wallet.
type NoSignerError struct {
	err error
}

func (e *NoSignerError) Error() string {
	return e.err.Error()
}

func (e *NoSignerError) Unwrap() error {
	return e.err
}

// NoProviderError is returned when registering without a bound API.
type NoProviderError struct {
	err error
}

func NewNoProviderError(ctx context.Context, subject string) error {
	return &NoProviderError{err: i18n.NewError(ctx, msgs.MsgNoProvider, subject)}
}

func (e *NoProviderError) Error() string {
	return e.err.Error()
}

func (e *NoProviderError) Unwrap() error {
	return e.err
}
