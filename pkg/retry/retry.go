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

package retry

import (
	"context"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type Retry struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	maxAttempts  int
}

func NewRetryLimited(conf *nahmiiconf.RetryConfigWithMax, defaults ...*nahmiiconf.RetryConfigWithMax) *Retry {
	def := nahmiiconf.GenericRetryDefaults
	if len(defaults) > 0 {
		def = defaults[0]
	}
	return &Retry{
		initialDelay: confutil.DurationMin(conf.InitialDelay, 0, *def.InitialDelay),
		maxDelay:     confutil.DurationMin(conf.MaxDelay, 0, *def.MaxDelay),
		factor:       confutil.Float64Min(conf.Factor, 1.0, *def.Factor),
		maxAttempts:  confutil.IntMin(conf.MaxAttempts, 0, *def.MaxAttempts),
	}
}

// NewFixedInterval polls at a constant interval, up to maxAttempts (zero for unlimited).
func NewFixedInterval(interval time.Duration, maxAttempts int) *Retry {
	return &Retry{
		initialDelay: interval,
		maxDelay:     interval,
		factor:       1.0,
		maxAttempts:  maxAttempts,
	}
}

func (r *Retry) MaxAttempts() int {
	return r.maxAttempts
}

// Do invokes the function until it succeeds, reports the error as not retryable,
// or the attempts are exhausted. The final error is returned.
func (r *Retry) Do(ctx context.Context, do func(attempt int) (retryable bool, err error)) error {
	for attempt := 1; ; attempt++ {
		retryable, err := do(attempt)
		if err == nil || !retryable {
			return err
		}
		log.L(ctx).Debugf("%s (attempt=%d)", err, attempt)
		if r.maxAttempts > 0 && attempt >= r.maxAttempts {
			return err
		}
		if err := r.WaitDelay(ctx, attempt); err != nil {
			return err
		}
	}
}

func (r *Retry) WaitDelay(ctx context.Context, failureCount int) error {
	if failureCount <= 0 {
		return nil
	}
	delay := r.initialDelay
	for i := 1; i < failureCount && delay < r.maxDelay; i++ {
		delay = time.Duration(float64(delay) * r.factor)
	}
	if delay > r.maxDelay {
		delay = r.maxDelay
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
}
