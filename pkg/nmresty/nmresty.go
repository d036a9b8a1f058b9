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

// Package nmresty builds resty clients from HTTPClientConfig, with per-request
// log correlation and optional retry.
package nmresty

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type requestCtxKey struct{}

type requestInfo struct {
	id       string
	start    time.Time
	attempts int
}

func New(ctx context.Context, conf *nahmiiconf.HTTPClientConfig) (*resty.Client, error) {
	defs := nahmiiconf.DefaultHTTPConfig
	u, err := url.Parse(conf.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, i18n.WrapError(ctx, err, msgs.MsgRPCClientInvalidHTTPURL, conf.URL)
	}

	connTimeout := confutil.DurationMin(conf.ConnectionTimeout, 0, *defs.ConnectionTimeout)
	client := resty.NewWithClient(&http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   connTimeout,
				KeepAlive: connTimeout,
			}).DialContext,
			ForceAttemptHTTP2: true,
		},
	})
	baseURL := strings.TrimSuffix(conf.URL, "/")
	client.SetBaseURL(baseURL)
	client.SetTimeout(confutil.DurationMin(conf.RequestTimeout, 0, *defs.RequestTimeout))
	log.L(ctx).Debugf("Created REST client to %s", baseURL)

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		rCtx := req.Context()
		if rCtx.Value(requestCtxKey{}) == nil {
			ri := &requestInfo{id: uuid.NewString()[0:8], start: time.Now()}
			rCtx = context.WithValue(rCtx, requestCtxKey{}, ri)
			rCtx = log.WithLogField(rCtx, "breq", ri.id)
			req.SetContext(rCtx)
		}
		log.L(rCtx).Debugf("==> %s %s%s", req.Method, baseURL, req.URL)
		if log.IsTraceEnabled() {
			log.L(rCtx).Tracef("==> (body) %+v", req.Body)
		}
		return nil
	})
	if rps := confutil.Float64Min(conf.RateLimit.RequestsPerSecond, 0, 0); rps > 0 {
		limiter := rate.NewLimiter(rate.Limit(rps), confutil.IntMin(conf.RateLimit.Burst, 1, *defs.RateLimit.Burst))
		client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})
	}
	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		rCtx := resp.Request.Context()
		level := logrus.DebugLevel
		if resp.StatusCode() >= 300 {
			level = logrus.ErrorLevel
		}
		var elapsed int64
		if ri, ok := rCtx.Value(requestCtxKey{}).(*requestInfo); ok {
			elapsed = time.Since(ri.start).Milliseconds()
		}
		log.L(rCtx).Logf(level, "<== %s %s [%d] (%dms)", resp.Request.Method, resp.Request.URL, resp.StatusCode(), elapsed)
		return nil
	})

	for k, v := range conf.HTTPHeaders {
		if vs, ok := v.(string); ok {
			client.SetHeader(k, vs)
		}
	}
	if conf.Auth.Username != "" && conf.Auth.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", conf.Auth.Username, conf.Auth.Password)))
		client.SetHeader("Authorization", "Basic "+creds)
	}

	if conf.Retry.Enabled {
		var retryStatus *regexp.Regexp
		if conf.Retry.ErrorStatusCodes != "" {
			retryStatus, err = regexp.Compile(conf.Retry.ErrorStatusCodes)
			if err != nil {
				return nil, err
			}
		}
		retryCount := confutil.IntMin(conf.Retry.Count, 0, *defs.Retry.Count)
		client.
			SetRetryCount(retryCount).
			SetRetryWaitTime(confutil.DurationMin(conf.Retry.InitialDelay, 0, *defs.Retry.InitialDelay)).
			SetRetryMaxWaitTime(confutil.DurationMin(conf.Retry.MaximumDelay, 0, *defs.Retry.MaximumDelay)).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil || r.IsSuccess() {
					return false
				}
				if r.StatusCode() > 0 && retryStatus != nil && !retryStatus.MatchString(r.Status()) {
					return false
				}
				rCtx := r.Request.Context()
				if ri, ok := rCtx.Value(requestCtxKey{}).(*requestInfo); ok {
					ri.attempts++
					log.L(rCtx).Infof("retry %d/%d status=%d", ri.attempts, retryCount, r.StatusCode())
				}
				return true
			})
	}

	return client, nil
}

// WrapRestErr builds an error from a failed response, including a truncated copy
// of the response body.
func WrapRestErr(ctx context.Context, res *resty.Response, err error, key i18n.ErrorMessageKey) error {
	var respData string
	if res != nil {
		if res.RawBody() != nil {
			defer func() { _ = res.RawBody().Close() }()
			if r, readErr := io.ReadAll(res.RawBody()); readErr == nil {
				respData = string(r)
			}
		}
		if respData == "" {
			respData = res.String()
		}
		if len(respData) > 256 {
			respData = respData[0:256] + "..."
		}
	}
	if err != nil {
		return i18n.WrapError(ctx, err, key, respData)
	}
	return i18n.NewError(ctx, key, respData)
}
