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

// Package nahmiiapi is a client for the operator REST API: the receipts feed,
// payment registration and effectuation.
package nahmiiapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	cacheimpl "github.com/Code-Hex/go-generics-cache"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiitypes"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nmresty"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/receipt"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
)

const tokenCacheKey = "apptoken"

// ReceiptQuery pages through a wallet's receipts. FromNonce bounds the page
// inclusively: nonces at or above it when Ascending, at or below it otherwise.
type ReceiptQuery struct {
	FromNonce *uint64
	Limit     int
	Ascending bool
}

type Client interface {
	GetWalletReceipts(ctx context.Context, wallet ethtypes.Address0xHex, q *ReceiptQuery) ([]*receipt.Receipt, error)
	RegisterPayment(ctx context.Context, payment json.RawMessage) error
	EffectuatePayment(ctx context.Context, receiptJSON json.RawMessage) error
	OperatorAddress(ctx context.Context) (*ethtypes.Address0xHex, error)
}

type client struct {
	rest      *resty.Client
	appID     string
	appSecret string
	grace     time.Duration
	pageSize  int

	tokenLock sync.Mutex
	tokens    *cacheimpl.Cache[string, string]
}

type appTokenRequest struct {
	AppID  string `json:"appid"`
	Secret string `json:"secret"`
}

type appTokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type clusterInfo struct {
	Ethereum struct {
		OperatorAddress string `json:"operatorAddress"`
		Net             string `json:"net"`
	} `json:"ethereum"`
}

func NewClient(ctx context.Context, conf *nahmiiconf.APIClientConfig) (Client, error) {
	if conf.AppID == "" || conf.AppSecret == "" {
		return nil, i18n.NewError(ctx, msgs.MsgAPIMissingAppCreds)
	}
	rest, err := nmresty.New(ctx, &conf.HTTPClientConfig)
	if err != nil {
		return nil, err
	}
	return WrapRestyClient(rest, conf), nil
}

func WrapRestyClient(rest *resty.Client, conf *nahmiiconf.APIClientConfig) Client {
	defs := nahmiiconf.APIClientDefaults
	return &client{
		rest:      rest,
		appID:     conf.AppID,
		appSecret: conf.AppSecret,
		grace:     confutil.DurationMin(conf.TokenExpiryGrace, 0, *defs.TokenExpiryGrace),
		pageSize:  confutil.IntMin(conf.ReceiptPageSize, 1, *defs.ReceiptPageSize),
		tokens:    cacheimpl.New[string, string](),
	}
}

// accessToken returns the cached app token, or requests a new one. Tokens are
// cached until their exp claim less the configured grace period.
func (c *client) accessToken(ctx context.Context) (string, error) {
	c.tokenLock.Lock()
	defer c.tokenLock.Unlock()
	if token, ok := c.tokens.Get(tokenCacheKey); ok {
		return token, nil
	}

	var tokenRes appTokenResponse
	res, err := c.rest.R().
		SetContext(ctx).
		SetBody(&appTokenRequest{AppID: c.appID, Secret: c.appSecret}).
		SetResult(&tokenRes).
		Post("/identity/apptoken")
	if err != nil || res.IsError() {
		return "", nmresty.WrapRestErr(ctx, res, err, msgs.MsgAPIAuthFailed)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenRes.AccessToken, claims); err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgAPITokenInvalid)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return "", i18n.WrapError(ctx, err, msgs.MsgAPITokenInvalid)
	}
	if exp != nil {
		if ttl := time.Until(exp.Time) - c.grace; ttl > 0 {
			c.tokens.Set(tokenCacheKey, tokenRes.AccessToken, cacheimpl.WithExpiration(ttl))
		}
		log.L(ctx).Debugf("Obtained API access token expiring at %s", exp.Time)
	}
	return tokenRes.AccessToken, nil
}

func (c *client) authorized(ctx context.Context) (*resty.Request, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.rest.R().SetContext(ctx).SetAuthToken(token), nil
}

func (c *client) invalidateOnAuthFailure(res *resty.Response) {
	if res != nil && res.StatusCode() == http.StatusUnauthorized {
		c.tokens.Delete(tokenCacheKey)
	}
}

// GetWalletReceipts returns the wallet's receipts. Receipts that fail to parse are
// skipped with a warning, as the feed can carry receipts in older formats.
func (c *client) GetWalletReceipts(ctx context.Context, wallet ethtypes.Address0xHex, q *ReceiptQuery) ([]*receipt.Receipt, error) {
	if q == nil {
		q = &ReceiptQuery{}
	}
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = c.pageSize
	}
	req.SetQueryParam("limit", strconv.Itoa(limit))
	if q.FromNonce != nil {
		req.SetQueryParam("fromNonce", strconv.FormatUint(*q.FromNonce, 10))
	}
	if q.Ascending {
		req.SetQueryParam("asc", "true")
	}

	var raw []json.RawMessage
	res, err := req.
		SetPathParam("wallet", wallet.String()).
		SetResult(&raw).
		Get("/trading/wallets/{wallet}/receipts")
	if err != nil || res.IsError() {
		c.invalidateOnAuthFailure(res)
		return nil, nmresty.WrapRestErr(ctx, res, err, msgs.MsgAPIRequestFailed)
	}

	receipts := make([]*receipt.Receipt, 0, len(raw))
	for i, b := range raw {
		r, err := receipt.FromJSON(ctx, b, receipt.WithEffectuator(c))
		if err != nil {
			log.L(ctx).Warnf("Skipping receipt %d for wallet %s: %s", i, wallet, err)
			continue
		}
		receipts = append(receipts, r)
	}
	log.L(ctx).Debugf("Fetched %d receipts for wallet %s", len(receipts), wallet)
	return receipts, nil
}

func (c *client) post(ctx context.Context, path string, body json.RawMessage) error {
	req, err := c.authorized(ctx)
	if err != nil {
		return err
	}
	res, err := req.
		SetHeader("Content-Type", "application/json").
		SetBody([]byte(body)).
		Post(path)
	if err != nil || res.IsError() {
		c.invalidateOnAuthFailure(res)
		return nmresty.WrapRestErr(ctx, res, err, msgs.MsgAPIRequestFailed)
	}
	return nil
}

func (c *client) RegisterPayment(ctx context.Context, payment json.RawMessage) error {
	return c.post(ctx, "/trading/payments", payment)
}

func (c *client) EffectuatePayment(ctx context.Context, receiptJSON json.RawMessage) error {
	return c.post(ctx, "/trading/receipts", receiptJSON)
}

func (c *client) OperatorAddress(ctx context.Context) (*ethtypes.Address0xHex, error) {
	req, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}
	var info clusterInfo
	res, err := req.SetResult(&info).Get("/")
	if err != nil || res.IsError() {
		c.invalidateOnAuthFailure(res)
		return nil, nmresty.WrapRestErr(ctx, res, err, msgs.MsgAPIRequestFailed)
	}
	return nahmiitypes.ParseAddress(ctx, info.Ethereum.OperatorAddress)
}
