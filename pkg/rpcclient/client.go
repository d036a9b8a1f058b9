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

package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nmresty"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type RPCCode int64

const (
	RPCCodeParseError     RPCCode = -32700
	RPCCodeInvalidRequest RPCCode = -32600
	RPCCodeInternalError  RPCCode = -32603
	// returned by geth and most other nodes for a reverted eth_call
	RPCCodeExecutionError RPCCode = 3
)

type ErrorRPC interface {
	error
	RPCError() *RPCError
}

type Client interface {
	CallRPC(ctx context.Context, result interface{}, method string, params ...interface{}) ErrorRPC
}

type RPCRequest struct {
	JSONRpc string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

type RPCError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return e.Message
}

func (e *RPCError) RPCError() *RPCError {
	return e
}

type RPCResponse struct {
	JSONRpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type rpcClient struct {
	client         *resty.Client
	requestCounter int64
}

func NewHTTPClient(ctx context.Context, conf *nahmiiconf.HTTPClientConfig) (Client, error) {
	rc, err := nmresty.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return WrapRestyClient(rc), nil
}

func WrapRestyClient(rc *resty.Client) Client {
	return &rpcClient{client: rc}
}

func NewRPCError(ctx context.Context, code RPCCode, msg i18n.ErrorMessageKey, inserts ...interface{}) *RPCError {
	return &RPCError{Code: int64(code), Message: i18n.NewError(ctx, msg, inserts...).Error()}
}

func (rc *rpcClient) CallRPC(ctx context.Context, result interface{}, method string, params ...interface{}) ErrorRPC {
	req := &RPCRequest{
		JSONRpc: "2.0",
		Method:  method,
		Params:  make([]json.RawMessage, len(params)),
	}
	for i, param := range params {
		b, err := json.Marshal(param)
		if err != nil {
			return NewRPCError(ctx, RPCCodeInvalidRequest, msgs.MsgRPCClientInvalidParam, i, method, err)
		}
		req.Params[i] = b
	}
	reqID := fmt.Sprintf(`%.9d`, atomic.AddInt64(&rc.requestCounter, 1))
	req.ID = json.RawMessage(`"` + reqID + `"`)

	log.L(ctx).Debugf("RPC[%s] --> %s", reqID, method)
	start := time.Now()
	rpcRes := new(RPCResponse)
	res, err := rc.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(rpcRes).
		SetError(rpcRes).
		Post("")
	if err != nil {
		log.L(ctx).Errorf("RPC[%s] <-- ERROR: %s", reqID, err)
		return NewRPCError(ctx, RPCCodeInternalError, msgs.MsgRPCClientRequestFailed, err)
	}
	// JSON/RPC errors can arrive with a 200 status code as well as an error status
	if rpcRes.Error != nil && rpcRes.Error.Code != 0 {
		log.L(ctx).Errorf("RPC[%s] <-- [%d]: %s", reqID, res.StatusCode(), rpcRes.Error.Message)
		return rpcRes.Error
	}
	if res.IsError() {
		log.L(ctx).Errorf("RPC[%s] <-- [%d]: %s", reqID, res.StatusCode(), res.Body())
		return NewRPCError(ctx, RPCCodeInternalError, msgs.MsgRPCClientRequestFailed, res.Status())
	}
	log.L(ctx).Debugf("RPC[%s] <-- %s [%d] OK (%.2fms)", reqID, method, res.StatusCode(), log.Since(start))
	if result != nil && len(rpcRes.Result) > 0 {
		if err := json.Unmarshal(rpcRes.Result, result); err != nil {
			return NewRPCError(ctx, RPCCodeParseError, msgs.MsgRPCClientResultParseFailed, result, err)
		}
	}
	return nil
}
