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

package metricsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hubiinetwork/nahmii-sdk-go/internal/msgs"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/confutil"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/log"
	"github.com/hubiinetwork/nahmii-sdk-go/pkg/nahmiiconf"
	"github.com/gorilla/mux"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type MetricsServer interface {
	Start() error
	Stop()
	// Addr is the bound address once started, or empty
	Addr() string
}

func NewMetricsServer(ctx context.Context, registry *prometheus.Registry, conf *nahmiiconf.MetricsServerConfig) MetricsServer {
	defs := nahmiiconf.MetricsServerDefaults
	s := &metricsServer{
		bgCtx:           ctx,
		address:         confutil.StringNotEmpty(conf.Address, *defs.Address),
		shutdownTimeout: confutil.DurationMin(conf.ShutdownTimeout, 0, *defs.ShutdownTimeout),
	}
	if confutil.Bool(conf.Enabled, *defs.Enabled) {
		r := mux.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet, http.MethodHead)
		s.httpServer = &http.Server{
			Handler:           wrapCorsIfEnabled(ctx, r, &conf.CORS),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s
}

var _ MetricsServer = &metricsServer{}

type metricsServer struct {
	bgCtx           context.Context
	address         string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	listener        net.Listener
	done            chan struct{}
	stopOnce        sync.Once
}

func (s *metricsServer) Start() error {
	if s.httpServer == nil {
		return nil
	}
	l, err := net.Listen("tcp", s.address)
	if err != nil {
		return i18n.WrapError(s.bgCtx, err, msgs.MsgMetricsListenFailed, s.address)
	}
	s.listener = l
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.L(s.bgCtx).Errorf("Metrics server stopped: %s", err)
		}
	}()
	log.L(s.bgCtx).Infof("Metrics server listening on http://%s/metrics", l.Addr())
	return nil
}

func (s *metricsServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *metricsServer) Stop() {
	if s.listener == nil {
		return
	}
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(s.bgCtx, s.shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.L(s.bgCtx).Warnf("Metrics server shutdown: %s", err)
		}
		<-s.done
	})
}

func wrapCorsIfEnabled(ctx context.Context, chain http.Handler, conf *nahmiiconf.CORSConfig) http.Handler {
	if !conf.Enabled {
		return chain
	}
	defs := nahmiiconf.CORSDefaults
	corsOptions := cors.Options{
		AllowedOrigins:   confutil.StringSlice(conf.AllowedOrigins, defs.AllowedOrigins),
		AllowedMethods:   confutil.StringSlice(conf.AllowedMethods, defs.AllowedMethods),
		AllowedHeaders:   confutil.StringSlice(conf.AllowedHeaders, defs.AllowedHeaders),
		AllowCredentials: confutil.Bool(conf.AllowCredentials, *defs.AllowCredentials),
		MaxAge:           int(confutil.DurationMin(conf.MaxAge, 0, *defs.MaxAge).Seconds()),
		Debug:            conf.Debug,
	}
	log.L(ctx).Debugf("CORS origins=%v methods=%v headers=%v creds=%t maxAge=%ds",
		corsOptions.AllowedOrigins,
		corsOptions.AllowedMethods,
		corsOptions.AllowedHeaders,
		corsOptions.AllowCredentials,
		corsOptions.MaxAge,
	)
	return cors.New(corsOptions).Handler(chain)
}
