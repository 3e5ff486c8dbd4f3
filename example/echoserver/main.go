/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"crypto/tls"
	"flag"
	"time"

	"github.com/caiflower/httpcore/config"
	"github.com/caiflower/httpcore/global"
	"github.com/caiflower/httpcore/monitor"
	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/network/netx"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/protocol/http1"
	"github.com/caiflower/httpcore/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	configFile = flag.String("config", "", "yaml options file")
	certFile   = flag.String("cert", "", "TLS certificate file")
	keyFile    = flag.String("key", "", "TLS key file")
)

type daemon struct {
	*netx.Server
}

func (d daemon) Name() string { return "netx" }

func (d daemon) Start() error { return d.Open() }

func main() {
	flag.Parse()

	options := config.NewOptions()
	if *configFile != "" {
		var err error
		if options, err = config.LoadOptions(*configFile); err != nil {
			logger.Fatal("load %s failed. Error: %s", *configFile, err.Error())
			return
		}
	}
	logger.InitLogger(&options.Logger)

	registry := monitor.NewRegistry(options.Name, 10*time.Minute)
	prom := prometheus.NewRegistry()
	registry.MustRegister(prom)
	tracing := telemetry.NewTracingListener()

	var tlsStrategy network.TLSStrategy
	if *certFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			logger.Fatal("load certificate failed. Error: %s", err.Error())
			return
		}
		tlsStrategy = network.NewServerTLSStrategy(&tls.Config{Certificates: []tls.Certificate{cert}})
	}

	factory, err := http1.NewServerFactory(http1.ServerConfig{
		Config: http1.Config{
			Options:            options,
			ConnectionListener: http1.ConnectionListeners{registry, tracing},
			StreamListener:     http1.StreamListeners{registry, tracing},
			Logger:             logger.DefaultLogger(),
		},
		Handler:     &handler{gatherer: prom, conns: registry},
		TLSStrategy: tlsStrategy,
	})
	if err != nil {
		logger.Fatal("create server factory failed. Error: %s", err.Error())
		return
	}

	global.DefaultResourceManager.AddDaemon(daemon{netx.NewServer(options, factory)})
	if err = global.DefaultResourceManager.Signal(); err != nil {
		logger.Fatal("start failed. Error: %s", err.Error())
	}
}
