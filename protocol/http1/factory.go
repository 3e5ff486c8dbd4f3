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

package http1

import (
	"context"
	"fmt"

	"github.com/caiflower/httpcore/config"
	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/tools"
	"github.com/caiflower/httpcore/processor"
	"github.com/caiflower/httpcore/protocol/http1/buffer"
	"github.com/caiflower/httpcore/protocol/http1/entity"
	"github.com/caiflower/httpcore/protocol/http1/message"
)

// Config holds what client and server connections have in common. Every
// field left nil gets a default.
type Config struct {
	Options            *config.Options
	Processor          processor.Processor
	CharCoding         *buffer.CharCoding
	ReuseStrategy      ConnectionReuseStrategy
	IncomingStrategy   entity.ContentLengthStrategy
	OutgoingStrategy   entity.ContentLengthStrategy
	ConnectionListener ConnectionListener
	StreamListener     StreamListener
	Logger             logger.ILog
}

type ClientConfig struct {
	Config
	RequestWriterFactory  message.RequestWriterFactory
	ResponseParserFactory message.ResponseParserFactory

	// TargetHost is sent as Host when a request carries none. The remote
	// address is used when empty.
	TargetHost string
	// TLSStrategy secures sessions that implement network.TLSUpgradable.
	TLSStrategy network.TLSStrategy
}

type ServerConfig struct {
	Config
	Handler               Handler
	RequestParserFactory  message.RequestParserFactory
	ResponseWriterFactory message.ResponseWriterFactory
	TLSStrategy           network.TLSStrategy
}

// connConfig is the resolved configuration shared by the connections of a
// factory.
type connConfig struct {
	options     *config.Options
	constraints message.Constraints
	coding      *buffer.CharCoding
	processor   processor.Processor
	reuse       ConnectionReuseStrategy
	incoming    entity.ContentLengthStrategy
	outgoing    entity.ContentLengthStrategy
	notifier    notifier
	log         logger.ILog

	requestParser  message.RequestParserFactory
	responseParser message.ResponseParserFactory
	requestWriter  message.RequestWriterFactory
	responseWriter message.ResponseWriterFactory
	handler        Handler
}

func resolve(c Config, defaultProcessor func(*config.Options) processor.Processor) (*connConfig, error) {
	cc := &connConfig{
		options:   c.Options,
		coding:    c.CharCoding,
		processor: c.Processor,
		reuse:     c.ReuseStrategy,
		incoming:  c.IncomingStrategy,
		outgoing:  c.OutgoingStrategy,
		log:       c.Logger,
	}
	if cc.options == nil {
		cc.options = config.NewOptions()
	}
	opts := cc.options
	if cc.log == nil {
		cc.log = logger.DefaultLogger()
	}
	if cc.coding == nil {
		coding, err := buffer.NewCharCoding(buffer.CharCodingConfig{Charset: opts.Charset})
		if err != nil {
			return nil, fmt.Errorf("http1: %w", err)
		}
		cc.coding = coding
	}
	if cc.processor == nil {
		cc.processor = defaultProcessor(opts)
	}
	if cc.reuse == nil {
		cc.reuse = DefaultReuse
	}
	if cc.incoming == nil {
		cc.incoming = entity.Strict
		if opts.LaxIncomingContentLength {
			cc.incoming = entity.Lax
		}
	}
	if cc.outgoing == nil {
		cc.outgoing = entity.Strict
	}
	cc.constraints = message.Constraints{
		MaxHeaderCount:  opts.MaxHeaderCount,
		MaxLineLength:   opts.MaxLineLength,
		MaxGarbageLines: opts.MaxGarbageLines,
		MaxEmptyLines:   opts.MaxEmptyLines,
	}

	cc.notifier = notifier{conn: c.ConnectionListener, stream: c.StreamListener, log: cc.log}
	if cc.notifier.conn == nil {
		cc.notifier.conn = NopConnectionListener
	}
	if cc.notifier.stream == nil {
		cc.notifier.stream = NopStreamListener
	}
	return cc, nil
}

// ClientFactory creates client connections over sessions.
type ClientFactory struct {
	cfg        *connConfig
	targetHost string
	tls        network.TLSStrategy
}

func NewClientFactory(c ClientConfig) (*ClientFactory, error) {
	cc, err := resolve(c.Config, func(o *config.Options) processor.Processor {
		return processor.NewClient(o.UserAgent)
	})
	if err != nil {
		return nil, err
	}
	cc.requestWriter = c.RequestWriterFactory
	if cc.requestWriter == nil {
		cc.requestWriter = message.DefaultRequestWriterFactory
	}
	cc.responseParser = c.ResponseParserFactory
	if cc.responseParser == nil {
		cc.responseParser = message.DefaultResponseParserFactory
	}
	return &ClientFactory{cfg: cc, targetHost: c.TargetHost, tls: c.TLSStrategy}, nil
}

// Create returns the client connection for s. The TLS handshake, if any,
// completes before it returns.
func (f *ClientFactory) Create(ctx context.Context, s network.Session) (*Duplexer, error) {
	secure, err := f.cfg.upgrade(ctx, f.tls, s)
	if err != nil {
		return nil, err
	}
	d := newDuplexer(tools.GenerateId("conn"), clientRole, s, f.cfg, secure)
	d.pctx.TargetHost = f.targetHost
	return d, nil
}

func (f *ClientFactory) CreateHandler(s network.Session) (network.EventHandler, error) {
	return f.Create(context.Background(), s)
}

// ServerFactory creates server connections for accepted sessions.
type ServerFactory struct {
	cfg *connConfig
	tls network.TLSStrategy
}

func NewServerFactory(c ServerConfig) (*ServerFactory, error) {
	cc, err := resolve(c.Config, func(o *config.Options) processor.Processor {
		return processor.NewServer(o.ServerName)
	})
	if err != nil {
		return nil, err
	}
	cc.handler = c.Handler
	if cc.handler == nil {
		cc.handler = NotFoundHandler
	}
	cc.requestParser = c.RequestParserFactory
	if cc.requestParser == nil {
		cc.requestParser = message.DefaultRequestParserFactory
	}
	cc.responseWriter = c.ResponseWriterFactory
	if cc.responseWriter == nil {
		cc.responseWriter = message.DefaultResponseWriterFactory
	}
	return &ServerFactory{cfg: cc, tls: c.TLSStrategy}, nil
}

// CreateHandler secures s when a TLS strategy is configured and returns the
// connection serving it. No connection exists if the handshake fails.
func (f *ServerFactory) CreateHandler(s network.Session) (network.EventHandler, error) {
	ctx := context.Background()
	if t := f.cfg.options.TLSHandshake; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	secure, err := f.cfg.upgrade(ctx, f.tls, s)
	if err != nil {
		f.cfg.log.Warn("tls handshake with %s failed: %s", s.RemoteAddr(), err.Error())
		return nil, err
	}
	return newDuplexer(tools.GenerateId("conn"), serverRole, s, f.cfg, secure), nil
}

// upgrade secures s with strategy. A session that cannot be upgraded stays
// plain unless the options require TLS.
func (c *connConfig) upgrade(ctx context.Context, strategy network.TLSStrategy, s network.Session) (bool, error) {
	if strategy == nil {
		return false, nil
	}
	up, ok := s.(network.TLSUpgradable)
	if !ok {
		if c.options.RequireTLS {
			return false, network.ErrTLSUnsupported
		}
		c.log.Warn("session with %s cannot be upgraded to tls, continue in plain text", s.RemoteAddr())
		return false, nil
	}
	if err := strategy.Upgrade(ctx, up, s.LocalAddr(), s.RemoteAddr()); err != nil {
		return false, err
	}
	return true, nil
}
