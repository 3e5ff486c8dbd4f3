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

package network

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// TLSStrategy secures a session before the first HTTP byte is exchanged.
type TLSStrategy interface {
	Upgrade(ctx context.Context, s TLSUpgradable, local, remote net.Addr) error
}

// ServerTLSStrategy performs a server side handshake. ConfigFor may pick a
// configuration per local or remote address; Config is used otherwise.
type ServerTLSStrategy struct {
	Config           *tls.Config
	ConfigFor        func(local, remote net.Addr) (*tls.Config, error)
	HandshakeTimeout time.Duration
}

func NewServerTLSStrategy(config *tls.Config) *ServerTLSStrategy {
	return &ServerTLSStrategy{Config: config, HandshakeTimeout: 10 * time.Second}
}

func (s *ServerTLSStrategy) Upgrade(ctx context.Context, session TLSUpgradable, local, remote net.Addr) error {
	config := s.Config
	if s.ConfigFor != nil {
		c, err := s.ConfigFor(local, remote)
		if err != nil {
			return err
		}
		if c != nil {
			config = c
		}
	}
	if s.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.HandshakeTimeout)
		defer cancel()
	}
	return session.StartTLS(ctx, config, true)
}

// ClientTLSStrategy performs a client side handshake.
type ClientTLSStrategy struct {
	Config           *tls.Config
	HandshakeTimeout time.Duration
}

func (s *ClientTLSStrategy) Upgrade(ctx context.Context, session TLSUpgradable, _, _ net.Addr) error {
	if s.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.HandshakeTimeout)
		defer cancel()
	}
	return session.StartTLS(ctx, s.Config, false)
}
