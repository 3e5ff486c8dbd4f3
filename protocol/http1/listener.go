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
	"net"

	"github.com/caiflower/httpcore/pkg/e"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/protocol"
)

// ConnInfo describes a connection to listeners.
type ConnInfo interface {
	ID() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Metrics() *Metrics
}

// ConnectionListener observes connection life cycle events. Listeners must
// not call back into the connection.
type ConnectionListener interface {
	OnConnect(c ConnInfo)
	OnDisconnect(c ConnInfo)
	OnError(c ConnInfo, err error)
}

// StreamListener observes message heads and completed exchanges.
type StreamListener interface {
	OnRequestHead(c ConnInfo, req *protocol.Request)
	OnResponseHead(c ConnInfo, resp *protocol.Response)
	OnExchangeComplete(c ConnInfo, req *protocol.Request, resp *protocol.Response, keepAlive bool)
}

type nopConnectionListener struct{}

func (nopConnectionListener) OnConnect(ConnInfo)      {}
func (nopConnectionListener) OnDisconnect(ConnInfo)   {}
func (nopConnectionListener) OnError(ConnInfo, error) {}

type nopStreamListener struct{}

func (nopStreamListener) OnRequestHead(ConnInfo, *protocol.Request)   {}
func (nopStreamListener) OnResponseHead(ConnInfo, *protocol.Response) {}
func (nopStreamListener) OnExchangeComplete(ConnInfo, *protocol.Request, *protocol.Response, bool) {
}

var (
	NopConnectionListener ConnectionListener = nopConnectionListener{}
	NopStreamListener     StreamListener     = nopStreamListener{}
)

// ConnectionListeners fans events out to several listeners.
type ConnectionListeners []ConnectionListener

func (ls ConnectionListeners) OnConnect(c ConnInfo) {
	for _, l := range ls {
		l.OnConnect(c)
	}
}

func (ls ConnectionListeners) OnDisconnect(c ConnInfo) {
	for _, l := range ls {
		l.OnDisconnect(c)
	}
}

func (ls ConnectionListeners) OnError(c ConnInfo, err error) {
	for _, l := range ls {
		l.OnError(c, err)
	}
}

type StreamListeners []StreamListener

func (ls StreamListeners) OnRequestHead(c ConnInfo, req *protocol.Request) {
	for _, l := range ls {
		l.OnRequestHead(c, req)
	}
}

func (ls StreamListeners) OnResponseHead(c ConnInfo, resp *protocol.Response) {
	for _, l := range ls {
		l.OnResponseHead(c, resp)
	}
}

func (ls StreamListeners) OnExchangeComplete(c ConnInfo, req *protocol.Request, resp *protocol.Response, keepAlive bool) {
	for _, l := range ls {
		l.OnExchangeComplete(c, req, resp, keepAlive)
	}
}

// notifier shields the connection from listener panics.
type notifier struct {
	conn   ConnectionListener
	stream StreamListener
	log    logger.ILog
}

func (n notifier) guard(event string) func(r interface{}) {
	return func(r interface{}) {
		n.log.Error("%s listener panicked: %v", event, r)
	}
}

func (n notifier) connected(c ConnInfo) {
	defer e.OnErrorFunc(n.guard("connect"))
	n.conn.OnConnect(c)
}

func (n notifier) disconnected(c ConnInfo) {
	defer e.OnErrorFunc(n.guard("disconnect"))
	n.conn.OnDisconnect(c)
}

func (n notifier) failed(c ConnInfo, err error) {
	defer e.OnErrorFunc(n.guard("error"))
	n.conn.OnError(c, err)
}

func (n notifier) requestHead(c ConnInfo, req *protocol.Request) {
	defer e.OnErrorFunc(n.guard("request head"))
	n.stream.OnRequestHead(c, req)
}

func (n notifier) responseHead(c ConnInfo, resp *protocol.Response) {
	defer e.OnErrorFunc(n.guard("response head"))
	n.stream.OnResponseHead(c, resp)
}

func (n notifier) exchangeComplete(c ConnInfo, req *protocol.Request, resp *protocol.Response, keepAlive bool) {
	defer e.OnErrorFunc(n.guard("exchange complete"))
	n.stream.OnExchangeComplete(c, req, resp, keepAlive)
}
