//go:build !windows

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

// Package netpoll runs event handlers on cloudwego/netpoll connections.
// Input is drained from the poller as soon as it arrives and kept until the
// handler reads it; writes are flushed immediately.
package netpoll

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caiflower/httpcore/config"
	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/e"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/safego"
	"github.com/cloudwego/netpoll"
)

type sessionKey struct{}

// Session adapts a netpoll.Connection to network.Session.
type Session struct {
	conn netpoll.Connection

	mu      sync.Mutex
	inbound []byte
	eof     bool

	events  sync.Mutex
	handler network.EventHandler
	gone    int32
}

func newSession(conn netpoll.Connection) *Session {
	return &Session{conn: conn}
}

func (s *Session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		if s.eof {
			return 0, io.EOF
		}
		return 0, network.ErrWouldBlock
	}
	n := copy(p, s.inbound)
	s.inbound = s.inbound[:copy(s.inbound, s.inbound[n:])]
	return n, nil
}

func (s *Session) Write(p []byte) (int, error) {
	w := s.conn.Writer()
	if _, err := w.WriteBinary(p); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Session) SetReadTimeout(d time.Duration) error {
	return s.conn.SetReadTimeout(d)
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// drain moves everything the poller holds for the connection into the
// session and tells the handler.
func (s *Session) drain() error {
	r := s.conn.Reader()
	if n := r.Len(); n > 0 {
		b, err := r.Next(n)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.inbound = append(s.inbound, b...)
		s.mu.Unlock()
		if err = r.Release(); err != nil {
			return err
		}
	}
	return s.dispatch(func(h network.EventHandler) error { return h.InputReady() })
}

func (s *Session) dispatch(event func(h network.EventHandler) error) error {
	s.events.Lock()
	defer s.events.Unlock()
	if s.handler == nil {
		return nil
	}
	defer e.OnError("netpoll event")
	if err := event(s.handler); err != nil {
		s.handler.Exception(err)
		_ = s.conn.Close()
		return err
	}
	return nil
}

func (s *Session) closed(netpoll.Connection) error {
	if !atomic.CompareAndSwapInt32(&s.gone, 0, 1) {
		return nil
	}
	s.mu.Lock()
	s.eof = true
	s.mu.Unlock()
	// the callback may run on the goroutine that closed the connection
	safego.Go(func() {
		_ = s.dispatch(func(h network.EventHandler) error {
			_ = h.InputReady()
			h.Disconnected()
			return nil
		})
	})
	return nil
}

func (s *Session) bind(h network.EventHandler) error {
	s.events.Lock()
	s.handler = h
	s.events.Unlock()
	if err := s.conn.AddCloseCallback(s.closed); err != nil {
		return err
	}
	return s.dispatch(func(h network.EventHandler) error { return h.Connected() })
}

// Server serves handlers created by a factory on a netpoll event loop.
type Server struct {
	options  *config.Options
	factory  network.HandlerFactory
	logger   logger.ILog
	listener netpoll.Listener
	loop     netpoll.EventLoop
	sessions int64
}

func NewServer(options *config.Options, factory network.HandlerFactory, log logger.ILog) *Server {
	if options == nil {
		options = config.NewOptions()
	}
	if log == nil {
		log = logger.DefaultLogger()
	}
	return &Server{options: options, factory: factory, logger: log}
}

func (s *Server) Open() error {
	listener, err := netpoll.CreateListener(s.options.Network, s.options.Addr)
	if err != nil {
		s.logger.Error("[netpoll] listen on %s failed: %s", s.options.Addr, err.Error())
		return err
	}
	loop, err := netpoll.NewEventLoop(
		s.onRequest,
		netpoll.WithOnConnect(s.onConnect),
		netpoll.WithReadTimeout(s.options.ReadTimeout),
		netpoll.WithWriteTimeout(s.options.WriteTimeout),
		netpoll.WithIdleTimeout(s.options.IdleTimeout),
	)
	if err != nil {
		_ = listener.Close()
		return err
	}
	s.listener, s.loop = listener, loop
	s.logger.Info("[netpoll] %s listening on %s", s.options.Name, listener.Addr())

	go func() {
		if err := loop.Serve(listener); err != nil {
			s.logger.Warn("[netpoll] event loop stopped: %s", err.Error())
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) GetSessionCount() int {
	return int(atomic.LoadInt64(&s.sessions))
}

func (s *Server) Close() {
	if s.loop == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.loop.Shutdown(ctx); err != nil {
		s.logger.Warn("[netpoll] shutdown: %s", err.Error())
	}
}

func (s *Server) onConnect(ctx context.Context, conn netpoll.Connection) context.Context {
	session := newSession(conn)
	handler, err := s.factory.CreateHandler(session)
	if err != nil {
		s.logger.Warn("[netpoll] rejected %s: %s", conn.RemoteAddr(), err.Error())
		_ = conn.Close()
		return ctx
	}
	atomic.AddInt64(&s.sessions, 1)
	_ = conn.AddCloseCallback(func(netpoll.Connection) error {
		atomic.AddInt64(&s.sessions, -1)
		return nil
	})
	if err = session.bind(handler); err != nil {
		_ = conn.Close()
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, session)
}

func (s *Server) onRequest(ctx context.Context, conn netpoll.Connection) error {
	session, ok := ctx.Value(sessionKey{}).(*Session)
	if !ok {
		return conn.Close()
	}
	return session.drain()
}

// Dial connects to the address in options and starts the handler the
// factory creates for the connection.
func Dial(options *config.Options, factory network.HandlerFactory) (network.EventHandler, error) {
	if options == nil {
		options = config.NewOptions()
	}
	conn, err := netpoll.DialConnection(options.Network, options.Addr, options.ReadTimeout)
	if err != nil {
		return nil, err
	}
	session := newSession(conn)
	handler, err := factory.CreateHandler(session)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err = conn.SetOnRequest(func(context.Context, netpoll.Connection) error {
		return session.drain()
	}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err = session.bind(handler); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// input that arrived before the callback was set
	_ = session.drain()
	return handler, nil
}
