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

package netx

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	golocalv1 "github.com/caiflower/httpcore/pkg/golocal/v1"

	"github.com/caiflower/httpcore/config"
	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/limiter"
	"github.com/caiflower/httpcore/pkg/logger"
	"github.com/caiflower/httpcore/pkg/safego"
	"github.com/caiflower/httpcore/pkg/syncx"
)

type IServer interface {
	Open() error
	Close()
	GetSessionCount() int
}

// Server accepts TCP connections and hands each one to a handler created by
// the factory.
type Server struct {
	options        *config.Options
	factory        network.HandlerFactory
	buildSessionID int64
	lock           sync.Locker
	sessions       map[int64]*Session
	acceptor       net.Listener
	closed         int32
	logger         logger.ILog
	conns          limiter.Releaser
	accepts        limiter.Limiter
}

func NewServer(options *config.Options, factory network.HandlerFactory) *Server {
	return NewServerWithAllArgs(options, syncx.NewSpinLock(), logger.DefaultLogger(), factory)
}

func NewServerWithAllArgs(options *config.Options, locker sync.Locker, logger logger.ILog, factory network.HandlerFactory) *Server {
	if logger == nil {
		panic("[netx] logger must not be nil. ")
	}
	if locker == nil {
		panic("[netx] locker must not be nil. ")
	}
	if factory == nil {
		panic("[netx] handler factory must not be nil. ")
	}
	if options == nil {
		options = config.NewOptions()
	}
	s := &Server{
		options:  options,
		factory:  factory,
		lock:     locker,
		sessions: make(map[int64]*Session),
		closed:   1,
		logger:   logger,
	}
	if options.MaxConnections > 0 {
		s.conns = limiter.NewConcurrentLimiter(options.MaxConnections)
	}
	if options.AcceptRate > 0 {
		s.accepts = limiter.NewRateLimiter(options.AcceptRate, options.AcceptBurst)
	}
	return s
}

func (s *Server) Open() error {
	s.logger.Info("[netx] Open %s acceptor on %s and listening...", s.options.Name, s.options.Addr)

	listen, err := net.Listen(s.options.Network, s.options.Addr)
	if err != nil {
		s.logger.Error("[netx] Open %s err: %s .", s.options.Addr, err.Error())
		return err
	}
	s.acceptor = listen
	atomic.StoreInt32(&s.closed, 0)
	s.logger.Info("[netx] Open %s success. ", listen.Addr())

	go s.acceptConnections()
	return nil
}

// Addr is the bound listen address, useful with port 0.
func (s *Server) Addr() net.Addr {
	if s.acceptor == nil {
		return nil
	}
	return s.acceptor.Addr()
}

// Close stops accepting and closes every open session.
func (s *Server) Close() {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.logger.Info("[netx] Close acceptor %s. ", s.Addr())
	if err := s.acceptor.Close(); err != nil {
		s.logger.Warn("[netx] Close acceptor %s err: %s .", s.Addr(), err.Error())
	}

	s.lock.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.lock.Unlock()
	for _, session := range sessions {
		_ = session.Close()
	}
}

func (s *Server) acceptConnections() {
	golocalv1.PutTraceID("netx.acceptConnections")
	defer golocalv1.Clean()

	for {
		conn, err := s.acceptor.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 || errors.Is(err, net.ErrClosed) {
				s.logger.Info("[netx] acceptor is closed and stop accepting.")
			} else {
				s.logger.Error("[netx] acceptor failed: %s", err.Error())
			}
			return
		}

		if s.accepts != nil {
			s.accepts.TakeToken()
		}
		if s.conns != nil && !s.conns.TakeTokenNonBlocking() {
			s.logger.Warn("[netx] too many connections, reject %s", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		id := atomic.AddInt64(&s.buildSessionID, 1)
		session := newSession(id, conn, s.options.PipeSize, s.options.IdleTimeout, s.options.WriteTimeout, s.logger)
		safego.Go(func() {
			s.serve(session)
		})
	}
}

// serve builds the handler for one session. A TLS handshake performed by the
// factory runs here, off the accept loop.
func (s *Server) serve(session *Session) {
	handler, err := s.factory.CreateHandler(session)
	if err != nil {
		s.logger.Warn("[netx] [%d] rejected %s: %s", session.id, session.RemoteAddr(), err.Error())
		_ = session.Close()
		s.release()
		return
	}
	s.addSession(session)
	session.onClose = s.removeSession
	if err = session.Start(handler); err != nil {
		s.logger.Warn("[netx] [%d] start %s failed: %s", session.id, session.RemoteAddr(), err.Error())
		s.removeSession(session)
	}
}

func (s *Server) addSession(session *Session) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sessions[session.id] = session
}

func (s *Server) removeSession(session *Session) {
	s.lock.Lock()
	_, ok := s.sessions[session.id]
	delete(s.sessions, session.id)
	s.lock.Unlock()
	if ok {
		s.release()
	}
}

func (s *Server) release() {
	if s.conns != nil {
		s.conns.ReleaseToken()
	}
}

func (s *Server) GetSessionCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sessions)
}

var dialSessionID int64

// Dial connects to addr and starts the handler the factory creates for the
// new session. A client TLS strategy of the factory runs before Start.
func Dial(ctx context.Context, options *config.Options, factory network.HandlerFactory) (network.EventHandler, *Session, error) {
	if options == nil {
		options = config.NewOptions()
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, options.Network, options.Addr)
	if err != nil {
		return nil, nil, err
	}
	session := newSession(atomic.AddInt64(&dialSessionID, 1), conn, options.PipeSize, options.IdleTimeout, options.WriteTimeout, logger.DefaultLogger())
	handler, err := factory.CreateHandler(session)
	if err != nil {
		_ = session.Close()
		return nil, nil, err
	}
	if err = session.Start(handler); err != nil {
		return nil, nil, err
	}
	return handler, session, nil
}
