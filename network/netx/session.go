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
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/e"
	"github.com/caiflower/httpcore/pkg/logger"
)

var errTLSStarted = errors.New("netx: session already started")

// Session is a TCP connection whose input is read ahead by a goroutine, so
// Read never blocks. Write blocks up to the write timeout.
type Session struct {
	id     int64
	conn   net.Conn
	logger logger.ILog

	mu      sync.Mutex
	cond    *sync.Cond
	inbound []byte
	limit   int
	eof     bool
	err     error
	closed  bool
	started bool

	idleTimeout  time.Duration
	writeTimeout time.Duration

	handler network.EventHandler
	done    chan struct{}
	once    sync.Once
	onClose func(s *Session)
}

func newSession(id int64, conn net.Conn, limit int, idle, write time.Duration, log logger.ILog) *Session {
	if limit <= 0 {
		limit = 64 * 1024
	}
	s := &Session{
		id:           id,
		conn:         conn,
		logger:       log,
		limit:        limit,
		idleTimeout:  idle,
		writeTimeout: write,
		done:         make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Session) ID() int64            { return s.id }
func (s *Session) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Read returns buffered input, io.EOF after the peer closed, or
// network.ErrWouldBlock when nothing arrived yet.
func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		switch {
		case s.closed:
			return 0, net.ErrClosed
		case s.err != nil:
			return 0, s.err
		case s.eof:
			return 0, io.EOF
		}
		return 0, network.ErrWouldBlock
	}
	n := copy(p, s.inbound)
	s.inbound = s.inbound[:copy(s.inbound, s.inbound[n:])]
	s.cond.Broadcast()
	return n, nil
}

func (s *Session) Write(p []byte) (int, error) {
	if s.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.Write(p)
}

// SetReadTimeout changes how long the session may stay silent before the
// handler sees Timeout.
func (s *Session) SetReadTimeout(d time.Duration) error {
	s.mu.Lock()
	s.idleTimeout = d
	s.mu.Unlock()
	return nil
}

// StartTLS switches the connection to TLS. It must run before Start.
func (s *Session) StartTLS(ctx context.Context, config *tls.Config, server bool) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		return errTLSStarted
	}
	var conn *tls.Conn
	if server {
		conn = tls.Server(s.conn, config)
	} else {
		conn = tls.Client(s.conn, config)
	}
	if err := conn.HandshakeContext(ctx); err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// Start delivers events to h until the session closes.
func (s *Session) Start(h network.EventHandler) error {
	s.mu.Lock()
	s.started = true
	s.handler = h
	s.mu.Unlock()
	if err := h.Connected(); err != nil {
		_ = s.Close()
		return err
	}
	go s.readLoop()
	return nil
}

func (s *Session) readLoop() {
	defer e.OnError("netx read loop")
	defer s.disconnected()

	buf := make([]byte, 4096)
	for {
		s.mu.Lock()
		for len(s.inbound) >= s.limit && !s.closed {
			s.cond.Wait()
		}
		closed, idle := s.closed, s.idleTimeout
		s.mu.Unlock()
		if closed {
			return
		}

		if idle > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.inbound = append(s.inbound, buf[:n]...)
			s.mu.Unlock()
			s.call(s.handler.InputReady)
		}

		switch {
		case err == nil:
		case network.IsTimeout(err):
			if n == 0 {
				s.call(s.handler.Timeout)
			}
		case errors.Is(err, io.EOF):
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
			s.call(s.handler.InputReady)
			<-s.done
			return
		default:
			if s.isClosed() {
				return
			}
			s.logger.Debug("[netx] [%d] read from %s failed: %s", s.id, s.RemoteAddr(), err.Error())
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.handler.Exception(err)
			_ = s.Close()
			return
		}
	}
}

func (s *Session) call(event func() error) {
	if err := event(); err != nil {
		s.handler.Exception(err)
		_ = s.Close()
	}
}

func (s *Session) disconnected() {
	_ = s.Close()
	if s.handler != nil {
		s.handler.Disconnected()
	}
	if s.onClose != nil {
		s.onClose(s)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.inbound = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		err = s.conn.Close()
		close(s.done)
	})
	return err
}
