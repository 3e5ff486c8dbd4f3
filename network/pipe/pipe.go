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

// Package pipe is an in-memory session pair. Reads and writes do not block
// unless a side is switched to blocking mode, which makes it usable both
// under an event handler and as a plain peer in tests.
package pipe

import (
	"io"
	"net"
	"sync"

	"github.com/caiflower/httpcore/network"
	"github.com/caiflower/httpcore/pkg/e"
)

const DefaultLimit = 64 * 1024

type addr string

func (a addr) Network() string { return "pipe" }
func (a addr) String() string  { return string(a) }

type Session struct {
	name     string
	peer     *Session
	mu       sync.Mutex
	cond     *sync.Cond
	inbound  []byte
	limit    int
	eof      bool
	closed   bool
	blocking bool

	handler   network.EventHandler
	inSignal  chan struct{}
	outSignal chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New returns two connected sessions. limit bounds the bytes in flight in
// each direction.
func New(limit int) (*Session, *Session) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	a := newSession("pipe:a", limit)
	b := newSession("pipe:b", limit)
	a.peer, b.peer = b, a
	return a, b
}

func newSession(name string, limit int) *Session {
	s := &Session{
		name:      name,
		limit:     limit,
		inSignal:  make(chan struct{}, 1),
		outSignal: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Session) LocalAddr() net.Addr  { return addr(s.name) }
func (s *Session) RemoteAddr() net.Addr { return addr(s.peer.name) }

// SetBlocking makes Read wait for data and Write wait for space.
func (s *Session) SetBlocking(blocking bool) {
	s.mu.Lock()
	s.blocking = blocking
	s.mu.Unlock()
}

// Bind attaches h and starts delivering events to it.
func (s *Session) Bind(h network.EventHandler) error {
	s.handler = h
	if err := h.Connected(); err != nil {
		_ = s.Close()
		return err
	}
	go s.dispatch()
	if s.Buffered() > 0 {
		signal(s.inSignal)
	}
	return nil
}

func (s *Session) dispatch() {
	defer e.OnError("pipe dispatch")
	for {
		select {
		case <-s.inSignal:
			if err := s.handler.InputReady(); err != nil {
				s.handler.Exception(err)
				_ = s.Close()
			}
		case <-s.outSignal:
			if err := s.handler.OutputReady(); err != nil {
				s.handler.Exception(err)
				_ = s.Close()
			}
		case <-s.done:
			s.handler.Disconnected()
			return
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Buffered is the number of unread inbound bytes.
func (s *Session) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound)
}

func (s *Session) Read(p []byte) (int, error) {
	s.mu.Lock()
	for s.blocking && len(s.inbound) == 0 && !s.eof && !s.closed {
		s.cond.Wait()
	}
	switch {
	case s.closed:
		s.mu.Unlock()
		return 0, net.ErrClosed
	case len(s.inbound) == 0:
		eof := s.eof
		s.mu.Unlock()
		if eof {
			return 0, io.EOF
		}
		return 0, network.ErrWouldBlock
	}
	n := copy(p, s.inbound)
	s.inbound = s.inbound[:copy(s.inbound, s.inbound[n:])]
	s.cond.Broadcast()
	s.mu.Unlock()

	signal(s.peer.outSignal)
	return n, nil
}

func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed, blocking := s.closed, s.blocking
	s.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}

	peer := s.peer
	written := 0
	peer.mu.Lock()
	for len(p) > 0 {
		for blocking && len(peer.inbound) >= peer.limit && !peer.closed && !peer.eof {
			peer.cond.Wait()
		}
		if peer.closed || peer.eof {
			peer.mu.Unlock()
			return written, io.ErrClosedPipe
		}
		n := peer.limit - len(peer.inbound)
		if n > len(p) {
			n = len(p)
		}
		if n == 0 {
			break
		}
		peer.inbound = append(peer.inbound, p[:n]...)
		written += n
		p = p[n:]
		peer.cond.Broadcast()
	}
	peer.mu.Unlock()

	if written > 0 {
		signal(peer.inSignal)
	}
	if len(p) > 0 {
		return written, network.ErrWouldBlock
	}
	return written, nil
}

// CloseWrite signals end of stream to the peer while still accepting input.
func (s *Session) CloseWrite() error {
	s.peer.mu.Lock()
	s.peer.eof = true
	s.peer.cond.Broadcast()
	s.peer.mu.Unlock()
	signal(s.peer.inSignal)
	return nil
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.inbound = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		_ = s.CloseWrite()
		close(s.done)
	})
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
